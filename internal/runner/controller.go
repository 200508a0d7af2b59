// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runner coordinates the benchmark: the per-case turn controller
// that alternates expert and patient under the question budget, and the
// batch driver that iterates the corpus, resumes from the output log, and
// aggregates running statistics.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/achetronic/cliniq/internal/expert"
	"github.com/achetronic/cliniq/internal/parse"
	"github.com/achetronic/cliniq/internal/patient"
	"github.com/achetronic/cliniq/internal/record"
)

// ErrInvalidResponseType reports an expert response whose type is neither a
// question nor a choice. It is a programming error: the case is aborted and
// recorded like any aborted case, with the last known intermediate choice
// (or the unparseable sentinel when there is none) and an aborted marker.
var ErrInvalidResponseType = errors.New("invalid expert response type")

// Controller runs the interaction loop for exactly one case.
type Controller struct {
	Expert       *expert.Expert
	Patient      *patient.Patient
	Recorder     *record.Recorder
	MaxQuestions int
}

// Run alternates expert and patient turns until the expert commits or the
// question budget runs out, in which case one final commit is forced. The
// returned CaseResult is complete even when err is non-nil (aborted cases
// carry the last known intermediate choice or the unparseable sentinel).
func (c *Controller) Run(ctx context.Context, cs *record.Case) (*record.CaseResult, error) {
	var (
		intermediateChoices []string
		additional          []map[string]any
	)

	finish := func(letter string) *record.CaseResult {
		return c.buildResult(cs, letter, intermediateChoices, additional)
	}
	abort := func(err error) (*record.CaseResult, error) {
		letter := parse.Unparseable
		if len(intermediateChoices) > 0 {
			letter = intermediateChoices[len(intermediateChoices)-1]
		}
		additional = append(additional, map[string]any{"aborted": true, "error": err.Error()})
		if len(intermediateChoices) == len(c.Patient.Questions()) {
			intermediateChoices = append(intermediateChoices, letter)
		}
		return finish(letter), err
	}

	for len(c.Patient.Questions()) < c.MaxQuestions {
		state := c.Patient.GetState()
		resp, err := c.Expert.Respond(ctx, state)
		if err != nil {
			return abort(fmt.Errorf("expert turn failed for case %s: %w", cs.ID, err))
		}

		additional = append(additional, turnInfo(resp, false))

		switch resp.Type {
		case expert.TypeQuestion:
			intermediateChoices = append(intermediateChoices, resp.LetterChoice)
			c.Recorder.History("expert asked", "case", cs.ID, "question", resp.Question, "intermediate", resp.LetterChoice)
			answer, err := c.Patient.Respond(ctx, resp.Question)
			if err != nil {
				return abort(fmt.Errorf("patient turn failed for case %s: %w", cs.ID, err))
			}
			c.Recorder.History("patient answered", "case", cs.ID, "answer", answer)

		case expert.TypeChoice:
			intermediateChoices = append(intermediateChoices, resp.LetterChoice)
			c.Recorder.History("expert committed", "case", cs.ID, "letter", resp.LetterChoice)
			return finish(resp.LetterChoice), nil

		default:
			return abort(fmt.Errorf("case %s: %w: %q", cs.ID, ErrInvalidResponseType, resp.Type))
		}
	}

	// Budget exhausted without a commit: force one final answer.
	resp, err := c.Expert.Respond(ctx, c.Patient.GetState())
	if err != nil {
		return abort(fmt.Errorf("forced commit failed for case %s: %w", cs.ID, err))
	}
	additional = append(additional, turnInfo(resp, true))
	intermediateChoices = append(intermediateChoices, resp.LetterChoice)
	c.Recorder.History("expert forced to commit", "case", cs.ID, "letter", resp.LetterChoice)
	return finish(resp.LetterChoice), nil
}

// turnInfo collects everything from the expert response except the routing
// fields, for the per-turn analysis record.
func turnInfo(resp *expert.Response, forced bool) map[string]any {
	info := map[string]any{
		"confidence": resp.Confidence,
		"usage":      resp.Usage,
	}
	if len(resp.Logprobs) > 0 {
		info["logprobs"] = resp.Logprobs
	}
	if forced {
		info["forced_commit"] = true
	}
	return info
}

// buildResult assembles the CaseResult from the finished interaction.
func (c *Controller) buildResult(cs *record.Case, letter string, intermediateChoices []string, additional []map[string]any) *record.CaseResult {
	if letter == "" {
		letter = parse.Unparseable
	}
	questions := c.Patient.Questions()
	answers := c.Patient.Answers()
	runID := ""
	if c.Recorder != nil {
		runID = c.Recorder.RunID
	}

	return &record.CaseResult{
		ID:    cs.ID,
		RunID: runID,
		InteractiveSystem: record.InteractiveSystem{
			LetterChoice:        letter,
			Questions:           questions,
			Answers:             answers,
			NumQuestions:        len(questions),
			IntermediateChoices: intermediateChoices,
			Correct:             letter == cs.AnswerIdx,
			TempAdditionalInfo:  additional,
		},
		Info: record.CaseInfo{
			InitialInfo:      cs.InitialInfo,
			CorrectAnswer:    cs.Answer,
			CorrectAnswerIdx: cs.AnswerIdx,
			Question:         cs.Question,
			Options:          cs.Options,
			Context:          cs.ContextPara,
			Facts:            c.Patient.Facts(),
		},
	}
}
