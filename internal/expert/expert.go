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

// Package expert is the per-case facade over the abstention strategies: it
// holds the inquiry and options for one case, delegates each turn's decision
// to the configured strategy, and generates the follow-up question when the
// strategy abstains without producing one itself.
package expert

import (
	"context"
	"fmt"

	"github.com/achetronic/cliniq/internal/abstain"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/record"
)

// ResponseType distinguishes the two things an expert turn can produce.
type ResponseType string

const (
	TypeQuestion ResponseType = "question"
	TypeChoice   ResponseType = "choice"
)

// Response is the expert's verdict for one turn.
type Response struct {
	Type         ResponseType
	Question     string
	LetterChoice string
	Confidence   float64
	Usage        generator.Usage
	Logprobs     []generator.TokenLogprob
}

// Config selects the strategy and models driving the expert.
type Config struct {
	Strategy string
	Model    string
	// QuestionGeneratorModel optionally runs follow-up question generation
	// on a different model. Empty uses Model.
	QuestionGeneratorModel string
	RationaleGeneration    bool
	SelfConsistency        int
	AbstainThreshold       float64
	IndependentModules     bool
	MaxQuestions           int
	GenOptions             generator.Options
}

// Expert lives for exactly one case.
type Expert struct {
	cfg      Config
	inquiry  string
	options  map[string]string
	env      *abstain.Env
	strategy abstain.Strategy
}

// New binds an expert to one case's inquiry and options.
func New(cfg Config, inquiry string, options map[string]string, env *abstain.Env) (*Expert, error) {
	strategy, err := abstain.New(cfg.Strategy, env)
	if err != nil {
		return nil, err
	}
	if cfg.QuestionGeneratorModel == "" {
		cfg.QuestionGeneratorModel = cfg.Model
	}
	return &Expert{
		cfg:      cfg,
		inquiry:  inquiry,
		options:  options,
		env:      env,
		strategy: strategy,
	}, nil
}

// Respond runs one turn: the strategy decides abstain-vs-commit, and on
// abstention the follow-up question is generated unless the strategy already
// produced one. A fixed-strategy expert whose history is at budget returns a
// choice without any question.
func (e *Expert) Respond(ctx context.Context, state record.PatientState) (*Response, error) {
	req := &abstain.Request{
		State:               state,
		Inquiry:             e.inquiry,
		Options:             e.options,
		RationaleGeneration: e.cfg.RationaleGeneration,
		SelfConsistency:     e.cfg.SelfConsistency,
		AbstainThreshold:    e.cfg.AbstainThreshold,
		MaxQuestions:        e.cfg.MaxQuestions,
		Model:               e.cfg.Model,
		GenOptions:          e.cfg.GenOptions,
	}

	decision, err := e.strategy.Decide(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("strategy %s failed: %w", e.strategy.Name(), err)
	}

	resp := &Response{
		LetterChoice: decision.LetterChoice,
		Confidence:   decision.Confidence,
		Usage:        decision.Usage,
		Logprobs:     decision.Logprobs,
	}

	if !decision.Abstain {
		resp.Type = TypeChoice
		return resp, nil
	}

	resp.Type = TypeQuestion
	resp.Question = decision.AtomicQuestion
	if resp.Question == "" {
		generated, err := e.env.GenerateQuestion(ctx, &abstain.QuestionRequest{
			State:       state,
			Inquiry:     e.inquiry,
			Options:     e.options,
			Messages:    decision.Messages,
			Independent: e.cfg.IndependentModules,
			Model:       e.cfg.QuestionGeneratorModel,
			GenOptions:  e.cfg.GenOptions,
		})
		if err != nil {
			return nil, fmt.Errorf("question generation failed: %w", err)
		}
		resp.Question = generated.AtomicQuestion
		resp.Usage.Add(generated.Usage)
	}
	return resp, nil
}
