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

package abstain

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/achetronic/cliniq/internal/consistency"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/parse"
	"github.com/achetronic/cliniq/internal/prompt"
)

// fixedStrategy abstains unconditionally until the turn budget is reached.
// It issues no abstention prompt, only the intermediate answer call.
type fixedStrategy struct {
	env *Env
}

func (s *fixedStrategy) Name() string { return StrategyFixed }

func (s *fixedStrategy) Decide(ctx context.Context, req *Request) (*Response, error) {
	abstain := len(req.State.InteractionHistory) < req.MaxQuestions
	confidence := 0.0
	if abstain {
		confidence = 1.0
	}
	s.env.Recorder.Detail("fixed abstention decision",
		"abstain", abstain,
		"turns", len(req.State.InteractionHistory),
		"budget", req.MaxQuestions,
	)

	letter, messages, usage, err := s.env.intermediateChoice(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Response{
		Abstain:      abstain,
		Confidence:   confidence,
		Usage:        usage,
		Messages:     messages,
		LetterChoice: letter,
	}, nil
}

// implicitStrategy asks for a letter OR one atomic question in a single
// prompt; producing a question is the abstention signal. The intermediate
// answer call is skipped when the winning sample already was a letter.
type implicitStrategy struct {
	env *Env
}

func (s *implicitStrategy) Name() string { return StrategyImplicit }

func (s *implicitStrategy) Decide(ctx context.Context, req *Request) (*Response, error) {
	task := decisionTask(prompt.TaskImplicit, prompt.TaskImplicitRG, req.RationaleGeneration)
	messages := prompt.ExpertMessages(req.State, req.Inquiry, req.Options, task)
	s.env.Recorder.History("implicit abstention prompt", "messages", messages)

	outcome, err := s.env.Agg.Run(ctx, req.Model, messages, consistency.ChoiceOrQuestion, req.SelfConsistency, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}
	s.env.Recorder.History("implicit abstention response", "text", outcome.Text)
	messages = append(messages, generator.Message{Role: generator.RoleAssistant, Content: outcome.Text})

	resp := &Response{
		Abstain:        outcome.LetterChoice == "",
		Confidence:     outcome.Confidence,
		Usage:          outcome.Usage,
		Messages:       messages,
		LetterChoice:   outcome.LetterChoice,
		AtomicQuestion: outcome.AtomicQuestion,
		Logprobs:       outcome.Logprobs,
	}

	// The intermediate letter comes for free when the decision itself
	// produced one; otherwise run the shared answer call.
	if resp.LetterChoice == "" {
		letter, _, usage, err := s.env.intermediateChoice(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.LetterChoice = letter
		resp.Usage.Add(usage)
	}

	s.env.Recorder.Detail("implicit abstention decision",
		"abstain", resp.Abstain,
		"confidence", resp.Confidence,
		"letter", resp.LetterChoice,
	)
	return resp, nil
}

// binaryStrategy asks a direct YES/NO confidence question and abstains on NO.
type binaryStrategy struct {
	env *Env
}

func (s *binaryStrategy) Name() string { return StrategyBinary }

func (s *binaryStrategy) Decide(ctx context.Context, req *Request) (*Response, error) {
	task := decisionTask(prompt.TaskBinary, prompt.TaskBinaryRG, req.RationaleGeneration)
	messages := prompt.ExpertMessages(req.State, req.Inquiry, req.Options, task)
	s.env.Recorder.History("binary abstention prompt", "messages", messages)

	outcome, err := s.env.Agg.Run(ctx, req.Model, messages, consistency.YesNo, req.SelfConsistency, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}
	s.env.Recorder.History("binary abstention response", "text", outcome.Text, "decision", outcome.Decision)
	messages = append(messages, generator.Message{Role: generator.RoleAssistant, Content: outcome.Text})

	letter, _, answerUsage, err := s.env.intermediateChoice(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Abstain:      outcome.Decision == "NO",
		Confidence:   outcome.Confidence,
		Usage:        outcome.Usage,
		Messages:     messages,
		LetterChoice: letter,
		Logprobs:     outcome.Logprobs,
	}
	resp.Usage.Add(answerUsage)

	s.env.Recorder.Detail("binary abstention decision",
		"abstain", resp.Abstain,
		"confidence", resp.Confidence,
		"letter", resp.LetterChoice,
	)
	return resp, nil
}

// numericalStrategy elicits a confidence score, then a YES/NO follow-up on
// the same conversation; the follow-up vote decides abstention while the
// recorded confidence stays the mean score, keeping it comparable across
// strategies.
type numericalStrategy struct {
	env *Env
}

func (s *numericalStrategy) Name() string { return StrategyNumerical }

func (s *numericalStrategy) Decide(ctx context.Context, req *Request) (*Response, error) {
	task := decisionTask(prompt.TaskNumerical, prompt.TaskNumericalRG, req.RationaleGeneration)
	messages := prompt.ExpertMessages(req.State, req.Inquiry, req.Options, task)
	s.env.Recorder.History("numerical abstention prompt", "messages", messages)

	scoreOutcome, err := s.env.Agg.Run(ctx, req.Model, messages, consistency.Numerical, req.SelfConsistency, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}
	s.env.Recorder.History("numerical abstention score", "score", scoreOutcome.Score)
	messages = append(messages, generator.Message{
		Role:    generator.RoleAssistant,
		Content: fmt.Sprintf("CONFIDENCE SCORE: %v", scoreOutcome.Score),
	})

	messages = append(messages, generator.Message{Role: generator.RoleUser, Content: prompt.TaskYesNoFollowUp})
	voteOutcome, err := s.env.Agg.Run(ctx, req.Model, messages, consistency.YesNo, req.SelfConsistency, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}
	s.env.Recorder.History("numerical abstention vote", "decision", voteOutcome.Decision)
	messages = append(messages, generator.Message{Role: generator.RoleAssistant, Content: voteOutcome.Text})

	letter, _, answerUsage, err := s.env.intermediateChoice(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Abstain:      voteOutcome.Decision == "NO",
		Confidence:   scoreOutcome.Score,
		Usage:        scoreOutcome.Usage,
		Messages:     messages,
		LetterChoice: letter,
		Logprobs:     scoreOutcome.Logprobs,
	}
	resp.Usage.Add(voteOutcome.Usage)
	resp.Usage.Add(answerUsage)

	s.env.Recorder.Detail("numerical abstention decision",
		"abstain", resp.Abstain,
		"confidence", resp.Confidence,
		"letter", resp.LetterChoice,
	)
	return resp, nil
}

// numCutOffStrategy elicits a confidence score and abstains when the mean
// falls below the threshold (default 0.8).
type numCutOffStrategy struct {
	env *Env
}

func (s *numCutOffStrategy) Name() string { return StrategyNumCutOff }

func (s *numCutOffStrategy) Decide(ctx context.Context, req *Request) (*Response, error) {
	threshold := req.AbstainThreshold
	if threshold == 0 {
		threshold = defaultProbThreshold
	}

	task := decisionTask(prompt.TaskNumerical, prompt.TaskNumericalRG, req.RationaleGeneration)
	messages := prompt.ExpertMessages(req.State, req.Inquiry, req.Options, task)
	s.env.Recorder.History("numcutoff abstention prompt", "messages", messages)

	outcome, err := s.env.Agg.Run(ctx, req.Model, messages, consistency.Numerical, req.SelfConsistency, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}
	s.env.Recorder.History("numcutoff abstention score", "score", outcome.Score, "threshold", threshold)
	messages = append(messages, generator.Message{Role: generator.RoleAssistant, Content: outcome.Text})

	letter, _, answerUsage, err := s.env.intermediateChoice(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Abstain:      outcome.Score < threshold,
		Confidence:   outcome.Score,
		Usage:        outcome.Usage,
		Messages:     messages,
		LetterChoice: letter,
		Logprobs:     outcome.Logprobs,
	}
	resp.Usage.Add(answerUsage)

	s.env.Recorder.Detail("numcutoff abstention decision",
		"abstain", resp.Abstain,
		"confidence", resp.Confidence,
		"threshold", threshold,
		"letter", resp.LetterChoice,
	)
	return resp, nil
}

// scaleStrategy elicits a Likert rating and abstains when the mean level
// falls below the threshold (default 4, "Somewhat Confident").
type scaleStrategy struct {
	env *Env
}

func (s *scaleStrategy) Name() string { return StrategyScale }

func (s *scaleStrategy) Decide(ctx context.Context, req *Request) (*Response, error) {
	threshold := req.AbstainThreshold
	if threshold == 0 {
		threshold = defaultScaleThreshold
	}

	task := decisionTask(prompt.TaskScale, prompt.TaskScaleRG, req.RationaleGeneration)
	messages := prompt.ExpertMessages(req.State, req.Inquiry, req.Options, task)
	s.env.Recorder.History("scale abstention prompt", "messages", messages)

	outcome, err := s.env.Agg.Run(ctx, req.Model, messages, consistency.Scale, req.SelfConsistency, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}
	s.env.Recorder.History("scale abstention score", "score", outcome.Score, "threshold", threshold)
	messages = append(messages, generator.Message{Role: generator.RoleAssistant, Content: outcome.Text})

	letter, _, answerUsage, err := s.env.intermediateChoice(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Abstain:      outcome.Score < threshold,
		Confidence:   outcome.Score,
		Usage:        outcome.Usage,
		Messages:     messages,
		LetterChoice: letter,
		Logprobs:     outcome.Logprobs,
	}
	resp.Usage.Add(answerUsage)

	s.env.Recorder.Detail("scale abstention decision",
		"abstain", resp.Abstain,
		"confidence", resp.Confidence,
		"threshold", threshold,
		"letter", resp.LetterChoice,
	)
	return resp, nil
}

// randomStrategy flips a coin and answers with a random letter. It issues no
// model calls; it exists as a smoke-test expert for wiring checks.
type randomStrategy struct {
	env *Env
}

func (s *randomStrategy) Name() string { return StrategyRandom }

func (s *randomStrategy) Decide(_ context.Context, req *Request) (*Response, error) {
	next := rand.Float64
	intn := rand.Intn
	if s.env.Rng != nil {
		next = s.env.Rng.Float64
		intn = s.env.Rng.Intn
	}

	abstain := next() < 0.5
	confidence := next()
	if abstain {
		confidence = confidence / 2
	}
	letter := parse.Letters[intn(len(parse.Letters))]

	return &Response{
		Abstain:        abstain,
		Confidence:     confidence,
		LetterChoice:   letter,
		AtomicQuestion: "Can you describe your symptoms more?",
	}, nil
}
