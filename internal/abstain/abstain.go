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

// Package abstain implements the family of abstention strategies that decide,
// each turn, whether the expert commits to a letter or elicits one more fact
// from the patient. Strategies are named entries in a registry selected by
// configuration; each one shapes its task prompt, runs it through the
// self-consistency aggregator, derives the abstain/confidence pair, and
// always additionally elicits an intermediate letter for analysis.
package abstain

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/achetronic/cliniq/internal/consistency"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/parse"
	"github.com/achetronic/cliniq/internal/prompt"
	"github.com/achetronic/cliniq/internal/record"
)

// Strategy names accepted by the registry.
const (
	StrategyFixed     = "fixed"
	StrategyImplicit  = "implicit"
	StrategyBinary    = "binary"
	StrategyNumerical = "numerical"
	StrategyNumCutOff = "numcutoff"
	StrategyScale     = "scale"
	StrategyRandom    = "random"
)

// Default abstention thresholds applied when the configuration leaves the
// threshold unset.
const (
	defaultProbThreshold  = 0.8
	defaultScaleThreshold = 4.0
)

// Request carries everything one abstention decision needs.
type Request struct {
	State               record.PatientState
	Inquiry             string
	Options             map[string]string
	RationaleGeneration bool
	SelfConsistency     int
	// AbstainThreshold overrides the strategy default when non-zero. Its
	// meaning depends on the strategy (probability for numcutoff, Likert
	// level for scale).
	AbstainThreshold float64
	// MaxQuestions is the turn budget; only the fixed strategy reads it.
	MaxQuestions int
	Model        string
	GenOptions   generator.Options
}

// Response is the uniform result every strategy returns.
type Response struct {
	Abstain    bool
	Confidence float64
	Usage      generator.Usage
	// Messages is the abstention conversation, used to extend the
	// chain-of-thought in shared question-generation mode.
	Messages []generator.Message
	// LetterChoice is the intermediate committed letter, parse.Unparseable
	// when no letter could be extracted.
	LetterChoice string
	// AtomicQuestion is set by the implicit strategy, whose decision prompt
	// may already contain the follow-up question, and by the random strategy,
	// which always carries a canned question.
	AtomicQuestion string
	Logprobs       []generator.TokenLogprob
}

// Strategy decides abstain-vs-commit for one turn.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, req *Request) (*Response, error)
}

// Env bundles the collaborators every strategy shares.
type Env struct {
	Agg      *consistency.Aggregator
	Recorder *record.Recorder
	// Rng drives the random strategy. Nil uses the global source.
	Rng *rand.Rand
}

// Factory constructs a strategy bound to an Env.
type Factory func(env *Env) Strategy

var registry = map[string]Factory{
	StrategyFixed:     func(env *Env) Strategy { return &fixedStrategy{env: env} },
	StrategyImplicit:  func(env *Env) Strategy { return &implicitStrategy{env: env} },
	StrategyBinary:    func(env *Env) Strategy { return &binaryStrategy{env: env} },
	StrategyNumerical: func(env *Env) Strategy { return &numericalStrategy{env: env} },
	StrategyNumCutOff: func(env *Env) Strategy { return &numCutOffStrategy{env: env} },
	StrategyScale:     func(env *Env) Strategy { return &scaleStrategy{env: env} },
	StrategyRandom:    func(env *Env) Strategy { return &randomStrategy{env: env} },
}

// New returns the named strategy bound to env.
func New(name string, env *Env) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown abstention strategy %q (known: %v)", name, Names())
	}
	return factory(env), nil
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// intermediateChoice is the post-decision hook shared by every strategy: a
// fresh answer prompt that assumes enough information and asks for only the
// letter. The parsed letter feeds the intermediate-choice log even when the
// strategy abstains.
func (e *Env) intermediateChoice(ctx context.Context, req *Request) (string, []generator.Message, generator.Usage, error) {
	messages := prompt.ExpertMessages(req.State, req.Inquiry, req.Options, prompt.TaskAnswer)
	e.Recorder.History("intermediate answer prompt", "messages", messages)

	outcome, err := e.Agg.Run(ctx, req.Model, messages, consistency.Choice, 1, req.GenOptions, req.Options)
	if err != nil {
		return "", messages, generator.Usage{}, err
	}
	letter := outcome.LetterChoice
	if letter == "" {
		letter = parse.Unparseable
	}
	e.Recorder.History("intermediate answer response", "text", outcome.Text, "letter", letter)
	return letter, messages, outcome.Usage, nil
}

// decisionTask picks the plain or rationale-generation variant of a task
// prompt pair.
func decisionTask(plain, rg string, rationale bool) string {
	if rationale {
		return rg
	}
	return plain
}
