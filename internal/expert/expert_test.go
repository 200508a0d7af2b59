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

package expert

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/achetronic/cliniq/internal/abstain"
	"github.com/achetronic/cliniq/internal/consistency"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/record"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// scriptedGenerator answers by prompt kind: decision prompts drain a queue,
// the intermediate answer and question-generation prompts return fixed text.
type scriptedGenerator struct {
	mu        sync.Mutex
	decisions []string
	answer    string
	question  string

	decisionCalls int
	questionCalls int
	questionModel string
}

func (g *scriptedGenerator) Generate(_ context.Context, model string, messages []generator.Message, _ generator.Options) (*generator.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var lastUser string
	for _, m := range messages {
		if m.Role == generator.RoleUser {
			lastUser = m.Content
		}
	}

	var text string
	switch {
	case strings.Contains(lastUser, "LETTER CHOICE"):
		text = g.answer
	case strings.Contains(lastUser, "ATOMIC QUESTION: the atomic question and NOTHING ELSE"):
		g.questionCalls++
		g.questionModel = model
		text = g.question
	default:
		if g.decisionCalls < len(g.decisions) {
			text = g.decisions[g.decisionCalls]
		}
		g.decisionCalls++
	}
	return &generator.Result{Text: text, Usage: generator.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func newExpert(t *testing.T, cfg Config, gen generator.Generator) *Expert {
	t.Helper()
	env := &abstain.Env{
		Agg: &consistency.Aggregator{Cache: gen},
	}
	options := map[string]string{"A": "flu", "B": "pneumonia", "C": "bronchitis", "D": "asthma"}
	exp, err := New(cfg, "What is the most likely diagnosis?", options, env)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return exp
}

func baseConfig(strategy string) Config {
	return Config{
		Strategy:        strategy,
		Model:           "test-model",
		SelfConsistency: 1,
		MaxQuestions:    5,
		GenOptions:      generator.Options{Temperature: 0.6, TopP: 0.9, MaxTokens: 256},
	}
}

var emptyState = record.PatientState{InitialInfo: "A 54 year old man presents with chest pain."}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRespond_AbstainGeneratesQuestion(t *testing.T) {
	gen := &scriptedGenerator{
		decisions: []string{"NO"},
		answer:    "B",
		question:  "ATOMIC QUESTION: How long has the pain lasted?",
	}
	exp := newExpert(t, baseConfig(abstain.StrategyBinary), gen)

	resp, err := exp.Respond(context.Background(), emptyState)
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if resp.Type != TypeQuestion {
		t.Fatalf("Type = %q, want %q", resp.Type, TypeQuestion)
	}
	if resp.Question != "How long has the pain lasted?" {
		t.Errorf("Question = %q, want the generated atomic question", resp.Question)
	}
	if resp.LetterChoice != "B" {
		t.Errorf("LetterChoice = %q, want \"B\"", resp.LetterChoice)
	}
	if gen.questionCalls != 1 {
		t.Errorf("question generation calls = %d, want 1", gen.questionCalls)
	}
}

func TestRespond_CommitSkipsQuestionGeneration(t *testing.T) {
	gen := &scriptedGenerator{
		decisions: []string{"YES"},
		answer:    "B",
	}
	exp := newExpert(t, baseConfig(abstain.StrategyBinary), gen)

	resp, err := exp.Respond(context.Background(), emptyState)
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if resp.Type != TypeChoice {
		t.Fatalf("Type = %q, want %q", resp.Type, TypeChoice)
	}
	if gen.questionCalls != 0 {
		t.Errorf("question generation calls = %d, want 0", gen.questionCalls)
	}
}

func TestRespond_ImplicitReusesItsOwnQuestion(t *testing.T) {
	gen := &scriptedGenerator{
		decisions: []string{"Do you have a fever?"},
		answer:    "A",
		question:  "ATOMIC QUESTION: should not be used?",
	}
	exp := newExpert(t, baseConfig(abstain.StrategyImplicit), gen)

	resp, err := exp.Respond(context.Background(), emptyState)
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if resp.Type != TypeQuestion {
		t.Fatalf("Type = %q, want %q", resp.Type, TypeQuestion)
	}
	if resp.Question != "Do you have a fever?" {
		t.Errorf("Question = %q, want the decision's own question", resp.Question)
	}
	if gen.questionCalls != 0 {
		t.Errorf("question generation calls = %d, want 0", gen.questionCalls)
	}
}

func TestRespond_FixedAtBudgetReturnsChoice(t *testing.T) {
	gen := &scriptedGenerator{answer: "D"}
	cfg := baseConfig(abstain.StrategyFixed)
	cfg.MaxQuestions = 0
	exp := newExpert(t, cfg, gen)

	resp, err := exp.Respond(context.Background(), emptyState)
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if resp.Type != TypeChoice {
		t.Fatalf("Type = %q, want %q when history is at budget", resp.Type, TypeChoice)
	}
	if resp.Question != "" {
		t.Errorf("Question = %q, want empty", resp.Question)
	}
}

func TestRespond_DistinctQuestionGeneratorModel(t *testing.T) {
	gen := &scriptedGenerator{
		decisions: []string{"NO"},
		answer:    "B",
		question:  "ATOMIC QUESTION: Any nausea?",
	}
	cfg := baseConfig(abstain.StrategyBinary)
	cfg.QuestionGeneratorModel = "question-model"
	exp := newExpert(t, cfg, gen)

	if _, err := exp.Respond(context.Background(), emptyState); err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if gen.questionModel != "question-model" {
		t.Errorf("question generation model = %q, want \"question-model\"", gen.questionModel)
	}
}
