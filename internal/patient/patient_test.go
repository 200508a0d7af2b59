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

package patient

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/prompt"
	"github.com/achetronic/cliniq/internal/record"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// patientGenerator distinguishes the decomposition prompt from the answering
// prompts and counts each.
type patientGenerator struct {
	decomposition      string
	answer             string
	decompositionCalls int
	answerCalls        int
}

func (g *patientGenerator) Generate(_ context.Context, _ string, messages []generator.Message, _ generator.Options) (*generator.Result, error) {
	var lastUser string
	for _, m := range messages {
		if m.Role == generator.RoleUser {
			lastUser = m.Content
		}
	}
	if strings.Contains(lastUser, "list of independent atomic facts") {
		g.decompositionCalls++
		return &generator.Result{Text: g.decomposition}, nil
	}
	g.answerCalls++
	return &generator.Result{Text: g.answer}, nil
}

func testCase() *record.Case {
	return &record.Case{
		ID:          "case-1",
		Question:    "What is the most likely diagnosis?",
		Options:     map[string]string{"A": "flu", "B": "pneumonia", "C": "bronchitis", "D": "asthma"},
		Answer:      "pneumonia",
		AnswerIdx:   "B",
		Context:     []string{"A 54 year old man presents with chest pain", "He has a fever of 39C", "He smokes heavily"},
		ContextPara: "A 54 year old man presents with chest pain. He has a fever of 39C. He smokes heavily",
		InitialInfo: "A 54 year old man presents with chest pain",
	}
}

// ---------------------------------------------------------------------------
// Tests: fact-select variant
// ---------------------------------------------------------------------------

func TestFactSelect_DecompositionIssuedOnce(t *testing.T) {
	gen := &patientGenerator{
		decomposition: "1. The patient is 54 years old.\n2. The patient has chest pain.\n3. The patient has a fever of 39C.",
		answer:        "The patient has a fever of 39C.",
	}
	pat, err := New(Config{Variant: VariantFactSelect, Model: "m"}, gen, nil, testCase())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := pat.Respond(context.Background(), "Does he have a fever?"); err != nil {
			t.Fatalf("Respond returned error: %v", err)
		}
	}

	if gen.decompositionCalls != 1 {
		t.Errorf("decomposition calls = %d, want 1", gen.decompositionCalls)
	}
	if gen.answerCalls != 3 {
		t.Errorf("answer calls = %d, want 3", gen.answerCalls)
	}
	if len(pat.Facts()) != 3 {
		t.Errorf("Facts() has %d entries, want 3", len(pat.Facts()))
	}
	for _, fact := range pat.Facts() {
		if strings.HasPrefix(fact, "1.") || strings.HasPrefix(fact, "2.") {
			t.Errorf("fact %q still carries its index prefix", fact)
		}
	}
}

func TestFactSelect_PreSuppliedFactsSkipDecomposition(t *testing.T) {
	gen := &patientGenerator{answer: "He smokes heavily."}
	c := testCase()
	c.AtomicFacts = []string{"The patient smokes heavily.", "The patient has chest pain."}

	pat, err := New(Config{Variant: VariantFactSelect, Model: "m"}, gen, nil, c)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := pat.Respond(context.Background(), "Does he smoke?"); err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if gen.decompositionCalls != 0 {
		t.Errorf("decomposition calls = %d, want 0 with pre-supplied facts", gen.decompositionCalls)
	}
}

// ---------------------------------------------------------------------------
// Tests: random variant
// ---------------------------------------------------------------------------

func TestRandom_RefusesOrQuotesContext(t *testing.T) {
	pat, err := New(Config{Variant: VariantRandom, Rng: rand.New(rand.NewSource(3))}, nil, nil, testCase())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	sawRefusal, sawContext := false, false
	for i := 0; i < 50; i++ {
		answer, err := pat.Respond(context.Background(), "Anything else?")
		if err != nil {
			t.Fatalf("Respond returned error: %v", err)
		}
		if answer == prompt.Refusal {
			sawRefusal = true
			continue
		}
		found := false
		for _, sentence := range testCase().Context {
			if answer == sentence {
				found = true
			}
		}
		if !found {
			t.Fatalf("answer %q is neither the refusal nor a context sentence", answer)
		}
		sawContext = true
	}
	if !sawRefusal || !sawContext {
		t.Errorf("expected both refusals and context answers over 50 draws (refusal=%v context=%v)", sawRefusal, sawContext)
	}
}

func TestRandom_EmptyContextAlwaysRefuses(t *testing.T) {
	c := testCase()
	c.Context = nil
	pat, _ := New(Config{Variant: VariantRandom, Rng: rand.New(rand.NewSource(5))}, nil, nil, c)

	for i := 0; i < 10; i++ {
		answer, _ := pat.Respond(context.Background(), "Anything?")
		if answer != prompt.Refusal {
			t.Fatalf("answer = %q, want the refusal for empty context", answer)
		}
	}
}

// ---------------------------------------------------------------------------
// Tests: state and history
// ---------------------------------------------------------------------------

func TestGetState_HidesContextAndTracksHistory(t *testing.T) {
	gen := &patientGenerator{answer: "He has a fever of 39C."}
	pat, _ := New(Config{Variant: VariantInstruct, Model: "m"}, gen, nil, testCase())

	if _, err := pat.Respond(context.Background(), "Does he have a fever?"); err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}

	state := pat.GetState()
	if state.InitialInfo != "A 54 year old man presents with chest pain" {
		t.Errorf("InitialInfo = %q, want the presenting statement", state.InitialInfo)
	}
	if len(state.InteractionHistory) != 1 {
		t.Fatalf("history has %d entries, want 1", len(state.InteractionHistory))
	}
	qa := state.InteractionHistory[0]
	if qa.Question != "Does he have a fever?" || qa.Answer != "He has a fever of 39C." {
		t.Errorf("history entry = %+v, want the exchange just made", qa)
	}

	// Mutating the returned state must not leak back into the patient.
	state.InteractionHistory[0].Answer = "tampered"
	if pat.GetState().InteractionHistory[0].Answer == "tampered" {
		t.Errorf("GetState returned a shared history slice")
	}
}

func TestQuestionsAndAnswersOrder(t *testing.T) {
	gen := &patientGenerator{answer: "Yes."}
	pat, _ := New(Config{Variant: VariantDirect, Model: "m"}, gen, nil, testCase())

	questions := []string{"Q1?", "Q2?", "Q3?"}
	for _, q := range questions {
		if _, err := pat.Respond(context.Background(), q); err != nil {
			t.Fatalf("Respond returned error: %v", err)
		}
	}
	got := pat.Questions()
	for i, q := range questions {
		if got[i] != q {
			t.Errorf("Questions()[%d] = %q, want %q", i, got[i], q)
		}
	}
	if len(pat.Answers()) != 3 {
		t.Errorf("Answers() has %d entries, want 3", len(pat.Answers()))
	}
}

func TestNew_UnknownVariant(t *testing.T) {
	if _, err := New(Config{Variant: "psychic"}, nil, nil, testCase()); err == nil {
		t.Errorf("New(psychic) returned no error, want unknown-variant error")
	}
}
