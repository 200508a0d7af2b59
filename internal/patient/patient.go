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

// Package patient simulates the information source: it holds one case's
// hidden context and answers the doctor's free-form questions through one of
// four responding variants. The fact-select variant decomposes the context
// into atomic facts once (optionally via a cross-run Redis cache) and answers
// by verbatim fact selection thereafter; it never synthesizes new claims.
package patient

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"

	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/prompt"
	"github.com/achetronic/cliniq/internal/record"
)

// Patient variant names accepted by the registry.
const (
	VariantRandom     = "random"
	VariantDirect     = "direct"
	VariantInstruct   = "instruct"
	VariantFactSelect = "fact-select"
)

// Generation budgets: answers stay terse, decomposition needs room for the
// whole fact list.
const (
	answerMaxTokens        = 50
	decompositionMaxTokens = 1000
)

// responders is the variant dispatch table. Adding a variant means adding a
// row here.
var responders = map[string]func(*Patient, context.Context, string) (string, error){
	VariantRandom:     (*Patient).respondRandom,
	VariantDirect:     (*Patient).respondDirect,
	VariantInstruct:   (*Patient).respondInstruct,
	VariantFactSelect: (*Patient).respondFactSelect,
}

// Variants lists the registered variant names in sorted order.
func Variants() []string {
	names := make([]string, 0, len(responders))
	for name := range responders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config selects the responding variant and its model.
type Config struct {
	Variant    string
	Model      string
	GenOptions generator.Options
	// FactCache optionally persists fact decompositions across runs.
	FactCache *FactCache
	// Rng drives the random variant. Nil uses the global source.
	Rng *rand.Rand
}

// Patient lives for exactly one case.
type Patient struct {
	cfg      Config
	cache    generator.Generator
	recorder *record.Recorder
	respond  func(*Patient, context.Context, string) (string, error)

	caseID      string
	initialInfo string
	contextList []string
	contextPara string
	facts       []string
	history     []record.QA
}

// New binds a patient to one case. Pre-decomposed atomic facts on the case
// bypass the decomposition prompt entirely.
func New(cfg Config, cache generator.Generator, recorder *record.Recorder, c *record.Case) (*Patient, error) {
	respond, ok := responders[cfg.Variant]
	if !ok {
		return nil, fmt.Errorf("unknown patient variant %q (known: %v)", cfg.Variant, Variants())
	}
	initialInfo := c.InitialInfo
	if initialInfo == "" && len(c.Context) > 0 {
		initialInfo = c.Context[0]
	}
	return &Patient{
		cfg:         cfg,
		cache:       cache,
		recorder:    recorder,
		respond:     respond,
		caseID:      c.ID,
		initialInfo: initialInfo,
		contextList: c.Context,
		contextPara: c.ContextPara,
		facts:       c.AtomicFacts,
	}, nil
}

// GetState returns what the expert may observe: the presenting statement and
// the exchanges so far. The returned history is a copy.
func (p *Patient) GetState() record.PatientState {
	history := make([]record.QA, len(p.history))
	copy(history, p.history)
	return record.PatientState{
		InitialInfo:        p.initialInfo,
		InteractionHistory: history,
	}
}

// Questions returns the doctor questions asked so far, in turn order.
func (p *Patient) Questions() []string {
	questions := make([]string, 0, len(p.history))
	for _, qa := range p.history {
		questions = append(questions, qa.Question)
	}
	return questions
}

// Answers returns the patient answers given so far, in turn order.
func (p *Patient) Answers() []string {
	answers := make([]string, 0, len(p.history))
	for _, qa := range p.history {
		answers = append(answers, qa.Answer)
	}
	return answers
}

// Facts returns the atomic facts, when decomposition has happened.
func (p *Patient) Facts() []string {
	return p.facts
}

// Respond answers the doctor's question through the configured variant and
// appends the exchange to the interaction history.
func (p *Patient) Respond(ctx context.Context, question string) (string, error) {
	answer, err := p.respond(p, ctx, question)
	if err != nil {
		return "", err
	}
	p.history = append(p.history, record.QA{Question: question, Answer: answer})
	return answer, nil
}

// respondRandom refuses with probability one half (or when the context is
// empty) and otherwise returns a uniformly random context sentence. No model
// call is involved.
func (p *Patient) respondRandom(_ context.Context, _ string) (string, error) {
	next := rand.Float64
	intn := rand.Intn
	if p.cfg.Rng != nil {
		next = p.cfg.Rng.Float64
		intn = p.cfg.Rng.Intn
	}
	if next() < 0.5 || len(p.contextList) == 0 {
		return prompt.Refusal, nil
	}
	return p.contextList[intn(len(p.contextList))], nil
}

// respondDirect answers from only the presenting statement.
func (p *Patient) respondDirect(ctx context.Context, question string) (string, error) {
	messages := []generator.Message{
		{Role: generator.RoleSystem, Content: "Answer the question with the given context."},
		{Role: generator.RoleUser, Content: prompt.DirectPrompt(p.initialInfo, question)},
	}
	return p.generateAnswer(ctx, messages)
}

// respondInstruct answers from the full context paragraph under a strict
// quote-or-refuse instruction.
func (p *Patient) respondInstruct(ctx context.Context, question string) (string, error) {
	messages := []generator.Message{
		{Role: generator.RoleSystem, Content: prompt.PatientSystem},
		{Role: generator.RoleUser, Content: prompt.InstructPrompt(p.contextPara, question)},
	}
	return p.generateAnswer(ctx, messages)
}

// respondFactSelect decomposes the context into atomic facts on first use,
// then answers by asking the model for the subset of facts (verbatim) that
// answer the question, or the fixed refusal.
func (p *Patient) respondFactSelect(ctx context.Context, question string) (string, error) {
	if err := p.ensureFacts(ctx); err != nil {
		return "", err
	}
	messages := []generator.Message{
		{Role: generator.RoleSystem, Content: prompt.PatientSystem},
		{Role: generator.RoleUser, Content: prompt.FactSelectPrompt(p.facts, question)},
	}
	return p.generateAnswer(ctx, messages)
}

// ensureFacts populates p.facts exactly once per patient: from the case's
// pre-decomposed facts, from the cross-run cache, or by issuing the one-shot
// decomposition prompt.
func (p *Patient) ensureFacts(ctx context.Context) error {
	if len(p.facts) > 0 {
		return nil
	}

	if cached, err := p.cfg.FactCache.Get(ctx, p.caseID); err == nil && len(cached) > 0 {
		p.recorder.Detail("fact decomposition served from cache", "case", p.caseID, "facts", len(cached))
		p.facts = cached
		return nil
	}

	messages := []generator.Message{
		{Role: generator.RoleSystem, Content: prompt.DecompositionSystem},
		{Role: generator.RoleUser, Content: prompt.DecompositionPrompt(p.contextPara)},
	}
	opts := p.cfg.GenOptions
	opts.MaxTokens = decompositionMaxTokens

	result, err := p.cache.Generate(ctx, p.cfg.Model, messages, opts)
	if err != nil {
		return fmt.Errorf("fact decomposition failed: %w", err)
	}
	facts := parseFactList(result.Text)
	if len(facts) == 0 {
		// A failed decomposition should not sink the case: fall back to the
		// raw context sentences.
		p.recorder.Detail("fact decomposition unparseable, using context sentences", "case", p.caseID)
		facts = p.contextList
	}
	p.facts = facts

	if err := p.cfg.FactCache.Put(ctx, p.caseID, facts); err != nil {
		p.recorder.Detail("fact cache write failed", "case", p.caseID, "error", err)
	}
	return nil
}

// generateAnswer runs a terse answering call against the patient model.
func (p *Patient) generateAnswer(ctx context.Context, messages []generator.Message) (string, error) {
	opts := p.cfg.GenOptions
	opts.MaxTokens = answerMaxTokens

	result, err := p.cache.Generate(ctx, p.cfg.Model, messages, opts)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(result.Text)
	if answer == "" {
		answer = prompt.Refusal
	}
	return answer, nil
}

var factIndexRe = regexp.MustCompile(`^\d+[.)]\s*`)

// parseFactList splits a decomposition response into individual facts,
// dropping blank lines and the numeric indexes the prompt requests.
func parseFactList(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = factIndexRe.ReplaceAllString(line, "")
		if line != "" {
			facts = append(facts, line)
		}
	}
	return facts
}
