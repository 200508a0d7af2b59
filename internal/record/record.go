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

// Package record defines the data model shared across the benchmark: the
// immutable per-run Case, the PatientState observed by the expert each turn,
// and the CaseResult emitted once per case. It also provides the Recorder,
// which owns the three optional structured log sinks (history, detail,
// message) that components receive by reference.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QA is one question/answer exchange between the expert and the patient.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PatientState is everything the expert is allowed to observe: the presenting
// statement and the exchanges so far. It never contains the hidden context,
// the answer key, or the decomposed facts.
type PatientState struct {
	InitialInfo        string
	InteractionHistory []QA
}

// Case is one multiple-choice item plus its hidden context and answer key.
// Cases are loaded once and treated as read-only for the rest of the run.
type Case struct {
	ID          string            `json:"id"`
	Question    string            `json:"question"`
	Options     map[string]string `json:"options"`
	Answer      string            `json:"answer"`
	AnswerIdx   string            `json:"answer_idx"`
	Context     []string          `json:"-"`
	ContextPara string            `json:"-"`
	InitialInfo string            `json:"initial_info,omitempty"`
	AtomicFacts []string          `json:"atomic_facts,omitempty"`
}

// caseWire mirrors the on-disk schema, where context may be either a single
// paragraph or an array of sentences.
type caseWire struct {
	ID          string            `json:"id"`
	Question    string            `json:"question"`
	Options     map[string]string `json:"options"`
	Answer      string            `json:"answer"`
	AnswerIdx   string            `json:"answer_idx"`
	Context     json.RawMessage   `json:"context"`
	InitialInfo string            `json:"initial_info"`
	AtomicFacts []string          `json:"atomic_facts"`
}

// UnmarshalJSON decodes a corpus line, normalizing the context field: a
// paragraph is split into sentences on ". ", an array is joined back into a
// paragraph, and the presenting statement defaults to the first sentence.
func (c *Case) UnmarshalJSON(data []byte) error {
	var w caseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.ID = w.ID
	c.Question = w.Question
	c.Options = w.Options
	c.Answer = w.Answer
	c.AnswerIdx = w.AnswerIdx
	c.InitialInfo = w.InitialInfo
	c.AtomicFacts = w.AtomicFacts

	if len(w.Context) > 0 {
		var para string
		if err := json.Unmarshal(w.Context, &para); err == nil {
			c.ContextPara = para
			c.Context = strings.Split(para, ". ")
		} else {
			var list []string
			if err := json.Unmarshal(w.Context, &list); err != nil {
				return fmt.Errorf("context must be a string or an array of strings: %w", err)
			}
			c.Context = list
			c.ContextPara = strings.Join(list, ". ")
		}
	}

	if c.InitialInfo == "" && len(c.Context) > 0 {
		c.InitialInfo = c.Context[0]
	}
	return nil
}

// Validate reports whether the case carries everything a run needs.
func (c *Case) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("case is missing an id")
	}
	if c.Question == "" {
		return fmt.Errorf("case %s is missing the question", c.ID)
	}
	for _, letter := range []string{"A", "B", "C", "D"} {
		if _, ok := c.Options[letter]; !ok {
			return fmt.Errorf("case %s is missing option %s", c.ID, letter)
		}
	}
	if c.AnswerIdx == "" {
		return fmt.Errorf("case %s is missing answer_idx", c.ID)
	}
	return nil
}

// CaseResult is the per-case record appended to the output log.
type CaseResult struct {
	ID                string            `json:"id"`
	RunID             string            `json:"run_id,omitempty"`
	InteractiveSystem InteractiveSystem `json:"interactive_system"`
	Info              CaseInfo          `json:"info"`
}

// InteractiveSystem holds the dialogue outcome for one case.
type InteractiveSystem struct {
	LetterChoice        string           `json:"letter_choice"`
	Questions           []string         `json:"questions"`
	Answers             []string         `json:"answers"`
	NumQuestions        int              `json:"num_questions"`
	IntermediateChoices []string         `json:"intermediate_choices"`
	Correct             bool             `json:"correct"`
	TempAdditionalInfo  []map[string]any `json:"temp_additional_info"`
}

// CaseInfo echoes the case data alongside the outcome so each output line is
// self-contained for downstream analysis.
type CaseInfo struct {
	InitialInfo      string            `json:"initial_info"`
	CorrectAnswer    string            `json:"correct_answer"`
	CorrectAnswerIdx string            `json:"correct_answer_idx"`
	Question         string            `json:"question"`
	Options          map[string]string `json:"options"`
	Context          string            `json:"context"`
	Facts            []string          `json:"facts,omitempty"`
}
