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

package record

import (
	"encoding/json"
	"testing"
)

func TestCase_UnmarshalParagraphContext(t *testing.T) {
	line := `{"id":"c1","question":"q","options":{"A":"a","B":"b","C":"c","D":"d"},"answer":"b","answer_idx":"B","context":"First sentence. Second sentence. Third sentence"}`

	var c Case
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(c.Context) != 3 {
		t.Fatalf("Context has %d sentences, want 3", len(c.Context))
	}
	if c.ContextPara != "First sentence. Second sentence. Third sentence" {
		t.Errorf("ContextPara = %q, want the raw paragraph", c.ContextPara)
	}
	if c.InitialInfo != "First sentence" {
		t.Errorf("InitialInfo = %q, want the first sentence", c.InitialInfo)
	}
}

func TestCase_UnmarshalArrayContext(t *testing.T) {
	line := `{"id":"c2","question":"q","options":{"A":"a","B":"b","C":"c","D":"d"},"answer":"a","answer_idx":"A","context":["one","two"]}`

	var c Case
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(c.Context) != 2 || c.Context[0] != "one" {
		t.Errorf("Context = %v, want [one two]", c.Context)
	}
	if c.ContextPara != "one. two" {
		t.Errorf("ContextPara = %q, want \"one. two\"", c.ContextPara)
	}
	if c.InitialInfo != "one" {
		t.Errorf("InitialInfo = %q, want \"one\"", c.InitialInfo)
	}
}

func TestCase_ExplicitInitialInfoWins(t *testing.T) {
	line := `{"id":"c3","question":"q","options":{"A":"a","B":"b","C":"c","D":"d"},"answer":"a","answer_idx":"A","context":["one","two"],"initial_info":"presenting statement"}`

	var c Case
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if c.InitialInfo != "presenting statement" {
		t.Errorf("InitialInfo = %q, want the explicit value", c.InitialInfo)
	}
}

func TestCase_ValidateMissingOption(t *testing.T) {
	c := Case{
		ID:        "c4",
		Question:  "q",
		Options:   map[string]string{"A": "a", "B": "b", "C": "c"},
		AnswerIdx: "A",
	}
	if err := c.Validate(); err == nil {
		t.Errorf("Validate() = nil, want missing-option error")
	}
}

func TestCase_AtomicFactsPassThrough(t *testing.T) {
	line := `{"id":"c5","question":"q","options":{"A":"a","B":"b","C":"c","D":"d"},"answer":"a","answer_idx":"A","context":["one"],"atomic_facts":["f1","f2"]}`

	var c Case
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(c.AtomicFacts) != 2 {
		t.Errorf("AtomicFacts has %d entries, want 2", len(c.AtomicFacts))
	}
}
