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

package parse

import (
	"math/rand"
	"testing"
)

var testOptions = map[string]string{
	"A": "flu",
	"B": "pneumonia",
	"C": "bronchitis",
	"D": "asthma",
}

// ---------------------------------------------------------------------------
// Tests: Choice
// ---------------------------------------------------------------------------

func TestChoice_SingleLetter(t *testing.T) {
	got, ok := Choice("B", testOptions)
	if !ok || got != "B" {
		t.Errorf("Choice(\"B\") = %q, %v, want \"B\", true", got, ok)
	}
}

func TestChoice_LetterInSentence(t *testing.T) {
	got, ok := Choice("the answer is C.", testOptions)
	if !ok || got != "C" {
		t.Errorf("Choice(\"the answer is C.\") = %q, %v, want \"C\", true", got, ok)
	}
}

func TestChoice_OptionTextMatch(t *testing.T) {
	got, ok := Choice("pneumonia", testOptions)
	if !ok || got != "B" {
		t.Errorf("Choice(\"pneumonia\") = %q, %v, want \"B\", true", got, ok)
	}
}

func TestChoice_OptionTextCaseInsensitive(t *testing.T) {
	got, ok := Choice("I believe this patient has Pneumonia based on the findings.", testOptions)
	if !ok || got != "B" {
		t.Errorf("Choice(pneumonia sentence) = %q, %v, want \"B\", true", got, ok)
	}
}

func TestChoice_PunctuationStripped(t *testing.T) {
	got, ok := Choice("(D)", testOptions)
	if !ok || got != "D" {
		t.Errorf("Choice(\"(D)\") = %q, %v, want \"D\", true", got, ok)
	}
}

func TestChoice_LowercaseLetterDoesNotMatch(t *testing.T) {
	if got, ok := Choice("answer: x", testOptions); ok {
		t.Errorf("Choice(\"answer: x\") = %q, want no match", got)
	}
}

func TestChoice_NoMatch(t *testing.T) {
	if got, ok := Choice("I cannot tell yet.", testOptions); ok {
		t.Errorf("Choice(no letter) = %q, want no match", got)
	}
}

func TestChoice_MultiLinePicksFirstMatchingLine(t *testing.T) {
	got, ok := Choice("Let me think.\nThe best option is A.\nOr maybe B.", testOptions)
	if !ok || got != "A" {
		t.Errorf("Choice(multi-line) = %q, %v, want \"A\", true", got, ok)
	}
}

// ---------------------------------------------------------------------------
// Tests: AtomicQuestion
// ---------------------------------------------------------------------------

func TestAtomicQuestion_LastQuestionLine(t *testing.T) {
	text := "Is there fever?\nSome reasoning here.\nATOMIC QUESTION: How long has the cough lasted?"
	got, ok := AtomicQuestion(text)
	want := "How long has the cough lasted?"
	if !ok || got != want {
		t.Errorf("AtomicQuestion(...) = %q, %v, want %q, true", got, ok, want)
	}
}

func TestAtomicQuestion_StripsQuotes(t *testing.T) {
	got, ok := AtomicQuestion("QUESTION: \"Do you smoke?\"")
	if !ok || got != "Do you smoke?" {
		t.Errorf("AtomicQuestion(quoted) = %q, %v, want \"Do you smoke?\", true", got, ok)
	}
}

func TestAtomicQuestion_NoQuestion(t *testing.T) {
	if got, ok := AtomicQuestion("The patient has a fever."); ok {
		t.Errorf("AtomicQuestion(statement) = %q, want no match", got)
	}
}

// ---------------------------------------------------------------------------
// Tests: YesNo
// ---------------------------------------------------------------------------

func TestYesNo_DecisionMarker(t *testing.T) {
	got, ok := YesNo("DECISION: yes")
	if !ok || got != "YES" {
		t.Errorf("YesNo(\"DECISION: yes\") = %q, %v, want \"YES\", true", got, ok)
	}
}

func TestYesNo_MarkerOverridesPreamble(t *testing.T) {
	got, ok := YesNo("REASON: no information about labs.\nDECISION: YES.")
	if !ok || got != "YES" {
		t.Errorf("YesNo(reason+decision) = %q, %v, want \"YES\", true", got, ok)
	}
}

func TestYesNo_PlainNo(t *testing.T) {
	got, ok := YesNo("No.")
	if !ok || got != "NO" {
		t.Errorf("YesNo(\"No.\") = %q, %v, want \"NO\", true", got, ok)
	}
}

func TestYesNo_NeitherDefaultsToNo(t *testing.T) {
	got, ok := YesNo("maybe")
	if ok || got != "NO" {
		t.Errorf("YesNo(\"maybe\") = %q, %v, want \"NO\", false", got, ok)
	}
}

func TestYesNo_BothDefaultsToNo(t *testing.T) {
	got, ok := YesNo("yes and no")
	if ok || got != "NO" {
		t.Errorf("YesNo(\"yes and no\") = %q, %v, want \"NO\", false", got, ok)
	}
}

// ---------------------------------------------------------------------------
// Tests: ConfidenceScore
// ---------------------------------------------------------------------------

func TestConfidenceScore_PlainFloat(t *testing.T) {
	got, ok := ConfidenceScore("0.73", nil)
	if !ok || got != 0.73 {
		t.Errorf("ConfidenceScore(\"0.73\") = %v, %v, want 0.73, true", got, ok)
	}
}

func TestConfidenceScore_LastFloatWins(t *testing.T) {
	got, ok := ConfidenceScore("between 0.2 and 0.8 I would say 0.65", nil)
	if !ok || got != 0.65 {
		t.Errorf("ConfidenceScore(multiple floats) = %v, %v, want 0.65, true", got, ok)
	}
}

func TestConfidenceScore_AboveOnePassesThrough(t *testing.T) {
	got, ok := ConfidenceScore("confidence: 1.5", nil)
	if !ok || got != 1.5 {
		t.Errorf("ConfidenceScore(\"1.5\") = %v, %v, want 1.5, true", got, ok)
	}
}

func TestConfidenceScore_NoNumberJitteredDefault(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		got, ok := ConfidenceScore("no number here", rng)
		if ok {
			t.Fatalf("ConfidenceScore(no number) reported parsed=true")
		}
		if got < 0.0 || got > 0.4 {
			t.Fatalf("ConfidenceScore(no number) = %v, want within [0.0, 0.4]", got)
		}
	}
}

func TestConfidenceScore_IntegerOnlyIsNotAFloat(t *testing.T) {
	if _, ok := ConfidenceScore("score is 1", nil); ok {
		t.Errorf("ConfidenceScore(\"score is 1\") parsed, want jittered default")
	}
}

// ---------------------------------------------------------------------------
// Tests: LikertScale
// ---------------------------------------------------------------------------

func TestLikertScale_Levels(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"Very Confident", 5},
		{"Somewhat Confident", 4},
		{"Neither Confident nor Unconfident", 3},
		{"neither confident or unconfident", 3},
		{"Somewhat Unconfident.", 2},
		{"Very Unconfident", 1},
	}
	for _, tc := range cases {
		got, ok := LikertScale(tc.text)
		if !ok || got != tc.want {
			t.Errorf("LikertScale(%q) = %d, %v, want %d, true", tc.text, got, ok, tc.want)
		}
	}
}

func TestLikertScale_NoMatch(t *testing.T) {
	got, ok := LikertScale("I am unsure")
	if ok || got != 0 {
		t.Errorf("LikertScale(\"I am unsure\") = %d, %v, want 0, false", got, ok)
	}
}

// ---------------------------------------------------------------------------
// Tests: StripDecorations
// ---------------------------------------------------------------------------

func TestStripDecorations(t *testing.T) {
	got := StripDecorations("Confident --> Answer: B")
	if got != "B" {
		t.Errorf("StripDecorations(answer) = %q, want \"B\"", got)
	}
	got = StripDecorations("Not confident --> Doctor Question: Do you smoke?")
	if got != "Do you smoke?" {
		t.Errorf("StripDecorations(question) = %q, want \"Do you smoke?\"", got)
	}
}
