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

// Package parse maps free-form model output to the benchmark's answer kinds:
// a letter choice, an atomic follow-up question, a yes/no decision, a
// probability, or a Likert confidence level. All functions are deterministic
// given their inputs (the confidence default takes an explicit RNG) and never
// fail: unparseable input yields a conservative default plus an ok=false the
// caller is expected to log.
package parse

import (
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// Unparseable is the sentinel letter recorded when no choice could be
// extracted from the model output.
const Unparseable = "UNPARSEABLE"

// Letters are the valid option labels, in presentation order.
var Letters = []string{"A", "B", "C", "D"}

var (
	punctRe = regexp.MustCompile(`[,.;@#()?!'/&:$]+ *`)
	floatRe = regexp.MustCompile(`\d+\.\d+`)
)

// Choice extracts a letter choice from the response. It first looks for any
// option text appearing case-insensitively in a response line, then for a
// standalone letter token after stripping punctuation. Returns ok=false when
// nothing matches.
func Choice(text string, options map[string]string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, letter := range Letters {
			optText, ok := options[letter]
			if !ok || optText == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(optText)) {
				return letter, true
			}
		}
		tokens := strings.Fields(punctRe.ReplaceAllString(line, " "))
		for _, letter := range Letters {
			for _, tok := range tokens {
				if tok == letter {
					return letter, true
				}
			}
		}
	}
	return "", false
}

// AtomicQuestion extracts the follow-up question from the response: the last
// line containing a question mark, stripped of any leading "Label:" prefix
// and surrounding quotes. Returns ok=false when no line contains a question.
func AtomicQuestion(text string) (string, bool) {
	var question string
	found := false
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, "?") {
			continue
		}
		if idx := strings.LastIndex(line, ":"); idx >= 0 {
			line = line[idx+1:]
		}
		question = strings.Trim(strings.TrimSpace(line), `'"`)
		found = true
	}
	if !found || question == "" {
		return "", false
	}
	return question, true
}

// YesNo extracts a YES/NO decision. The text is lowercased; if a "decision:"
// marker is present only what follows it is considered; then the tokens "yes"
// and "no" are checked after stripping trailing punctuation. Exactly one
// present yields that answer; both or neither yield the conservative "NO"
// with ok=false so the caller can log the failure.
func YesNo(text string) (string, bool) {
	processed := strings.ToLower(text)
	if idx := strings.LastIndex(processed, "decision:"); idx >= 0 {
		processed = processed[idx+len("decision:"):]
	}
	processed = strings.NewReplacer(".", "", ",", "", ";", "", ":", "").Replace(processed)

	var yes, no bool
	for _, tok := range strings.Fields(processed) {
		switch tok {
		case "yes":
			yes = true
		case "no":
			no = true
		}
	}
	switch {
	case yes && !no:
		return "YES", true
	case no && !yes:
		return "NO", true
	default:
		return "NO", false
	}
}

// ConfidenceScore extracts the last decimal float from the response. When
// none is present it returns a small jittered default around 0.2 (so a run
// never crashes on a malformed sample) with ok=false. Values above 1 are
// passed through; the caller decides whether to log them.
func ConfidenceScore(text string, rng *rand.Rand) (float64, bool) {
	scores := floatRe.FindAllString(text, -1)
	if len(scores) == 0 {
		return defaultConfidence(rng), false
	}
	prob, err := strconv.ParseFloat(scores[len(scores)-1], 64)
	if err != nil {
		return defaultConfidence(rng), false
	}
	return prob, true
}

// defaultConfidence produces the fallback score: 0.2 plus symmetric jitter,
// rounded to four decimals and clamped into [0, 0.4].
func defaultConfidence(rng *rand.Rand) float64 {
	next := rand.Float64
	if rng != nil {
		next = rng.Float64
	}
	score := 0.2 + (next()-next())*0.2
	score = math.Round(score*10000) / 10000
	return math.Min(0.4, math.Max(0, score))
}

// likertPhrases maps rating phrases to their numeric levels, checked in
// order so that the more specific phrases win.
var likertPhrases = []struct {
	phrase string
	score  int
}{
	{"very confident", 5},
	{"somewhat confident", 4},
	{"neither confident nor unconfident", 3},
	{"neither confident or unconfident", 3},
	{"somewhat unconfident", 2},
	{"very unconfident", 1},
}

// LikertScale maps the response to a confidence level in {1..5}. Returns 0
// with ok=false when no rating phrase is present.
func LikertScale(text string) (int, bool) {
	processed := strings.ToLower(text)
	processed = strings.NewReplacer(".", "", ",", "", ";", "", ":", "").Replace(processed)
	for _, entry := range likertPhrases {
		if strings.Contains(processed, entry.phrase) {
			return entry.score, true
		}
	}
	return 0, false
}

// StripDecorations removes the confidence-routing prefixes some models emit
// before their choice-or-question answer.
func StripDecorations(text string) string {
	text = strings.ReplaceAll(text, "Confident --> Answer: ", "")
	text = strings.ReplaceAll(text, "Not confident --> Doctor Question: ", "")
	return text
}
