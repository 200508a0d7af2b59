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

// Package consistency runs one decision prompt N times and fuses the parsed
// samples into a single verdict: majority vote for discrete kinds, mean for
// numeric kinds. Samples are issued concurrently but aggregation depends only
// on the collected order (sample index), so results are deterministic given
// the sample set.
package consistency

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/parse"
	"github.com/achetronic/cliniq/internal/record"
)

// Kind selects how samples are parsed and fused.
type Kind int

const (
	// ChoiceOrQuestion treats each sample as either a letter choice or an
	// atomic question and fuses by which side wins.
	ChoiceOrQuestion Kind = iota
	// YesNo fuses by majority vote over YES/NO decisions.
	YesNo
	// Numerical fuses by averaging parsed probabilities.
	Numerical
	// Scale fuses by averaging parsed Likert levels.
	Scale
	// Choice parses a single letter choice (always one sample).
	Choice
	// Question parses a single atomic question (always one sample).
	Question
)

// maxConcurrentSamples bounds the per-decision fan-out against one model.
const maxConcurrentSamples = 8

// Outcome is the fused verdict over all samples of one decision prompt.
type Outcome struct {
	// Text is the raw response of the representative sample.
	Text string
	// LetterChoice is the winning letter, when one was parsed.
	LetterChoice string
	// AtomicQuestion is the winning question, when one was parsed.
	AtomicQuestion string
	// Decision is the fused YES/NO verdict for the YesNo kind.
	Decision string
	// Score is the fused numeric value (mean probability or Likert level).
	Score float64
	// Confidence is the kind-specific confidence scalar.
	Confidence float64
	// Logprobs belong to the representative sample, when available.
	Logprobs []generator.TokenLogprob
	// Usage is summed across every sample.
	Usage generator.Usage
	// Failed reports that no sample parsed at all.
	Failed bool
}

// Aggregator fans a decision prompt out to the generator cache and fuses the
// parsed samples.
type Aggregator struct {
	Cache    generator.Generator
	Recorder *record.Recorder
	// Rng drives the random pick among tied question samples and the
	// confidence-score fallback jitter. Nil uses the global source.
	Rng *rand.Rand
}

// Run executes the prompt n times (once for the single-sample kinds, and
// once when temperature is zero, where resampling is pointless) and fuses
// the outcomes.
func (a *Aggregator) Run(ctx context.Context, model string, messages []generator.Message, kind Kind, n int, opts generator.Options, options map[string]string) (*Outcome, error) {
	if n < 1 || kind == Choice || kind == Question || opts.Temperature == 0 {
		n = 1
	}

	results, usage, err := a.collect(ctx, model, messages, n, opts)
	if err != nil {
		return nil, err
	}

	var outcome *Outcome
	switch kind {
	case ChoiceOrQuestion:
		outcome = a.fuseChoiceOrQuestion(results, options)
	case YesNo:
		outcome = a.fuseYesNo(results)
	case Numerical:
		outcome = a.fuseNumerical(results)
	case Scale:
		outcome = a.fuseScale(results)
	case Choice:
		outcome = a.fuseSingleChoice(results[0], options)
	case Question:
		outcome = a.fuseSingleQuestion(results[0])
	default:
		return nil, fmt.Errorf("unknown aggregation kind %d", kind)
	}
	outcome.Usage = usage
	return outcome, nil
}

// collect issues n generator calls concurrently and returns the results in
// collected (index) order along with the summed usage.
func (a *Aggregator) collect(ctx context.Context, model string, messages []generator.Message, n int, opts generator.Options) ([]*generator.Result, generator.Usage, error) {
	results := make([]*generator.Result, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSamples)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			result, err := a.Cache.Generate(gctx, model, messages, opts)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, generator.Usage{}, err
	}

	var usage generator.Usage
	for _, r := range results {
		usage.Add(r.Usage)
	}
	return results, usage, nil
}

// fuseChoiceOrQuestion classifies each sample as an answer, a question, or a
// failure. Answers win when they outnumber questions; the winning letter is
// the modal one (ties broken by first occurrence) and carries that sample's
// log-probabilities. Otherwise a uniformly random question sample wins.
func (a *Aggregator) fuseChoiceOrQuestion(results []*generator.Result, options map[string]string) *Outcome {
	type answer struct {
		letter string
		text   string
		probs  []generator.TokenLogprob
	}
	type question struct {
		question string
		text     string
	}
	var answers []answer
	var questions []question

	for i, r := range results {
		text := parse.StripDecorations(r.Text)
		if text == "" {
			a.Recorder.Detail("choice-or-question sample empty", "sample", i)
			continue
		}
		if !containsQuestionMark(text) {
			if letter, ok := parse.Choice(text, options); ok {
				a.Recorder.Detail("choice-or-question sample parsed as answer", "sample", i, "letter", letter)
				answers = append(answers, answer{letter: letter, text: text, probs: r.Logprobs})
				continue
			}
		} else if q, ok := parse.AtomicQuestion(text); ok {
			a.Recorder.Detail("choice-or-question sample parsed as question", "sample", i, "question", q)
			questions = append(questions, question{question: q, text: text})
			continue
		}
		a.Recorder.Detail("choice-or-question sample failed to parse", "sample", i, "text", text)
	}

	total := len(answers) + len(questions)
	if total == 0 {
		return &Outcome{Text: "No response.", Failed: true}
	}

	outcome := &Outcome{Confidence: float64(len(answers)) / float64(total)}
	if len(answers) > len(questions) {
		counts := make(map[string]int)
		for _, ans := range answers {
			counts[ans.letter]++
		}
		best := answers[0]
		for _, ans := range answers {
			if counts[ans.letter] > counts[best.letter] {
				best = ans
			}
		}
		outcome.LetterChoice = best.letter
		outcome.Text = best.text
		outcome.Logprobs = best.probs
	} else {
		pick := questions[a.intn(len(questions))]
		outcome.AtomicQuestion = pick.question
		outcome.Text = pick.text
	}
	return outcome
}

// fuseYesNo takes the majority vote, defaulting to NO on a tie. Confidence
// is the fraction of YES votes.
func (a *Aggregator) fuseYesNo(results []*generator.Result) *Outcome {
	votes := make([]string, 0, len(results))
	for i, r := range results {
		vote, ok := parse.YesNo(r.Text)
		if !ok {
			a.Recorder.Detail("yes/no sample defaulted", "sample", i, "text", r.Text)
		}
		votes = append(votes, vote)
	}

	yes := 0
	for _, v := range votes {
		if v == "YES" {
			yes++
		}
	}
	decision := "NO"
	if yes > len(votes)-yes {
		decision = "YES"
	}

	outcome := &Outcome{
		Decision:   decision,
		Confidence: float64(yes) / float64(len(votes)),
	}
	for i, v := range votes {
		if v == decision {
			outcome.Text = results[i].Text
			outcome.Logprobs = results[i].Logprobs
			break
		}
	}
	return outcome
}

// fuseNumerical averages the parsed probabilities; the representative sample
// is the one whose score sits closest to the mean.
func (a *Aggregator) fuseNumerical(results []*generator.Result) *Outcome {
	scores := make([]float64, 0, len(results))
	for i, r := range results {
		score, ok := parse.ConfidenceScore(r.Text, a.Rng)
		if !ok {
			a.Recorder.Detail("confidence sample defaulted", "sample", i, "text", r.Text, "default", score)
		} else if score > 1 {
			a.Recorder.Detail("confidence sample above 1, passing through", "sample", i, "score", score)
		}
		scores = append(scores, score)
	}

	mean := meanOf(scores)
	rep := closestIndex(scores, mean)
	return &Outcome{
		Text:       results[rep].Text,
		Score:      mean,
		Confidence: mean,
		Logprobs:   results[rep].Logprobs,
	}
}

// fuseScale averages the parsed Likert levels; the representative sample is
// the one whose level sits closest to the mean.
func (a *Aggregator) fuseScale(results []*generator.Result) *Outcome {
	scores := make([]float64, 0, len(results))
	for i, r := range results {
		level, ok := parse.LikertScale(r.Text)
		if !ok {
			a.Recorder.Detail("likert sample defaulted to 0", "sample", i, "text", r.Text)
		}
		scores = append(scores, float64(level))
	}

	mean := meanOf(scores)
	rep := closestIndex(scores, mean)
	return &Outcome{
		Text:       results[rep].Text,
		Score:      mean,
		Confidence: mean,
		Logprobs:   results[rep].Logprobs,
	}
}

func (a *Aggregator) fuseSingleChoice(result *generator.Result, options map[string]string) *Outcome {
	outcome := &Outcome{Text: result.Text, Logprobs: result.Logprobs}
	if result.Text == "" {
		outcome.Text = "No response."
		outcome.Failed = true
		return outcome
	}
	letter, ok := parse.Choice(result.Text, options)
	if !ok {
		a.Recorder.Detail("intermediate choice failed to parse", "text", result.Text)
		outcome.Failed = true
		return outcome
	}
	outcome.LetterChoice = letter
	return outcome
}

func (a *Aggregator) fuseSingleQuestion(result *generator.Result) *Outcome {
	outcome := &Outcome{Text: result.Text, Logprobs: result.Logprobs}
	if result.Text == "" {
		outcome.Text = "No response."
		outcome.Failed = true
		return outcome
	}
	q, ok := parse.AtomicQuestion(result.Text)
	if !ok {
		a.Recorder.Detail("follow-up question failed to parse", "text", result.Text)
		outcome.Failed = true
		return outcome
	}
	outcome.AtomicQuestion = q
	return outcome
}

// intn draws from the configured RNG, falling back to the global source.
func (a *Aggregator) intn(n int) int {
	if a.Rng != nil {
		return a.Rng.Intn(n)
	}
	return rand.Intn(n)
}

func containsQuestionMark(text string) bool {
	for _, r := range text {
		if r == '?' {
			return true
		}
	}
	return false
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func closestIndex(values []float64, target float64) int {
	best := 0
	for i, v := range values {
		if math.Abs(v-target) < math.Abs(values[best]-target) {
			best = i
		}
	}
	return best
}
