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

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/achetronic/cliniq/internal/abstain"
	"github.com/achetronic/cliniq/internal/expert"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/patient"
	"github.com/achetronic/cliniq/internal/record"
	"github.com/achetronic/cliniq/internal/results"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func driverCases(n int) []record.Case {
	cases := make([]record.Case, 0, n)
	for i := 0; i < n; i++ {
		cases = append(cases, record.Case{
			ID:          fmt.Sprintf("case-%d", i),
			Question:    "What is the most likely diagnosis?",
			Options:     map[string]string{"A": "flu", "B": "pneumonia", "C": "bronchitis", "D": "asthma"},
			Answer:      "pneumonia",
			AnswerIdx:   "B",
			Context:     []string{"Chest pain", "Fever of 39C"},
			ContextPara: "Chest pain. Fever of 39C",
			InitialInfo: "Chest pain",
		})
	}
	return cases
}

// newDriver builds a driver over the random expert and random patient, which
// need no generator at all, writing to the given output file.
func newDriver(t *testing.T, output string, parallel int) (*Driver, func()) {
	t.Helper()
	sink, err := results.NewJSONLSink(output)
	if err != nil {
		t.Fatalf("NewJSONLSink returned error: %v", err)
	}
	driver := &Driver{
		Config: DriverConfig{
			ExpertConfig: expert.Config{
				Strategy:        abstain.StrategyRandom,
				Model:           "test-model",
				SelfConsistency: 1,
				MaxQuestions:    3,
				GenOptions:      generator.Options{Temperature: 0.6},
			},
			PatientConfig:  patient.Config{Variant: patient.VariantRandom},
			MaxQuestions:   3,
			Parallel:       parallel,
			OutputFilename: output,
		},
	}
	driver.Sinks = []results.Sink{sink}
	return driver, func() { sink.Close() }
}

func outputIDs(t *testing.T, path string) []string {
	t.Helper()
	processed, err := results.LoadProcessed(path)
	if err != nil {
		t.Fatalf("LoadProcessed returned error: %v", err)
	}
	ids := make([]string, 0, len(processed))
	for id := range processed {
		ids = append(ids, id)
	}
	return ids
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	return strings.Count(string(data), "\n")
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDriver_ProcessesEveryCase(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	driver, done := newDriver(t, output, 1)
	defer done()

	cases := driverCases(4)
	stats, err := driver.Run(context.Background(), cases)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := len(outputIDs(t, output)); got != 4 {
		t.Errorf("output has %d unique ids, want 4", got)
	}
	processed, _, _, _ := stats.Snapshot()
	if processed != 4 {
		t.Errorf("Processed = %d, want 4", processed)
	}
}

// Running the driver twice on the same corpus leaves the output unchanged:
// every id is already present, so nothing is re-run.
func TestDriver_ResumeIsIdempotent(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	cases := driverCases(4)

	driver, done := newDriver(t, output, 1)
	if _, err := driver.Run(context.Background(), cases); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	done()
	linesAfterFirst := countLines(t, output)

	driver2, done2 := newDriver(t, output, 1)
	defer done2()
	stats, err := driver2.Run(context.Background(), cases)
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	if got := countLines(t, output); got != linesAfterFirst {
		t.Errorf("output grew from %d to %d lines on resume, want unchanged", linesAfterFirst, got)
	}
	processed, _, _, _ := stats.Snapshot()
	if processed != 4 {
		t.Errorf("Processed = %d, want 4 (all folded from the prior run)", processed)
	}
}

// Deleting every other output line and re-running fills the gaps: the final
// output holds exactly one record per corpus case.
func TestDriver_ResumeFillsDeletedLines(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	cases := driverCases(6)

	driver, done := newDriver(t, output, 1)
	if _, err := driver.Run(context.Background(), cases); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	done()

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	var kept []string
	for i, line := range lines {
		if i%2 == 0 {
			kept = append(kept, line)
		}
	}
	if err := os.WriteFile(output, []byte(strings.Join(kept, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	driver2, done2 := newDriver(t, output, 1)
	defer done2()
	if _, err := driver2.Run(context.Background(), cases); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	ids := outputIDs(t, output)
	if len(ids) != len(cases) {
		t.Errorf("output has %d unique ids, want %d", len(ids), len(cases))
	}
	if got := countLines(t, output); got != len(cases) {
		t.Errorf("output has %d lines, want %d (no duplicates)", got, len(cases))
	}
}

// Parallel case execution must keep every output line intact.
func TestDriver_ParallelAppendsStayAtomic(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	driver, done := newDriver(t, output, 4)
	defer done()

	cases := driverCases(12)
	if _, err := driver.Run(context.Background(), cases); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := len(outputIDs(t, output)); got != 12 {
		t.Errorf("output has %d parseable unique ids, want 12", got)
	}
	if got := countLines(t, output); got != 12 {
		t.Errorf("output has %d lines, want 12", got)
	}
}
