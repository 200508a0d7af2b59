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
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/achetronic/cliniq/internal/abstain"
	"github.com/achetronic/cliniq/internal/consistency"
	"github.com/achetronic/cliniq/internal/expert"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/patient"
	"github.com/achetronic/cliniq/internal/record"
	"github.com/achetronic/cliniq/internal/results"
)

// DriverConfig configures one benchmark run.
type DriverConfig struct {
	ExpertConfig  expert.Config
	PatientConfig patient.Config
	MaxQuestions  int
	// Parallel bounds how many cases run concurrently. The default of 1
	// keeps the strictly sequential behaviour.
	Parallel int
	// OutputFilename is the JSONL log that drives resume.
	OutputFilename string
}

// Stats aggregates running outcomes across the run, including cases folded
// in from a previous run's output log.
type Stats struct {
	mu        sync.Mutex
	Processed int
	Correct   int
	Timeouts  int
	TurnsSum  int
}

// fold adds one case outcome under the lock and returns the running
// snapshot for progress logging.
func (s *Stats) fold(correct, timeout bool, turns int) (processed int, accuracy, timeoutRate, avgTurns float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
	if correct {
		s.Correct++
	}
	if timeout {
		s.Timeouts++
	}
	s.TurnsSum += turns
	return s.Processed, s.accuracyLocked(), s.timeoutRateLocked(), s.avgTurnsLocked()
}

func (s *Stats) accuracyLocked() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Processed)
}

func (s *Stats) timeoutRateLocked() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Timeouts) / float64(s.Processed)
}

func (s *Stats) avgTurnsLocked() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.TurnsSum) / float64(s.Processed)
}

// Accuracy returns the final accuracy over all processed cases.
func (s *Stats) Accuracy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accuracyLocked()
}

// Snapshot returns the final counters.
func (s *Stats) Snapshot() (processed, correct, timeouts int, avgTurns float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Processed, s.Correct, s.Timeouts, s.avgTurnsLocked()
}

// Driver iterates the corpus, skipping cases already present in the output
// log, and runs the remaining ones through the turn controller.
type Driver struct {
	Config   DriverConfig
	Cache    generator.Generator
	Recorder *record.Recorder
	Sinks    []results.Sink
}

// Run executes the benchmark over the given cases and returns the aggregated
// statistics. Failures inside a case's interaction loop abort only that case;
// failures constructing a case's expert or patient, and sink (output I/O)
// failures, abort the run.
func (d *Driver) Run(ctx context.Context, cases []record.Case) (*Stats, error) {
	processed, err := results.LoadProcessed(d.Config.OutputFilename)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for id, prior := range processed {
		stats.fold(
			prior.InteractiveSystem.Correct,
			prior.InteractiveSystem.NumQuestions >= d.Config.MaxQuestions,
			prior.InteractiveSystem.NumQuestions,
		)
		slog.Debug("Driver: case already processed, skipping", "case", id)
	}

	parallel := d.Config.Parallel
	if parallel < 1 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	total := len(cases)
	for i := range cases {
		cs := &cases[i]
		if _, done := processed[cs.ID]; done {
			continue
		}
		g.Go(func() error {
			return d.runCase(gctx, cs, stats, total)
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// runCase runs one case end to end: controller loop, sink append, stats.
func (d *Driver) runCase(ctx context.Context, cs *record.Case, stats *Stats, total int) error {
	tracer := otel.Tracer("cliniq/runner")
	ctx, span := tracer.Start(ctx, "case")
	span.SetAttributes(attribute.String("case.id", cs.ID))
	defer span.End()

	env := &abstain.Env{
		Agg: &consistency.Aggregator{
			Cache:    d.Cache,
			Recorder: d.Recorder,
		},
		Recorder: d.Recorder,
	}

	exp, err := expert.New(d.Config.ExpertConfig, cs.Question, cs.Options, env)
	if err != nil {
		return err
	}
	pat, err := patient.New(d.Config.PatientConfig, d.Cache, d.Recorder, cs)
	if err != nil {
		return err
	}

	controller := &Controller{
		Expert:       exp,
		Patient:      pat,
		Recorder:     d.Recorder,
		MaxQuestions: d.Config.MaxQuestions,
	}

	result, runErr := controller.Run(ctx, cs)
	if runErr != nil {
		// The case was aborted but still produced a sentinel-bearing record;
		// persist it and keep the run going.
		span.RecordError(runErr)
		slog.Warn("Driver: case aborted", "case", cs.ID, "error", runErr)
	}

	for _, sink := range d.Sinks {
		if err := sink.Append(ctx, result); err != nil {
			return fmt.Errorf("failed to persist case %s: %w", cs.ID, err)
		}
	}

	timeout := result.InteractiveSystem.NumQuestions >= d.Config.MaxQuestions
	processed, accuracy, timeoutRate, avgTurns := stats.fold(
		result.InteractiveSystem.Correct,
		timeout,
		result.InteractiveSystem.NumQuestions,
	)
	span.SetAttributes(
		attribute.Bool("case.correct", result.InteractiveSystem.Correct),
		attribute.Int("case.turns", result.InteractiveSystem.NumQuestions),
	)
	slog.Info("Driver: case finished",
		"case", cs.ID,
		"letter", result.InteractiveSystem.LetterChoice,
		"correct", result.InteractiveSystem.Correct,
		"turns", result.InteractiveSystem.NumQuestions,
		"processed", fmt.Sprintf("%d/%d", processed, total),
		"accuracy", fmt.Sprintf("%.4f", accuracy),
		"timeout_rate", fmt.Sprintf("%.4f", timeoutRate),
		"avg_turns", fmt.Sprintf("%.2f", avgTurns),
	)
	return nil
}
