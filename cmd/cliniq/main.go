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

// Command cliniq benchmarks an interactive clinical question-answering
// expert against a simulated patient over a JSONL corpus of multiple-choice
// exam items.
//
// Usage:
//
//	cliniq --strategy implicit --patient-variant fact-select \
//	    --data-dir data --dev-filename dev.jsonl --output-filename results.jsonl
//
// API keys are read from the environment (or a .env file): OPENAI_API_KEY,
// ANTHROPIC_API_KEY, GEMINI_API_KEY, or the variable named by --api-account.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/achetronic/cliniq/internal/abstain"
	"github.com/achetronic/cliniq/internal/expert"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/patient"
	"github.com/achetronic/cliniq/internal/record"
	"github.com/achetronic/cliniq/internal/results"
	"github.com/achetronic/cliniq/internal/runner"
	"github.com/achetronic/cliniq/internal/telemetry"
)

// CLI defines the command-line interface.
type CLI struct {
	Strategy               string `help:"Abstention strategy driving the expert (fixed, implicit, binary, numerical, numcutoff, scale, random)." required:""`
	ExpertModel            string `name:"expert-model" help:"Model answering as the expert." default:"meta-llama/Llama-3.1-8B-Instruct"`
	QuestionGeneratorModel string `name:"question-generator-model" help:"Optional distinct model for follow-up question generation."`
	PatientVariant         string `name:"patient-variant" help:"Patient responding variant (random, direct, instruct, fact-select)." default:"fact-select"`
	PatientModel           string `name:"patient-model" help:"Model answering as the patient." default:"meta-llama/Llama-3.1-8B-Instruct"`

	DataDir        string `name:"data-dir" help:"Directory containing the corpus files." required:"" type:"existingdir"`
	DevFilename    string `name:"dev-filename" help:"Corpus filename inside the data directory." required:""`
	OutputFilename string `name:"output-filename" help:"Append-only JSONL results log; existing ids are skipped on resume." default:"results.jsonl"`

	MaxQuestions int `name:"max-questions" help:"Turn budget before a commit is forced." default:"30"`

	LogFilename        string `name:"log-filename" help:"General benchmark log (empty = stderr)."`
	HistoryLogFilename string `name:"history-log-filename" help:"Optional log of full message lists at each stage."`
	DetailLogFilename  string `name:"detail-log-filename" help:"Optional log of parser decisions and per-sample outcomes."`
	MessageLogFilename string `name:"message-log-filename" help:"Optional log of raw backend input/output."`

	RationaleGeneration bool    `name:"rationale-generation" help:"Ask the model for a REASON line before each decision."`
	SelfConsistency     int     `name:"self-consistency" help:"Number of samples fused per decision prompt." default:"1"`
	AbstainThreshold    float64 `name:"abstain-threshold" help:"Strategy-dependent abstention threshold (probability for numcutoff, Likert level for scale)."`
	IndependentModules  bool    `name:"independent-modules" help:"Build question-generation prompts from scratch instead of extending the abstention conversation."`

	UseVLLM   bool   `name:"use-vllm" help:"Route local models to a vLLM server (degrades to Ollama when unreachable)."`
	UseAPI    string `name:"use-api" help:"Force a hosted API backend for every model (openai)."`
	VLLMURL   string `name:"vllm-url" help:"vLLM server base URL." default:"http://localhost:8000"`
	OllamaURL string `name:"ollama-url" help:"Ollama base URL." default:"http://localhost:11434"`

	Temperature float64 `help:"Sampling temperature (0 disables self-consistency resampling)." default:"0.6"`
	TopP        float64 `name:"top-p" help:"Nucleus sampling probability mass." default:"0.9"`
	MaxTokens   int     `name:"max-tokens" help:"Maximum tokens per generation." default:"256"`
	TopLogprobs int     `name:"top-logprobs" help:"Number of top log-probabilities to request." default:"0"`
	APIAccount  string  `name:"api-account" help:"Environment variable holding the hosted-API key."`

	Parallel    int    `help:"Number of cases run concurrently." default:"1"`
	RedisAddr   string `name:"redis-addr" help:"Optional Redis address for the cross-run fact-decomposition cache."`
	PostgresDSN string `name:"postgres-dsn" help:"Optional Postgres DSN mirroring results for analysis."`

	Observe      bool   `help:"Enable OTLP tracing."`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP/HTTP collector endpoint." default:"localhost:4318"`
}

func main() {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cliniq"),
		kong.Description("Benchmark an interactive clinical QA expert against a simulated patient."),
		kong.UsageOnError(),
	)

	kctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	if err := setupLogging(cli.LogFilename); err != nil {
		return err
	}
	if !slices.Contains(abstain.Names(), cli.Strategy) {
		return fmt.Errorf("unknown strategy %q (known: %v)", cli.Strategy, abstain.Names())
	}
	if !slices.Contains(patient.Variants(), cli.PatientVariant) {
		return fmt.Errorf("unknown patient variant %q (known: %v)", cli.PatientVariant, patient.Variants())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:  cli.Observe,
		Endpoint: cli.OTLPEndpoint,
		Insecure: true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	recorder, err := record.NewRecorder(record.RecorderConfig{
		HistoryFilename: cli.HistoryLogFilename,
		DetailFilename:  cli.DetailLogFilename,
		MessageFilename: cli.MessageLogFilename,
	})
	if err != nil {
		return err
	}
	defer recorder.Close()

	catalog := generator.NewCatalog()
	catalog.Start(ctx)
	defer catalog.Stop()

	cache := generator.NewCache(generator.CacheConfig{
		UseAPI:        cli.UseAPI,
		UseVLLM:       cli.UseVLLM,
		VLLMBaseURL:   cli.VLLMURL,
		OllamaBaseURL: cli.OllamaURL,
		APIAccount:    cli.APIAccount,
		Catalog:       catalog,
		Recorder:      recorder,
	})

	var factCache *patient.FactCache
	if cli.RedisAddr != "" {
		factCache, err = patient.NewFactCache(patient.FactCacheConfig{Addr: cli.RedisAddr})
		if err != nil {
			return err
		}
		defer factCache.Close()
	}

	sink, err := results.NewJSONLSink(cli.OutputFilename)
	if err != nil {
		return err
	}
	defer sink.Close()
	sinks := []results.Sink{sink}

	if cli.PostgresDSN != "" {
		pgSink, err := results.NewPostgresSink(cli.PostgresDSN)
		if err != nil {
			return err
		}
		defer pgSink.Close()
		sinks = append(sinks, pgSink)
	}

	cases, err := runner.LoadCorpus(filepath.Join(cli.DataDir, cli.DevFilename))
	if err != nil {
		return err
	}

	genOptions := generator.Options{
		Temperature: cli.Temperature,
		TopP:        cli.TopP,
		MaxTokens:   cli.MaxTokens,
		TopLogprobs: cli.TopLogprobs,
	}

	driver := &runner.Driver{
		Config: runner.DriverConfig{
			ExpertConfig: expert.Config{
				Strategy:               cli.Strategy,
				Model:                  cli.ExpertModel,
				QuestionGeneratorModel: cli.QuestionGeneratorModel,
				RationaleGeneration:    cli.RationaleGeneration,
				SelfConsistency:        cli.SelfConsistency,
				AbstainThreshold:       cli.AbstainThreshold,
				IndependentModules:     cli.IndependentModules,
				MaxQuestions:           cli.MaxQuestions,
				GenOptions:             genOptions,
			},
			PatientConfig: patient.Config{
				Variant:    cli.PatientVariant,
				Model:      cli.PatientModel,
				GenOptions: genOptions,
				FactCache:  factCache,
			},
			MaxQuestions:   cli.MaxQuestions,
			Parallel:       cli.Parallel,
			OutputFilename: cli.OutputFilename,
		},
		Cache:    cache,
		Recorder: recorder,
		Sinks:    sinks,
	}

	slog.Info("cliniq: starting run",
		"strategy", cli.Strategy,
		"patient_variant", cli.PatientVariant,
		"cases", len(cases),
		"max_questions", cli.MaxQuestions,
		"self_consistency", cli.SelfConsistency,
	)

	stats, err := driver.Run(ctx, cases)
	if err != nil {
		return err
	}

	processed, correct, timeouts, avgTurns := stats.Snapshot()
	slog.Info("cliniq: run complete",
		"processed", processed,
		"correct", correct,
		"timeouts", timeouts,
		"avg_turns", fmt.Sprintf("%.2f", avgTurns),
	)
	fmt.Printf("Accuracy: %.4f\n", stats.Accuracy())
	return nil
}

// setupLogging routes the general benchmark log to the given file, or stderr
// when no filename is configured.
func setupLogging(filename string) error {
	if filename == "" {
		return nil
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", filename, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
	return nil
}
