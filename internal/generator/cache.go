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

package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/achetronic/cliniq/internal/record"
)

// Backend selector values for CacheConfig.UseAPI.
const (
	APIOpenAI = "openai"
)

// CacheConfig selects and configures the backends handed out by a Cache.
type CacheConfig struct {
	// UseAPI forces the hosted API backend for every model when set to
	// "openai", regardless of the model identifier.
	UseAPI string
	// UseVLLM routes local models to the vLLM batch backend. Construction
	// failures degrade to the single-shot Ollama backend.
	UseVLLM bool
	// VLLMBaseURL is the vLLM server address (default http://localhost:8000).
	VLLMBaseURL string
	// OllamaBaseURL is the Ollama address (default http://localhost:11434).
	OllamaBaseURL string
	// APIAccount optionally names the environment variable holding the API
	// key for hosted backends. Empty falls back to each SDK's default
	// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY).
	APIAccount string
	// Catalog optionally clamps requested max-token budgets to the model's
	// published limits.
	Catalog *Catalog
	// HTTPClient overrides the client used by the local backends. Useful for
	// testing with mock servers.
	HTTPClient *http.Client
	// Recorder receives raw backend input/output on its message sink.
	Recorder *record.Recorder
}

// Cache hands out one live Client per model identifier for the process
// lifetime. Construction is memoized and guarded so that two concurrent
// first-uses of the same model produce only one client.
type Cache struct {
	cfg     CacheConfig
	mu      sync.Mutex
	clients map[string]Client
}

// NewCache creates an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.VLLMBaseURL == "" {
		cfg.VLLMBaseURL = "http://localhost:8000"
	}
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://localhost:11434"
	}
	return &Cache{
		cfg:     cfg,
		clients: make(map[string]Client),
	}
}

// Get returns the live client for the given model identifier, constructing
// it on first use.
func (c *Cache) Get(ctx context.Context, model string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[model]; ok {
		return client, nil
	}

	client, err := c.build(ctx, model)
	if err != nil {
		return nil, err
	}
	c.clients[model] = client
	slog.Info("Cache: generation backend ready", "model", model)
	return client, nil
}

// build selects a backend for the model identifier: hosted APIs for the
// known families (or when forced via UseAPI), the vLLM batch backend when
// enabled, and the single-shot Ollama backend as the fallback.
func (c *Cache) build(ctx context.Context, model string) (Client, error) {
	lower := strings.ToLower(model)
	switch {
	case strings.EqualFold(c.cfg.UseAPI, APIOpenAI),
		strings.Contains(lower, "gpt"),
		strings.HasPrefix(lower, "o1"):
		return newOpenAIClient(model, c.apiKey()), nil

	case strings.Contains(lower, "claude"):
		return newAnthropicClient(model, c.apiKey()), nil

	case strings.Contains(lower, "gemini"):
		return newGeminiClient(ctx, model, c.apiKey())

	case c.cfg.UseVLLM:
		client, err := newVLLMClient(ctx, model, c.cfg.VLLMBaseURL, c.cfg.HTTPClient)
		if err == nil {
			return client, nil
		}
		slog.Warn("Cache: batch backend unavailable, degrading to single-shot",
			"model", model,
			"error", err,
		)
		fallthrough

	default:
		return newOllamaClient(model, c.cfg.OllamaBaseURL, c.cfg.HTTPClient), nil
	}
}

// apiKey resolves the hosted-API key from the configured account variable.
// Empty means the SDK's own environment fallback applies.
func (c *Cache) apiKey() string {
	if c.cfg.APIAccount == "" {
		return ""
	}
	return os.Getenv(c.cfg.APIAccount)
}

// Generate runs one completion against the named model, clamping the output
// budget against the catalog. A failed call is retried once with identical
// parameters; on second failure it returns an empty result so the calling
// parser falls back to its conservative default and the case continues.
func (c *Cache) Generate(ctx context.Context, model string, messages []Message, opts Options) (*Result, error) {
	client, err := c.Get(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("no backend for model %s: %w", model, err)
	}

	opts.MaxTokens = c.cfg.Catalog.ClampMaxTokens(model, opts.MaxTokens)

	ctx, span := otel.Tracer("cliniq/generator").Start(ctx, "generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.request.model", model),
		attribute.Float64("gen_ai.request.temperature", opts.Temperature),
		attribute.Int("gen_ai.request.max_tokens", opts.MaxTokens),
	)

	c.cfg.Recorder.Message("backend input", "model", model, "messages", messages)

	result, err := client.Generate(ctx, messages, opts)
	if err != nil {
		slog.Warn("Cache: generation failed, retrying once", "model", model, "error", err)
		result, err = client.Generate(ctx, messages, opts)
	}
	if err != nil {
		slog.Warn("Cache: generation failed twice, returning empty response", "model", model, "error", err)
		span.RecordError(err)
		result = &Result{}
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", result.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", result.Usage.OutputTokens),
	)

	c.cfg.Recorder.Message("backend output",
		"model", model,
		"text", result.Text,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)
	return result, nil
}

var _ Generator = (*Cache)(nil)
