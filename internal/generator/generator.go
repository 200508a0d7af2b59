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

// Package generator multiplexes text-generation backends behind one
// contract. A Cache hands out one live Client per model identifier for the
// process lifetime, choosing between the hosted chat APIs (OpenAI, Anthropic,
// Gemini) and the local OpenAI-compatible backends (a vLLM server for batch
// inference, Ollama as the single-shot fallback). Construction failures of
// the batch backend degrade to the fallback with a logged warning; they are
// never fatal.
package generator

import (
	"context"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in an ordered chat prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options are the sampling parameters passed through to a backend. Backends
// ignore parameters they do not support.
type Options struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	TopLogprobs      int
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Usage counts the tokens consumed by one or more generation calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// TokenLogprob is the log-probability the backend assigned to one generated
// token. Only populated when Options.TopLogprobs > 0 and the backend reports
// log-probabilities.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Result is a completed generation.
type Result struct {
	Text     string
	Logprobs []TokenLogprob
	Usage    Usage
}

// Generator dispatches a chat prompt to a named model. The Cache is the
// production implementation; tests substitute scripted fakes.
type Generator interface {
	Generate(ctx context.Context, model string, messages []Message, opts Options) (*Result, error)
}

// Client is a live connection to one model on one backend.
type Client interface {
	// Name returns the model identifier the client serves.
	Name() string
	// Generate runs one completion over the given chat prompt.
	Generate(ctx context.Context, messages []Message, opts Options) (*Result, error)
}

// JoinMessages flattens a chat prompt into a plain completion prompt with
// blank-line separators, for backends that take raw text instead of roles.
func JoinMessages(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}
