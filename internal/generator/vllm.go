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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// vllmClient serves one model through a vLLM server's OpenAI-compatible
// completions endpoint. This is the de facto standard also spoken by LocalAI,
// LiteLLM, and llama.cpp servers, so any of them can stand in.
//
// The chat prompt is flattened with blank-line separators: the server side
// owns the tokenizer, and the raw completions endpoint is what exposes
// log-probabilities and the frequency/presence penalties.
type vllmClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

const vllmProbeTimeout = 5 * time.Second

// newVLLMClient creates a client for the given model and verifies the server
// is reachable by listing its models. A probe failure is returned to the
// caller so the cache can degrade to the single-shot backend.
func newVLLMClient(ctx context.Context, model, baseURL string, httpClient *http.Client) (*vllmClient, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &vllmClient{
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}

	probeCtx, cancel := context.WithTimeout(ctx, vllmProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vllm server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vllm server returned status %d", resp.StatusCode)
	}
	return c, nil
}

// Name implements Client.
func (c *vllmClient) Name() string { return c.model }

// vllmCompletionRequest mirrors the OpenAI completions request format.
type vllmCompletionRequest struct {
	Model            string  `json:"model"`
	Prompt           string  `json:"prompt"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Logprobs         int     `json:"logprobs,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
}

// vllmCompletionResponse mirrors the OpenAI completions response format.
type vllmCompletionResponse struct {
	Choices []struct {
		Text     string `json:"text"`
		Logprobs *struct {
			Tokens        []string  `json:"tokens"`
			TokenLogprobs []float64 `json:"token_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate implements Client.
func (c *vllmClient) Generate(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	reqBody := vllmCompletionRequest{
		Model:            c.model,
		Prompt:           JoinMessages(messages),
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		MaxTokens:        opts.MaxTokens,
		Logprobs:         opts.TopLogprobs,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call vllm server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vllm server returned status %d: %s", resp.StatusCode, string(body))
	}

	var completion vllmCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	choice := completion.Choices[0]
	result := &Result{
		Text: strings.TrimSpace(choice.Text),
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	if choice.Logprobs != nil {
		for i, tok := range choice.Logprobs.Tokens {
			if i < len(choice.Logprobs.TokenLogprobs) {
				result.Logprobs = append(result.Logprobs, TokenLogprob{
					Token:   tok,
					Logprob: choice.Logprobs.TokenLogprobs[i],
				})
			}
		}
	}
	return result, nil
}

var _ Client = (*vllmClient)(nil)
