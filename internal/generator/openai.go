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
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openAIClient serves one model through the hosted OpenAI chat API.
type openAIClient struct {
	model  string
	client openai.Client
}

// newOpenAIClient creates a client for the given model. An empty apiKey falls
// back to the OPENAI_API_KEY environment variable handled by the SDK.
func newOpenAIClient(model, apiKey string) *openAIClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &openAIClient{
		model:  model,
		client: openai.NewClient(opts...),
	}
}

// Name implements Client.
func (c *openAIClient) Name() string { return c.model }

// Generate implements Client.
func (c *openAIClient) Generate(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(opts.Temperature),
		TopP:        openai.Float(opts.TopP),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.TopLogprobs > 0 {
		params.Logprobs = openai.Bool(true)
		params.TopLogprobs = openai.Int(int64(opts.TopLogprobs))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices for model %s", c.model)
	}

	choice := completion.Choices[0]
	result := &Result{
		Text: strings.TrimSpace(choice.Message.Content),
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if opts.TopLogprobs > 0 {
		for _, lp := range choice.Logprobs.Content {
			result.Logprobs = append(result.Logprobs, TokenLogprob{Token: lp.Token, Logprob: lp.Logprob})
		}
	}
	return result, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			converted = append(converted, openai.SystemMessage(m.Content))
		case RoleAssistant:
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}
	return converted
}

var _ Client = (*openAIClient)(nil)
