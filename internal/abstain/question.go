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

package abstain

import (
	"context"
	"strings"

	"github.com/achetronic/cliniq/internal/consistency"
	"github.com/achetronic/cliniq/internal/generator"
	"github.com/achetronic/cliniq/internal/prompt"
	"github.com/achetronic/cliniq/internal/record"
)

// QuestionRequest carries the inputs for follow-up question generation.
type QuestionRequest struct {
	State   record.PatientState
	Inquiry string
	Options map[string]string
	// Messages is the abstention conversation. In shared mode the question
	// prompt extends it, preserving the chain of thought; in independent
	// mode a fresh message list is built from the base skeleton.
	Messages    []generator.Message
	Independent bool
	Model       string
	GenOptions  generator.Options
}

// QuestionResponse is the generated follow-up question plus the conversation
// that produced it.
type QuestionResponse struct {
	AtomicQuestion string
	Messages       []generator.Message
	Usage          generator.Usage
}

// GenerateQuestion asks the model for exactly one atomic, non-repeating
// follow-up question. An unparseable response falls back to the raw text so
// the interaction can continue; the fallback is logged.
func (e *Env) GenerateQuestion(ctx context.Context, req *QuestionRequest) (*QuestionResponse, error) {
	var messages []generator.Message
	if req.Independent {
		messages = prompt.ExpertMessages(req.State, req.Inquiry, req.Options, prompt.TaskAtomicQuestion)
	} else {
		messages = append(messages, req.Messages...)
		messages = append(messages, generator.Message{Role: generator.RoleUser, Content: prompt.TaskAtomicQuestion})
	}
	e.Recorder.History("question generation prompt", "messages", messages)

	outcome, err := e.Agg.Run(ctx, req.Model, messages, consistency.Question, 1, req.GenOptions, req.Options)
	if err != nil {
		return nil, err
	}

	question := outcome.AtomicQuestion
	if question == "" {
		question = strings.TrimSpace(outcome.Text)
		e.Recorder.Detail("question generation fell back to raw response", "text", question)
	}
	messages = append(messages, generator.Message{Role: generator.RoleAssistant, Content: question})

	e.Recorder.History("question generation response", "question", question)
	return &QuestionResponse{
		AtomicQuestion: question,
		Messages:       messages,
		Usage:          outcome.Usage,
	}, nil
}
