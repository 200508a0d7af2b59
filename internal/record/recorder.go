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

package record

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Recorder carries the three optional structured log sinks. Each sink is
// activated by configuring its filename; an absent filename disables the
// corresponding log. The controller owns one Recorder per run and passes it
// by reference, so components never reach for process-global loggers.
//
// slog handlers serialize their own writes, so a Recorder is safe to share
// across concurrently running cases.
type Recorder struct {
	RunID string

	history *slog.Logger
	detail  *slog.Logger
	message *slog.Logger

	closers []io.Closer
}

// RecorderConfig holds the sink filenames. Empty filenames disable sinks.
type RecorderConfig struct {
	// HistoryFilename receives full message lists at each prompting stage.
	HistoryFilename string
	// DetailFilename receives parser decisions and per-sample outcomes.
	DetailFilename string
	// MessageFilename receives raw backend input/output.
	MessageFilename string
}

// NewRecorder opens the configured sink files in append mode and stamps the
// recorder with a fresh run ID.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	r := &Recorder{RunID: uuid.NewString()}

	open := func(name string) (*slog.Logger, error) {
		if name == "" {
			return nil, nil
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log sink %s: %w", name, err)
		}
		r.closers = append(r.closers, f)
		return slog.New(slog.NewTextHandler(f, nil)).With("run_id", r.RunID), nil
	}

	var err error
	if r.history, err = open(cfg.HistoryFilename); err != nil {
		return nil, err
	}
	if r.detail, err = open(cfg.DetailFilename); err != nil {
		r.Close()
		return nil, err
	}
	if r.message, err = open(cfg.MessageFilename); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// History logs to the history sink, if configured.
func (r *Recorder) History(msg string, args ...any) {
	if r == nil || r.history == nil {
		return
	}
	r.history.Info(msg, args...)
}

// Detail logs to the detail sink, if configured.
func (r *Recorder) Detail(msg string, args ...any) {
	if r == nil || r.detail == nil {
		return
	}
	r.detail.Info(msg, args...)
}

// Message logs raw backend I/O to the message sink, if configured.
func (r *Recorder) Message(msg string, args ...any) {
	if r == nil || r.message == nil {
		return
	}
	r.message.Info(msg, args...)
}

// Close releases the sink files. The Recorder must not be used afterwards.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}
