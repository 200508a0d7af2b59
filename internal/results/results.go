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

// Package results persists case results. The primary sink is the append-only
// JSONL log that also drives resume; an optional Postgres sink mirrors it for
// downstream analysis.
package results

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/achetronic/cliniq/internal/record"
)

// Sink receives one CaseResult per finished case.
type Sink interface {
	Append(ctx context.Context, result *record.CaseResult) error
	Close() error
}

// JSONLSink appends one JSON object per line to the output log. A mutex
// serializes appends so each line is written atomically even when cases run
// in parallel.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewJSONLSink opens (or creates) the output log in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output log %s: %w", path, err)
	}
	return &JSONLSink{file: file, path: path}, nil
}

// Append implements Sink.
func (s *JSONLSink) Append(_ context.Context, result *record.CaseResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for case %s: %w", result.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append result for case %s: %w", result.ID, err)
	}
	return nil
}

// Close implements Sink.
func (s *JSONLSink) Close() error {
	return s.file.Close()
}

// LoadProcessed parses an existing output log into the set of already
// finished cases keyed by id. A missing file means a fresh run; malformed
// lines are skipped so a truncated tail cannot block resume.
func LoadProcessed(path string) (map[string]record.CaseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]record.CaseResult{}, nil
		}
		return nil, fmt.Errorf("failed to open output log %s: %w", path, err)
	}
	defer file.Close()

	processed := make(map[string]record.CaseResult)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var result record.CaseResult
		if err := json.Unmarshal(line, &result); err != nil || result.ID == "" {
			continue
		}
		processed[result.ID] = result
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read output log %s: %w", path, err)
	}
	return processed, nil
}

var _ Sink = (*JSONLSink)(nil)
