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

package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/achetronic/cliniq/internal/record"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS case_results (
	id         TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	letter     TEXT NOT NULL,
	correct    BOOLEAN NOT NULL,
	turns      INTEGER NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, run_id)
)`

// PostgresSink mirrors case results into a Postgres table for downstream
// analysis. The JSONL log stays authoritative for resume; this sink only
// receives copies.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink connects to Postgres and ensures the results table exists.
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Append implements Sink.
func (s *PostgresSink) Append(ctx context.Context, result *record.CaseResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for case %s: %w", result.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_results (id, run_id, letter, correct, turns, result)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id, run_id) DO NOTHING`,
		result.ID,
		result.RunID,
		result.InteractiveSystem.LetterChoice,
		result.InteractiveSystem.Correct,
		result.InteractiveSystem.NumQuestions,
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result for case %s: %w", result.ID, err)
	}
	return nil
}

// Close implements Sink.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*PostgresSink)(nil)
