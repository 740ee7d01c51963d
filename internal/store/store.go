// Copyright (c) 2026 John Earle
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

// Package store writes investigation runs and their findings to Postgres
// for the reporting layer. The analysis pipeline never reads from it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/forensics/internal/models"
)

// Run is one persisted investigation run.
type Run struct {
	ID          string
	Case        string
	StartedAt   time.Time
	FinishedAt  time.Time
	Messages    int
	Events      int
	Findings    int
	IngestStats json.RawMessage
	Summary     json.RawMessage
}

// FindingRecord is a finding as stored, keyed by run and position.
type FindingRecord struct {
	RunID    string
	Seq      int
	Finding  models.Finding
	Recorded time.Time
}

// Store persists runs and findings in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given Postgres pool.
// It ensures the tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure findings schema: %w", err)
	}
	slog.Info("findings store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS investigation_runs (
			run_id        TEXT PRIMARY KEY,
			case_name     TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ NOT NULL,
			messages      INTEGER NOT NULL DEFAULT 0,
			events        INTEGER NOT NULL DEFAULT 0,
			findings      INTEGER NOT NULL DEFAULT 0,
			ingest_stats  JSONB,
			summary       JSONB,
			created_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS findings (
			run_id        TEXT NOT NULL REFERENCES investigation_runs(run_id) ON DELETE CASCADE,
			seq           INTEGER NOT NULL,
			rule_id       TEXT NOT NULL,
			severity      TEXT NOT NULL,
			subject       TEXT NOT NULL,
			summary       TEXT DEFAULT '',
			evidence      JSONB,
			occurred_at   TIMESTAMPTZ,
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_runs_case ON investigation_runs(case_name);
		CREATE INDEX IF NOT EXISTS idx_findings_rule ON findings(rule_id);
		CREATE INDEX IF NOT EXISTS idx_findings_subject ON findings(subject);
	`)
	return err
}

// SaveRun writes the run and all of its findings in one transaction.
func (s *Store) SaveRun(ctx context.Context, r Run, findings []models.Finding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO investigation_runs
			(run_id, case_name, started_at, finished_at, messages, events, findings, ingest_stats, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.Case, r.StartedAt, r.FinishedAt, r.Messages, r.Events, len(findings),
		nullJSON(r.IngestStats), nullJSON(r.Summary)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range findings {
		args, err := findingArgs(r.ID, i, &findings[i])
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO findings
				(run_id, seq, rule_id, severity, subject, summary, evidence, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, args...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert findings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.Info("run stored", "run_id", r.ID, "case", r.Case, "findings", len(findings))
	return nil
}

// GetRun retrieves a run by id. It returns nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, case_name, started_at, finished_at, messages, events, findings,
		       COALESCE(ingest_stats, 'null'::jsonb), COALESCE(summary, 'null'::jsonb)
		FROM investigation_runs
		WHERE run_id = $1
	`, runID).Scan(&r.ID, &r.Case, &r.StartedAt, &r.FinishedAt, &r.Messages, &r.Events, &r.Findings,
		&r.IngestStats, &r.Summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListFindings returns the findings of a run in the order they were saved.
func (s *Store) ListFindings(ctx context.Context, runID string) ([]FindingRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, seq, rule_id, severity, subject, summary, evidence, occurred_at, created_at
		FROM findings
		WHERE run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FindingRecord
	for rows.Next() {
		var (
			rec      FindingRecord
			severity string
			evidence []byte
			occurred *time.Time
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Finding.RuleID, &severity, &rec.Finding.Subject,
			&rec.Finding.Summary, &evidence, &occurred, &rec.Recorded); err != nil {
			return nil, err
		}
		if err := rec.Finding.Severity.UnmarshalText([]byte(severity)); err != nil {
			return nil, err
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &rec.Finding.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence: %w", err)
			}
		}
		if occurred != nil {
			rec.Finding.OccurredAt = occurred.UTC()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// findingArgs maps a finding onto the findings row. Undated findings store
// NULL rather than the zero time.
func findingArgs(runID string, seq int, f *models.Finding) ([]any, error) {
	var evidence []byte
	if len(f.Evidence) > 0 {
		b, err := json.Marshal(f.Evidence)
		if err != nil {
			return nil, fmt.Errorf("marshal evidence: %w", err)
		}
		evidence = b
	}
	var occurred *time.Time
	if f.HasTime() {
		t := f.OccurredAt
		occurred = &t
	}
	return []any{runID, seq, f.RuleID, f.Severity.String(), f.Subject, f.Summary, evidence, occurred}, nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
