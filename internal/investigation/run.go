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

package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/forensics/internal/ingest"
	"github.com/bcem/forensics/internal/metrics"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/store"
)

// FindingPublisher hands findings to the reporting layer.
type FindingPublisher interface {
	PublishFindings(ctx context.Context, runID, caseName string, findings []models.Finding) (int, error)
}

// RunStore persists a finished run.
type RunStore interface {
	SaveRun(ctx context.Context, r store.Run, findings []models.Finding) error
}

// Runner wires ingestion, analysis and the output sinks. Publisher, Store
// and Metrics are optional.
type Runner struct {
	Settings  Settings
	Plan      ingest.Plan
	Options   ingest.Options
	Publisher FindingPublisher
	Store     RunStore
	Metrics   *metrics.Metrics

	// SaveBatch, when set, receives the raw batch before analysis.
	SaveBatch func(models.Batch) error
}

// Run fetches from every configured source, appends the flat-file rows and
// analyzes the result. Cancellation during ingestion returns the context
// error and no report. Sink failures are recorded on the report.
func (r *Runner) Run(ctx context.Context, csvRows []models.RawCSVRow) (rep *Report, err error) {
	start := time.Now()
	runID := uuid.New().String()
	if r.Metrics != nil {
		defer func() { r.Metrics.ObserveRun(start, err) }()
	}

	slog.Info("investigation started", "run_id", runID, "case", r.Settings.Case, "tenants", len(r.Plan.Tenants))

	batch, istats, err := ingest.Run(ctx, r.Plan, r.Options)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	batch.CSVRows = csvRows

	if r.SaveBatch != nil {
		if err := r.SaveBatch(batch); err != nil {
			return nil, fmt.Errorf("save raw batch: %w", err)
		}
	}

	rep, err = Analyze(batch, r.Settings)
	if err != nil {
		return nil, err
	}
	rep.RunID = runID
	rep.Ingest = &istats

	if r.Metrics != nil {
		r.Metrics.ObserveNormalize(rep.Normalize)
		r.Metrics.ObserveFindings(rep.Findings)
		r.Metrics.ObserveGaps(rep.Gaps)
	}

	if r.Publisher != nil {
		if n, err := r.Publisher.PublishFindings(ctx, runID, r.Settings.Case, rep.Findings); err != nil {
			slog.Error("failed to publish findings", "run_id", runID, "published", n, "error", err)
			rep.SinkErrors = append(rep.SinkErrors, fmt.Sprintf("publish findings: %v", err))
		}
	}

	if r.Store != nil {
		if err := r.Store.SaveRun(ctx, r.storeRun(rep, start), rep.Findings); err != nil {
			slog.Error("failed to store run", "run_id", runID, "error", err)
			rep.SinkErrors = append(rep.SinkErrors, fmt.Sprintf("store run: %v", err))
		}
	}

	slog.Info("investigation finished",
		"run_id", runID,
		"findings", len(rep.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}

func (r *Runner) storeRun(rep *Report, start time.Time) store.Run {
	run := store.Run{
		ID:         rep.RunID,
		Case:       rep.Case,
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
		Messages:   rep.Summary().Messages,
		Events:     rep.Summary().Events,
		Findings:   len(rep.Findings),
	}
	// Both values are plain structs; marshalling cannot fail.
	run.IngestStats, _ = json.Marshal(rep.Ingest)
	run.Summary, _ = json.Marshal(rep.Summary())
	return run
}
