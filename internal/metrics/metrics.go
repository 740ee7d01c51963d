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

// Package metrics holds the Prometheus metrics of an investigation run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/normalize"
)

const namespace = "bec_forensics"

// Metrics is a set of run metrics registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	RawItemsTotal      *prometheus.CounterVec
	IngestErrorsTotal  *prometheus.CounterVec
	FindingsTotal      *prometheus.CounterVec
	ClassificationGaps *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
}

// New creates the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RawItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "raw_items_total",
			Help:      "Raw items normalized, by source.",
		}, []string{"source"}),
		IngestErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "errors_total",
			Help:      "Events retained with an ingest error, by source.",
		}, []string{"source"}),
		FindingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "findings_total",
			Help:      "Findings emitted, by rule and severity.",
		}, []string{"rule", "severity"}),
		ClassificationGaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provenance",
			Name:      "classification_gaps_total",
			Help:      "Addresses and domains that matched no provenance entry.",
		}, []string{"kind"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Investigation runs by outcome (ok, error).",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of investigation runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveNormalize records one normalization pass.
func (m *Metrics) ObserveNormalize(s normalize.Stats) {
	for src, n := range s.Items {
		m.RawItemsTotal.WithLabelValues(string(src)).Add(float64(n))
	}
	for src, n := range s.IngestErrors {
		m.IngestErrorsTotal.WithLabelValues(string(src)).Add(float64(n))
	}
}

// ObserveFindings records the findings of a run.
func (m *Metrics) ObserveFindings(findings []models.Finding) {
	for i := range findings {
		m.FindingsTotal.WithLabelValues(findings[i].RuleID, findings[i].Severity.String()).Inc()
	}
}

// ObserveGaps records classification gaps.
func (m *Metrics) ObserveGaps(gaps []models.ClassificationGap) {
	for _, g := range gaps {
		m.ClassificationGaps.WithLabelValues(g.Kind).Inc()
	}
}

// ObserveRun records the outcome and duration of a run.
func (m *Metrics) ObserveRun(start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}
