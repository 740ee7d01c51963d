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

// Package investigation runs the forensic pipeline: normalize, correlate,
// classify, evaluate rules and build the timeline. Analyze is the pure
// core over an already-fetched batch; Run adds ingestion and the output
// sinks around it.
package investigation

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/bcem/forensics/internal/correlate"
	"github.com/bcem/forensics/internal/extract"
	"github.com/bcem/forensics/internal/ingest"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/normalize"
	"github.com/bcem/forensics/internal/provenance"
	"github.com/bcem/forensics/internal/rules"
	"github.com/bcem/forensics/internal/timeline"
)

// Settings is the static configuration of one analysis.
type Settings struct {
	Case           string
	Table          provenance.Table
	Params         rules.Params
	DisabledRules  []string
	MailboxWindows []correlate.Window
}

// Report is the output of one analysis. Encoding the same report twice
// yields identical bytes.
type Report struct {
	Case  string `json:"case"`
	RunID string `json:"run_id,omitempty"`

	Ingest     *ingest.Stats              `json:"ingest,omitempty"`
	Normalize  normalize.Stats            `json:"normalize"`
	Rules      []string                   `json:"rules"`
	Indicators Indicators                 `json:"indicators"`
	Coverage   correlate.Coverage         `json:"coverage"`
	Findings   []models.Finding           `json:"findings"`
	Gaps       []models.ClassificationGap `json:"classification_gaps"`
	Timeline   *timeline.Timeline         `json:"timeline"`

	// SinkErrors lists output sinks that failed after the analysis.
	SinkErrors []string `json:"sink_errors,omitempty"`

	result *correlate.Result
}

// Indicators are the attacker indicators learned from the batch itself.
type Indicators struct {
	IPs     []string `json:"ips"`
	Domains []string `json:"domains"`
}

// Result returns the correlation result the report was built from.
func (r *Report) Result() *correlate.Result { return r.result }

// Summary is shorthand for the timeline summary.
func (r *Report) Summary() *timeline.Summary { return &r.Timeline.Summary }

// Analyze runs the pipeline over a complete batch. Malformed raw records
// never fail it; only invalid settings do.
func Analyze(batch models.Batch, s Settings) (*Report, error) {
	base, err := provenance.New(s.Table)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	engine, err := rules.NewEngine(s.DisabledRules)
	if err != nil {
		return nil, fmt.Errorf("build rule engine: %w", err)
	}

	events, nstats := normalize.Batch(batch)
	res := correlate.Build(events, correlate.Options{MailboxWindows: s.MailboxWindows})

	ind := collectIndicators(res, base)
	classifier := base.WithIndicators(provenance.Indicators{IPs: ind.IPs, Domains: ind.Domains})

	findings := engine.Evaluate(rules.NewContext(res, classifier, s.Params))
	tl := timeline.Build(res, findings, classifier)

	rep := &Report{
		Case:       s.Case,
		Normalize:  nstats,
		Rules:      engine.Rules(),
		Indicators: ind,
		Coverage:   res.Coverage,
		Findings:   findings,
		Gaps:       tl.Summary.Gaps(),
		Timeline:   tl,
		result:     res,
	}
	if rep.Findings == nil {
		rep.Findings = []models.Finding{}
	}

	slog.Info("analysis complete",
		"case", s.Case,
		"events", len(events),
		"messages", len(res.Messages),
		"absent_from_mailbox", tl.Summary.AbsentFromMailbox,
		"findings", len(findings),
		"classification_gaps", len(rep.Gaps),
	)
	return rep, nil
}

// collectIndicators derives run-time attacker indicators: domains similar
// to a legitimate domain, and source IPs of logins the provider flagged as
// suspicious. Addresses the static table already places are left alone.
func collectIndicators(res *correlate.Result, c *provenance.Classifier) Indicators {
	ips := make(map[string]bool)
	domains := make(map[string]bool)

	for _, ev := range res.Events() {
		for _, d := range extract.Of(ev).Domains(ev) {
			if _, ok := c.SimilarLegitimate(d); ok && c.ClassifyDomain(d) == provenance.Unknown {
				domains[d] = true
			}
		}
		if ev.Kind == models.KindLogin && ev.SourceIP != "" &&
			strings.EqualFold(ev.Param("is_suspicious"), "true") &&
			c.ClassifyIP(ev.SourceIP) == provenance.Unknown {
			ips[ev.SourceIP] = true
		}
	}

	ind := Indicators{IPs: sortedKeys(ips), Domains: sortedKeys(domains)}
	if len(ind.IPs)+len(ind.Domains) > 0 {
		slog.Info("attacker indicators learned from batch",
			"ips", strings.Join(ind.IPs, ","),
			"domains", strings.Join(ind.Domains, ","),
		)
	}
	return ind
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
