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

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/normalize"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveNormalize(normalize.Stats{
		Items:        map[models.Source]int{models.SourceCSV: 3, models.SourceMailbox: 2},
		IngestErrors: map[models.Source]int{models.SourceCSV: 1},
	})
	m.ObserveFindings([]models.Finding{
		{RuleID: "reply_to_mismatch", Severity: models.SeverityCritical},
		{RuleID: "reply_to_mismatch", Severity: models.SeverityCritical},
		{RuleID: "mailbox_discrepancy", Severity: models.SeverityWarning},
	})
	m.ObserveGaps([]models.ClassificationGap{{Kind: "ip", Value: "1.2.3.4"}})
	m.ObserveRun(time.Now(), errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`bec_forensics_ingest_raw_items_total{source="csv_export"} 3`,
		`bec_forensics_ingest_errors_total{source="csv_export"} 1`,
		`bec_forensics_rules_findings_total{rule="reply_to_mismatch",severity="critical"} 2`,
		`bec_forensics_provenance_classification_gaps_total{kind="ip"} 1`,
		`bec_forensics_runs_total{status="error"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
