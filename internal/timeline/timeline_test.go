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

package timeline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bcem/forensics/internal/correlate"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

var t0 = time.Date(2025, 12, 4, 15, 30, 0, 0, time.UTC)

func testClassifier(t *testing.T) *provenance.Classifier {
	t.Helper()
	c, err := provenance.New(provenance.Table{
		IPs:     []provenance.IPEntry{{Match: "158.51.123.14", Label: provenance.KnownAttacker}},
		Domains: []provenance.DomainEntry{{Domain: "victim.example", Label: provenance.Internal}},
	})
	if err != nil {
		t.Fatalf("provenance.New: %v", err)
	}
	return c
}

func TestBuild_Ordering(t *testing.T) {
	res := correlate.Build([]models.MailEvent{
		{Source: models.SourceMailbox, Kind: models.KindReceive, OccurredAt: t0, MessageID: "<b@x>", NativeID: "1", Actor: "a@victim.example"},
		{Source: models.SourceMailbox, Kind: models.KindReceive, OccurredAt: t0, MessageID: "<a@x>", NativeID: "2", Actor: "a@victim.example"},
		{Source: models.SourceCSV, Kind: models.KindSend, MessageID: "<undated@x>", NativeID: "f:2", IngestError: "bad date"},
		{Source: models.SourceMailbox, Kind: models.KindReceive, OccurredAt: t0.Add(-time.Hour), MessageID: "<early@x>", NativeID: "3"},
	}, correlate.Options{})

	findings := []models.Finding{
		{RuleID: "reply_to_mismatch", Subject: "<a@x>", OccurredAt: t0, Severity: models.SeverityCritical},
		{RuleID: "dkim_domain_mismatch", Subject: "<a@x>", OccurredAt: t0, Severity: models.SeverityWarning},
		{RuleID: "mailbox_discrepancy", Subject: "<undated@x>", Summary: "rule skipped: insufficient data"},
	}

	tl := Build(res, findings, testClassifier(t))

	type row struct {
		Kind EntryKind
		Key  string
		Rule string
	}
	var got []row
	for _, e := range tl.Entries {
		r := row{Kind: e.Kind, Key: e.Key}
		if e.Finding != nil {
			r.Rule = e.Finding.RuleID
		}
		got = append(got, r)
	}
	want := []row{
		{EntryMessage, "<early@x>", ""},
		{EntryMessage, "<a@x>", ""},
		{EntryFinding, "<a@x>", "dkim_domain_mismatch"},
		{EntryFinding, "<a@x>", "reply_to_mismatch"},
		{EntryMessage, "<b@x>", ""},
		{EntryMessage, "<undated@x>", ""},
		{EntryFinding, "<undated@x>", "mailbox_discrepancy"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("timeline order mismatch (-want +got):\n%s", diff)
	}

	if len(tl.Dated()) != 5 || len(tl.Undated()) != 2 {
		t.Errorf("dated/undated = %d/%d, want 5/2", len(tl.Dated()), len(tl.Undated()))
	}
	for _, e := range tl.Undated() {
		if !e.Undated {
			t.Errorf("entry %s not marked undated", e.Key)
		}
	}
}

func TestSummary(t *testing.T) {
	res := correlate.Build([]models.MailEvent{
		{Source: models.SourceMailbox, Kind: models.KindReceive, OccurredAt: t0, MessageID: "<a@x>", NativeID: "1", Actor: "a@victim.example", Counterpart: "jhw@ssdhvca.com"},
		{Source: models.SourceAuditLog, Kind: models.KindLogin, OccurredAt: t0, NativeID: "l#0", Actor: "a@victim.example", SourceIP: "158.51.123.14"},
		{Source: models.SourceAuditLog, Kind: models.KindLogin, OccurredAt: t0.Add(24 * time.Hour), NativeID: "l#1", Actor: "a@victim.example", SourceIP: "203.0.113.9"},
		{Source: models.SourceCSV, Kind: models.KindOther, NativeID: "f:9", IngestError: "malformed row"},
	}, correlate.Options{})
	findings := []models.Finding{
		{RuleID: "attacker_ip_activity", Severity: models.SeverityCritical, OccurredAt: t0},
		{RuleID: "mailbox_discrepancy", Severity: models.SeverityInfo},
	}

	s := Build(res, findings, testClassifier(t)).Summary

	if s.Messages != 1 || s.Events != 4 || s.IngestErrors != 1 {
		t.Errorf("counts = %d messages, %d events, %d ingest errors", s.Messages, s.Events, s.IngestErrors)
	}
	if s.BySource[models.SourceAuditLog] != 2 {
		t.Errorf("audit events = %d", s.BySource[models.SourceAuditLog])
	}
	if diff := cmp.Diff([]string{"158.51.123.14"}, s.IPs[provenance.KnownAttacker]); diff != "" {
		t.Errorf("attacker IPs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"203.0.113.9"}, s.IPs[provenance.Unknown]); diff != "" {
		t.Errorf("unknown IPs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ssdhvca.com"}, s.Domains[provenance.Unknown]); diff != "" {
		t.Errorf("unknown domains (-want +got):\n%s", diff)
	}
	if s.BySeverity["critical"] != 1 || s.ByRule["mailbox_discrepancy"] != 1 {
		t.Errorf("by severity %v, by rule %v", s.BySeverity, s.ByRule)
	}

	wantDays := []DayCount{{Day: "2025-12-04", Messages: 1, Findings: 1}}
	if diff := cmp.Diff(wantDays, s.ByDay); diff != "" {
		t.Errorf("by day (-want +got):\n%s", diff)
	}
	if s.Undated.Findings != 1 {
		t.Errorf("undated findings = %d", s.Undated.Findings)
	}
	if gaps := s.Gaps(); len(gaps) != 2 {
		t.Errorf("expected 2 classification gaps, got %v", gaps)
	}
}
