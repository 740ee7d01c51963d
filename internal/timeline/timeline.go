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

// Package timeline orders correlated messages and findings into a single
// chronological view and computes the report summary.
package timeline

import (
	"sort"
	"time"

	"github.com/bcem/forensics/internal/correlate"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

// EntryKind distinguishes timeline rows.
type EntryKind string

const (
	EntryMessage EntryKind = "message"
	EntryFinding EntryKind = "finding"
)

// Entry is one timeline row. Exactly one of Message and Finding is set.
type Entry struct {
	Kind       EntryKind `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	// Undated marks entries whose time could not be established. They sort
	// after every dated entry.
	Undated bool                      `json:"undated,omitempty"`
	Key     string                    `json:"key"`
	Message *models.CorrelatedMessage `json:"message,omitempty"`
	Finding *models.Finding           `json:"finding,omitempty"`
}

// Timeline is the ordered report body plus its summary.
type Timeline struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Build orders every message and finding. Ties in time break by key
// (canonical message id, or the finding's subject), then messages before
// findings, then rule id.
func Build(res *correlate.Result, findings []models.Finding, c *provenance.Classifier) *Timeline {
	entries := make([]Entry, 0, len(res.Messages)+len(findings))
	for i := range res.Messages {
		m := &res.Messages[i]
		entries = append(entries, Entry{
			Kind:       EntryMessage,
			OccurredAt: m.OccurredAt,
			Undated:    !m.HasTime(),
			Key:        m.CanonicalID,
			Message:    m,
		})
	}
	for i := range findings {
		f := &findings[i]
		entries = append(entries, Entry{
			Kind:       EntryFinding,
			OccurredAt: f.OccurredAt,
			Undated:    !f.HasTime(),
			Key:        f.Subject,
			Finding:    f,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entryLess(&entries[i], &entries[j]) })

	return &Timeline{
		Entries: entries,
		Summary: summarize(res, findings, c),
	}
}

func entryLess(a, b *Entry) bool {
	if a.Undated != b.Undated {
		return !a.Undated
	}
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	if a.Kind != b.Kind {
		return a.Kind == EntryMessage
	}
	if a.Finding != nil && b.Finding != nil {
		if a.Finding.RuleID != b.Finding.RuleID {
			return a.Finding.RuleID < b.Finding.RuleID
		}
		if a.Finding.Severity != b.Finding.Severity {
			return a.Finding.Severity > b.Finding.Severity
		}
		return a.Finding.Summary < b.Finding.Summary
	}
	return false
}

// Dated returns the entries with an established time.
func (t *Timeline) Dated() []Entry {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Undated })
	return t.Entries[:i]
}

// Undated returns the entries whose time is unknown.
func (t *Timeline) Undated() []Entry {
	return t.Entries[len(t.Dated()):]
}
