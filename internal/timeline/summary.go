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
	"sort"
	"time"

	"github.com/bcem/forensics/internal/correlate"
	"github.com/bcem/forensics/internal/extract"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

// Summary aggregates a run. Map keys marshal in sorted order, so the
// summary is as deterministic as the timeline.
type Summary struct {
	Messages          int `json:"messages"`
	Events            int `json:"events"`
	AbsentFromMailbox int `json:"absent_from_mailbox"`
	IngestErrors      int `json:"ingest_errors"`

	BySource   map[models.Source]int `json:"events_by_source"`
	ByRule     map[string]int        `json:"findings_by_rule"`
	BySeverity map[string]int        `json:"findings_by_severity"`

	// IPs and Domains bucket every observed value by provenance label.
	// The unknown bucket is always present.
	IPs     map[provenance.Label][]string `json:"ips_by_label"`
	Domains map[provenance.Label][]string `json:"domains_by_label"`

	ByDay   []DayCount `json:"by_day"`
	Undated DayCount   `json:"undated"`
}

// DayCount is the activity of one UTC day.
type DayCount struct {
	Day      string `json:"day,omitempty"`
	Messages int    `json:"messages"`
	Findings int    `json:"findings"`
}

func summarize(res *correlate.Result, findings []models.Finding, c *provenance.Classifier) Summary {
	s := Summary{
		Messages:          len(res.Messages),
		AbsentFromMailbox: len(res.AbsentFromMailbox()),
		BySource:          make(map[models.Source]int),
		ByRule:            make(map[string]int),
		BySeverity:        make(map[string]int),
		IPs:               make(map[provenance.Label][]string),
		Domains:           make(map[provenance.Label][]string),
	}

	ips := make(map[string]bool)
	domains := make(map[string]bool)
	for _, ev := range res.Events() {
		s.Events++
		s.BySource[ev.Source]++
		if ev.IngestError != "" {
			s.IngestErrors++
		}
		if ev.SourceIP != "" {
			ips[ev.SourceIP] = true
		}
		for _, d := range extract.Of(ev).Domains(ev) {
			domains[d] = true
		}
	}

	s.IPs[provenance.Unknown] = []string{}
	s.Domains[provenance.Unknown] = []string{}
	for ip := range ips {
		l := c.ClassifyIP(ip)
		s.IPs[l] = append(s.IPs[l], ip)
	}
	for d := range domains {
		l := c.ClassifyDomain(d)
		s.Domains[l] = append(s.Domains[l], d)
	}
	for _, bucket := range []map[provenance.Label][]string{s.IPs, s.Domains} {
		for _, list := range bucket {
			sort.Strings(list)
		}
	}

	days := make(map[string]*DayCount)
	day := func(t time.Time) *DayCount {
		if t.IsZero() {
			return &s.Undated
		}
		k := t.UTC().Format(time.DateOnly)
		if days[k] == nil {
			days[k] = &DayCount{Day: k}
		}
		return days[k]
	}
	for i := range res.Messages {
		day(res.Messages[i].OccurredAt).Messages++
	}
	for i := range findings {
		f := &findings[i]
		s.ByRule[f.RuleID]++
		s.BySeverity[f.Severity.String()]++
		day(f.OccurredAt).Findings++
	}

	s.ByDay = make([]DayCount, 0, len(days))
	for _, d := range days {
		s.ByDay = append(s.ByDay, *d)
	}
	sort.Slice(s.ByDay, func(i, j int) bool { return s.ByDay[i].Day < s.ByDay[j].Day })

	return s
}

// Gaps returns every IP and domain the classifier could not place.
func (s *Summary) Gaps() []models.ClassificationGap {
	var out []models.ClassificationGap
	for _, ip := range s.IPs[provenance.Unknown] {
		out = append(out, models.ClassificationGap{Kind: "ip", Value: ip})
	}
	for _, d := range s.Domains[provenance.Unknown] {
		out = append(out, models.ClassificationGap{Kind: "domain", Value: d})
	}
	return out
}
