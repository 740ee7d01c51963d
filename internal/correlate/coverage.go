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

package correlate

import (
	"sort"
	"time"

	"github.com/bcem/forensics/internal/models"
)

// Coverage records the time ranges in which the mailbox was searched.
// "Absent from mailbox" only means something inside these ranges.
type Coverage struct {
	// Windows are explicit query windows from configuration.
	Windows []Window `json:"windows,omitempty"`
	// Days are UTC calendar days with at least one mailbox sighting,
	// formatted 2006-01-02 and sorted.
	Days []string `json:"days,omitempty"`

	days map[string]bool
}

func newCoverage(events []models.MailEvent, windows []Window) Coverage {
	c := Coverage{days: make(map[string]bool)}
	for _, w := range windows {
		if w.End.Before(w.Start) {
			w.Start, w.End = w.End, w.Start
		}
		c.Windows = append(c.Windows, Window{Start: w.Start.UTC(), End: w.End.UTC()})
	}
	for i := range events {
		ev := &events[i]
		if ev.Source != models.SourceMailbox || !ev.HasTime() {
			continue
		}
		c.days[ev.OccurredAt.Format(time.DateOnly)] = true
	}
	for d := range c.days {
		c.Days = append(c.Days, d)
	}
	sort.Strings(c.Days)
	sort.Slice(c.Windows, func(i, j int) bool { return c.Windows[i].Start.Before(c.Windows[j].Start) })
	return c
}

// Empty reports whether the mailbox was not covered at all.
func (c Coverage) Empty() bool {
	return len(c.Windows) == 0 && len(c.Days) == 0
}

// Covers reports whether t falls inside a searched range. A zero time is
// never covered.
func (c Coverage) Covers(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	for _, w := range c.Windows {
		if w.Contains(t) {
			return true
		}
	}
	if c.days != nil {
		return c.days[t.UTC().Format(time.DateOnly)]
	}
	day := t.UTC().Format(time.DateOnly)
	i := sort.SearchStrings(c.Days, day)
	return i < len(c.Days) && c.Days[i] == day
}
