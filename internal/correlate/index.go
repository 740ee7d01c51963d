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

// Package correlate merges events that describe the same message across the
// mailbox API, the activity log and the flat-file export.
//
// The only merge key is the Message-ID, compared exactly after trimming
// whitespace. Events without one are never merged by heuristics: each
// becomes its own message, and a flat-file row that only the server log
// knows about is reported as such rather than guessed into a match.
package correlate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bcem/forensics/internal/extract"
	"github.com/bcem/forensics/internal/models"
)

// Result is the output of one correlation pass. It is read-only.
type Result struct {
	// Messages holds every correlated message sorted by canonical id.
	Messages []models.CorrelatedMessage
	// Unlinked holds account-level events that carry no message reference
	// (logins, token grants, settings changes), sorted canonically.
	Unlinked []models.MailEvent
	// Coverage describes where the mailbox was actually searched.
	Coverage Coverage
}

// Options tunes a correlation pass.
type Options struct {
	// MailboxWindows are the time ranges the mailbox queries covered.
	MailboxWindows []Window
}

// Build correlates a full batch of normalized events. It must be called
// once, after every source has been ingested.
func Build(events []models.MailEvent, opts Options) *Result {
	groups := make(map[string][]models.MailEvent)
	synthesized := make(map[string]bool)
	var unlinked []models.MailEvent

	for _, ev := range events {
		key := strings.TrimSpace(ev.MessageID)
		if key == "" {
			if !messageKind(ev.Kind) {
				unlinked = append(unlinked, ev)
				continue
			}
			key = syntheticKey(ev)
			synthesized[key] = true
		}
		groups[key] = append(groups[key], ev)
	}

	res := &Result{
		Messages: make([]models.CorrelatedMessage, 0, len(groups)),
		Unlinked: unlinked,
	}

	for key, members := range groups {
		members = collapseCSV(members)
		sort.Slice(members, func(i, j int) bool { return models.EventLess(&members[i], &members[j]) })
		res.Messages = append(res.Messages, newMessage(key, synthesized[key], members))
	}

	sort.Slice(res.Messages, func(i, j int) bool {
		return res.Messages[i].CanonicalID < res.Messages[j].CanonicalID
	})
	sort.Slice(res.Unlinked, func(i, j int) bool {
		return models.EventLess(&res.Unlinked[i], &res.Unlinked[j])
	})

	res.Coverage = newCoverage(events, opts.MailboxWindows)
	return res
}

// AbsentFromMailbox returns the messages present in the server log or
// flat-file export but never seen by the mailbox API, in canonical order.
func (r *Result) AbsentFromMailbox() []*models.CorrelatedMessage {
	var out []*models.CorrelatedMessage
	for i := range r.Messages {
		if r.Messages[i].AbsentFromMailbox() {
			out = append(out, &r.Messages[i])
		}
	}
	return out
}

// Events returns every event of the pass: message members followed by
// unlinked events, in a stable order.
func (r *Result) Events() []*models.MailEvent {
	var out []*models.MailEvent
	for i := range r.Messages {
		for j := range r.Messages[i].Members {
			out = append(out, &r.Messages[i].Members[j])
		}
	}
	for i := range r.Unlinked {
		out = append(out, &r.Unlinked[i])
	}
	return out
}

// Lookup returns the message with the given canonical id.
func (r *Result) Lookup(id string) (*models.CorrelatedMessage, bool) {
	i := sort.Search(len(r.Messages), func(i int) bool { return r.Messages[i].CanonicalID >= id })
	if i < len(r.Messages) && r.Messages[i].CanonicalID == id {
		return &r.Messages[i], true
	}
	return nil, false
}

// messageKind reports whether an event of this kind is about a message
// even when the source did not name one.
func messageKind(k models.EventKind) bool {
	switch k {
	case models.KindSend, models.KindReceive, models.KindView, models.KindDelete, models.KindDraft, models.KindForward:
		return true
	}
	return false
}

func syntheticKey(ev models.MailEvent) string {
	return fmt.Sprintf("synthetic:%s:%s", ev.Source, ev.NativeID)
}

// collapseCSV folds flat-file rows for one message into one event per
// distinct (event kind, source IP), keeping the union of recipients.
// Multi-recipient sends appear in the export as one row per recipient.
func collapseCSV(members []models.MailEvent) []models.MailEvent {
	type fanKey struct {
		kind models.EventKind
		ip   string
	}

	out := make([]models.MailEvent, 0, len(members))
	index := make(map[fanKey]int)
	recipients := make(map[fanKey]map[string]bool)

	for _, ev := range members {
		if ev.Source != models.SourceCSV {
			out = append(out, ev)
			continue
		}
		k := fanKey{ev.Kind, ev.SourceIP}
		if i, ok := index[k]; ok {
			// Keep the earliest dated row as the representative.
			if models.EventLess(&ev, &out[i]) {
				ev.Recipients = out[i].Recipients
				out[i] = ev
			}
		} else {
			index[k] = len(out)
			recipients[k] = make(map[string]bool)
			out = append(out, ev)
		}
		for _, r := range ev.Recipients {
			recipients[k][r] = true
		}
	}

	for k, i := range index {
		set := recipients[k]
		list := make([]string, 0, len(set))
		for r := range set {
			list = append(list, r)
		}
		sort.Strings(list)
		if len(list) == 0 {
			list = nil
		}
		ev := out[i]
		ev.Recipients = list
		out[i] = ev
	}
	return out
}

func newMessage(key string, synthesized bool, members []models.MailEvent) models.CorrelatedMessage {
	msg := models.CorrelatedMessage{
		CanonicalID: key,
		Synthesized: synthesized,
		Members:     members,
		Auth: models.AuthResults{
			SPF: models.VerdictUnknown, DKIM: models.VerdictUnknown, DMARC: models.VerdictUnknown,
		},
	}

	for i := range members {
		ev := &members[i]
		msg.Sources = msg.Sources.With(ev.Source)
		if ev.HasTime() && (msg.OccurredAt.IsZero() || ev.OccurredAt.Before(msg.OccurredAt)) {
			msg.OccurredAt = ev.OccurredAt
		}
		if msg.Subject == "" {
			msg.Subject = ev.Subject
		}
	}

	// Header-derived fields prefer the mailbox copy, which carries the
	// full header block; the other sources fill in what it lacks.
	ordered := make([]*models.MailEvent, 0, len(members))
	for i := range members {
		if members[i].Source == models.SourceMailbox {
			ordered = append(ordered, &members[i])
		}
	}
	for i := range members {
		if members[i].Source != models.SourceMailbox {
			ordered = append(ordered, &members[i])
		}
	}

	for _, ev := range ordered {
		id := extract.Of(ev)
		msg.FromDomain = firstNonEmpty(msg.FromDomain, id.FromDomain)
		msg.ReplyToDomain = firstNonEmpty(msg.ReplyToDomain, id.ReplyToDomain)
		msg.DKIMDomain = firstNonEmpty(msg.DKIMDomain, id.DKIMDomain)
		msg.ReturnPathDomain = firstNonEmpty(msg.ReturnPathDomain, id.ReturnPathDomain)
		msg.Auth.SPF = firstKnown(msg.Auth.SPF, id.Auth.SPF)
		msg.Auth.DKIM = firstKnown(msg.Auth.DKIM, id.Auth.DKIM)
		msg.Auth.DMARC = firstKnown(msg.Auth.DMARC, id.Auth.DMARC)
	}

	return msg
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstKnown(a, b models.Verdict) models.Verdict {
	if a != models.VerdictUnknown {
		return a
	}
	return b
}

// Window is a closed time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
