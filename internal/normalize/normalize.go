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

// Package normalize converts raw items from the three systems of record
// (mailbox API messages, account activity log items and flat-file export
// rows) into canonical MailEvents.
//
// Normalization never fails a batch. A malformed item still produces an
// event; its timestamp is left zero and IngestError says what went wrong.
package normalize

import (
	"fmt"
	"log/slog"
	"net/textproto"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bcem/forensics/internal/extract"
	"github.com/bcem/forensics/internal/models"
)

// Stats counts what one normalization pass saw.
type Stats struct {
	Items        map[models.Source]int `json:"items"`
	Events       map[models.Source]int `json:"events"`
	IngestErrors map[models.Source]int `json:"ingest_errors"`
}

func newStats() Stats {
	return Stats{
		Items:        make(map[models.Source]int),
		Events:       make(map[models.Source]int),
		IngestErrors: make(map[models.Source]int),
	}
}

func (s *Stats) record(src models.Source, events []models.MailEvent) {
	s.Items[src]++
	s.Events[src] += len(events)
	for i := range events {
		if events[i].IngestError != "" {
			s.IngestErrors[src]++
		}
	}
}

// Batch normalizes every raw item of a batch.
func Batch(b models.Batch) ([]models.MailEvent, Stats) {
	stats := newStats()
	var events []models.MailEvent

	for i := range b.Messages {
		evs := Message(&b.Messages[i])
		stats.record(models.SourceMailbox, evs)
		events = append(events, evs...)
	}
	for i := range b.AuditItems {
		evs := AuditItem(&b.AuditItems[i])
		stats.record(models.SourceAuditLog, evs)
		events = append(events, evs...)
	}
	for i := range b.CSVRows {
		evs := CSVRow(&b.CSVRows[i])
		stats.record(models.SourceCSV, evs)
		events = append(events, evs...)
	}

	return events, stats
}

// Message normalizes one fetched mailbox message into a single event.
func Message(m *models.RawMessage) []models.MailEvent {
	ev := models.MailEvent{
		Source:   models.SourceMailbox,
		Kind:     mailboxKind(m),
		Actor:    strings.ToLower(strings.TrimSpace(m.Mailbox)),
		NativeID: fmt.Sprintf("%s/%s/%s", m.Provider, m.Mailbox, m.NativeID),
	}

	if m.Query != "" {
		ev.Params = map[string]string{"query": m.Query}
	}

	if m.FetchError != "" {
		return []models.MailEvent{withError(ev, "fetch failed", fmt.Errorf("%s", m.FetchError))}
	}

	ev.Headers = make(textproto.MIMEHeader, len(m.Headers))
	for _, h := range m.Headers {
		if strings.TrimSpace(h.Name) == "" {
			continue
		}
		ev.Headers.Add(h.Name, h.Value)
	}

	ev.MessageID = strings.TrimSpace(ev.Header("Message-ID"))
	ev.Subject = ev.Header("Subject")
	ev.SourceIP = originatingIP(ev.Headers)

	var recipients []string
	for _, field := range []string{"To", "Cc", "Bcc"} {
		for _, v := range ev.HeaderValues(field) {
			recipients = append(recipients, extract.Addresses(v)...)
		}
	}
	ev.Recipients = sortedSet(recipients)

	if ev.Kind == models.KindSend || ev.Kind == models.KindDraft {
		if len(ev.Recipients) > 0 {
			ev.Counterpart = ev.Recipients[0]
		}
	} else {
		ev.Counterpart = extract.Address(ev.Header("From"))
	}

	ts, err := ParseTime(m.Received)
	if err != nil {
		ts, err = ParseTime(ev.Header("Date"))
	}
	if err != nil {
		return []models.MailEvent{withError(ev, "unparseable timestamp", err)}
	}
	ev.OccurredAt = ts

	return []models.MailEvent{ev}
}

func mailboxKind(m *models.RawMessage) models.EventKind {
	for _, l := range m.Labels {
		switch strings.ToUpper(l) {
		case "SENT":
			return models.KindSend
		case "DRAFT":
			return models.KindDraft
		}
	}
	switch strings.ToLower(m.Folder) {
	case "sentitems", "sent items", "sent":
		return models.KindSend
	case "drafts":
		return models.KindDraft
	}
	return models.KindReceive
}

var clientIPPattern = regexp.MustCompile(`(?i)client-ip=([0-9a-f:.]+)`)

// originatingIP picks the submitting client address from the headers
// providers stamp on a message, or "" if none is present.
func originatingIP(h textproto.MIMEHeader) string {
	for _, name := range []string{"X-Originating-IP", "X-Sender-IP", "X-MS-Exchange-Organization-OriginalClientIPAddress"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if ip := extract.ParseIP(v); ip.IsValid() {
				return ip.String()
			}
		}
	}
	for _, v := range h.Values("Received-SPF") {
		if m := clientIPPattern.FindStringSubmatch(v); m != nil {
			if ip := extract.ParseIP(m[1]); ip.IsValid() {
				return ip.String()
			}
		}
	}
	return ""
}

// AuditItem normalizes one activity log item. Each named sub-event becomes
// its own event sharing the item's timestamp and IP.
func AuditItem(item *models.RawAuditItem) []models.MailEvent {
	base := models.MailEvent{
		Source:   models.SourceAuditLog,
		Actor:    strings.ToLower(strings.TrimSpace(item.Actor)),
		SourceIP: normalizeIP(item.IPAddress),
		NativeID: item.ID,
	}

	if item.FetchError != "" {
		base.Kind = models.KindOther
		return []models.MailEvent{withError(base, "fetch failed", fmt.Errorf("%s", item.FetchError))}
	}

	if len(item.Events) == 0 {
		slog.Debug("audit item has no events", "item_id", item.ID, "application", item.Application)
		return nil
	}

	ts, tsErr := ParseTime(item.Time)

	events := make([]models.MailEvent, 0, len(item.Events))
	for i, sub := range item.Events {
		ev := base
		ev.NativeID = fmt.Sprintf("%s#%d", item.ID, i)
		ev.Kind = auditKind(sub.Name)
		ev.Params = map[string]string{
			"application": item.Application,
			"event_name":  sub.Name,
		}
		if sub.Type != "" {
			ev.Params["event_type"] = sub.Type
		}
		for _, p := range sub.Params {
			v := p.Value
			if len(p.Values) > 0 {
				v = strings.Join(p.Values, " ")
			}
			if p.Name != "" && v != "" {
				ev.Params[p.Name] = v
			}
		}

		ev.MessageID = strings.TrimSpace(firstParam(ev.Params, "rfc2822_message_id", "message_id", "InternetMessageId"))
		ev.Subject = firstParam(ev.Params, "subject", "Subject")
		ev.Counterpart = extract.Address(firstParam(ev.Params, "destination", "recipient", "recipient_address", "SenderAddress", "sender"))

		if tsErr != nil {
			events = append(events, withError(ev, "unparseable timestamp", tsErr))
			continue
		}
		ev.OccurredAt = ts
		events = append(events, ev)
	}

	return events
}

// CSVRow normalizes one flat-file export row.
func CSVRow(row *models.RawCSVRow) []models.MailEvent {
	ev := models.MailEvent{
		Source:   models.SourceCSV,
		Kind:     csvKind(row.Get(models.ColEvent)),
		NativeID: fmt.Sprintf("%s:%d", row.File, row.Line),
	}

	if row.ParseError != "" {
		ev.Kind = models.KindOther
		return []models.MailEvent{withError(ev, "malformed row", fmt.Errorf("%s", row.ParseError))}
	}

	ev.MessageID = strings.TrimSpace(row.Get(models.ColMessageID))
	ev.Subject = row.Get(models.ColSubject)
	ev.SourceIP = normalizeIP(row.Get(models.ColIP))
	ev.Recipients = sortedSet(extract.Addresses(row.Get(models.ColEnvelopeTo)))

	envelopeFrom := extract.Address(row.Get(models.ColEnvelopeFrom))
	firstTo := ""
	if len(ev.Recipients) > 0 {
		firstTo = ev.Recipients[0]
	}

	ev.Actor = extract.Address(row.Get(models.ColOwner))
	switch ev.Kind {
	case models.KindSend, models.KindForward, models.KindDraft:
		if ev.Actor == "" {
			ev.Actor = envelopeFrom
		}
		ev.Counterpart = firstTo
	default:
		if ev.Actor == "" {
			ev.Actor = firstTo
		}
		ev.Counterpart = envelopeFrom
	}

	ev.Params = make(map[string]string)
	for col, v := range row.Values {
		switch col {
		case models.ColMessageID, models.ColDate, models.ColIP, models.ColSubject:
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			ev.Params[string(col)] = v
		}
	}

	var problems []string
	if ev.MessageID == "" {
		problems = append(problems, "missing message id")
	}
	ts, err := ParseTime(row.Get(models.ColDate))
	if err != nil {
		problems = append(problems, "unparseable timestamp")
	} else {
		ev.OccurredAt = ts
	}

	// A row without a Message-ID is still usable evidence; only the
	// timestamp failure makes it an ingest error.
	if err != nil {
		return []models.MailEvent{withError(ev, strings.Join(problems, ", "), err)}
	}
	return []models.MailEvent{ev}
}

func withError(ev models.MailEvent, reason string, err error) models.MailEvent {
	ierr := &models.IngestError{Source: ev.Source, NativeID: ev.NativeID, Reason: reason, Err: err}
	slog.Warn("ingest error, keeping record",
		"source", ev.Source,
		"native_id", ev.NativeID,
		"reason", reason,
		"error", err,
	)
	ev.OccurredAt = time.Time{}
	ev.IngestError = ierr.Error()
	return ev
}

func normalizeIP(raw string) string {
	if ip := extract.ParseIP(raw); ip.IsValid() {
		return ip.String()
	}
	return ""
}

func firstParam(params map[string]string, names ...string) string {
	for _, n := range names {
		if v := params[n]; v != "" {
			return v
		}
	}
	return ""
}

func sortedSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
