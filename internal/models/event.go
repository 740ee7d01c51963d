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

// Package models defines the data structures shared across the forensics pipeline.
package models

import (
	"net/textproto"
	"strings"
	"time"
)

// Source identifies the system of record an event was observed in.
type Source string

const (
	SourceMailbox  Source = "mailbox_api"
	SourceAuditLog Source = "audit_log"
	SourceCSV      Source = "csv_export"
)

// rank orders sources for deterministic output.
func (s Source) rank() int {
	switch s {
	case SourceMailbox:
		return 0
	case SourceAuditLog:
		return 1
	case SourceCSV:
		return 2
	}
	return 3
}

// Less reports whether s sorts before o.
func (s Source) Less(o Source) bool {
	if s.rank() != o.rank() {
		return s.rank() < o.rank()
	}
	return s < o
}

// EventKind is what happened to a message or account.
type EventKind string

const (
	KindSend        EventKind = "Send"
	KindReceive     EventKind = "Receive"
	KindView        EventKind = "View"
	KindDelete      EventKind = "Delete"
	KindDraft       EventKind = "Draft"
	KindForward     EventKind = "Forward"
	KindLogin       EventKind = "Login"
	KindTokenGrant  EventKind = "TokenGrant"
	KindTokenRevoke EventKind = "TokenRevoke"
	// KindOther covers audit operations with no mapping above (settings
	// changes, label edits). They are kept for counts and IP attribution.
	KindOther EventKind = "Other"
)

// Headers holds message header fields. A name seen more than once keeps
// every value in arrival order.
type Headers = textproto.MIMEHeader

// MailEvent is one observation of a message or account action.
//
// A MailEvent is never modified once the normalizer has returned it.
type MailEvent struct {
	Source Source    `json:"source"`
	Kind   EventKind `json:"event_kind"`

	// OccurredAt is UTC. The zero value means the source timestamp could
	// not be parsed.
	OccurredAt time.Time `json:"occurred_at"`

	Actor       string `json:"actor_identity"`
	Counterpart string `json:"counterpart_address,omitempty"`

	// Recipients is the set of distinct envelope recipients, sorted.
	Recipients []string `json:"recipients,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	NativeID  string `json:"native_id"`
	SourceIP  string `json:"source_ip,omitempty"`

	Subject string  `json:"subject,omitempty"`
	Headers Headers `json:"headers,omitempty"`

	// Params carries source-specific attributes such as the OAuth app name,
	// requested scopes or CSV-only columns.
	Params map[string]string `json:"params,omitempty"`

	IngestError string `json:"ingest_error,omitempty"`
}

// HasTime reports whether the event carries a usable timestamp.
func (e *MailEvent) HasTime() bool {
	return !e.OccurredAt.IsZero()
}

// Param returns a source parameter or "".
func (e *MailEvent) Param(name string) string {
	if e.Params == nil {
		return ""
	}
	return e.Params[name]
}

// Header returns the first value of a header field or "".
func (e *MailEvent) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return strings.TrimSpace(e.Headers.Get(name))
}

// HeaderValues returns every value of a header field in arrival order.
func (e *MailEvent) HeaderValues(name string) []string {
	if e.Headers == nil {
		return nil
	}
	return e.Headers.Values(name)
}

// EventLess is the canonical member ordering: timestamp (undated last),
// then source, then native id.
func EventLess(a, b *MailEvent) bool {
	if a.HasTime() != b.HasTime() {
		return a.HasTime()
	}
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	if a.Source != b.Source {
		return a.Source.Less(b.Source)
	}
	if a.NativeID != b.NativeID {
		return a.NativeID < b.NativeID
	}
	return a.Kind < b.Kind
}
