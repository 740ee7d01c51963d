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

package models

import (
	"encoding/json"
	"time"
)

// SourceSet is a set of Source values.
type SourceSet uint8

const (
	setMailbox SourceSet = 1 << iota
	setAuditLog
	setCSV
)

func sourceBit(s Source) SourceSet {
	switch s {
	case SourceMailbox:
		return setMailbox
	case SourceAuditLog:
		return setAuditLog
	case SourceCSV:
		return setCSV
	}
	return 0
}

// With returns the set with s added.
func (ss SourceSet) With(s Source) SourceSet { return ss | sourceBit(s) }

// Has reports whether s is in the set.
func (ss SourceSet) Has(s Source) bool { return ss&sourceBit(s) != 0 }

// List returns the members in canonical order.
func (ss SourceSet) List() []Source {
	var out []Source
	for _, s := range []Source{SourceMailbox, SourceAuditLog, SourceCSV} {
		if ss.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// MarshalJSON encodes the set as a list of source names.
func (ss SourceSet) MarshalJSON() ([]byte, error) {
	list := ss.List()
	if list == nil {
		list = []Source{}
	}
	return json.Marshal(list)
}

// Verdict is the outcome of one sender-authentication mechanism.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictNone    Verdict = "none"
	VerdictUnknown Verdict = "unknown"
)

// AuthResults holds the SPF, DKIM and DMARC verdicts for a message.
type AuthResults struct {
	SPF   Verdict `json:"spf"`
	DKIM  Verdict `json:"dkim"`
	DMARC Verdict `json:"dmarc"`
}

// CorrelatedMessage is one underlying message merged from every source
// that observed it. It is built once by the correlation index and read-only
// afterwards.
type CorrelatedMessage struct {
	CanonicalID string `json:"canonical_message_id"`
	// Synthesized is true when no member carried a Message-ID and the
	// canonical id was derived from the native id of the single member.
	Synthesized bool `json:"synthesized,omitempty"`

	Members []MailEvent `json:"member_events"`
	Sources SourceSet   `json:"observed_sources"`

	// OccurredAt is the earliest dated member timestamp, zero if none.
	OccurredAt time.Time `json:"occurred_at"`
	Subject    string    `json:"subject,omitempty"`

	FromDomain       string      `json:"from_domain,omitempty"`
	ReplyToDomain    string      `json:"reply_to_domain,omitempty"`
	DKIMDomain       string      `json:"dkim_domain,omitempty"`
	ReturnPathDomain string      `json:"return_path_domain,omitempty"`
	Auth             AuthResults `json:"auth"`
}

// HasTime reports whether any member had a usable timestamp.
func (m *CorrelatedMessage) HasTime() bool { return !m.OccurredAt.IsZero() }

// AbsentFromMailbox reports the "present in server log, absent from
// mailbox" state: observed by the audit log or CSV export but never by the
// mailbox API.
func (m *CorrelatedMessage) AbsentFromMailbox() bool {
	return !m.Sources.Has(SourceMailbox) && (m.Sources.Has(SourceCSV) || m.Sources.Has(SourceAuditLog))
}
