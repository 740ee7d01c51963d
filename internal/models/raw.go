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

// HeaderField is one header line as returned by a mailbox API, in order.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MessageRef is an opaque pointer to a message returned by a mailbox search.
type MessageRef struct {
	Provider string `json:"provider"`
	Mailbox  string `json:"mailbox"`
	ID       string `json:"id"`
	// Query is the label of the search that surfaced the reference. The
	// ingestion pass sets it; providers leave it empty.
	Query string `json:"query,omitempty"`
}

// RawMessage is a message as fetched from the Mailbox Query Service.
type RawMessage struct {
	Provider string        `json:"provider"`
	Mailbox  string        `json:"mailbox"`
	NativeID string        `json:"native_id"`
	ThreadID string        `json:"thread_id,omitempty"`
	Labels   []string      `json:"labels,omitempty"`
	Folder   string        `json:"folder,omitempty"`
	Received string        `json:"received,omitempty"`
	Headers  []HeaderField `json:"headers"`
	// Query is the label of the first search that surfaced the message.
	Query string `json:"query,omitempty"`
	// FetchError is set when the fetch failed; the message is still handed
	// to the normalizer so the failure is visible in the output.
	FetchError string `json:"fetch_error,omitempty"`
}

// AuditParam is one named parameter of an audit sub-event.
type AuditParam struct {
	Name   string   `json:"name"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// RawAuditEvent is one named sub-event inside an audit item.
type RawAuditEvent struct {
	Type   string       `json:"type,omitempty"`
	Name   string       `json:"name"`
	Params []AuditParam `json:"parameters,omitempty"`
}

// RawAuditItem is one item from the Account Activity Log Service. Its
// sub-events share the item's timestamp and IP address.
type RawAuditItem struct {
	// ID is the service's composite key (time plus unique qualifier).
	ID          string          `json:"id"`
	Application string          `json:"application"`
	Actor       string          `json:"actor"`
	IPAddress   string          `json:"ip_address,omitempty"`
	Time        string          `json:"time"`
	Events      []RawAuditEvent `json:"events"`
	FetchError  string          `json:"fetch_error,omitempty"`
}

// CSVColumn is a logical column of the flat-file audit export.
type CSVColumn string

const (
	ColMessageID     CSVColumn = "message_id"
	ColDate          CSVColumn = "date"
	ColIP            CSVColumn = "ip"
	ColEnvelopeFrom  CSVColumn = "envelope_from"
	ColEnvelopeTo    CSVColumn = "envelope_to"
	ColHeaderFrom    CSVColumn = "header_from"
	ColSubject       CSVColumn = "subject"
	ColEvent         CSVColumn = "event"
	ColOwner         CSVColumn = "owner"
	ColSPFDomain     CSVColumn = "spf_domain"
	ColDKIMDomain    CSVColumn = "dkim_domain"
	ColTrafficSource CSVColumn = "traffic_source"
	ColGeoLocation   CSVColumn = "geo_location"
)

// RawCSVRow is one row of a flat-file export keyed by logical column.
type RawCSVRow struct {
	File   string               `json:"file"`
	Line   int                  `json:"line"`
	Values map[CSVColumn]string `json:"values"`
	// ParseError is set when the CSV reader could not split the row.
	ParseError string `json:"parse_error,omitempty"`
}

// Get returns the value of a logical column or "".
func (r *RawCSVRow) Get(c CSVColumn) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[c]
}

// Batch is the complete, already-fetched input of one analysis pass.
type Batch struct {
	Messages   []RawMessage   `json:"messages"`
	AuditItems []RawAuditItem `json:"audit_items"`
	CSVRows    []RawCSVRow    `json:"csv_rows"`
}
