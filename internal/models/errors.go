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

import "fmt"

// IngestError describes a raw record that could not be fully normalized.
// The record is still kept as an event; the error travels with it.
type IngestError struct {
	Source   Source
	NativeID string
	Reason   string
	Err      error
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Source, e.NativeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Source, e.NativeID, e.Reason)
}

func (e *IngestError) Unwrap() error { return e.Err }

// ClassificationGap records an IP address or domain that matched no entry
// of the provenance tables.
type ClassificationGap struct {
	Kind  string // "ip" or "domain"
	Value string
}

func (e *ClassificationGap) Error() string {
	return fmt.Sprintf("unclassified %s %q", e.Kind, e.Value)
}

// RuleEvaluationGap records a rule that could not evaluate a subject
// because a required field was missing.
type RuleEvaluationGap struct {
	RuleID  string
	Subject string
	Missing string
}

func (e *RuleEvaluationGap) Error() string {
	return fmt.Sprintf("rule %s skipped for %s: missing %s", e.RuleID, e.Subject, e.Missing)
}

// Finding converts the gap into the info-level finding the engine reports.
func (e *RuleEvaluationGap) Finding() Finding {
	return Finding{
		RuleID:   e.RuleID,
		Severity: SeverityInfo,
		Subject:  e.Subject,
		Summary:  "rule skipped: insufficient data",
		Evidence: map[string]string{"missing": e.Missing},
	}
}
