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

package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/bcem/forensics/internal/extract"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

// domainTyposquat compares every pair of domains observed anywhere in the
// batch. A domain and its own subdomains are not compared.
func domainTyposquat(ctx *Context) []models.Finding {
	firstSeen := make(map[string]time.Time)
	for _, ev := range ctx.Events() {
		for _, d := range extract.Of(ev).Domains(ev) {
			prev, ok := firstSeen[d]
			if !ok || (ev.HasTime() && (prev.IsZero() || ev.OccurredAt.Before(prev))) {
				firstSeen[d] = ev.OccurredAt
			}
		}
	}

	domains := make([]string, 0, len(firstSeen))
	for d := range firstSeen {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var out []models.Finding
	for i := 0; i < len(domains); i++ {
		for j := i + 1; j < len(domains); j++ {
			a, b := domains[i], domains[j]
			if aligned(a, b) {
				continue
			}
			if ctx.Classifier.ClassifyDomainPair(a, b) != provenance.Similar {
				continue
			}

			// Name the look-alike as the subject when the other side is a
			// configured legitimate domain.
			subject, other := b, a
			if ctx.Classifier.IsLegitimate(b) && !ctx.Classifier.IsLegitimate(a) {
				subject, other = a, b
			}

			at := earliest(firstSeen[a], firstSeen[b])
			out = append(out, models.Finding{
				RuleID:   DomainTyposquat,
				Severity: models.SeverityWarning,
				Subject:  subject,
				Summary:  fmt.Sprintf("%s resembles %s", subject, other),
				Evidence: map[string]string{
					"domain":       subject,
					"resembles":    other,
					"similarity":   fmt.Sprintf("%.3f", provenance.Similarity(a, b)),
					"domain_label": string(ctx.Classifier.ClassifyDomain(subject)),
				},
				OccurredAt: at,
			})
		}
	}
	return out
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}
