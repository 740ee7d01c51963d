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
	"strconv"
	"strings"
	"time"

	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

// attackerIPActivity reports one finding per (identity, attacker IP) with
// the span and kinds of activity seen from it.
func attackerIPActivity(ctx *Context) []models.Finding {
	var out []models.Finding
	for _, id := range ctx.Identities() {
		type activity struct {
			count       int
			first, last time.Time
			kinds       map[string]bool
			sources     map[string]bool
		}
		byIP := make(map[string]*activity)

		for _, ev := range ctx.EventsFor(id) {
			if ev.SourceIP == "" || ctx.Classifier.ClassifyIP(ev.SourceIP) != provenance.KnownAttacker {
				continue
			}
			a := byIP[ev.SourceIP]
			if a == nil {
				a = &activity{kinds: make(map[string]bool), sources: make(map[string]bool)}
				byIP[ev.SourceIP] = a
			}
			a.count++
			a.kinds[string(ev.Kind)] = true
			a.sources[string(ev.Source)] = true
			if ev.HasTime() {
				if a.first.IsZero() || ev.OccurredAt.Before(a.first) {
					a.first = ev.OccurredAt
				}
				if ev.OccurredAt.After(a.last) {
					a.last = ev.OccurredAt
				}
			}
		}

		for _, ip := range sortedKeys(byIP) {
			a := byIP[ip]
			out = append(out, models.Finding{
				RuleID:   AttackerIPActivity,
				Severity: models.SeverityCritical,
				Subject:  subjectIdentity(id),
				Summary:  fmt.Sprintf("%d events from attacker IP %s", a.count, ip),
				Evidence: map[string]string{
					"source_ip":   ip,
					"event_count": strconv.Itoa(a.count),
					"event_kinds": joinSorted(a.kinds),
					"sources":     joinSorted(a.sources),
					"first_seen":  formatTime(a.first),
					"last_seen":   formatTime(a.last),
				},
				OccurredAt: a.first,
			})
		}
	}
	return out
}

// evidenceDestructionBurst finds maximal runs of deletions in which every
// BurstCount consecutive deletions fall within BurstWindow, and reports
// each run once if any of its IPs is unknown or a known attacker.
func evidenceDestructionBurst(ctx *Context) []models.Finding {
	var out []models.Finding
	n, window := ctx.Params.BurstCount, ctx.Params.BurstWindow

	for _, id := range ctx.Identities() {
		deletes := datedDeletes(ctx.EventsFor(id))
		if len(deletes) < n {
			continue
		}

		for _, run := range burstRuns(deletes, n, window) {
			events := deletes[run[0] : run[1]+1]
			ips := make(map[string]bool)
			labels := make(map[string]bool)
			suspicious := false
			for _, ev := range events {
				if ev.SourceIP == "" {
					continue
				}
				label := ctx.Classifier.ClassifyIP(ev.SourceIP)
				ips[ev.SourceIP] = true
				labels[string(label)] = true
				if label == provenance.Unknown || label == provenance.KnownAttacker {
					suspicious = true
				}
			}

			start, end := events[0].OccurredAt, events[len(events)-1].OccurredAt
			if len(ips) == 0 {
				out = append(out, skipped(EvidenceDestructionBurst, subjectIdentity(id), "source_ip", start))
				continue
			}
			if !suspicious {
				continue
			}

			out = append(out, models.Finding{
				RuleID:   EvidenceDestructionBurst,
				Severity: models.SeverityCritical,
				Subject:  subjectIdentity(id),
				Summary:  fmt.Sprintf("%d deletions in %s", len(events), end.Sub(start)),
				Evidence: map[string]string{
					"delete_count": strconv.Itoa(len(events)),
					"window_start": formatTime(start),
					"window_end":   formatTime(end),
					"source_ips":   joinSorted(ips),
					"ip_labels":    joinSorted(labels),
				},
				OccurredAt: start,
			})
		}
	}
	return out
}

// datedDeletes returns an identity's dated Delete events, with the same
// deletion reported by several sources counted once.
func datedDeletes(events []*models.MailEvent) []*models.MailEvent {
	type key struct {
		ref    string
		second int64
	}
	seen := make(map[key]bool)
	var out []*models.MailEvent
	for _, ev := range events {
		if ev.Kind != models.KindDelete || !ev.HasTime() {
			continue
		}
		ref := ev.MessageID
		if ref == "" {
			ref = string(ev.Source) + ":" + ev.NativeID
		}
		k := key{ref, ev.OccurredAt.Unix()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ev)
	}
	return out
}

// burstRuns returns [first, last] index pairs of maximal runs in a
// time-sorted slice where each n consecutive events span at most window.
func burstRuns(events []*models.MailEvent, n int, window time.Duration) [][2]int {
	var runs [][2]int
	for i := 0; i+n-1 < len(events); i++ {
		j := i + n - 1
		if events[j].OccurredAt.Sub(events[i].OccurredAt) > window {
			continue
		}
		if len(runs) > 0 && i <= runs[len(runs)-1][1] {
			runs[len(runs)-1][1] = j
			continue
		}
		runs = append(runs, [2]int{i, j})
	}
	return runs
}

func oauthGrantAttackerIP(ctx *Context) []models.Finding {
	var out []models.Finding
	for _, ev := range ctx.Events() {
		if ev.Kind != models.KindTokenGrant {
			continue
		}
		if ev.SourceIP == "" {
			out = append(out, skipped(OAuthGrantAttackerIP, eventSubject(ev), "source_ip", ev.OccurredAt))
			continue
		}
		if ctx.Classifier.ClassifyIP(ev.SourceIP) != provenance.KnownAttacker {
			continue
		}
		f := eventFinding(OAuthGrantAttackerIP, models.SeverityCritical, ev,
			fmt.Sprintf("OAuth grant to %s from attacker IP %s", appName(ev), ev.SourceIP))
		out = append(out, f)
	}
	return out
}

func unapprovedOAuthApp(ctx *Context) []models.Finding {
	var out []models.Finding
	for _, ev := range ctx.Events() {
		if ev.Kind != models.KindTokenGrant {
			continue
		}
		name, clientID := ev.Param("app_name"), ev.Param("client_id")
		if name == "" && clientID == "" {
			out = append(out, skipped(UnapprovedOAuthApp, eventSubject(ev), "app_name", ev.OccurredAt))
			continue
		}
		if ctx.Classifier.IsApprovedApp(name, clientID) {
			continue
		}

		f := eventFinding(UnapprovedOAuthApp, models.SeverityWarning, ev,
			fmt.Sprintf("OAuth grant to unapproved app %s", appName(ev)))
		if frag, ok := ctx.Classifier.DangerousScope(ev.Param("scope")); ok {
			f.Severity = models.SeverityCritical
			f.Evidence["dangerous_scope"] = frag
		}
		out = append(out, f)
	}
	return out
}

var suspiciousLoginNames = map[string]bool{
	"login_failure":                    true,
	"login_challenge":                  true,
	"suspicious_login":                 true,
	"suspicious_login_less_secure_app": true,
	"userloginfailed":                  true,
}

// suspiciousLogin reports one finding per (identity, IP) with flagged,
// failed or challenged logins.
func suspiciousLogin(ctx *Context) []models.Finding {
	var out []models.Finding
	for _, id := range ctx.Identities() {
		type logins struct {
			count int
			first time.Time
			names map[string]bool
		}
		byIP := make(map[string]*logins)

		for _, ev := range ctx.EventsFor(id) {
			if ev.Kind != models.KindLogin || !flaggedLogin(ev) {
				continue
			}
			l := byIP[ev.SourceIP]
			if l == nil {
				l = &logins{names: make(map[string]bool)}
				byIP[ev.SourceIP] = l
			}
			l.count++
			l.names[ev.Param("event_name")] = true
			if ev.HasTime() && (l.first.IsZero() || ev.OccurredAt.Before(l.first)) {
				l.first = ev.OccurredAt
			}
		}

		for _, ip := range sortedKeys(byIP) {
			l := byIP[ip]
			label := ctx.Classifier.ClassifyIP(ip)
			sev := models.SeverityWarning
			if label == provenance.KnownAttacker {
				sev = models.SeverityCritical
			}
			out = append(out, models.Finding{
				RuleID:   SuspiciousLogin,
				Severity: sev,
				Subject:  subjectIdentity(id),
				Summary:  fmt.Sprintf("%d flagged logins from %s", l.count, displayIP(ip)),
				Evidence: map[string]string{
					"source_ip":   ip,
					"ip_label":    string(label),
					"login_count": strconv.Itoa(l.count),
					"event_names": joinSorted(l.names),
				},
				OccurredAt: l.first,
			})
		}
	}
	return out
}

func flaggedLogin(ev *models.MailEvent) bool {
	if strings.EqualFold(ev.Param("is_suspicious"), "true") {
		return true
	}
	return suspiciousLoginNames[strings.ToLower(ev.Param("event_name"))]
}

func eventFinding(ruleID string, sev models.Severity, ev *models.MailEvent, summary string) models.Finding {
	evidence := map[string]string{
		"source":    string(ev.Source),
		"native_id": ev.NativeID,
	}
	for k, v := range map[string]string{
		"source_ip": ev.SourceIP,
		"actor":     ev.Actor,
		"app_name":  ev.Param("app_name"),
		"client_id": ev.Param("client_id"),
		"scope":     ev.Param("scope"),
	} {
		if v != "" {
			evidence[k] = v
		}
	}
	return models.Finding{
		RuleID:     ruleID,
		Severity:   sev,
		Subject:    eventSubject(ev),
		Summary:    summary,
		Evidence:   evidence,
		OccurredAt: ev.OccurredAt,
	}
}

func eventSubject(ev *models.MailEvent) string {
	return subjectIdentity(ev.Actor)
}

func subjectIdentity(id string) string {
	if id == "" {
		return "(unattributed)"
	}
	return id
}

func appName(ev *models.MailEvent) string {
	if n := ev.Param("app_name"); n != "" {
		return n
	}
	if c := ev.Param("client_id"); c != "" {
		return c
	}
	return "(unnamed app)"
}

func displayIP(ip string) string {
	if ip == "" {
		return "an unrecorded IP"
	}
	return ip
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
