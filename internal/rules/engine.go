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

// Package rules evaluates the detection rules over a correlated batch.
//
// Each rule is a row in Catalog: an id, a description and a pure
// evaluation function. Rules share nothing but the read-only Context, so
// any subset can run without changing the output of the others. Adding a
// detection means adding one row.
package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bcem/forensics/internal/correlate"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

// Rule ids.
const (
	ReplyToMismatch          = "reply_to_mismatch"
	DKIMDomainMismatch       = "dkim_domain_mismatch"
	ReturnPathMismatch       = "return_path_mismatch"
	DomainTyposquat          = "domain_typosquat"
	AttackerIPActivity       = "attacker_ip_activity"
	EvidenceDestructionBurst = "evidence_destruction_burst"
	MailboxDiscrepancy       = "mailbox_discrepancy"
	OAuthGrantAttackerIP     = "oauth_grant_attacker_ip"
	SuspiciousLogin          = "suspicious_login"
	UnapprovedOAuthApp       = "unapproved_oauth_app"
)

// Rule is one detection.
type Rule struct {
	ID          string
	Description string
	Eval        func(*Context) []models.Finding
}

// Catalog is the ordered rule table.
var Catalog = []Rule{
	{ReplyToMismatch, "Reply-To domain differs from the From domain", replyToMismatch},
	{DKIMDomainMismatch, "DKIM signing domain differs from the From domain", dkimDomainMismatch},
	{ReturnPathMismatch, "Return-Path domain differs from the From domain", returnPathMismatch},
	{DomainTyposquat, "two observed domains are lexically similar", domainTyposquat},
	{AttackerIPActivity, "activity from a known attacker IP", attackerIPActivity},
	{EvidenceDestructionBurst, "burst of deletions from an unknown or attacker IP", evidenceDestructionBurst},
	{MailboxDiscrepancy, "message in the server log but absent from the mailbox", mailboxDiscrepancy},
	{OAuthGrantAttackerIP, "OAuth grant from a known attacker IP", oauthGrantAttackerIP},
	{SuspiciousLogin, "login flagged suspicious, failed or challenged", suspiciousLogin},
	{UnapprovedOAuthApp, "OAuth grant to an app outside the approved list", unapprovedOAuthApp},
}

// Lookup returns the catalog row with the given id.
func Lookup(id string) (Rule, bool) {
	for _, r := range Catalog {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Params tunes rule thresholds.
type Params struct {
	// BurstCount deletions within BurstWindow make a burst.
	BurstCount  int
	BurstWindow time.Duration
}

// DefaultParams are the thresholds used when none are configured.
var DefaultParams = Params{BurstCount: 5, BurstWindow: 60 * time.Second}

// Context is the read-only input shared by every rule of one pass.
type Context struct {
	Result     *correlate.Result
	Classifier *provenance.Classifier
	Params     Params

	events     []*models.MailEvent
	identities []string
	byIdentity map[string][]*models.MailEvent
}

// NewContext indexes a correlation result for rule evaluation.
func NewContext(res *correlate.Result, c *provenance.Classifier, p Params) *Context {
	if p.BurstCount <= 0 {
		p.BurstCount = DefaultParams.BurstCount
	}
	if p.BurstWindow <= 0 {
		p.BurstWindow = DefaultParams.BurstWindow
	}

	ctx := &Context{
		Result:     res,
		Classifier: c,
		Params:     p,
		events:     res.Events(),
		byIdentity: make(map[string][]*models.MailEvent),
	}
	for _, ev := range ctx.events {
		ctx.byIdentity[ev.Actor] = append(ctx.byIdentity[ev.Actor], ev)
	}
	for id, evs := range ctx.byIdentity {
		sort.SliceStable(evs, func(i, j int) bool { return models.EventLess(evs[i], evs[j]) })
		ctx.identities = append(ctx.identities, id)
	}
	sort.Strings(ctx.identities)
	return ctx
}

// Events returns every event of the batch.
func (c *Context) Events() []*models.MailEvent { return c.events }

// Identities returns every actor identity in sorted order. Events with no
// attributable actor are grouped under "".
func (c *Context) Identities() []string { return c.identities }

// EventsFor returns an identity's events in canonical order.
func (c *Context) EventsFor(identity string) []*models.MailEvent { return c.byIdentity[identity] }

// Engine runs the enabled subset of the catalog.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine with every catalog rule except the disabled
// ids. Unknown ids are an error.
func NewEngine(disabled []string) (*Engine, error) {
	off := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		id = strings.TrimSpace(id)
		if _, ok := Lookup(id); !ok {
			return nil, fmt.Errorf("unknown rule id %q", id)
		}
		off[id] = true
	}

	e := &Engine{}
	for _, r := range Catalog {
		if !off[r.ID] {
			e.rules = append(e.rules, r)
		}
	}
	return e, nil
}

// Only builds an engine running exactly the given rule ids.
func Only(ids ...string) (*Engine, error) {
	e := &Engine{}
	for _, id := range ids {
		r, ok := Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown rule id %q", id)
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// Rules returns the ids the engine runs, in order.
func (e *Engine) Rules() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID
	}
	return ids
}

// Evaluate runs every enabled rule. A rule that panics is recorded as an
// info finding and the remaining rules still run.
func (e *Engine) Evaluate(ctx *Context) []models.Finding {
	var out []models.Finding
	for _, r := range e.rules {
		findings := evalRule(r, ctx)
		slog.Debug("rule evaluated", "rule_id", r.ID, "findings", len(findings))
		out = append(out, findings...)
	}
	return out
}

func evalRule(r Rule, ctx *Context) (findings []models.Finding) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("rule evaluation failed", "rule_id", r.ID, "panic", fmt.Sprint(p))
			gap := &models.RuleEvaluationGap{RuleID: r.ID, Subject: "batch", Missing: fmt.Sprintf("evaluation aborted: %v", p)}
			findings = []models.Finding{gap.Finding()}
		}
	}()
	return r.Eval(ctx)
}

// skipped records that a rule could not evaluate a subject.
func skipped(ruleID, subject, missing string, at time.Time) models.Finding {
	gap := &models.RuleEvaluationGap{RuleID: ruleID, Subject: subject, Missing: missing}
	slog.Debug("rule skipped", "rule_id", ruleID, "subject", subject, "missing", missing)
	f := gap.Finding()
	f.OccurredAt = at
	return f
}

// aligned reports whether two domains are equal or one is a subdomain of
// the other.
func aligned(a, b string) bool {
	return provenance.Related(a, b)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinSorted(set map[string]bool) string {
	list := make([]string, 0, len(set))
	for v := range set {
		if v != "" {
			list = append(list, v)
		}
	}
	sort.Strings(list)
	return strings.Join(list, ",")
}
