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
	"strings"

	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/provenance"
)

func replyToMismatch(ctx *Context) []models.Finding {
	var out []models.Finding
	for i := range ctx.Result.Messages {
		msg := &ctx.Result.Messages[i]
		if msg.ReplyToDomain == "" {
			continue
		}
		if msg.FromDomain == "" {
			out = append(out, skipped(ReplyToMismatch, msg.CanonicalID, "from_domain", msg.OccurredAt))
			continue
		}
		if aligned(msg.ReplyToDomain, msg.FromDomain) {
			continue
		}

		label := ctx.Classifier.ClassifyDomain(msg.ReplyToDomain)
		imitates, similar := ctx.Classifier.SimilarLegitimate(msg.ReplyToDomain)

		f := messageFinding(ReplyToMismatch, models.SeverityWarning, msg,
			fmt.Sprintf("replies to %s go to %s", msg.FromDomain, msg.ReplyToDomain))
		f.Evidence["reply_to_domain"] = msg.ReplyToDomain
		f.Evidence["reply_to_label"] = string(label)
		if similar {
			f.Evidence["imitates"] = imitates
		}
		if label == provenance.KnownAttacker || similar {
			f.Severity = models.SeverityCritical
		}
		out = append(out, f)
	}
	return out
}

func dkimDomainMismatch(ctx *Context) []models.Finding {
	var out []models.Finding
	for i := range ctx.Result.Messages {
		msg := &ctx.Result.Messages[i]
		if msg.DKIMDomain == "" {
			continue
		}
		if msg.FromDomain == "" {
			out = append(out, skipped(DKIMDomainMismatch, msg.CanonicalID, "from_domain", msg.OccurredAt))
			continue
		}
		if aligned(msg.DKIMDomain, msg.FromDomain) || ctx.Classifier.IsDelegatedSigner(msg.DKIMDomain) {
			continue
		}

		label := ctx.Classifier.ClassifyDomain(msg.DKIMDomain)
		f := messageFinding(DKIMDomainMismatch, models.SeverityWarning, msg,
			fmt.Sprintf("signed by %s, not %s", msg.DKIMDomain, msg.FromDomain))
		f.Evidence["dkim_domain"] = msg.DKIMDomain
		f.Evidence["dkim_label"] = string(label)
		f.Evidence["dkim_verdict"] = string(msg.Auth.DKIM)
		if label == provenance.KnownAttacker {
			f.Severity = models.SeverityCritical
		}
		out = append(out, f)
	}
	return out
}

func returnPathMismatch(ctx *Context) []models.Finding {
	var out []models.Finding
	for i := range ctx.Result.Messages {
		msg := &ctx.Result.Messages[i]
		if msg.ReturnPathDomain == "" {
			continue
		}
		if msg.FromDomain == "" {
			out = append(out, skipped(ReturnPathMismatch, msg.CanonicalID, "from_domain", msg.OccurredAt))
			continue
		}
		if aligned(msg.ReturnPathDomain, msg.FromDomain) {
			continue
		}
		f := messageFinding(ReturnPathMismatch, models.SeverityInfo, msg,
			fmt.Sprintf("bounces for %s go to %s", msg.FromDomain, msg.ReturnPathDomain))
		f.Evidence["return_path_domain"] = msg.ReturnPathDomain
		f.Evidence["spf_verdict"] = string(msg.Auth.SPF)
		out = append(out, f)
	}
	return out
}

func mailboxDiscrepancy(ctx *Context) []models.Finding {
	var out []models.Finding
	cov := ctx.Result.Coverage
	for _, msg := range ctx.Result.AbsentFromMailbox() {
		if !msg.HasTime() {
			out = append(out, skipped(MailboxDiscrepancy, msg.CanonicalID, "occurred_at", msg.OccurredAt))
			continue
		}
		if !cov.Covers(msg.OccurredAt) {
			continue
		}

		kinds := make(map[string]bool)
		actors := make(map[string]bool)
		for j := range msg.Members {
			kinds[string(msg.Members[j].Kind)] = true
			actors[msg.Members[j].Actor] = true
		}
		sources := make([]string, 0, 2)
		for _, s := range msg.Sources.List() {
			sources = append(sources, string(s))
		}

		f := messageFinding(MailboxDiscrepancy, models.SeverityWarning, msg,
			"present in server log, absent from mailbox")
		f.Evidence["observed_sources"] = strings.Join(sources, ",")
		f.Evidence["event_kinds"] = joinSorted(kinds)
		f.Evidence["actors"] = joinSorted(actors)
		out = append(out, f)
	}
	return out
}

func messageFinding(ruleID string, sev models.Severity, msg *models.CorrelatedMessage, summary string) models.Finding {
	ev := map[string]string{}
	if msg.FromDomain != "" {
		ev["from_domain"] = msg.FromDomain
	}
	if msg.Subject != "" {
		ev["subject"] = msg.Subject
	}
	return models.Finding{
		RuleID:     ruleID,
		Severity:   sev,
		Subject:    msg.CanonicalID,
		Summary:    summary,
		Evidence:   ev,
		OccurredAt: msg.OccurredAt,
	}
}
