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

// Package extract derives normalized addresses, domains, signing domains and
// authentication verdicts from mail events. Nothing here returns an error:
// a field that cannot be parsed yields "" or VerdictUnknown.
package extract

import (
	"net/mail"
	"strings"

	"github.com/bcem/forensics/internal/models"
)

// Address returns the bare, lower-cased address from a header or envelope
// value such as `"Alice" <Alice@Example.com>`. Returns "" if no address
// can be found.
func Address(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}

	// Lists and malformed display names: fall back to the first token
	// containing an @.
	if list, err := mail.ParseAddressList(raw); err == nil && len(list) > 0 {
		return strings.ToLower(list[0].Address)
	}

	if i := strings.LastIndex(raw, "<"); i >= 0 {
		raw = raw[i+1:]
		if j := strings.Index(raw, ">"); j >= 0 {
			raw = raw[:j]
		}
	}
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\t'
	}) {
		tok = strings.Trim(tok, `<>"' `)
		if strings.Count(tok, "@") == 1 && !strings.HasPrefix(tok, "@") && !strings.HasSuffix(tok, "@") {
			return strings.ToLower(tok)
		}
	}
	return ""
}

// Addresses returns every distinct address in a comma separated list,
// in order of first appearance.
func Addresses(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(a string) {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}

	if list, err := mail.ParseAddressList(raw); err == nil {
		for _, a := range list {
			add(strings.ToLower(a.Address))
		}
		return out
	}
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		add(Address(part))
	}
	return out
}

// Domain returns the case-folded domain of an address field, with angle
// brackets and quotes stripped. A bare domain is returned as-is.
func Domain(raw string) string {
	if addr := Address(raw); addr != "" {
		return normalizeDomain(addr[strings.LastIndex(addr, "@")+1:])
	}
	raw = strings.Trim(strings.TrimSpace(raw), `<>"' `)
	if raw == "" || strings.ContainsAny(raw, " @,;") || !strings.Contains(raw, ".") {
		return ""
	}
	return normalizeDomain(raw)
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.Trim(d, `<>"' `)), ".")
}

// DKIMDomain returns the signing domain (the d= tag) of the first
// DKIM-Signature value that carries one.
func DKIMDomain(values []string) string {
	for _, v := range values {
		if d := dkimTag(v, "d"); d != "" {
			return normalizeDomain(d)
		}
	}
	return ""
}

// dkimTag finds a tag=value pair in a DKIM-Signature field. Tags may
// appear in any order and the field may be folded across lines.
func dkimTag(field, tag string) string {
	for _, part := range strings.Split(field, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), tag) {
			return strings.Join(strings.Fields(value), "")
		}
	}
	return ""
}

// AuthVerdicts scans aggregated Authentication-Results values for the
// SPF, DKIM and DMARC results.
func AuthVerdicts(values []string) models.AuthResults {
	joined := strings.ToLower(strings.Join(values, "; "))
	return models.AuthResults{
		SPF:   verdict(joined, "spf"),
		DKIM:  verdict(joined, "dkim"),
		DMARC: verdict(joined, "dmarc"),
	}
}

func verdict(field, mech string) models.Verdict {
	needle := mech + "="
	for from := 0; ; {
		i := strings.Index(field[from:], needle)
		if i < 0 {
			return models.VerdictUnknown
		}
		i += from
		from = i + len(needle)

		// Reject matches inside longer tokens such as "header.dkim=".
		if i > 0 {
			prev := field[i-1]
			if prev == '.' || prev == '-' || prev == '_' || (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
				continue
			}
		}

		rest := field[from:]
		end := strings.IndexFunc(rest, func(r rune) bool { return r < 'a' || r > 'z' })
		if end < 0 {
			end = len(rest)
		}
		switch rest[:end] {
		case "pass":
			return models.VerdictPass
		case "fail", "softfail", "permerror", "hardfail":
			return models.VerdictFail
		case "none", "neutral":
			return models.VerdictNone
		}
		return models.VerdictUnknown
	}
}
