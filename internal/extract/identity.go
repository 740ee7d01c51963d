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

package extract

import (
	"net/netip"
	"strings"

	"github.com/bcem/forensics/internal/models"
)

// Identity is everything the extractor derives from a single event.
type Identity struct {
	Actor             string
	ActorDomain       string
	Counterpart       string
	CounterpartDomain string

	FromDomain       string
	ReplyToDomain    string
	ReturnPathDomain string
	DKIMDomain       string
	Auth             models.AuthResults

	// IP is invalid when the event had no parseable source address.
	IP netip.Addr
}

// Of derives identity, domain and authentication details for an event.
func Of(ev *models.MailEvent) Identity {
	id := Identity{
		Actor:       Address(ev.Actor),
		Counterpart: Address(ev.Counterpart),
		IP:          ParseIP(ev.SourceIP),
	}
	id.ActorDomain = Domain(ev.Actor)
	id.CounterpartDomain = Domain(ev.Counterpart)

	id.FromDomain = Domain(ev.Header("From"))
	if id.FromDomain == "" {
		// CSV rows carry the header From as its own column.
		id.FromDomain = Domain(ev.Param(string(models.ColHeaderFrom)))
	}
	if id.FromDomain == "" && ev.Kind == models.KindSend {
		id.FromDomain = Domain(ev.Param(string(models.ColEnvelopeFrom)))
	}

	id.ReplyToDomain = Domain(ev.Header("Reply-To"))
	id.ReturnPathDomain = Domain(ev.Header("Return-Path"))
	if id.ReturnPathDomain == "" && ev.Source == models.SourceCSV {
		// The envelope sender is what Return-Path records on delivery.
		id.ReturnPathDomain = Domain(ev.Param(string(models.ColEnvelopeFrom)))
	}

	id.DKIMDomain = DKIMDomain(ev.HeaderValues("DKIM-Signature"))
	if id.DKIMDomain == "" {
		id.DKIMDomain = Domain(ev.Param(string(models.ColDKIMDomain)))
	}

	id.Auth = AuthVerdicts(append(ev.HeaderValues("Authentication-Results"),
		ev.HeaderValues("ARC-Authentication-Results")...))
	return id
}

// Domains returns every domain the event mentions, deduplicated and
// unordered: actor, counterpart, recipients, and the sender headers.
func (id Identity) Domains(ev *models.MailEvent) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	add(id.ActorDomain)
	add(id.CounterpartDomain)
	add(id.FromDomain)
	add(id.ReplyToDomain)
	add(id.ReturnPathDomain)
	add(id.DKIMDomain)
	for _, r := range ev.Recipients {
		add(Domain(r))
	}
	return out
}

// ParseIP parses an IPv4 or IPv6 address, tolerating brackets, ports and
// IPv6 zones. Returns the zero Addr on failure.
func ParseIP(raw string) netip.Addr {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if raw == "" {
		return netip.Addr{}
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap().WithZone("")
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap()
	}
	if i := strings.LastIndex(raw, "]:"); i >= 0 {
		if addr, err := netip.ParseAddr(strings.TrimPrefix(raw[:i], "[")); err == nil {
			return addr.Unmap()
		}
	}
	return netip.Addr{}
}
