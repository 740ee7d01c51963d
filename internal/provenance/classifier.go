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

// Package provenance labels IP addresses and domains by trust class using a
// static reference table plus attacker indicators gathered during a run.
//
// Labels are never inferred from message content. Anything the table does
// not cover is Unknown; the classifier has no benign default for public
// addresses or unlisted domains.
package provenance

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/bcem/forensics/internal/extract"
)

// Label is the trust class of an IP address or domain.
type Label string

const (
	Internal      Label = "internal"
	KnownRelay    Label = "known_relay"
	KnownAttacker Label = "known_attacker"
	Unknown       Label = "unknown"
)

// Labels lists every label in reporting order.
var Labels = []Label{Internal, KnownRelay, KnownAttacker, Unknown}

// ParseLabel validates a configured label.
func ParseLabel(s string) (Label, error) {
	switch l := Label(strings.ToLower(strings.TrimSpace(s))); l {
	case Internal, KnownRelay, KnownAttacker:
		return l, nil
	}
	return "", fmt.Errorf("invalid provenance label %q", s)
}

// priority breaks specificity ties between table entries.
func (l Label) priority() int {
	switch l {
	case KnownAttacker:
		return 3
	case Internal:
		return 2
	case KnownRelay:
		return 1
	}
	return 0
}

// IPEntry is one row of the IP table. Match is an exact address, a CIDR
// block ("199.200.0.0/16"), or a literal string prefix ("199.200.", "2600:").
type IPEntry struct {
	Match string
	Label Label
	Note  string
}

// DomainEntry is one row of the domain table. A domain entry also covers
// its subdomains.
type DomainEntry struct {
	Domain string
	Label  Label
	Note   string
}

// Table is the static reference configuration of a classifier.
type Table struct {
	IPs     []IPEntry
	Domains []DomainEntry

	// LegitimateDomains are the reference domains typosquats are measured
	// against.
	LegitimateDomains []string
	// SimilarityThreshold is the ratio a domain pair must strictly exceed
	// to be similar.
	SimilarityThreshold float64
	// DelegatedSigners are DKIM signing domains accepted for any From
	// domain (bulk mail and security relays signing on a tenant's behalf).
	DelegatedSigners []string

	// ApprovedApps are OAuth app names or client ids the organization uses.
	ApprovedApps []string
	// DangerousScopes are scope fragments that make an OAuth grant
	// critical ("gmail.send", "mail.google.com").
	DangerousScopes []string
}

// DefaultSimilarityThreshold is used when a table sets none.
const DefaultSimilarityThreshold = 0.7

type ipMatcher struct {
	exact  netip.Addr
	prefix netip.Prefix
	text   string
	bits   int
	label  Label
}

func (m *ipMatcher) matches(addr netip.Addr, s string) bool {
	switch {
	case m.exact.IsValid():
		return m.exact == addr
	case m.prefix.IsValid():
		return m.prefix.Contains(addr)
	default:
		return strings.HasPrefix(s, m.text)
	}
}

// Classifier is immutable once built and safe for concurrent use.
type Classifier struct {
	table     Table
	ips       []ipMatcher
	domains   map[string]Label
	threshold float64
	legit     []string
	signers   map[string]bool
	apps      map[string]bool

	attackerIPs     map[netip.Addr]bool
	attackerDomains map[string]bool
}

// New builds a classifier from a reference table.
func New(t Table) (*Classifier, error) {
	c := &Classifier{
		table:           t,
		domains:         make(map[string]Label),
		threshold:       t.SimilarityThreshold,
		signers:         make(map[string]bool),
		apps:            make(map[string]bool),
		attackerIPs:     make(map[netip.Addr]bool),
		attackerDomains: make(map[string]bool),
	}
	if c.threshold <= 0 {
		c.threshold = DefaultSimilarityThreshold
	}
	if c.threshold >= 1 {
		return nil, fmt.Errorf("similarity threshold %v must be below 1", c.threshold)
	}

	for _, e := range t.IPs {
		m, err := newIPMatcher(e)
		if err != nil {
			return nil, err
		}
		c.ips = append(c.ips, m)
	}

	for _, e := range t.Domains {
		d := extract.Domain(e.Domain)
		if d == "" {
			return nil, fmt.Errorf("invalid domain entry %q", e.Domain)
		}
		if _, err := ParseLabel(string(e.Label)); err != nil {
			return nil, fmt.Errorf("domain entry %q: %w", e.Domain, err)
		}
		if prev, ok := c.domains[d]; ok && prev.priority() >= e.Label.priority() {
			continue
		}
		c.domains[d] = e.Label
	}

	for _, d := range t.LegitimateDomains {
		if d = extract.Domain(d); d != "" {
			c.legit = append(c.legit, d)
		}
	}
	sort.Strings(c.legit)

	for _, d := range t.DelegatedSigners {
		if d = extract.Domain(d); d != "" {
			c.signers[d] = true
		}
	}
	for _, a := range t.ApprovedApps {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			c.apps[a] = true
		}
	}

	return c, nil
}

func newIPMatcher(e IPEntry) (ipMatcher, error) {
	raw := strings.TrimSpace(e.Match)
	m := ipMatcher{label: e.Label}
	if raw == "" {
		return m, fmt.Errorf("empty ip entry")
	}
	if _, err := ParseLabel(string(e.Label)); err != nil {
		return m, fmt.Errorf("ip entry %q: %w", raw, err)
	}

	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return m, fmt.Errorf("parse ip prefix %q: %w", raw, err)
		}
		m.prefix = p.Masked()
		m.bits = p.Bits()
		return m, nil
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		m.exact = addr.Unmap()
		m.bits = 129
		return m, nil
	}

	// Literal prefix: specificity is the number of complete groups.
	m.text = strings.ToLower(raw)
	if strings.Contains(raw, ":") {
		m.bits = strings.Count(raw, ":") * 16
	} else {
		m.bits = strings.Count(raw, ".") * 8
	}
	return m, nil
}

// Indicators are attacker addresses and domains learned during a run.
type Indicators struct {
	IPs     []string
	Domains []string
}

// WithIndicators returns a copy of c that also labels the given indicators
// KnownAttacker. The receiver is not modified.
func (c *Classifier) WithIndicators(ind Indicators) *Classifier {
	out := *c
	out.attackerIPs = make(map[netip.Addr]bool, len(c.attackerIPs)+len(ind.IPs))
	out.attackerDomains = make(map[string]bool, len(c.attackerDomains)+len(ind.Domains))
	for k := range c.attackerIPs {
		out.attackerIPs[k] = true
	}
	for k := range c.attackerDomains {
		out.attackerDomains[k] = true
	}
	for _, raw := range ind.IPs {
		if ip := extract.ParseIP(raw); ip.IsValid() {
			out.attackerIPs[ip] = true
		}
	}
	for _, raw := range ind.Domains {
		if d := extract.Domain(raw); d != "" {
			out.attackerDomains[d] = true
		}
	}
	return &out
}

// ClassifyIP labels an address. Exact entries win over prefixes, longer
// prefixes over shorter ones, and KnownAttacker wins a tie. Unmatched
// private, loopback and link-local addresses are Internal; every other
// unmatched or unparseable value is Unknown.
func (c *Classifier) ClassifyIP(raw string) Label {
	addr := extract.ParseIP(raw)
	if !addr.IsValid() {
		return Unknown
	}
	if c.attackerIPs[addr] {
		return KnownAttacker
	}

	s := addr.String()
	best := Unknown
	bestBits := -1
	for i := range c.ips {
		m := &c.ips[i]
		if !m.matches(addr, s) {
			continue
		}
		if m.bits > bestBits || (m.bits == bestBits && m.label.priority() > best.priority()) {
			best, bestBits = m.label, m.bits
		}
	}
	if bestBits >= 0 {
		return best
	}

	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
		return Internal
	}
	return Unknown
}

// ClassifyDomain labels a domain by the most specific table entry covering
// it (the domain itself or a parent). Run-time indicators are matched
// exactly and win over the table.
func (c *Classifier) ClassifyDomain(raw string) Label {
	d := extract.Domain(raw)
	if d == "" {
		return Unknown
	}
	if c.attackerDomains[d] {
		return KnownAttacker
	}
	for probe := d; probe != ""; {
		if l, ok := c.domains[probe]; ok {
			return l
		}
		i := strings.IndexByte(probe, '.')
		if i < 0 {
			break
		}
		probe = probe[i+1:]
	}
	return Unknown
}

// Match is the outcome of comparing two domains.
type Match string

const (
	Exact     Match = "exact"
	Similar   Match = "similar"
	Different Match = "different"
)

// ClassifyDomainPair compares an observed domain with a reference domain
// using the classifier's threshold.
func (c *Classifier) ClassifyDomainPair(observed, reference string) Match {
	return CompareDomains(observed, reference, c.threshold)
}

// CompareDomains is ClassifyDomainPair with an explicit threshold.
func CompareDomains(observed, reference string, threshold float64) Match {
	a := extract.Domain(observed)
	b := extract.Domain(reference)
	if a == "" || b == "" {
		return Different
	}
	if a == b {
		return Exact
	}
	if Similarity(a, b) > threshold {
		return Similar
	}
	return Different
}

// SimilarLegitimate returns the legitimate domain that d imitates, if any.
// A legitimate domain, its subdomains and its parents imitate nothing.
func (c *Classifier) SimilarLegitimate(d string) (string, bool) {
	d = extract.Domain(d)
	if d == "" {
		return "", false
	}
	for _, ref := range c.legit {
		if Related(d, ref) {
			return "", false
		}
	}
	for _, ref := range c.legit {
		if c.ClassifyDomainPair(d, ref) == Similar {
			return ref, true
		}
	}
	return "", false
}

// Related reports whether two normalized domains are equal or one is a
// subdomain of the other.
func Related(a, b string) bool {
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// IsLegitimate reports whether d is one of the configured reference domains.
func (c *Classifier) IsLegitimate(d string) bool {
	d = extract.Domain(d)
	i := sort.SearchStrings(c.legit, d)
	return d != "" && i < len(c.legit) && c.legit[i] == d
}

// IsDelegatedSigner reports whether d may sign mail for other domains.
func (c *Classifier) IsDelegatedSigner(d string) bool {
	return c.signers[extract.Domain(d)]
}

// IsApprovedApp reports whether an OAuth app, by name or client id, is on
// the approved list.
func (c *Classifier) IsApprovedApp(name, clientID string) bool {
	for _, v := range []string{name, clientID} {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" && c.apps[v] {
			return true
		}
	}
	return false
}

// DangerousScope returns the first configured dangerous fragment found in
// a space separated scope list.
func (c *Classifier) DangerousScope(scopes string) (string, bool) {
	lower := strings.ToLower(scopes)
	for _, frag := range c.table.DangerousScopes {
		if f := strings.ToLower(strings.TrimSpace(frag)); f != "" && strings.Contains(lower, f) {
			return frag, true
		}
	}
	return "", false
}

// Threshold returns the similarity threshold in effect.
func (c *Classifier) Threshold() float64 { return c.threshold }
