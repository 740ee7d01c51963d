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

package provenance

import (
	"math"
	"testing"
)

func testTable() Table {
	return Table{
		IPs: []IPEntry{
			{Match: "199.200.", Label: Internal, Note: "office"},
			{Match: "199.200.10.7", Label: KnownAttacker},
			{Match: "44.224.0.0/16", Label: KnownRelay, Note: "security relay"},
			{Match: "44.224.15.0/24", Label: KnownAttacker},
			{Match: "2600:", Label: KnownRelay, Note: "mobile carrier"},
			{Match: "158.51.123.14", Label: KnownAttacker},
			{Match: "158.51.123.14", Label: Internal},
		},
		Domains: []DomainEntry{
			{Domain: "victim.example", Label: Internal},
			{Domain: "relay.example", Label: KnownRelay},
			{Domain: "attacker.example", Label: KnownAttacker},
		},
		LegitimateDomains: []string{"ssdhvac.com", "victim.example"},
		DelegatedSigners:  []string{"sendgrid.net"},
		ApprovedApps:      []string{"Google Drive", "1234.apps.googleusercontent.com"},
		DangerousScopes:   []string{"gmail.send", "https://mail.google.com/"},
	}
}

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(testTable())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

// TestClassifyIP verifies that the most specific entry wins and that
// unmatched public addresses are unknown.
func TestClassifyIP(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		ip   string
		want Label
	}{
		{"199.200.1.1", Internal},
		{"199.200.10.7", KnownAttacker},
		{"44.224.1.1", KnownRelay},
		{"44.224.15.38", KnownAttacker},
		{"2600:1700:abcd::1", KnownRelay},
		{"158.51.123.14", KnownAttacker},
		{"[158.51.123.14]:443", KnownAttacker},
		{"::ffff:158.51.123.14", KnownAttacker},
		{"10.0.0.5", Internal},
		{"127.0.0.1", Internal},
		{"fe80::1", Internal},
		{"8.8.8.8", Unknown},
		{"2a02:1234::1", Unknown},
		{"", Unknown},
		{"not-an-ip", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := c.ClassifyIP(tt.ip); got != tt.want {
				t.Errorf("ClassifyIP(%q) = %s, want %s", tt.ip, got, tt.want)
			}
		})
	}
}

func TestClassifyIP_Idempotent(t *testing.T) {
	c := newTestClassifier(t)
	for _, ip := range []string{"199.200.1.1", "8.8.8.8", "158.51.123.14", "2600::1", "garbage"} {
		first := c.ClassifyIP(ip)
		for i := 0; i < 3; i++ {
			if got := c.ClassifyIP(ip); got != first {
				t.Fatalf("ClassifyIP(%q) changed from %s to %s", ip, first, got)
			}
		}
	}
}

func TestClassifyDomainPair(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		observed, reference string
		want                Match
	}{
		{"ssdhvac.com", "ssdhvca.com", Similar},
		{"ssdhvac.com", "ssdhvac.com", Exact},
		{"ssdhvac.com", "yahoo.com", Different},
		{"SSDHVAC.com.", "ssdhvac.com", Exact},
		{"jhw@ssdhvca.com", "ssdhvac.com", Similar},
		{"", "ssdhvac.com", Different},
	}
	for _, tt := range tests {
		t.Run(tt.observed+"~"+tt.reference, func(t *testing.T) {
			if got := c.ClassifyDomainPair(tt.observed, tt.reference); got != tt.want {
				t.Errorf("ClassifyDomainPair(%q, %q) = %s, want %s", tt.observed, tt.reference, got, tt.want)
			}
		})
	}
}

func TestCompareDomains_ThresholdIsConfiguration(t *testing.T) {
	// ssdhvac.com vs yahoo.com scores 6/11 apart.
	if got := CompareDomains("ssdhvac.com", "yahoo.com", 0.4); got != Similar {
		t.Errorf("at threshold 0.4 got %s, want similar", got)
	}
	if got := CompareDomains("ssdhvac.com", "ssdhvca.com", 0.95); got != Different {
		t.Errorf("at threshold 0.95 got %s, want different", got)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "abc", 1},
		{"abc", "acb", 1 - 1.0/3},
		{"abc", "", 0},
		{"ssdhvac.com", "yahoo.com", 1 - 6.0/11},
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestClassifyDomain(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		domain string
		want   Label
	}{
		{"victim.example", Internal},
		{"mail.victim.example", Internal},
		{"attacker.example", KnownAttacker},
		{"bob@relay.example", KnownRelay},
		{"notvictim.example", Unknown},
		{"yahoo.com", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		if got := c.ClassifyDomain(tt.domain); got != tt.want {
			t.Errorf("ClassifyDomain(%q) = %s, want %s", tt.domain, got, tt.want)
		}
	}
}

func TestWithIndicators_DoesNotModifyReceiver(t *testing.T) {
	base := newTestClassifier(t)
	withInd := base.WithIndicators(Indicators{IPs: []string{"8.8.8.8"}, Domains: []string{"ssdhvca.com"}})

	if got := base.ClassifyIP("8.8.8.8"); got != Unknown {
		t.Errorf("base classifier changed: %s", got)
	}
	if got := withInd.ClassifyIP("8.8.8.8"); got != KnownAttacker {
		t.Errorf("indicator IP = %s, want known_attacker", got)
	}
	if got := withInd.ClassifyDomain("jhw@ssdhvca.com"); got != KnownAttacker {
		t.Errorf("indicator domain = %s, want known_attacker", got)
	}
	if got := withInd.ClassifyIP("199.200.1.1"); got != Internal {
		t.Errorf("table entries lost after WithIndicators: %s", got)
	}
}

func TestSimilarLegitimate(t *testing.T) {
	c := newTestClassifier(t)
	if ref, ok := c.SimilarLegitimate("ssdhvca.com"); !ok || ref != "ssdhvac.com" {
		t.Errorf("SimilarLegitimate(ssdhvca.com) = %q, %v", ref, ok)
	}
	if _, ok := c.SimilarLegitimate("ssdhvac.com"); ok {
		t.Error("a legitimate domain must not imitate itself")
	}
	for _, d := range []string{"us.ssdhvac.com", "mail.victim.example", "ar@us.ssdhvac.com"} {
		if ref, ok := c.SimilarLegitimate(d); ok {
			t.Errorf("SimilarLegitimate(%q) = %q; a subdomain of a legitimate domain imitates nothing", d, ref)
		}
	}
	if ref, ok := c.SimilarLegitimate("us.ssdhvca.com"); !ok || ref != "ssdhvac.com" {
		t.Errorf("SimilarLegitimate(us.ssdhvca.com) = %q, %v; want ssdhvac.com", ref, ok)
	}
	if !c.IsLegitimate("SSDHVAC.COM") {
		t.Error("IsLegitimate should be case-insensitive")
	}
}

func TestAppsAndScopes(t *testing.T) {
	c := newTestClassifier(t)
	if !c.IsApprovedApp("google drive", "") || !c.IsApprovedApp("", "1234.apps.googleusercontent.com") {
		t.Error("approved app lookup failed")
	}
	if c.IsApprovedApp("Mail Sync Pro", "999") {
		t.Error("unapproved app reported approved")
	}
	if frag, ok := c.DangerousScope("openid https://www.googleapis.com/auth/gmail.send"); !ok || frag != "gmail.send" {
		t.Errorf("DangerousScope = %q, %v", frag, ok)
	}
	if !c.IsDelegatedSigner("SendGrid.net") {
		t.Error("delegated signer lookup failed")
	}
}

func TestNew_RejectsBadEntries(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"bad cidr", Table{IPs: []IPEntry{{Match: "10.0.0.0/99", Label: Internal}}}},
		{"bad ip label", Table{IPs: []IPEntry{{Match: "10.0.0.1", Label: "friendly"}}}},
		{"unknown is not configurable", Table{IPs: []IPEntry{{Match: "10.0.0.1", Label: Unknown}}}},
		{"bad domain label", Table{Domains: []DomainEntry{{Domain: "x.com", Label: ""}}}},
		{"threshold of one", Table{SimilarityThreshold: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.table); err == nil {
				t.Error("expected error")
			}
		})
	}
}
