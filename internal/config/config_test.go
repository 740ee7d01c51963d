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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bcem/forensics/internal/provenance"
)

const sample = `
case:
  name: victim-bec
tenants:
  - alias: victim
    provider: Google
    credentials_file: ${TEST_GOOGLE_CREDS}
    admin_subject: admin@victim.example
    mailboxes: [lori@victim.example]
    queries:
      - label: attacker
        filter: "from:ssdhvca.com OR to:ssdhvca.com"
  - alias: partner
    provider: m365
    tenant_id: 00000000-0000-0000-0000-000000000001
    client_id: app
    client_secret: ${TEST_M365_SECRET}
    identities: [all]
mailbox:
  windows:
    - start: 2025-11-01T00:00:00Z
      end: 2025-12-15T00:00:00Z
provenance:
  ips:
    - match: 158.51.123.0/24
      label: known_attacker
      note: hosting provider used by the attacker
    - match: "199.200."
      label: internal
  domains:
    - domain: ssdhvca.com
      label: known_attacker
  legitimate_domains: [ssdhvac.com]
rules:
  burst_window: 90s
  disabled: [return_path_mismatch]
`

// TestParse verifies env expansion, defaults and table construction.
func TestParse(t *testing.T) {
	t.Setenv("TEST_GOOGLE_CREDS", "/secrets/sa.json")
	t.Setenv("TEST_M365_SECRET", "s3cret")
	t.Setenv("MAILBOX_WORKERS", "6")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Tenants[0].CredentialsFile != "/secrets/sa.json" || cfg.Tenants[1].ClientSecret != "s3cret" {
		t.Errorf("env expansion failed: %+v", cfg.Tenants)
	}
	if cfg.Tenants[0].Provider != ProviderGoogle {
		t.Errorf("provider = %q", cfg.Tenants[0].Provider)
	}
	if got := cfg.Tenants[0].Identities; len(got) != 1 || got[0] != "lori@victim.example" {
		t.Errorf("identities should default to mailboxes, got %v", got)
	}
	if cfg.Workers.Mailbox != 6 || cfg.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("env overrides not applied: workers=%d redis=%q", cfg.Workers.Mailbox, cfg.Redis.URL)
	}
	if cfg.Case.Output != "report.json" || cfg.Redis.Queue != "findings" {
		t.Errorf("defaults not applied: %+v", cfg.Case)
	}

	p := cfg.RuleParams()
	if p.BurstCount != 5 || p.BurstWindow != 90*time.Second {
		t.Errorf("rule params = %+v", p)
	}

	if !cfg.Mailbox.Windows[0].End.After(cfg.Mailbox.Windows[0].Start) {
		t.Errorf("window not parsed: %+v", cfg.Mailbox.Windows[0])
	}

	table, err := cfg.ProvenanceTable()
	if err != nil {
		t.Fatal(err)
	}
	if len(table.IPs) != 4 {
		t.Errorf("expected 2 configured + 2 default relay entries, got %d", len(table.IPs))
	}
	c, err := provenance.New(table)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.ClassifyIP("2600:1700::1"); got != provenance.KnownRelay {
		t.Errorf("mobile IPv6 = %s, want known_relay", got)
	}
	if got := c.ClassifyIP("158.51.123.14"); got != provenance.KnownAttacker {
		t.Errorf("attacker IP = %s", got)
	}
	if c.Threshold() != provenance.DefaultSimilarityThreshold {
		t.Errorf("threshold = %v", c.Threshold())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing case name", "tenants: []", "Name"},
		{"bad provider", "case: {name: x}\ntenants: [{alias: a, provider: exchange}]", "Provider"},
		{"m365 without secret", "case: {name: x}\ntenants: [{alias: a, provider: m365, tenant_id: t, client_id: c}]", "ClientSecret"},
		{"bad label", "case: {name: x}\nprovenance: {ips: [{match: 1.2.3.4, label: evil}]}", "Label"},
		{"bad cidr", "case: {name: x}\nprovenance: {ips: [{match: 1.2.3.0/99, label: internal}]}", "provenance"},
		{"threshold", "case: {name: x}\nprovenance: {similarity_threshold: 1.5}", "SimilarityThreshold"},
		{"duplicate alias", "case: {name: x}\ntenants:\n- {alias: a, provider: google, credentials_file: f, admin_subject: a@b.com}\n- {alias: a, provider: google, credentials_file: f, admin_subject: a@b.com}", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte("case:\n  name: offline\ncsv:\n  files: [a.csv]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Case.Name != "offline" || len(cfg.CSV.Files) != 1 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
