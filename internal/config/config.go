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

// Package config loads configuration from config.yaml, a .env file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bcem/forensics/internal/provenance"
	"github.com/bcem/forensics/internal/rules"
)

// Providers supported by TenantConfig.Provider.
const (
	ProviderGoogle = "google"
	ProviderM365   = "m365"
)

// TenantConfig holds credentials and targets for a single tenant.
type TenantConfig struct {
	Alias    string `yaml:"alias" validate:"required"`
	Provider string `yaml:"provider" validate:"required,oneof=google m365"`

	// Google Workspace: service account key with domain-wide delegation.
	CredentialsFile string `yaml:"credentials_file" validate:"required_if=Provider google"`
	AdminSubject    string `yaml:"admin_subject" validate:"required_if=Provider google,omitempty,email"`

	// Microsoft 365: app registration with client credentials.
	TenantID     string `yaml:"tenant_id" validate:"required_if=Provider m365"`
	ClientID     string `yaml:"client_id" validate:"required_if=Provider m365"`
	ClientSecret string `yaml:"client_secret" validate:"required_if=Provider m365"`

	// Mailboxes are searched with every query. Identities are listed in
	// the activity log; "all" lists every user of the tenant.
	Mailboxes  []string      `yaml:"mailboxes" validate:"dive,required"`
	Identities []string      `yaml:"identities"`
	Queries    []QueryConfig `yaml:"queries" validate:"dive"`
}

// QueryConfig is a labelled mailbox search in the provider's own syntax.
type QueryConfig struct {
	Label  string `yaml:"label" validate:"required"`
	Filter string `yaml:"filter" validate:"required"`
}

// WindowConfig is a closed time range.
type WindowConfig struct {
	Start time.Time `yaml:"start" validate:"required"`
	End   time.Time `yaml:"end" validate:"required,gtefield=Start"`
}

// IPEntryConfig is one row of the provenance IP table.
type IPEntryConfig struct {
	Match string `yaml:"match" validate:"required"`
	Label string `yaml:"label" validate:"required,oneof=internal known_relay known_attacker"`
	Note  string `yaml:"note"`
}

// DomainEntryConfig is one row of the provenance domain table.
type DomainEntryConfig struct {
	Domain string `yaml:"domain" validate:"required,fqdn"`
	Label  string `yaml:"label" validate:"required,oneof=internal known_relay known_attacker"`
	Note   string `yaml:"note"`
}

// ProvenanceConfig is the static reference table of the classifier.
type ProvenanceConfig struct {
	IPs                 []IPEntryConfig     `yaml:"ips" validate:"dive"`
	Domains             []DomainEntryConfig `yaml:"domains" validate:"dive"`
	LegitimateDomains   []string            `yaml:"legitimate_domains" validate:"dive,fqdn"`
	SimilarityThreshold float64             `yaml:"similarity_threshold" validate:"gte=0,lt=1"`
	DelegatedSigners    []string            `yaml:"delegated_signers"`
	ApprovedApps        []string            `yaml:"approved_apps"`
	DangerousScopes     []string            `yaml:"dangerous_scopes"`
	// NoDefaultRelays drops DefaultRelays from the IP table.
	NoDefaultRelays bool `yaml:"no_default_relays"`
}

// DefaultRelays are carrier ranges that mobile clients send from. They are
// relays, not attacker infrastructure, unless an entry says otherwise.
var DefaultRelays = []IPEntryConfig{
	{Match: "2600:", Label: string(provenance.KnownRelay), Note: "mobile carrier IPv6"},
	{Match: "2607:", Label: string(provenance.KnownRelay), Note: "mobile carrier IPv6"},
}

// DefaultDangerousScopes are used when none are configured.
var DefaultDangerousScopes = []string{
	"mail.google.com",
	"gmail.send",
	"gmail.modify",
	"Mail.ReadWrite",
	"Mail.Send",
	"MailboxSettings.ReadWrite",
}

// Config holds all configuration for an investigation.
type Config struct {
	Case struct {
		Name   string `yaml:"name" validate:"required"`
		Output string `yaml:"output"`
		// RawOutput, when set, saves the fetched raw batch for offline replay.
		RawOutput string `yaml:"raw_output"`
	} `yaml:"case"`

	Tenants []TenantConfig `yaml:"tenants" validate:"dive"`

	Mailbox struct {
		// Windows are the ranges the queries above actually cover. Absence
		// from the mailbox is only reported inside them.
		Windows []WindowConfig `yaml:"windows" validate:"dive"`
	} `yaml:"mailbox"`

	Audit struct {
		Applications []string  `yaml:"applications"`
		Start        time.Time `yaml:"start"`
		End          time.Time `yaml:"end"`
	} `yaml:"audit"`

	CSV struct {
		Files   []string          `yaml:"files"`
		Columns map[string]string `yaml:"columns"`
	} `yaml:"csv"`

	Provenance ProvenanceConfig `yaml:"provenance"`

	Rules struct {
		BurstCount  int           `yaml:"burst_count" validate:"gte=0"`
		BurstWindow time.Duration `yaml:"burst_window" validate:"gte=0"`
		Disabled    []string      `yaml:"disabled"`
	} `yaml:"rules"`

	Workers struct {
		Mailbox int     `yaml:"mailbox" validate:"gte=0"`
		Audit   int     `yaml:"audit" validate:"gte=0"`
		RPS     float64 `yaml:"rps" validate:"gte=0"`
	} `yaml:"workers"`

	Redis struct {
		URL      string        `yaml:"url"`
		Queue    string        `yaml:"queue"`
		Cache    bool          `yaml:"cache"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"redis"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	MetricsAddr string `yaml:"-"`
}

// Load reads a .env file if present, then the YAML file named by
// CONFIG_PATH (default "config.yaml") with ${VAR} expansion.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(envOrDefault("CONFIG_PATH", "config.yaml"))
}

// LoadFile reads and validates one config file. Environment overrides are
// applied after parsing.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes and validates config YAML.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	seen := make(map[string]bool)
	for _, t := range cfg.Tenants {
		if seen[t.Alias] {
			return nil, fmt.Errorf("duplicate tenant alias %q", t.Alias)
		}
		seen[t.Alias] = true
	}

	table, err := cfg.ProvenanceTable()
	if err != nil {
		return nil, err
	}
	if _, err := provenance.New(table); err != nil {
		return nil, fmt.Errorf("provenance table: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Redis.URL = envOrDefault("REDIS_URL", c.Redis.URL)
	c.Database.URL = envOrDefault("DATABASE_URL", c.Database.URL)
	c.MetricsAddr = envOrDefault("METRICS_ADDR", "")
	c.Workers.Mailbox = envOrDefaultInt("MAILBOX_WORKERS", c.Workers.Mailbox)
	c.Workers.Audit = envOrDefaultInt("AUDIT_WORKERS", c.Workers.Audit)

	if c.Redis.Queue == "" {
		c.Redis.Queue = "findings"
	}
	if c.Case.Output == "" {
		c.Case.Output = "report.json"
	}
	if len(c.Audit.Applications) == 0 {
		c.Audit.Applications = []string{"login", "token", "gmail"}
	}
	if c.Provenance.SimilarityThreshold == 0 {
		c.Provenance.SimilarityThreshold = provenance.DefaultSimilarityThreshold
	}
	if len(c.Provenance.DangerousScopes) == 0 {
		c.Provenance.DangerousScopes = DefaultDangerousScopes
	}
	if c.Rules.BurstCount == 0 {
		c.Rules.BurstCount = rules.DefaultParams.BurstCount
	}
	if c.Rules.BurstWindow == 0 {
		c.Rules.BurstWindow = rules.DefaultParams.BurstWindow
	}
	for i := range c.Tenants {
		t := &c.Tenants[i]
		t.Provider = strings.ToLower(strings.TrimSpace(t.Provider))
		if len(t.Identities) == 0 {
			t.Identities = append([]string(nil), t.Mailboxes...)
		}
	}
}

// ProvenanceTable builds the classifier table. DefaultRelays are added
// unless an entry with the same match is configured.
func (c *Config) ProvenanceTable() (provenance.Table, error) {
	p := c.Provenance
	t := provenance.Table{
		LegitimateDomains:   p.LegitimateDomains,
		SimilarityThreshold: p.SimilarityThreshold,
		DelegatedSigners:    p.DelegatedSigners,
		ApprovedApps:        p.ApprovedApps,
		DangerousScopes:     p.DangerousScopes,
	}

	ips := p.IPs
	if !p.NoDefaultRelays {
		configured := make(map[string]bool, len(ips))
		for _, e := range ips {
			configured[e.Match] = true
		}
		for _, d := range DefaultRelays {
			if !configured[d.Match] {
				ips = append(ips, d)
			}
		}
	}
	for _, e := range ips {
		label, err := provenance.ParseLabel(e.Label)
		if err != nil {
			return provenance.Table{}, fmt.Errorf("provenance ip %q: %w", e.Match, err)
		}
		t.IPs = append(t.IPs, provenance.IPEntry{Match: e.Match, Label: label, Note: e.Note})
	}
	for _, e := range p.Domains {
		label, err := provenance.ParseLabel(e.Label)
		if err != nil {
			return provenance.Table{}, fmt.Errorf("provenance domain %q: %w", e.Domain, err)
		}
		t.Domains = append(t.Domains, provenance.DomainEntry{Domain: e.Domain, Label: label, Note: e.Note})
	}
	return t, nil
}

// RuleParams returns the configured rule thresholds.
func (c *Config) RuleParams() rules.Params {
	return rules.Params{BurstCount: c.Rules.BurstCount, BurstWindow: c.Rules.BurstWindow}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
