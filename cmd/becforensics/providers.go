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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/jwt"

	"github.com/bcem/forensics/internal/activityfeed"
	"github.com/bcem/forensics/internal/apiclient"
	"github.com/bcem/forensics/internal/config"
	"github.com/bcem/forensics/internal/correlate"
	"github.com/bcem/forensics/internal/discovery"
	"github.com/bcem/forensics/internal/gmail"
	"github.com/bcem/forensics/internal/graph"
	"github.com/bcem/forensics/internal/ingest"
	"github.com/bcem/forensics/internal/investigation"
	"github.com/bcem/forensics/internal/reports"
)

const (
	scopeGmailRead     = "https://www.googleapis.com/auth/gmail.readonly"
	scopeReportsAudit  = "https://www.googleapis.com/auth/admin.reports.audit.readonly"
	scopeDirectoryUser = "https://www.googleapis.com/auth/admin.directory.user.readonly"

	scopeGraph      = "https://graph.microsoft.com/.default"
	scopeManagement = "https://manage.office.com/.default"

	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// provider holds the services of one configured tenant.
type provider struct {
	tenant    config.TenantConfig
	mailbox   ingest.MailboxService
	activity  ingest.ActivityLogService
	directory discovery.Directory
}

// serviceAccountKey is the subset of a Google service account key file
// needed for a delegated JWT grant.
type serviceAccountKey struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

func loadServiceAccount(path string) (*serviceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("service account key %s lacks client_email or private_key", path)
	}
	if key.TokenURI == "" {
		key.TokenURI = defaultGoogleTokenURL
	}
	return &key, nil
}

// delegatedClient returns an HTTP client that acts as subject through
// domain-wide delegation.
func (k *serviceAccountKey) delegatedClient(ctx context.Context, subject string, scopes ...string) *http.Client {
	conf := &jwt.Config{
		Email:        k.ClientEmail,
		PrivateKey:   []byte(k.PrivateKey),
		PrivateKeyID: k.PrivateKeyID,
		Scopes:       scopes,
		TokenURL:     k.TokenURI,
		Subject:      subject,
	}
	return conf.Client(ctx)
}

func m365Client(ctx context.Context, t config.TenantConfig, scope string) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", t.TenantID),
		Scopes:       []string{scope},
	}
	return creds.Client(ctx)
}

func newProvider(ctx context.Context, t config.TenantConfig, opts apiclient.Options) (*provider, error) {
	p := &provider{tenant: t}

	switch t.Provider {
	case config.ProviderGoogle:
		key, err := loadServiceAccount(t.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", t.Alias, err)
		}
		p.mailbox = gmail.NewClient(func(mailbox string) *http.Client {
			return key.delegatedClient(ctx, mailbox, scopeGmailRead)
		}, "", opts)
		p.activity = reports.NewClient(key.delegatedClient(ctx, t.AdminSubject, scopeReportsAudit), "", opts)
		p.directory = discovery.NewGoogleDirectory(key.delegatedClient(ctx, t.AdminSubject, scopeDirectoryUser), "", opts)

	case config.ProviderM365:
		graphClient := m365Client(ctx, t, scopeGraph)
		p.mailbox = graph.NewFetcher(graphClient, "", opts)
		p.activity = activityfeed.NewClient(m365Client(ctx, t, scopeManagement), "", t.TenantID, opts)
		p.directory = discovery.NewGraphDirectory(graphClient, "", opts)

	default:
		return nil, fmt.Errorf("tenant %s: unsupported provider %q", t.Alias, t.Provider)
	}
	return p, nil
}

// targets resolves the mailboxes of a tenant. A mailbox list of ["all"]
// is expanded from the directory.
func (p *provider) targets(ctx context.Context) ([]string, error) {
	if len(p.tenant.Mailboxes) == 1 && strings.EqualFold(p.tenant.Mailboxes[0], "all") {
		users, err := discovery.Discover(ctx, p.directory, p.tenant.Alias, nil, nil)
		if err != nil {
			return nil, err
		}
		return discovery.Addresses(users), nil
	}
	return p.tenant.Mailboxes, nil
}

func apiOptions(cfg *config.Config) apiclient.Options {
	return apiclient.Options{RPS: cfg.Workers.RPS}
}

func settingsFrom(cfg *config.Config) (investigation.Settings, error) {
	table, err := cfg.ProvenanceTable()
	if err != nil {
		return investigation.Settings{}, err
	}
	s := investigation.Settings{
		Case:          cfg.Case.Name,
		Table:         table,
		Params:        cfg.RuleParams(),
		DisabledRules: cfg.Rules.Disabled,
	}
	for _, w := range cfg.Mailbox.Windows {
		s.MailboxWindows = append(s.MailboxWindows, correlate.Window{Start: w.Start.UTC(), End: w.End.UTC()})
	}
	return s, nil
}
