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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bcem/forensics/internal/cache"
	"github.com/bcem/forensics/internal/config"
	"github.com/bcem/forensics/internal/csvexport"
	"github.com/bcem/forensics/internal/ingest"
	"github.com/bcem/forensics/internal/investigation"
	"github.com/bcem/forensics/internal/metrics"
	"github.com/bcem/forensics/internal/models"
	"github.com/bcem/forensics/internal/queue"
	"github.com/bcem/forensics/internal/store"
)

func newInvestigateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "investigate",
		Short: "Fetch from every configured source and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return investigate(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func investigate(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	settings, err := settingsFrom(cfg)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	plan, err := buildPlan(ctx, cfg, rdb)
	if err != nil {
		return err
	}

	csvRows, err := readCSV(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runner := &investigation.Runner{
		Settings: settings,
		Plan:     plan,
		Options: ingest.Options{
			MailboxWorkers: cfg.Workers.Mailbox,
			AuditWorkers:   cfg.Workers.Audit,
		},
		Metrics: m,
	}

	if rdb != nil {
		pub := queue.NewPublisher(rdb, cfg.Redis.Queue)
		if err := pub.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, findings will not be published", "error", err)
		} else {
			runner.Publisher = pub
		}
	}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		st, err := store.NewStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		runner.Store = st
	}

	if cfg.Case.RawOutput != "" {
		path := cfg.Case.RawOutput
		runner.SaveBatch = func(b models.Batch) error {
			return investigation.SaveBatch(path, b)
		}
	}

	rep, err := runner.Run(ctx, csvRows)
	if err != nil {
		return err
	}
	return writeReport(rep, cfg.Case.Output, stdout)
}

// buildPlan resolves every configured tenant into its services and
// targets.
func buildPlan(ctx context.Context, cfg *config.Config, rdb *redis.Client) (ingest.Plan, error) {
	plan := ingest.Plan{Start: cfg.Audit.Start, End: cfg.Audit.End}
	opts := apiOptions(cfg)

	for _, t := range cfg.Tenants {
		p, err := newProvider(ctx, t, opts)
		if err != nil {
			return ingest.Plan{}, err
		}

		mailboxes, err := p.targets(ctx)
		if err != nil {
			return ingest.Plan{}, fmt.Errorf("tenant %s: resolve mailboxes: %w", t.Alias, err)
		}

		mailbox := p.mailbox
		if rdb != nil && cfg.Redis.Cache {
			mailbox = cache.NewMailbox(mailbox, rdb, cfg.Redis.CacheTTL)
		}

		tenant := ingest.Tenant{
			Name:         t.Alias,
			Mailbox:      mailbox,
			Activity:     p.activity,
			Mailboxes:    mailboxes,
			Identities:   t.Identities,
			Applications: cfg.Audit.Applications,
		}
		for _, q := range t.Queries {
			tenant.Queries = append(tenant.Queries, ingest.Query{Label: q.Label, Filter: q.Filter})
		}

		slog.Info("tenant planned",
			"tenant", t.Alias,
			"provider", t.Provider,
			"mailboxes", len(tenant.Mailboxes),
			"identities", len(tenant.Identities),
			"queries", len(tenant.Queries),
		)
		plan.Tenants = append(plan.Tenants, tenant)
	}
	return plan, nil
}

func readCSV(cfg *config.Config) ([]models.RawCSVRow, error) {
	if len(cfg.CSV.Files) == 0 {
		return nil, nil
	}
	r, err := csvexport.NewReader(cfg.CSV.Columns)
	if err != nil {
		return nil, err
	}
	return r.ReadFiles(cfg.CSV.Files)
}

// writeReport writes the report to path, or to stdout when path is "-".
func writeReport(rep *investigation.Report, path string, stdout io.Writer) error {
	if path == "-" {
		return rep.WriteJSON(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := rep.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	slog.Info("report written", "path", path, "findings", len(rep.Findings))
	return nil
}
