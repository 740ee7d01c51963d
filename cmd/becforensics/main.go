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

// becforensics correlates mailbox, activity log and email log export
// records for a business email compromise investigation and reports the
// anomalies it finds.
//
// Usage:
//
//	becforensics investigate --config config.yaml
//	becforensics analyze --raw raw.json --csv export.csv
//	becforensics classify --ip 158.51.123.14 --pair ssdhvca.com,ssdhvac.com
//	becforensics discover --tenant victim
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bcem/forensics/internal/config"
)

type app struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "becforensics",
		Short:         "Cross-source forensic correlation for business email compromise",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setupLogging()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newInvestigateCmd(a),
		newAnalyzeCmd(a),
		newClassifyCmd(a),
		newDiscoverCmd(a),
	)
	return cmd
}

// setupLogging installs structured JSON logging on stderr; stdout is
// reserved for command output.
func (a *app) setupLogging() {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		if err := os.Setenv("CONFIG_PATH", a.configPath); err != nil {
			return nil, fmt.Errorf("set CONFIG_PATH: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.Info("configuration loaded",
		"case", cfg.Case.Name,
		"tenants", len(cfg.Tenants),
		"csv_files", len(cfg.CSV.Files),
	)
	return cfg, nil
}
