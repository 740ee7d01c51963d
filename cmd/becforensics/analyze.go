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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcem/forensics/internal/investigation"
	"github.com/bcem/forensics/internal/models"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		rawFiles []string
		csvFiles []string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze saved raw batches and export files without calling any API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if len(csvFiles) > 0 {
				cfg.CSV.Files = csvFiles
			}
			if output == "" {
				output = cfg.Case.Output
			}
			if len(rawFiles) == 0 && len(cfg.CSV.Files) == 0 {
				return fmt.Errorf("nothing to analyze: pass --raw or --csv")
			}

			batches := make([]models.Batch, 0, len(rawFiles)+1)
			for _, path := range rawFiles {
				b, err := investigation.LoadBatch(path)
				if err != nil {
					return err
				}
				batches = append(batches, b)
			}
			rows, err := readCSV(cfg)
			if err != nil {
				return err
			}
			batches = append(batches, models.Batch{CSVRows: rows})

			settings, err := settingsFrom(cfg)
			if err != nil {
				return err
			}
			rep, err := investigation.Analyze(investigation.MergeBatches(batches...), settings)
			if err != nil {
				return err
			}
			return writeReport(rep, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&rawFiles, "raw", nil, "raw batch files saved by investigate")
	cmd.Flags().StringSliceVar(&csvFiles, "csv", nil, "email log export files (overrides csv.files)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "report path, - for stdout (default case.output)")
	return cmd
}
