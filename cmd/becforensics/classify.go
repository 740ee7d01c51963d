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
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcem/forensics/internal/provenance"
)

func newClassifyCmd(a *app) *cobra.Command {
	var (
		ips     []string
		domains []string
		pairs   []string
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify addresses and domains against the configured provenance table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.ProvenanceTable()
			if err != nil {
				return err
			}
			c, err := provenance.New(table)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ip := range ips {
				fmt.Fprintf(out, "ip\t%s\t%s\n", ip, c.ClassifyIP(ip))
			}
			for _, d := range domains {
				fmt.Fprintf(out, "domain\t%s\t%s\n", d, c.ClassifyDomain(d))
			}
			for _, p := range pairs {
				observed, reference, ok := strings.Cut(p, ",")
				if !ok {
					return fmt.Errorf("pair %q: want observed,reference", p)
				}
				fmt.Fprintf(out, "pair\t%s\t%s\t%s\n", observed, reference, c.ClassifyDomainPair(observed, reference))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&ips, "ip", nil, "IP address to classify")
	cmd.Flags().StringArrayVar(&domains, "domain", nil, "domain to classify")
	cmd.Flags().StringArrayVar(&pairs, "pair", nil, "observed,reference domain pair to compare")
	return cmd
}
