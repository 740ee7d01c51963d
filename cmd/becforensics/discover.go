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

	"github.com/bcem/forensics/internal/discovery"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var (
		tenant  string
		include []string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the active mailboxes of a configured tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			for _, t := range cfg.Tenants {
				if tenant != "" && t.Alias != tenant {
					continue
				}
				p, err := newProvider(ctx, t, apiOptions(cfg))
				if err != nil {
					return err
				}
				users, err := discovery.Discover(ctx, p.directory, t.Alias, include, exclude)
				if err != nil {
					return err
				}
				for _, addr := range discovery.Addresses(users) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Alias, addr)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant alias (default all tenants)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "only these addresses")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip these addresses")
	return cmd
}
