// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Example: `  # Show version
  metaflow version

  # Show version in JSON format
  metaflow version --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.output != textFormat {
				return writeValue(cmd.OutOrStdout(), g.output, map[string]string{
					"version":   version,
					"commit":    commit,
					"buildDate": buildDate,
					"goVersion": runtime.Version(),
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "metaflow version %s\n", version)
			if version != "dev" {
				fmt.Fprintf(w, "  commit:     %s\n", commit)
				fmt.Fprintf(w, "  built:      %s\n", buildDate)
				fmt.Fprintf(w, "  go version: %s\n", runtime.Version())
			}
			return nil
		},
	}
}
