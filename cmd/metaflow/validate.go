// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sam-fredrickson/metaflow/definition"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.yaml>...",
		Short: "Check definitions without running them",
		Long: `Validate checks each definition against the schema and builds its
pipeline, reporting every file that fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, path := range args {
				doc, err := definition.ParseFile(path)
				if err == nil {
					_, err = doc.Build(nil)
				}
				if err != nil {
					g.logger.DebugContext(cmd.Context(), "invalid definition", "definition", path, "error", err)
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					errs = append(errs, fmt.Errorf("%s: invalid", path))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			return errors.Join(errs...)
		},
	}
}
