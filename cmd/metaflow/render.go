// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sam-fredrickson/metaflow/definition"
)

func newRenderCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "render <definition.yaml>",
		Short: "Print the composed form of a pipeline",
		Example: `  metaflow render shout.yaml
  (trim | (upper & format("{}!")))`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := definition.ParseFile(args[0])
			if err != nil {
				return err
			}
			pipeline, err := doc.Build(nil)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			if g.output == textFormat {
				return writeValue(cmd.OutOrStdout(), textFormat, pipeline.String())
			}
			return writeValue(cmd.OutOrStdout(), g.output, map[string]any{
				"name":        doc.Name,
				"description": doc.Description,
				"rendering":   pipeline.String(),
			})
		},
	}
}
