// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sam-fredrickson/metaflow/definition"
)

func newFunctionsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the functions available to fn nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := definition.Builtins().Names()
			if g.output == textFormat {
				return writeValue(cmd.OutOrStdout(), textFormat, strings.Join(names, "\n"))
			}
			return writeValue(cmd.OutOrStdout(), g.output, names)
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for definition files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(definition.Schema())
			return err
		},
	}
}
