// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// Output formats.
const (
	jsonFormat = "json"
	yamlFormat = "yaml"
	textFormat = "text"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	verbose bool
	output  string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "metaflow",
		Short: "Run composed function pipelines",
		Long: `metaflow runs pipelines of composed functions described in YAML.

A definition chains, merges and maps builtin functions, format strings,
JSONPath queries and Lua snippets. Merges can run their branches in
separate worker processes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case textFormat, jsonFormat, yamlFormat:
			default:
				return fmt.Errorf("unknown output format %q (want text, json or yaml)", opts.output)
			}

			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", textFormat, "Output format (text, json, yaml)")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newRunCmd(opts),
		newRenderCmd(opts),
		newValidateCmd(opts),
		newFunctionsCmd(opts),
		newSchemaCmd(),
		newVersionCmd(opts),
	)
	return cmd
}
