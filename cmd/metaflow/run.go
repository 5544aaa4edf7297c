// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sam-fredrickson/metaflow"
	"github.com/sam-fredrickson/metaflow/definition"
)

// Trace formats.
const (
	traceText = "text"
	traceFlat = "flat"
	traceJSON = "json"
)

type runOptions struct {
	input    string
	timeout  time.Duration
	trace    string
	traceMin time.Duration
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <definition.yaml>",
		Short: "Run a pipeline definition",
		Long: `Run builds the pipeline of a definition file and calls it once.

The input is taken from --input when given, otherwise from the definition's
"input" field; a pipeline with neither is called without arguments. The
result is printed in the selected output format.`,
		Example: `  # Run with the definition's own input
  metaflow run shout.yaml

  # Override the input (YAML or JSON)
  metaflow run totals.yaml --input '{"items": [1, 2, 3]}'

  # Show where the time went
  metaflow run slow.yaml --trace --trace-min 10ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefinition(cmd, g, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Pipeline input as a YAML or JSON value")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the pipeline after this long (0 = no timeout)")
	cmd.Flags().StringVar(&opts.trace, "trace", "", "Write a call trace to standard error (text, flat, json)")
	cmd.Flags().Lookup("trace").NoOptDefVal = traceText
	cmd.Flags().DurationVar(&opts.traceMin, "trace-min", 0, "Only trace calls that took at least this long")
	return cmd
}

func runDefinition(cmd *cobra.Command, g *globalOptions, opts *runOptions, path string) error {
	switch opts.trace {
	case "", traceText, traceFlat, traceJSON:
	default:
		return fmt.Errorf("unknown trace format %q (want text, flat or json)", opts.trace)
	}

	doc, err := definition.ParseFile(path)
	if err != nil {
		return err
	}
	pipeline, err := doc.Build(nil)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// Workers of concurrent merges are this command started again; once the
	// pipeline is rebuilt they serve their task and exit here.
	metaflow.ServeWorker()

	var args []any
	switch {
	case cmd.Flags().Changed("input"):
		input, err := definition.DecodeValue([]byte(opts.input))
		if err != nil {
			return fmt.Errorf("--input: %w", err)
		}
		args = []any{input}
	case doc.Input != nil:
		args = []any{doc.Input}
	}

	if opts.timeout > 0 {
		pipeline = metaflow.WithTimeout(opts.timeout, pipeline)
	}

	logger := g.logger
	if doc.Name != "" {
		logger = logger.With("pipeline", doc.Name)
	}
	ctx := metaflow.WithSlogger(cmd.Context(), logger)
	logger.DebugContext(ctx, "running pipeline", "definition", path, "rendering", pipeline.String())

	var result any
	if opts.trace == "" {
		result, err = pipeline.Call(ctx, nil, args...)
	} else {
		var tr *metaflow.Trace
		result, tr, err = metaflow.Traced(ctx, pipeline, nil, args)
		if opts.traceMin > 0 {
			tr = tr.Filter(metaflow.MinDuration(opts.traceMin))
		}
		if werr := writeTrace(cmd.ErrOrStderr(), opts.trace, tr); werr != nil {
			logger.WarnContext(ctx, "could not write trace", "error", werr)
		}
	}
	if err != nil {
		return err
	}
	return writeValue(cmd.OutOrStdout(), g.output, result)
}

func writeTrace(w io.Writer, format string, tr *metaflow.Trace) error {
	var err error
	switch format {
	case traceFlat:
		_, err = tr.WriteFlatText(w)
	case traceJSON:
		_, err = tr.WriteTo(w)
	default:
		_, err = tr.WriteText(w)
	}
	return err
}
