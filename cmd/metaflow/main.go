// SPDX-License-Identifier: Apache-2.0

// Command metaflow runs pipelines described by YAML definition files.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
