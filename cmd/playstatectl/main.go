// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command playstatectl inspects the playback state directory and manages backups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/playstate/internal/cli"
	xglog "github.com/ManuGH/playstate/internal/log"
)

func main() {
	// Diagnostics go to stderr so JSON output stays parseable.
	xglog.Configure(xglog.Config{Level: "warn", Output: os.Stderr, Service: "playstatectl"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
