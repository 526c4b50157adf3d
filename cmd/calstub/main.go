// Command calstub serves a stand-in calendar automation server over
// stdio: one JSON-RPC request per stdin line, one response per stdout
// line, diagnostics on stderr. Use it as a harness target when the real
// server is unavailable.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/probelabs/stdiorpc/internal/calstub"
)

func main() {
	verbose := len(os.Args) > 1 && os.Args[1] == "-v"

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	server := calstub.NewServer(logger)

	logger.Info("calstub listening on stdio")

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "calstub: %v\n", err)
		os.Exit(1)
	}
}
