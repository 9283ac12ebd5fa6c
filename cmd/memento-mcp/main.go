// cmd/memento-mcp is the entry point for the Memento MCP (Model Context
// Protocol) server.
//
// Startup sequence:
//  1. Load configuration (defaults, MEMENTO_CONFIG file, .env, MEMENTO_*).
//  2. Build the zap logger on stderr.
//  3. Load the workspace registry; databases open on first use.
//  4. Start the optional HTTP endpoint and notes watcher.
//  5. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/app"
	"github.com/scrypster/memento-graph/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "memento-mcp: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration and serves MCP on in/out until in closes or ctx
// is cancelled.
func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	logger.Info("memento-mcp starting",
		zap.String("data_path", cfg.Storage.DataPath),
		zap.String("default_workspace", a.Registry.Default()),
		zap.String("llm_provider", cfg.LLM.Provider))

	return a.ServeMCP(ctx, in, out)
}
