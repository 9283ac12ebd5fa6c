package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/app"
	"github.com/scrypster/memento-graph/internal/config"
)

// cli holds the global flags and the application built from them.
type cli struct {
	cfgFile   string
	workspace string
	jsonOut   bool

	app *app.App
}

// execute runs the CLI with args and closes whatever it opened.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.close())
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "memento",
		Short:         "Graph-backed memory for notes and assistants",
		Long:          "memento indexes markdown notes into a knowledge graph with full-text and vector search,\nand serves the same memory to assistants over MCP.",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "YAML config file (default: $MEMENTO_CONFIG)")
	pf.StringVarP(&c.workspace, "workspace", "w", "", "workspace to use (default: the configured default)")
	pf.BoolVar(&c.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newIndexCmd(c),
		newSearchCmd(c),
		newExploreCmd(c),
		newStatsCmd(c),
		newServeCmd(c),
		newBackupCmd(c),
	)
	return root
}

func (c *cli) open() error {
	var (
		cfg *config.Config
		err error
	)
	if c.cfgFile != "" {
		cfg, err = config.LoadFromPath(c.cfgFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	c.app, err = app.New(cfg, logger)
	return err
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	logger := c.app.Logger
	defer func() { _ = logger.Sync() }()
	err := c.app.Close()
	if err != nil {
		logger.Warn("close failed", zap.Error(err))
	}
	c.app = nil
	return err
}

// workspaceName resolves the --workspace flag for display.
func (c *cli) workspaceName() string {
	if c.workspace != "" {
		return c.workspace
	}
	return c.app.Registry.Default()
}

// emit writes v as indented JSON when --json is set, and calls human
// otherwise.
func (c *cli) emit(w io.Writer, v interface{}, human func(io.Writer)) error {
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
