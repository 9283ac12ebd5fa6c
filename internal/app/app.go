// Package app wires configuration into a running memento process: the
// model client, metrics, the workspace registry, the MCP server and the
// optional HTTP endpoint and notes watcher. Both binaries start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/api/mcp"
	"github.com/scrypster/memento-graph/internal/classify"
	"github.com/scrypster/memento-graph/internal/config"
	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/importer"
	"github.com/scrypster/memento-graph/internal/llm"
	"github.com/scrypster/memento-graph/internal/metrics"
	"github.com/scrypster/memento-graph/internal/notify"
	"github.com/scrypster/memento-graph/internal/server"
	"github.com/scrypster/memento-graph/internal/workspace"
)

// Version is reported by initialize and /health. Set at build time with
// -ldflags "-X github.com/scrypster/memento-graph/internal/app.Version=...".
var Version = "dev"

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	Registry *workspace.Registry

	events *notify.EventWriter
}

// New builds the registry and its engine options from cfg. Databases are
// opened lazily, per workspace.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := metrics.NewCollector()

	engineOpts, err := EngineOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	engineOpts = append(engineOpts, engine.WithObserver(collector))

	registry, err := workspace.NewRegistry(workspace.Config{
		File:             cfg.Storage.WorkspacesFile,
		DataPath:         cfg.Storage.DataPath,
		DefaultWorkspace: cfg.Storage.DefaultWorkspace,
		VectorDSN:        cfg.Storage.VectorDSN,
	}, workspace.WithLogger(logger), workspace.WithEngineOptions(engineOpts...))
	if err != nil {
		return nil, fmt.Errorf("failed to load workspaces: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  collector,
		Registry: registry,
		events:   notify.NewEventWriter(cfg.Storage.DataPath, nil),
	}, nil
}

// EngineOptions translates the search, decay and model sections of cfg.
// With provider "none" no model is contacted.
func EngineOptions(cfg *config.Config, logger *zap.Logger) ([]engine.Option, error) {
	opts := []engine.Option{engine.WithConfig(cfg.EngineConfig())}
	if cfg.LLM.Provider != "ollama" {
		return opts, nil
	}

	client := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL:           cfg.LLM.OllamaURL,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Logger:            logger.Named("ollama"),
	})
	if cfg.LLM.Embeddings {
		opts = append(opts, engine.WithEmbedder(llm.OllamaEmbedder{OllamaClient: client}))
	}
	if cfg.LLM.Fallback {
		fallback, err := classify.NewLLMFallback(client, cfg.LLM.CacheSize,
			classify.WithFallbackLogger(logger.Named("classify")),
			classify.WithFallbackTimeout(cfg.LLM.Timeout))
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithLLMFallback(fallback))
	}
	return opts, nil
}

// Close closes every opened workspace.
func (a *App) Close() error {
	return a.Registry.Close()
}

// IndexNotes imports every markdown file under dir into workspace name and
// tells other processes to refresh.
func (a *App) IndexNotes(ctx context.Context, name, dir string) (*importer.ImportResult, error) {
	eng, err := a.Registry.Engine(ctx, name)
	if err != nil {
		return nil, err
	}
	res, err := importer.NewVaultImporter(eng, importer.WithLogger(a.Logger)).Import(ctx, dir)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = a.Registry.Default()
	}
	if err := a.events.Notify(notify.EventIndexed, name, dir); err != nil {
		a.Logger.Warn("failed to write change event", zap.Error(err))
	}
	return res, nil
}

// ServeMCP serves the MCP protocol on in/out until in closes or ctx is
// done. The HTTP endpoint, the change-event watcher and the notes watcher
// run alongside it when configured.
func (a *App) ServeMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := a.Config.Metrics.Addr; addr != "" {
		srv := server.New(a.Registry,
			server.WithLogger(a.Logger.Named("http")),
			server.WithMetrics(a.Metrics.Handler()),
			server.WithVersion(Version))
		if _, err := srv.Start(ctx, addr); err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}
	}

	events := notify.NewEventWatcher(a.Config.Storage.DataPath, a.Logger.Named("events"), func(e notify.Event) {
		a.refresh(ctx, e)
	})
	if err := events.Start(); err != nil {
		a.Logger.Warn("change events unavailable", zap.Error(err))
	} else {
		defer events.Stop()
	}

	if stop, err := a.watchNotes(ctx); err != nil {
		return err
	} else if stop != nil {
		defer stop()
	}

	srv := mcp.NewServer(a.Registry,
		mcp.WithLogger(a.Logger.Named("mcp")),
		mcp.WithToolObserver(a.Metrics),
		mcp.WithVersion(Version))
	a.Logger.Info("serving MCP on stdio", zap.String("version", Version))

	err := mcp.NewStdioTransport(srv, in, out, a.Logger.Named("stdio")).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchNotes indexes and then watches the configured notes directory for
// the default workspace. It returns nil when notes are not configured.
func (a *App) watchNotes(ctx context.Context) (func(), error) {
	notes := a.Config.Notes
	if notes.Path == "" {
		return nil, nil
	}
	if _, err := os.Stat(notes.Path); err != nil {
		return nil, fmt.Errorf("notes directory: %w", err)
	}
	eng, err := a.Registry.Engine(ctx, "")
	if err != nil {
		return nil, err
	}

	res, err := importer.NewVaultImporter(eng, importer.WithLogger(a.Logger)).Import(ctx, notes.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to index notes: %w", err)
	}
	a.Logger.Info("indexed notes",
		zap.String("dir", notes.Path),
		zap.Int("files", res.FilesProcessed),
		zap.Int("chunks", res.ChunksIndexed))

	if !notes.Watch {
		return nil, nil
	}
	w := notify.NewNotesWatcher(notes.Path, eng, notify.WithNotesLogger(a.Logger.Named("notes")))
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to watch notes: %w", err)
	}
	return w.Stop, nil
}

func (a *App) refresh(ctx context.Context, e notify.Event) {
	eng, err := a.Registry.Engine(ctx, e.Workspace)
	if err != nil {
		a.Logger.Debug("ignoring change event", zap.String("workspace", e.Workspace), zap.Error(err))
		return
	}
	if err := eng.Refresh(ctx); err != nil {
		a.Logger.Warn("refresh failed", zap.String("workspace", e.Workspace), zap.Error(err))
		return
	}
	a.Logger.Info("workspace refreshed", zap.String("workspace", e.Workspace), zap.String("event", e.Type))
}
