package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rendis/conductor/internal/archive"
	"github.com/rendis/conductor/internal/executor"
	"github.com/rendis/conductor/internal/logging"
	"github.com/rendis/conductor/internal/planner"
	"github.com/rendis/conductor/internal/registry"
	"github.com/rendis/conductor/internal/run"
	"github.com/rendis/conductor/internal/streaming"
	"github.com/rendis/conductor/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := serve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	arch, err := archive.NewLibSQLArchive(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer arch.Close()
	if err := arch.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}

	registries, err := registry.NewLoader(cfg.RegistriesDir)
	if err != nil {
		return fmt.Errorf("load registries: %w", err)
	}

	p, err := buildPlanner(cfg)
	if err != nil {
		return fmt.Errorf("build planner: %w", err)
	}

	orc := &run.Orchestrator{
		Planner:    p,
		Executor:   &executor.Simulated{StepDelay: cfg.stepDelay()},
		Archivist:  arch,
		Registries: registries,
		Logger:     logger,
	}

	runs := mcp.NewRunManager(orc, streaming.NewMemoryHub(), logger)
	defer runs.CancelAll()

	srv := mcp.NewConductorServer(mcp.ConductorServerDeps{
		Runs:       runs,
		Archive:    arch,
		Querier:    archive.NewQuerier(),
		Registries: registries,
		Logger:     logger,
	})

	logger.InfoContext(ctx, "conductor ready",
		"version", version,
		"db_path", cfg.DBPath,
		"planner", cfg.PlannerMode,
	)

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoContext(ctx, "conductor stopped")
	return nil
}

func buildPlanner(cfg Config) (planner.Planner, error) {
	switch cfg.PlannerMode {
	case "llm":
		return planner.NewLLM(planner.LLMConfig{
			APIKey:  cfg.PlannerAPIKey,
			Model:   cfg.PlannerModel,
			BaseURL: cfg.PlannerBaseURL,
		})
	case "", "scripted":
		return &planner.Scripted{}, nil
	default:
		return nil, fmt.Errorf("unknown planner mode %q", cfg.PlannerMode)
	}
}

// newLogger builds the process logger. Logs go to stderr; stdout belongs to
// the MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
