package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nibble-app/nibblesync/internal/config"
	"github.com/nibble-app/nibblesync/internal/conflict"
	"github.com/nibble-app/nibblesync/internal/db"
	"github.com/nibble-app/nibblesync/internal/orchestrator"
	"github.com/nibble-app/nibblesync/internal/queue"
	"github.com/nibble-app/nibblesync/internal/remote"
	"github.com/nibble-app/nibblesync/internal/store"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting nibblesync",
		"scope", cfg.Scope,
		"remote", cfg.Remote.BaseURL)

	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err, "dsn", cfg.Database.DSN)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	localStore := store.NewSQLite(database, logger)
	syncQueue := queue.New(database, logger)

	resolver, err := conflict.New(cfg.Conflict, logger)
	if err != nil {
		slog.Error("failed to build conflict resolver", "error", err)
		os.Exit(1)
	}

	client := remote.NewREST(cfg.Remote, logger)

	probe, err := remote.NewProbe(cfg.Remote.BaseURL, 0, logger)
	if err != nil {
		slog.Error("failed to build connectivity probe", "error", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(
		cfg.Scope,
		cfg.Sync,
		localStore,
		client,
		syncQueue,
		resolver,
		database,
		probe,
		logger,
	)
	if err != nil {
		slog.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go probe.Run(ctx)
	go logEvents(ctx, orch, logger)

	slog.Info("nibblesync is running", "interval", cfg.Sync.Interval)
	orch.SyncNow()
	orch.Run(ctx)

	slog.Info("shutting down")
	orch.Close()
}

// logEvents surfaces sync lifecycle events in the daemon log. An
// embedding application would consume these instead.
func logEvents(ctx context.Context, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-orch.Events():
			if !ok {
				return
			}
			switch msg := ev.(type) {
			case orchestrator.SyncCompletedMsg:
				logger.Info("sync completed",
					"uploaded", msg.Uploaded,
					"downloaded", msg.Downloaded,
					"conflicts", msg.Conflicts,
					"resolved", msg.Resolved)
			case orchestrator.SyncFailedMsg:
				logger.Warn("sync failed", "fatal", msg.Fatal, "error", msg.Reason)
			case orchestrator.ConflictDetectedMsg:
				logger.Warn("conflict awaiting manual resolution", "record_id", msg.RecordID)
			case orchestrator.WentOfflineMsg:
				logger.Info("sync deferred until reconnect")
			}
		}
	}
}

// buildLogger constructs the slog logger, rotating via lumberjack
// when a log file is configured
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
