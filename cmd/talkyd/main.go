// Package main is the entry point for the talky store daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirco-team/talky/internal/backend"
	"github.com/sirco-team/talky/internal/call"
	"github.com/sirco-team/talky/internal/config"
	"github.com/sirco-team/talky/internal/store"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from flag if provided
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("talky store starting",
		"config", *configPath,
		"backend", cfg.Backend,
		"data_path", cfg.DataPath,
	)

	var cb backend.ContentBackend
	switch cfg.Backend {
	case "github":
		gh, err := backend.NewGitHub(backend.GitHubOpts{
			Owner:   cfg.GitHubOwner,
			Repo:    cfg.GitHubRepo,
			Branch:  cfg.GitHubBranch,
			Token:   cfg.GitHubToken,
			APIBase: cfg.GitHubAPIBase,
		})
		if err != nil {
			logger.Error("Failed to create github backend", "error", err)
			os.Exit(1)
		}
		cb = gh
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0700); err != nil {
			logger.Error("Failed to create data directory", "error", err)
			os.Exit(1)
		}
		db, err := backend.NewSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Error("Failed to open sqlite backend", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		cb = db
	case "memory":
		cb = backend.NewMemory()
	}

	st := store.New(cfg, cb, logger)
	defer st.Close()

	callSvc := call.NewService(cfg, st, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warm the cache so a broken backend surfaces at startup, not on the
	// first request.
	if _, err := st.Load(ctx); err != nil {
		logger.Warn("initial document load failed, continuing", "error", err)
	}

	// Background sweep of expired rings and long-ended calls.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := callSvc.Sweep(ctx); err != nil {
					logger.Warn("call sweep failed", "error", err)
				}
				stats := st.Stats()
				logger.Debug("store stats",
					"writes", stats.Writes,
					"conflicts_dropped", stats.ConflictsDropped,
					"retries", stats.Retries,
					"queue_depth", stats.QueueDepth,
				)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())
	cancel()

	// Deferred st.Close drains the write queue before the process exits.
}
