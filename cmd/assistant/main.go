// Command assistant is a terminal client for the medical scan assistant. It
// keeps the backend session id in a local state file between runs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediassist/internal/assistant"
	"mediassist/internal/backend"
	"mediassist/internal/cache"
	"mediassist/internal/config"
	"mediassist/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	backendURL := flag.String("backend", cfg.Backend.BaseURL, "analysis service base URL")
	stateFile := flag.String("state", cfg.CLI.StateFile, "file holding the persisted session id")
	timeout := flag.Duration("timeout", cfg.BackendTimeout(), "per-request timeout, 0 for none")
	logLevel := flag.String("log-level", "warn", "log level written to stderr")
	flag.Parse()

	logging.Setup(os.Stderr, *logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(*backendURL, *timeout)
	session := assistant.NewSession(client, cache.NewFileStore(*stateFile), assistant.Options{
		StoreKey:        cfg.Assistant.SessionKey,
		Greeting:        cfg.Assistant.Greeting,
		MaxScanBytes:    cfg.Assistant.MaxScanBytes,
		PreviewEdge:     cfg.Assistant.PreviewMaxEdge,
		NotificationTTL: time.Duration(cfg.Assistant.NotificationTTLSeconds) * time.Second,
	})
	defer session.Close()
	session.Restore(ctx)

	r := newREPL(session, client, os.Stdin, os.Stdout)
	if err := r.Run(ctx); err != nil {
		slog.Error("assistant exited", "error", err)
		os.Exit(1)
	}
}
