package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nixpig/trainworker/internal/jobmanager"
)

const httpShutdownTimeout = 5 * time.Second

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// run serves until ctx is cancelled or a client calls Terminate. Either way
// every job is killed before it returns.
func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	manager, err := jobmanager.NewManager(cfg.managerConfig(), logger)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	srv, err := newServer(manager, logger, cfg.tlsConfig())
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.host, cfg.port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	addr := listener.Addr().String()

	if err := writeAddr(cfg.addrPath(), addr); err != nil {
		listener.Close()
		return err
	}

	defer func() {
		if err := os.Remove(cfg.addrPath()); err != nil &&
			!errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove address file", "err", err)
		}
	}()

	var httpServer *http.Server

	if cfg.httpAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.httpAddr,
			Handler:           newHTTPHandler(manager, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				logger.Error("serve http", "err", err)
			}
		}()

		logger.Info("http status endpoint started", "addr", cfg.httpAddr)
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.serve(listener)
	}()

	logger.Info(
		"server started",
		"addr", addr,
		"tls", cfg.tlsConfig().Enabled(),
		"limit", cfg.limit,
	)

	var runErr error

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
		manager.Terminate()

	case <-manager.Terminated():
		logger.Info("shutting down", "cause", "terminate requested")
		manager.Terminate()

	case err := <-serveErr:
		manager.Terminate()
		runErr = fmt.Errorf("serve: %w", err)
	}

	srv.shutdown()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			httpShutdownTimeout,
		)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shut down http server", "err", err)
		}
	}

	return runErr
}

// writeAddr records the address the server is listening on so clients can
// find it without being told.
func writeAddr(path, addr string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("make state dir: %w", err)
	}

	if err := os.WriteFile(path, []byte(addr+"\n"), 0644); err != nil {
		return fmt.Errorf("write address file: %w", err)
	}

	return nil
}
