package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sendgate/sendgate/internal/audit"
	"github.com/sendgate/sendgate/internal/config"
	"github.com/sendgate/sendgate/internal/keystore"
	"github.com/sendgate/sendgate/internal/keystore/memory"
	"github.com/sendgate/sendgate/internal/keystore/redis"
	"github.com/sendgate/sendgate/internal/server"
	"github.com/sendgate/sendgate/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer("sendgate", logger)
	if err != nil {
		logger.Error("failed to init tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	store, closeStore, err := newKeyStore(cfg, logger)
	if err != nil {
		logger.Error("failed to connect key store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	auditMW, closeAudit, err := newAudit(cfg, logger)
	if err != nil {
		logger.Error("failed to open audit sink", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeAudit()

	srv, err := server.New(cfg, server.Options{Store: store, Audit: auditMW}, logger)
	if err != nil {
		logger.Error("failed to build server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

// newKeyStore picks Redis when an address is configured, otherwise the
// in-process store. The in-process store does not survive restarts and is
// per-instance, so counters and sessions reset on deploy.
func newKeyStore(cfg *config.Config, logger *slog.Logger) (keystore.Store, func(), error) {
	if cfg.KeyStore.Addr == "" {
		logger.Warn("no key store address configured, using in-process store")
		return memory.New(), func() {}, nil
	}

	rs := redis.New(redis.Config{
		Addr:     cfg.KeyStore.Addr,
		Password: cfg.KeyStore.Password,
		DB:       cfg.KeyStore.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		return nil, nil, err
	}
	logger.Info("connected to redis", slog.String("addr", cfg.KeyStore.Addr))
	return rs, func() { _ = rs.Close() }, nil
}

// newAudit builds the audit middleware, with the SQLite sink attached when a
// path is configured.
func newAudit(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, func(), error) {
	opts := audit.Options{
		Verbose: cfg.Audit.Verbose,
		MaxBody: cfg.Audit.MaxBody,
	}
	closeSink := func() {}
	if cfg.Audit.SQLitePath != "" {
		sink, err := audit.NewSQLStore(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		opts.Sink = sink
		closeSink = func() { _ = sink.Close() }
		logger.Info("audit sink enabled", slog.String("path", cfg.Audit.SQLitePath))
	}
	return audit.NewLogger(logger, opts).Middleware, closeSink, nil
}
