package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/msomdec/minddump/internal/config"
	"github.com/msomdec/minddump/internal/database"
	"github.com/msomdec/minddump/internal/handler"
	"github.com/msomdec/minddump/internal/repository"
	"github.com/msomdec/minddump/internal/service"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("minddump stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	logOpts := &slog.HandlerOptions{Level: level}
	logger := slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, logOpts),
		slog.NewJSONHandler(os.Stderr, logOpts),
	))
	slog.SetDefault(logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.New(cfg.Database.Path,
		database.WithLogger(logger.With("component", "database")),
		database.WithBuffer(cfg.Database.Buffer),
	)
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("close database", "error", err)
		}
	}()

	// Open and migrate before accepting requests.
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	slog.Info("database ready", "path", cfg.Database.Path)

	notes := service.NewNoteService(
		repository.NewNoteRepository(db, repository.WithLogger(logger.With("component", "repository"))),
		repository.NewGifRepository(db),
	)
	limiter := service.NewTokenBucket(ctx, cfg.RateLimit.Rate, cfg.RateLimit.Burst)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, db, notes, limiter)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.RequestLogger(logger.With("component", "http"), handler.SecurityHeaders(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})
	return g.Wait()
}
