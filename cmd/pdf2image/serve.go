package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"pdf2image/internal/app"
	"pdf2image/internal/convert"
	"pdf2image/internal/ledger"
	"pdf2image/internal/rasterizer"
	u "pdf2image/internal/utils"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the conversion HTTP server",
		Example: `  # Serve with ./config.yaml
  pdf2image serve

  # Serve with an explicit config file
  CONFIG_PATH=/etc/pdf2image.yaml pdf2image serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func initLogging(cfg u.Config) {
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	u.SetLogLevel(cfg.Logger.Level)
}

// newConverter builds the scratch store, rasterizer and optional ledger.
// The returned cleanup closes the ledger.
func newConverter(ctx context.Context, cfg u.Config) (*convert.Converter, func(), error) {
	store, err := convert.NewStore(cfg.Convert.ScratchDir)
	if err != nil {
		return nil, nil, err
	}

	raster, err := rasterizer.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := convert.Options{
		Timeout:     time.Duration(cfg.Convert.TimeoutSecs) * time.Second,
		JPEGQuality: cfg.Convert.JPEGQuality,
	}
	cleanup := func() {}

	if ledger.Enabled(cfg.Ledger.Postgres) {
		l, err := ledger.Open(ctx, cfg.Ledger.Postgres)
		if err != nil {
			u.Error("Rendered page ledger unavailable", "error", err)
		} else {
			opts.Recorder = l
			cleanup = func() { _ = l.Close() }
		}
	}

	return convert.New(store, raster, opts), cleanup, nil
}

func runServe() error {
	cfg := u.LoadConfig()
	initLogging(cfg)

	conv, cleanup, err := newConverter(context.Background(), cfg)
	if err != nil {
		u.Error("Failed to prepare converter", "error", err)
		return fmt.Errorf("prepare converter: %w", err)
	}
	defer cleanup()

	var rdb *redis.Client
	if cfg.Cache.RenderCacheEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RenderCacheDB,
		})
		defer rdb.Close()
	}

	u.Info("Starting server",
		"addr", cfg.Server.Host+cfg.Server.Port,
		"scratch_dir", cfg.Convert.ScratchDir,
		"rasterizer", cfg.Convert.Rasterizer,
	)

	idleConnsClosed := make(chan struct{})
	if err := startServer(app.SetupApp(cfg, conv, rdb), cfg, idleConnsClosed); err != nil {
		return err
	}
	<-idleConnsClosed
	return nil
}

// startServer starts the Fiber app and blocks until a shutdown signal
// arrives or the listener fails. idleConnsClosed is closed in both cases.
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) error {
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.Server.Host + cfg.Server.Port)
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)

	select {
	case err := <-listenErr:
		close(idleConnsClosed)
		if err != nil {
			u.Error("Server error", "error", err)
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-sigint:
	}

	u.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
	return nil
}
