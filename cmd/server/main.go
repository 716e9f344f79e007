package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"myapi/internal/platform/config"
	"myapi/internal/platform/httpserver"
	"myapi/internal/platform/logger"
	"myapi/internal/platform/tracing"
)

const purgeInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// run wires the application and blocks until ctx is cancelled or a
// background component fails.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	srv := httpserver.New(cfg.Server.Addr, app.router, cfg.Server.ReadHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if app.relay != nil {
		g.Go(func() error { return app.relay.Run(gctx) })
	}
	if app.hub != nil {
		g.Go(func() error { return app.hub.Run(gctx) })
	}
	if app.buckets != nil {
		g.Go(func() error {
			return app.buckets.RunJanitor(gctx, time.Minute, app.bucketIdle)
		})
	}
	if len(app.purges) > 0 {
		g.Go(func() error { return runPurges(gctx, app.purges, log) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runPurges(ctx context.Context, purges []purge, log *slog.Logger) error {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range purges {
				n, err := p.run(ctx)
				if err != nil {
					log.WarnContext(ctx, "purge failed", "store", p.name, "error", err)
					continue
				}
				if n > 0 {
					log.InfoContext(ctx, "purged expired rows", "store", p.name, "count", n)
				}
			}
		}
	}
}
