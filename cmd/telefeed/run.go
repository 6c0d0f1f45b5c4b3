package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fink5984/telefeed/internal/bus"
	"github.com/fink5984/telefeed/internal/channel"
	"github.com/fink5984/telefeed/internal/delivery"
	"github.com/fink5984/telefeed/internal/metrics"
	"github.com/fink5984/telefeed/internal/orchestrator"
	"github.com/fink5984/telefeed/internal/registry"
	"github.com/fink5984/telefeed/internal/routes"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a relay worker for every enabled account",
		RunE:  runRelay,
	}
}

func openRegistry() (registry.Registry, error) {
	return registry.Open(cfg.Registry.Driver, cfg.Registry.Path, registry.Options{
		BaseDir:          cfg.Registry.BaseDir,
		DefaultRoutesDir: filepath.Dir(cfg.Registry.Path),
		Logger:           logger,
	})
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := openRegistry()
	if err != nil {
		return fmt.Errorf("account registry: %w", err)
	}
	if c, ok := reg.(interface{ Close() error }); ok {
		defer c.Close()
	}

	events := bus.NewEventBus(logger)
	collector := metrics.NewCollector()
	metrics.NewRecorder(collector).Attach(events)

	scheduler := routes.NewScheduler(routes.SchedulerConfig{
		Interval: time.Duration(cfg.Routes.ReloadEverySeconds) * time.Second,
		Defaults: cfg.RuleDefaults(),
		Watch:    cfg.Routes.Watch,
		Events:   events,
		Logger:   logger,
	})

	transport := channel.NewTelegram(channel.TelegramConfig{
		APIEndpoint: cfg.Telegram.APIEndpoint,
		PollTimeout: cfg.Telegram.PollTimeout,
		Logger:      logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Registry:     reg,
		Transport:    transport,
		Scheduler:    scheduler,
		Engine:       delivery.New(delivery.Config{Events: events, Logger: logger}),
		SyncInterval: time.Duration(cfg.Routes.SyncEverySeconds) * time.Second,
		Commands:     cfg.Commands.Enabled,
		OwnerID:      cfg.Commands.OwnerID,
		Events:       events,
		Logger:       logger,
	})

	if cfg.Metrics.Enabled {
		go func() {
			if err := serveMetrics(ctx, cfg.Metrics.Addr, collector, orch); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("relay started. Press Ctrl+C to stop.",
		"registry", cfg.Registry.Path, "driver", cfg.Registry.Driver,
		"reload_every", cfg.Routes.ReloadEverySeconds)

	if err := orch.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// serveMetrics exposes /metrics and /status until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, c *metrics.Collector, orch *orchestrator.Orchestrator) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", c.Handler())
	mux.HandleFunc("GET /status", statusHandler(orch))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server started", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"version":  version,
			"accounts": orch.Status(),
		})
	}
}
