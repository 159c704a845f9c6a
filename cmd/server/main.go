// Command server starts the trapsight fleet server: it ingests field
// reports over HTTP, persists them to SQLite, and pushes live fleet
// state to attached observers over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trapsight/trapsight/internal/api"
	"github.com/trapsight/trapsight/internal/artifact"
	"github.com/trapsight/trapsight/internal/config"
	"github.com/trapsight/trapsight/internal/hub"
	"github.com/trapsight/trapsight/internal/metrics"
	"github.com/trapsight/trapsight/pkg/buildinfo"
	"github.com/trapsight/trapsight/pkg/fleet"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	logger := log.New(os.Stderr, "trapsight: ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	fmt.Fprintf(os.Stderr, "%s\n", buildinfo.String())

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	store, err := fleet.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	artifacts, err := artifact.NewStore(cfg.ImagesDir, cfg.BaseURL+"/api/v1/images")
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	agg := fleet.NewAggregator(store)

	observers := hub.New(hub.Config{
		Snapshot: agg.Snapshot,
		Buffer:   cfg.ObserverBuffer,
		Metrics:  m,
		Logger:   logger,
	})

	coordinator := fleet.NewCoordinator(fleet.CoordinatorConfig{
		Store:              store,
		Artifacts:          artifacts,
		Broadcast:          observers,
		Metrics:            m,
		Logger:             logger,
		RequireKnownDevice: cfg.RequireKnownDevice,
		Timeout:            cfg.IngestTimeout.Std(),
	})

	monitor := fleet.NewMonitor(fleet.MonitorConfig{
		Store:         store,
		Broadcast:     observers,
		Logger:        logger,
		CheckInterval: cfg.CheckInterval.Std(),
		OfflineAfter:  cfg.OfflineAfter.Std(),
	})

	handler := api.NewHandler(api.HandlerConfig{
		Store:          store,
		Coordinator:    coordinator,
		Hub:            observers,
		Artifacts:      artifacts,
		AdminKey:       cfg.AdminKey,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(handler, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s (db=%s images=%s)", cfg.ListenAddr, cfg.DBPath, cfg.ImagesDir)
		if cfg.AdminKey == "" {
			logger.Printf("no admin key configured, destructive endpoints are open (development mode)")
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
