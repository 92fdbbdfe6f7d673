// Command proxy runs the failure-lambda chaos proxy: it sits between a
// serverless runtime and its Runtime API, injecting configured failures
// based on a centrally managed feature-flag configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/logging"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/orchestrator"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/settings"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/source"
	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Chaos-engineering intercepting proxy for a serverless Runtime API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	return cmd
}

func run() error {
	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("missing or invalid startup configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		Filename: cfg.Log.Filename,
	})

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	ttl, warnInvalid, warnRedundant := cfg.CacheTTL(source.DefaultCacheTTL)
	if warnInvalid {
		logger.Warn("invalid FAILURE_CACHE_TTL value, using default", "default_seconds", source.DefaultCacheTTL.Seconds())
	}
	if warnRedundant {
		logger.Warn("explicit cache TTL set alongside application-config source, which already caches")
	}

	var appConfigFetcher *source.AppConfigFetcher
	if cfg.UsesAppConfig() {
		appConfigFetcher = &source.AppConfigFetcher{
			Port:          cfg.AppConfigExtensionPort,
			Application:   cfg.AppConfigApplication,
			Environment:   cfg.AppConfigEnvironment,
			Configuration: cfg.AppConfigConfiguration,
		}
	}

	var paramStoreFetcher *source.ParameterStoreFetcher
	if cfg.UsesParameterStore() {
		paramStoreFetcher = &source.ParameterStoreFetcher{
			Client: source.NewHTTPParameterStoreClient(os.Getenv("AWS_SESSION_TOKEN")),
			Name:   cfg.ParameterStoreParam,
		}
	}

	fetcher := source.Select(appConfigFetcher, paramStoreFetcher)
	cache := source.NewCache(fetcher, ttl, logger)

	upstreamClient := upstream.New(cfg.OriginalRuntimeAPI)
	orch := orchestrator.New(upstreamClient, cache, cfg.ScratchDir, cfg.IsDisabled(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := orch.Start(ctx, fmt.Sprintf("127.0.0.1:%d", cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	reconciler, err := orchestrator.NewReconciler(orch, cfg.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	reconciler.Start()
	defer reconciler.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "action", "listen", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "action", "shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
