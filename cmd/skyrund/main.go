// Copyright 2025 Skyvern Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command skyrund is the execution-substrate daemon: it exposes the
// §6.1 REST surface over browser sessions, tasks and workflow runs.
// Flags override a loaded config, a logger is installed before
// anything else runs, and SIGINT/SIGTERM trigger a graceful shutdown.
// Flag parsing is wired through cobra.
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

	"github.com/spf13/cobra"

	"github.com/skyvern-go/skyrun/internal/api"
	"github.com/skyvern-go/skyrun/internal/blobstore"
	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/config"
	"github.com/skyvern-go/skyrun/internal/email"
	"github.com/skyvern-go/skyrun/internal/log"
	"github.com/skyvern-go/skyrun/internal/metrics"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/ratelimit"
	"github.com/skyvern-go/skyrun/internal/secretsapi"
	"github.com/skyvern-go/skyrun/internal/session"
	"github.com/skyvern-go/skyrun/internal/storage/memory"
	"github.com/skyvern-go/skyrun/internal/task"
	"github.com/skyvern-go/skyrun/internal/webhook"
	"github.com/skyvern-go/skyrun/internal/workflow"
	"github.com/skyvern-go/skyrun/internal/workflow/block"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath, listenAddr string

	root := &cobra.Command{
		Use:           "skyrund",
		Short:         "skyrund runs the Skyvern execution-substrate daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, listenAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	root.Flags().StringVar(&listenAddr, "listen", "", "Listen address override (host:port)")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("skyrund %s (commit %s)\n", version, commit)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skyrund: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddr != "" {
		cfg.Listen.Addr = listenAddr
	}

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	if cfg.Backend.Type != "memory" {
		logger.Warn("unsupported backend, falling back to memory", slog.String("requested", cfg.Backend.Type))
	}
	store := memory.New()

	clk := clock.Real{}

	metricsProvider, err := metrics.NewProvider()
	if err != nil {
		return fmt.Errorf("start metrics provider: %w", err)
	}
	collector, err := metrics.NewCollector(metricsProvider.Meter())
	if err != nil {
		return fmt.Errorf("register metrics instruments: %w", err)
	}

	// The browser.Driver a real deployment launches against (a CDP
	// client, a remote grid) is an external capability left
	// unspecified (§6 names Driver as a capability boundary); browser.Fake
	// is the reference implementation wired here so the daemon is
	// runnable out of the box.
	driverFactory := func(ctx context.Context, lc browser.LaunchConfig) (browser.Driver, error) {
		return browser.NewFake(), nil
	}
	sessions := session.New(store, clk, driverFactory, session.Limits{
		GlobalMax:      cfg.Session.GlobalMax,
		PerTenantMax:   cfg.Session.PerTenantMax,
		AcquireTimeout: cfg.Session.AcquireTimeout,
		IdleTTL:        cfg.Session.IdleTTL,
		MaxRecoveries:  cfg.Session.MaxRecoveries,
	}).WithMetrics(collector)

	webhookClient := &http.Client{Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second}
	webhooks := webhook.NewDelivery(webhookClient, clk, logger)
	webhooks.Metrics = collector

	// DecisionOracle is likewise an external AI capability (§6.5): the
	// core never inspects a prompt or response shape. oracle.Fake is a
	// deterministic stand-in; production deployments provide their own
	// Oracle wired in at this call site.
	dec := oracle.NewFake()
	blobs := blobstore.NewMemory()

	eng := &task.Engine{
		Store:     store,
		Artifacts: store,
		Blobs:     blobs,
		Sessions:  sessions,
		Oracle:    dec,
		Clock:     clk,
		Webhooks:  webhooks,
		Logger:    logger,
		Metrics:   collector,
	}

	masker := secretsapi.NewMasker()
	orch := workflow.New(workflow.Deps{
		Runs:       store,
		Tasks:      store,
		Sessions:   sessions,
		TaskEngine: eng,
		Oracle:     dec,
		Blobs:      blobs,
		Email:      email.NewFake(),
		HTTP:       block.NewHTTPClient(),
		Masker:     masker,
		Clock:      clk,
		Webhooks:   webhooks,
		Metrics:    collector,
		Logger:     logger,
	})

	var auth *api.TenantAuthenticator
	if cfg.Auth.JWTSecret != "" {
		auth = &api.TenantAuthenticator{Secret: []byte(cfg.Auth.JWTSecret), Logger: logger}
	}
	limiter := ratelimit.New(clk)

	taskHandler := api.NewTaskHandler(store, eng, clk, logger)
	runHandler := api.NewWorkflowRunHandler(store, store, orch, clk, logger)
	router := api.NewRouter(taskHandler, runHandler, metricsProvider, auth, limiter, logger)

	srv := &http.Server{Addr: cfg.Listen.Addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("skyrund listening", slog.String("addr", cfg.Listen.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server error", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	if err := metricsProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown error", slog.Any("error", err))
	}
	return nil
}
