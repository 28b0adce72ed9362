package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/courier/internal/classify"
	"github.com/ShayCichocki/courier/internal/config"
	"github.com/ShayCichocki/courier/internal/decision"
	"github.com/ShayCichocki/courier/internal/delegation"
	"github.com/ShayCichocki/courier/internal/notify"
	"github.com/ShayCichocki/courier/internal/orchestrator"
	"github.com/ShayCichocki/courier/internal/session"
	"github.com/ShayCichocki/courier/internal/state"
	"github.com/ShayCichocki/courier/internal/webhook"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = time.Hour
)

var (
	serveAddr     string
	serveDebugLog string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook endpoint and session intake API",
	Long: `Run courier as a service.

The server accepts signed webhook callbacks from the remote agent, exposes
the session intake API under /sessions, and serves /healthz and /metrics.

On start, sessions left running by a previous process are marked failed.
Terminal sessions older than storage.retention_days are removed hourly.
When tables_path is set, edits to the table file are picked up live.

SIGINT or SIGTERM cancels running sessions and shuts down gracefully.

Examples:
  courier serve
  courier serve --addr :9090
  courier serve --debug-log /tmp/courier-orchestrator.log`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides webhook.addr)")
	serveCmd.Flags().StringVar(&serveDebugLog, "debug-log", "", "Write orchestrator debug output to this file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Webhook.Addr = serveAddr
	}
	if cfg.Webhook.Secret == "" {
		log.Printf("[serve] webhook.secret is not set; callbacks are accepted unsigned")
	}

	apiKey, err := config.GetAPIKey(cfg)
	if err != nil {
		return fmt.Errorf("%w (set %s_REMOTE_API_KEY or remote.api_key)", err, config.EnvPrefix)
	}
	if err := config.ValidateAPIKey(apiKey); err != nil {
		return err
	}
	client, err := delegation.NewFromConfig(cfg.Remote, apiKey)
	if err != nil {
		return fmt.Errorf("create delegation client: %w", err)
	}

	tables, err := loadTables(cfg)
	if err != nil {
		return err
	}
	classifier := classify.New(tables)
	engine := decision.New(cfg.Decision, tables)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	correlator, err := webhook.NewCorrelator(cfg.Webhook.Secret, cfg.Webhook.DedupeSize)
	if err != nil {
		return fmt.Errorf("create correlator: %w", err)
	}

	notifier := notify.FromConfig(cfg.Notify)
	log.Printf("[serve] reporters: %s", strings.Join(notifier.Reporters(), ", "))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orchOpts := []orchestrator.Option{orchestrator.WithMetrics(orchestrator.MustNewMetrics(reg))}
	if serveDebugLog != "" {
		logger, err := orchestrator.NewDebugLogger(serveDebugLog)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer logger.Close()
		orchestrator.SetPackageLogger(logger)
		orchOpts = append(orchOpts, orchestrator.WithDebugLogger(logger))
	}

	manager, err := session.NewManager(store, classifier, engine, client,
		orchestrator.ConfigFrom(cfg.Orchestrator, cfg.Remote),
		session.WithNotifier(notifier),
		session.WithOrchestratorOptions(orchOpts...),
		session.WithPendingEvents(cfg.Webhook.DedupeSize),
	)
	if err != nil {
		return err
	}
	manager.Attach(correlator)
	if n, err := manager.Recover(); err != nil {
		return err
	} else if n > 0 {
		log.Printf("[serve] marked %d interrupted sessions failed", n)
	}

	server := webhook.NewServer(cfg.Webhook, correlator,
		webhook.WithRegistry(reg),
		webhook.WithRoutes(manager.Routes),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		runCleanup(gctx, store, cfg.Storage.RetentionDays)
		return nil
	})
	if cfg.TablesPath != "" {
		g.Go(func() error {
			err := config.WatchTables(gctx, cfg.TablesPath, func(t *config.Tables) {
				classifier.SetTables(t)
				engine.SetTables(t)
			})
			if err != nil {
				log.Printf("[serve] table reload disabled: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[serve] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
		if err := manager.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		if err := notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
		delivered, failed := notifier.Stats()
		log.Printf("[serve] notifications delivered=%d failed=%d", delivered, failed)
		return errors.Join(errs...)
	})
	return g.Wait()
}

// runCleanup removes old terminal sessions now and then every
// cleanupInterval until ctx is done.
func runCleanup(ctx context.Context, store state.SessionWriter, days int) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		n, err := store.CleanupOlderThan(days)
		switch {
		case err != nil:
			log.Printf("[serve] session cleanup failed: %v", err)
		case n > 0:
			log.Printf("[serve] removed %d sessions older than %d days", n, days)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
