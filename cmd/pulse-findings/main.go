// Command pulse-findings runs the findings lifecycle and prioritization
// service: it pulls alert and patrol feeds from the monitoring backend,
// maintains the unified finding set, and serves the dashboard API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rcourtman/pulse-findings/internal/api"
	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/audit"
	"github.com/rcourtman/pulse-findings/internal/client"
	"github.com/rcourtman/pulse-findings/internal/config"
	"github.com/rcourtman/pulse-findings/internal/findings"
	"github.com/rcourtman/pulse-findings/internal/investigation"
	"github.com/rcourtman/pulse-findings/internal/logging"
	"github.com/rcourtman/pulse-findings/internal/remediation"
	"github.com/rcourtman/pulse-findings/internal/websocket"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "pulse-findings",
		Short:   "Findings lifecycle and prioritization service",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return run(envFile)
		},
	}
	rootCmd.Flags().String("env-file", "", "path to .env file (watched for changes)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pulse-findings %s (built %s)\n", Version, BuildTime)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: "findings",
	})
	log.Info().Str("version", Version).Str("backend", cfg.BackendURL).Msg("Starting pulse-findings")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	findings.InitMetrics()

	backend := client.New(cfg.BackendURL, cfg.BackendToken)

	store := findings.NewStore(findings.NewFilePersistence(cfg.DataDir))
	approvals := approval.NewStore(cfg.DataDir)
	plans := remediation.NewStore()
	sessions := investigation.NewStore(backend)

	dispatcher := findings.NewDispatcher(store, backend)
	resolver := findings.NewResolver(approvals, sessions, plans)
	engine := findings.NewEngine(store, dispatcher, resolver, approvals)

	scope := findings.Scope{
		ResourceIDs:   cfg.ScopeResourceIDs,
		ResourceTypes: cfg.ScopeResourceTypes,
	}

	hub := websocket.NewHub(func() interface{} {
		return engine.Snapshot(context.Background(), scope)
	})
	go hub.Run()
	store.OnChanged(hub.NotifyFindingsChanged)
	dispatcher.OnNotice(func(n findings.Notice) {
		hub.Broadcast(websocket.TypeNotice, n)
	})

	auditLog, err := audit.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	normalizer := findings.NewNormalizer(findings.DefaultNormalizerConfig())
	refresher := findings.NewRefresher(backend, normalizer, store, dispatcher,
		plans, approvals, sessions, cfg.RefreshInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	approvals.StartCleanup(ctx)
	go refresher.Run(ctx)

	watcher := config.NewWatcher(cfg.EnvFile, func(r config.Reload) {
		if r.LogLevel != "" {
			if err := logging.SetLevel(r.LogLevel); err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid log level from reload")
			}
		}
		if r.RefreshInterval > 0 {
			refresher.SetInterval(r.RefreshInterval)
		}
	})
	watcher.Start(ctx)
	defer watcher.Stop()

	router := api.NewRouter(engine, approvals, auditLog, hub, scope)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	dispatcher.Close()
	store.ForceSave()
	if err := auditLog.Close(); err != nil {
		log.Warn().Err(err).Msg("Audit log close failed")
	}
	log.Info().Msg("Shutdown complete")
	return nil
}
