package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/reconnect/pkg/api"
	"github.com/cuemby/reconnect/pkg/bundle"
	"github.com/cuemby/reconnect/pkg/config"
	"github.com/cuemby/reconnect/pkg/deriver"
	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/health"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/provider"
	"github.com/cuemby/reconnect/pkg/queue"
	"github.com/cuemby/reconnect/pkg/reconciler"
	"github.com/cuemby/reconnect/pkg/scanner"
	"github.com/cuemby/reconnect/pkg/storage"
	"github.com/cuemby/reconnect/pkg/submitter"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconnection service",
	Long: `Run the reconnection service: the job queue workers, the ledger
scanner, the provider health monitor and the admin API.

Configuration is read from --config (YAML) and environment variables such
as FREQUENCY_URL, PROVIDER_BASE_URL and PROVIDER_ACCOUNT_SEED_PHRASE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().String("api-addr", "", "Admin API listen address (overrides API_ADDR)")
	serveCmd.Flags().String("data-dir", "", "Data directory for the job queue (overrides DATA_DIR)")
	serveCmd.Flags().String("admin-token", "", "Bearer token required for admin API writes (default $RECONNECT_ADMIN_TOKEN)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("api-addr"); addr != "" {
		cfg.APIAddr = addr
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	adminToken, _ := cmd.Flags().GetString("admin-token")
	if adminToken == "" {
		adminToken = os.Getenv("RECONNECT_ADMIN_TOKEN")
	}

	if !cmd.Flags().Changed("log-level") {
		log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON, Output: os.Stderr})
	}
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	graphCfg, err := cfg.GraphConfig()
	if err != nil {
		return err
	}
	schemas, err := graph.NewSchemaTable(graphCfg)
	if err != nil {
		return err
	}
	engine, err := graph.NewMemoryEngine(graphCfg)
	if err != nil {
		return err
	}

	client, err := ledger.Open(cfg.LedgerURL, cfg.LedgerFixture)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentLedger, false, err.Error())
		return fmt.Errorf("failed to connect to ledger: %w", err)
	}
	metrics.RegisterComponent(metrics.ComponentLedger, true, "")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	q, err := queue.New(store, queue.Config{
		Concurrency:     cfg.WorkerConcurrency,
		DefaultAttempts: 1,
		Backoff:         cfg.WebhookRetryInterval,
	}, broker)
	if err != nil {
		return err
	}

	fetcher := provider.NewFetcher(provider.Config{
		BaseURL:          cfg.ProviderBaseURL,
		AccessToken:      cfg.ProviderAccessToken,
		PageSize:         cfg.ProviderPageSize,
		FailureThreshold: cfg.WebhookFailureThreshold,
		RetryInterval:    cfg.WebhookRetryInterval,
	}, broker)

	builder := bundle.NewBuilder(client, schemas)
	account := ledger.NewAccount(cfg.ProviderAccountSeedPhrase)
	rec := reconciler.New(reconciler.Options{
		Fetcher:   fetcher,
		Bundles:   builder,
		Deriver:   deriver.New(client, schemas, builder, q, 8),
		Engine:    engine,
		Submitter: submitter.New(client, account, broker),
		Queue:     q,
		Publisher: broker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewHTTPChecker(cfg.ProviderBaseURL + "/health").WithBearerToken(cfg.ProviderAccessToken)
	monitor := provider.NewMonitor(checker, health.Config{
		Interval:         cfg.HealthCheckRetryInterval,
		Timeout:          5 * time.Second,
		FailureThreshold: 1,
		SuccessThreshold: cfg.HealthCheckSuccessThreshold,
	}, q, broker)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx, broker.Subscribe())
	}()

	collector := metrics.NewCollector(q, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	scan := scanner.New(client, q, store, scanner.Config{
		ProviderID: cfg.ProviderID,
		Interval:   cfg.BlockchainScanInterval,
		HighWater:  cfg.QueueHighWater,
	})

	q.Start(ctx, rec.HandleJob)
	scan.Start(ctx)

	apiServer := api.NewServer(api.Options{Queue: q, Reconciler: rec, Scanner: scan, Token: adminToken})
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			errCh <- fmt.Errorf("admin API error: %w", err)
		}
	}()

	logger.Info().
		Str("api_addr", cfg.APIAddr).
		Str("provider_id", cfg.ProviderID).
		Str("graph_environment", string(cfg.GraphEnvironmentType)).
		Bool("paused", q.IsPaused()).
		Msg("reconnection service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("shutting down after error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin API shutdown")
	}

	scan.Stop()
	q.Stop()
	cancel()
	<-monitorDone

	logger.Info().Msg("shutdown complete")
	return runErr
}
