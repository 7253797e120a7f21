package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/storeforge/pkg/api"
	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/config"
	"github.com/cuemby/storeforge/pkg/events"
	"github.com/cuemby/storeforge/pkg/health"
	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/metrics"
	"github.com/cuemby/storeforge/pkg/reconciler"
	"github.com/cuemby/storeforge/pkg/release"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

const (
	lockFile        = "storeforge.lock"
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler",
	Long: `Run the store reconciler against the configured cluster.

Only one serve process may use a data directory at a time. Health, readiness,
Prometheus metrics and a live NDJSON feed of store events (/events) are
served over HTTP; the standard gRPC health service reports SERVING while the
store database and the reconciler are healthy.

Use --once to run a single reconciliation pass and exit.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.Duration("interval", reconciler.DefaultInterval, "Time between reconciliation passes")
	flags.Int("concurrency", 1, "Stores reconciled in parallel within a pass")
	flags.String("readiness", string(reconciler.ReadinessSoft), "Readiness policy (soft|hard)")
	flags.String("base-domain", reconciler.DefaultBaseDomain, "Domain used to build store URLs")
	flags.String("kubeconfig", "", "Path to the kubeconfig file (default: in-cluster or $KUBECONFIG)")
	flags.String("context", "", "Kubeconfig context to use")
	flags.String("http-addr", config.DefaultHTTPAddr, "Address for health and metrics HTTP endpoints")
	flags.String("grpc-addr", config.DefaultGRPCAddr, "Address for the gRPC health service")
	flags.Bool("once", false, "Run a single reconciliation pass and exit")

	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags overrides configuration with serve flags set explicitly.
// Commands without these flags leave the configuration untouched.
func applyServeFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("interval") {
		d, err := flags.GetDuration("interval")
		if err != nil {
			return err
		}
		c.Reconcile.Interval = config.Duration(d)
	}
	if flags.Changed("concurrency") {
		c.Reconcile.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("readiness") {
		mode, _ := flags.GetString("readiness")
		c.Readiness.Mode = reconciler.ReadinessMode(mode)
	}
	if flags.Changed("base-domain") {
		c.Readiness.BaseDomain, _ = flags.GetString("base-domain")
	}
	if flags.Changed("kubeconfig") {
		c.Kube.Kubeconfig, _ = flags.GetString("kubeconfig")
	}
	if flags.Changed("context") {
		c.Kube.Context, _ = flags.GetString("context")
	}
	if flags.Changed("http-addr") {
		c.API.HTTPAddr, _ = flags.GetString("http-addr")
	}
	if flags.Changed("grpc-addr") {
		c.API.GRPCAddr, _ = flags.GetString("grpc-addr")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	once, _ := cmd.Flags().GetBool("once")
	logger := log.WithComponent("serve")

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("another storeforge serve process is using %s", cfg.DataDir)
	}
	defer func() {
		if err := lock.Close(); err != nil {
			logger.Debug().Err(err).Msg("Failed to release data dir lock")
		}
	}()

	store, err := openStore()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return err
	}
	defer store.Close()
	metrics.UpdateComponent(metrics.ComponentStorage, true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	recon, err := newReconciler(store, broker)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentCluster, false, err.Error())
		return err
	}
	metrics.UpdateComponent(metrics.ComponentCluster, true, "")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if once {
		logger.Info().Msg("Running a single reconciliation pass")
		return recon.Pass(ctx)
	}

	metrics.SetVersion(Version)
	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	httpServer := api.NewHealthServer(store, Version)
	httpServer.StreamEvents(broker)
	grpcServer := api.NewServer()
	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(cfg.API.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(cfg.API.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go grpcServer.WatchReadiness(ctx, api.DefaultSyncInterval)

	// The loop runs until recon.Stop so a signal lets the in-flight pass finish.
	if err := recon.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("data_dir", cfg.DataDir).
		Str("storage", string(cfg.Storage.Driver)).
		Str("http_addr", cfg.API.HTTPAddr).
		Str("grpc_addr", cfg.API.GRPCAddr).
		Msg("StoreForge is running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after server failure")
	}

	recon.Stop()
	// Ends open /events streams so the HTTP shutdown does not wait on them.
	broker.Stop()
	grpcServer.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// newReconciler wires the cluster gateway, chart catalog and failure policy
// from the configuration
func newReconciler(store storage.Store, broker *events.Broker) (*reconciler.Reconciler, error) {
	restConfig, err := cluster.RESTConfig(cfg.Kube.Kubeconfig, cfg.Kube.Context)
	if err != nil {
		return nil, err
	}
	clientset, err := cluster.NewClientset(restConfig)
	if err != nil {
		return nil, err
	}

	releases := release.NewHelmManager(release.HelmConfig{
		Kubeconfig:  cfg.Kube.Kubeconfig,
		KubeContext: cfg.Kube.Context,
		Driver:      cfg.Helm.Driver,
		Timeout:     cfg.Helm.Timeout.Std(),
	})
	catalog, err := release.NewCatalog(cfg.Charts, cfg.Readiness.BaseDomain)
	if err != nil {
		return nil, err
	}

	gateway := cluster.NewKubeGateway(clientset, releases)
	return reconciler.New(store, gateway,
		reconciler.WithInterval(cfg.Reconcile.Interval.Std()),
		reconciler.WithCallTimeout(cfg.Reconcile.CallTimeout.Std()),
		reconciler.WithConcurrency(cfg.Reconcile.Concurrency),
		reconciler.WithPolicy(cfg.FailurePolicy()),
		reconciler.WithReadiness(cfg.Readiness.Mode, cfg.Readiness.BaseDomain),
		reconciler.WithProber(&health.HTTPProber{
			Address: cfg.Readiness.ProbeAddress,
			Timeout: cfg.Readiness.ProbeTimeout.Std(),
		}),
		reconciler.WithCharts(catalog),
		reconciler.WithEvents(broker),
	), nil
}
