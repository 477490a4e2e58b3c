package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edge-robotics/command-core/command"
	"github.com/edge-robotics/command-core/config"
	"github.com/edge-robotics/command-core/coordinator"
	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/monitoring"
	"github.com/edge-robotics/command-core/observability"
	"github.com/edge-robotics/command-core/queue/worker"
	"github.com/edge-robotics/command-core/statestore"
	statestoremem "github.com/edge-robotics/command-core/statestore/memory"
	statestoreredis "github.com/edge-robotics/command-core/statestore/redis"
)

var (
	serveAddr      string
	serveRedisAddr string
	serveOfflineDB string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the command dispatch service: HTTP submit endpoint, worker pool and offline buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address for the submit endpoint")
	cmd.Flags().StringVar(&serveRedisAddr, "redis-addr", "", "Redis address for command-result storage (empty uses the in-process store)")
	cmd.Flags().StringVar(&serveOfflineDB, "offline-db", "", "override the offline buffer's sqlite database path")

	return cmd
}

func runServe(ctx context.Context) error {
	cfg := config.New(config.WithDefaults())
	if serveOfflineDB != "" {
		cfg = config.New(config.WithDefaults(), config.WithOffline(serveOfflineDB))
	}
	log := cfg.Logger()

	telemetry, err := observability.NewTelemetryProvider(cfg.Telemetry())
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	metrics := monitoring.NewMetrics()

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	store, err := buildResultStore()
	if err != nil {
		return err
	}
	defer store.Close()

	bus := eventbus.New(5 * time.Second)
	defer bus.Close()

	processor := newMessageProcessor(command.NewProcessor(), command.NoopDispatcher(), store, log, telemetry, metrics)
	queueManager := worker.NewDefaultQueueManager(q)
	callbacks := worker.NewEventbusCallbackManager(bus)
	workerCoordinator := worker.NewDefaultCoordinator(queueManager, processor, callbacks, pollInterval(cfg))
	pool := worker.NewPool(workerCoordinator, cfg.Queue().MaxWorkers)

	coord := coordinator.New(
		coordinator.WithEventBus(bus),
		coordinator.WithHealthCheckInterval(cfg.Coordinator().HealthCheckInterval),
		coordinator.WithMaxRestartAttempts(cfg.Coordinator().MaxRestartAttempts),
		coordinator.WithRestartDelay(cfg.Coordinator().RestartDelay),
		coordinator.WithAlertThreshold(cfg.Coordinator().AlertThreshold),
		coordinator.WithLogger(log),
	)

	workerSvc := newPoolService("worker-pool", pool)
	workerCfg := coordinator.DefaultConfig(workerSvc.Name(), "worker")
	workerCfg.AutoRestart = true
	if err := coord.Register(workerSvc, workerCfg); err != nil {
		return err
	}

	offlineSvc, err := buildOfflineService(cfg, q, bus)
	if err != nil {
		return err
	}
	offlineSvc.Start(ctx)
	defer func() { _ = offlineSvc.Stop() }()

	coord.Start(ctx)

	server := &http.Server{Addr: serveAddr, Handler: newRouter(q, store, log)}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "edge-robot-core: http server error: %v", err)
		}
	}()
	log.Info(ctx, "edge-robot-core: serving on %s", serveAddr)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt

	log.Info(ctx, "edge-robot-core: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	coord.Stop(shutdownCtx, 10*time.Second)

	return nil
}

func pollInterval(cfg *config.Config) time.Duration {
	seconds := cfg.Queue().PollIntervalSeconds
	if seconds <= 0 {
		seconds = 0.1
	}
	return time.Duration(seconds * float64(time.Second))
}

func buildResultStore() (statestore.Store, error) {
	if serveRedisAddr == "" {
		return statestoremem.New(), nil
	}
	return statestoreredis.New(&statestoreredis.ConnectionConfig{Addr: serveRedisAddr})
}
