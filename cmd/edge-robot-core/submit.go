package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edge-robotics/command-core/batch"
	"github.com/edge-robotics/command-core/command"
	"github.com/edge-robotics/command-core/config"
	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/monitoring"
	"github.com/edge-robotics/command-core/observability"
	"github.com/edge-robotics/command-core/queue/worker"
)

// batchFile is the on-disk shape accepted by `submit --file`: a list of
// commands plus the execution options from BatchSpec.
type batchFile struct {
	Commands []batch.Command `json:"commands"`
	Options  batch.Options   `json:"options"`
}

var submitFilePath string

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Dispatch a batch of commands read from a JSON file and print their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&submitFilePath, "file", "", "path to a JSON batch file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSubmit(ctx context.Context) error {
	raw, err := os.ReadFile(submitFilePath)
	if err != nil {
		return fmt.Errorf("submit: read batch file: %w", err)
	}

	var bf batchFile
	if err := json.Unmarshal(raw, &bf); err != nil {
		return fmt.Errorf("submit: parse batch file: %w", err)
	}
	if bf.Options.ExecutionMode == "" {
		bf.Options = batch.DefaultOptions(batch.ModeParallel)
	}

	cfg := config.New(config.WithDefaults())

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

	telemetry, err := observability.NewTelemetryProvider(cfg.Telemetry())
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	bus := eventbus.New(5 * time.Second)
	defer bus.Close()

	processor := newMessageProcessor(command.NewProcessor(), command.NoopDispatcher(), store, cfg.Logger(), telemetry, monitoring.NewMetrics())
	queueManager := worker.NewDefaultQueueManager(q)
	workerCoordinator := worker.NewDefaultCoordinator(queueManager, processor, worker.NewEventbusCallbackManager(bus), pollInterval(cfg))
	pool := worker.NewPool(workerCoordinator, cfg.Queue().MaxWorkers)
	pool.Start()
	defer pool.Stop(5 * time.Second)

	executor := batch.New(q, store, batch.WithLogger(cfg.Logger()))
	result, err := executor.Execute(ctx, batch.Spec{Commands: bf.Commands, Options: bf.Options})
	if err != nil {
		return fmt.Errorf("submit: execute batch: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
