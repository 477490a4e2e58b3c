package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edge-robotics/command-core/config"
	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/offline"
	"github.com/edge-robotics/command-core/queue"
)

// buildOfflineService wires an offline.Service whose publish handler
// re-enqueues a buffered entry onto the live queue once the broker becomes
// reachable again, and whose sync handler only checks that each entry decodes
// as a queue.Message and then discards it, logging nothing (this
// deployment has no separate telemetry-sync destination beyond the OTLP
// collector already wired through observability.TelemetryProvider).
func buildOfflineService(cfg *config.Config, q queue.Queue, bus eventbus.Bus) (*offline.Service, error) {
	oc := cfg.Offline()
	svcCfg := offline.Config{
		DatabasePath:  oc.DatabasePath,
		MaxSize:       oc.MaxSize,
		DefaultTTL:    oc.DefaultTTL,
		MaxRetryCount: oc.MaxRetryCount,
		SendBatchSize: oc.SendBatchSize,
		FlushInterval: oc.FlushInterval,
	}

	publish := offline.PublishFunc(func(ctx context.Context, msg *queue.Message) error {
		ok, err := q.Enqueue(ctx, msg)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("offline: queue rejected replayed command %s", msg.ID)
		}
		return nil
	})

	sync := offline.SyncFunc(func(ctx context.Context, entry *offline.BufferEntry) error {
		var msg queue.Message
		if err := json.Unmarshal([]byte(entry.MessageJSON), &msg); err != nil {
			return fmt.Errorf("offline: decode sync entry %s: %w", entry.ID, err)
		}
		return nil
	})

	return offline.New(svcCfg, publish, sync, bus)
}
