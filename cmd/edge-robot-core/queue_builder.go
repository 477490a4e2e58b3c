package main

import (
	"context"
	"fmt"

	"github.com/edge-robotics/command-core/config"
	"github.com/edge-robotics/command-core/queue"
	"github.com/edge-robotics/command-core/queue/amqp"
	"github.com/edge-robotics/command-core/queue/cloud"
	"github.com/edge-robotics/command-core/queue/memory"
)

// buildQueue selects and constructs the backend named by cfg.Queue().QueueType.
// It returns an error when the requested AMQP or cloud type has no matching
// config; the in-process memory backend is built only for "memory" or "".
func buildQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	qc := cfg.Queue()
	switch qc.QueueType {
	case "amqp":
		ac := cfg.AMQP()
		if ac == nil {
			return nil, fmt.Errorf("edge-robot-core: queue type %q requires AMQP configuration", qc.QueueType)
		}
		return amqp.Dial(ctx, &amqp.Config{
			URL:                ac.URL,
			Exchange:           ac.Exchange,
			Queue:              ac.Queue,
			DLX:                ac.DLX,
			DLQ:                ac.DLQ,
			PrefetchCount:      ac.PrefetchCount,
			ConnectionPoolSize: ac.ConnectionPoolSize,
			ChannelPoolSize:    ac.ChannelPoolSize,
		})
	case "cloud":
		cc := cfg.Cloud()
		if cc == nil {
			return nil, fmt.Errorf("edge-robot-core: queue type %q requires cloud configuration", qc.QueueType)
		}
		return cloud.Connect(ctx, &cloud.Config{
			QueueURL:          cc.QueueURL,
			QueueName:         cc.QueueName,
			DLQName:           cc.DLQName,
			Region:            cc.Region,
			VisibilityTimeout: cc.VisibilityTimeout,
			WaitTimeSeconds:   int32(cc.WaitTimeSeconds),
			UseFIFO:           cc.UseFIFO,
		})
	case "memory", "":
		return memory.New(qc.MaxSize), nil
	default:
		return nil, fmt.Errorf("edge-robot-core: unknown queue type %q", qc.QueueType)
	}
}
