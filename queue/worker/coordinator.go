package worker

import (
	"context"
	"time"
)

// DefaultCoordinator wires QueueManager, Processor and CallbackManager for a
// single dequeue/process/ack-nack cycle. It holds no goroutine-management
// state; that lives in Pool.
type DefaultCoordinator struct {
	queueManager   QueueManager
	processor      Processor
	callbacks      CallbackManager
	dequeueTimeout time.Duration
}

// NewDefaultCoordinator creates a coordinator. pollInterval is the timeout
// passed to QueueManager.Dequeue on each cycle.
func NewDefaultCoordinator(qm QueueManager, processor Processor, callbacks CallbackManager, pollInterval time.Duration) *DefaultCoordinator {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &DefaultCoordinator{
		queueManager:   qm,
		processor:      processor,
		callbacks:      callbacks,
		dequeueTimeout: pollInterval,
	}
}

// ProcessOne implements Coordinator.
func (c *DefaultCoordinator) ProcessOne(ctx context.Context) error {
	msg, err := c.queueManager.Dequeue(ctx, c.dequeueTimeout)
	if err != nil || msg == nil {
		return err
	}

	start := time.Now()
	ok, procErr := c.processor.Process(ctx, msg)
	duration := time.Since(start)

	if ok && procErr == nil {
		c.callbacks.OnEvent(ctx, EventSucceeded, msg, nil, duration)
		return c.queueManager.Acknowledge(ctx, msg.ID)
	}

	// Failure: the worker always asks for a requeue. The in-process backend's
	// Nack decides, from msg.RetryCount/MaxRetries, whether this becomes a
	// requeue or a drop; the AMQP and cloud backends do not check the retry
	// budget. willRetry only selects which event is reported.
	willRetry := msg.RetryCount < msg.MaxRetries
	if willRetry {
		c.callbacks.OnEvent(ctx, EventRetrying, msg, procErr, duration)
	} else {
		c.callbacks.OnEvent(ctx, EventDropped, msg, procErr, duration)
	}
	c.callbacks.OnEvent(ctx, EventFailed, msg, procErr, duration)

	return c.queueManager.Reject(ctx, msg.ID, true)
}

var _ Coordinator = (*DefaultCoordinator)(nil)
