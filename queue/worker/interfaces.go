// Package worker implements the QueueHandler: a bounded pool of cooperative
// workers that dequeue messages, hand them to a processor, and ack/nack
// based on the result.
//
// Decomposed into QueueManager / MessageProcessor / CallbackManager /
// WorkerCoordinator collaborators, with retry accounting consolidated into
// the queue backend's Nack rather than split out into a separate
// RetryManager.
package worker

import (
	"context"
	"time"

	"github.com/edge-robotics/command-core/queue"
)

// Processor handles a single dequeued message and reports whether
// processing succeeded. Returning an error is equivalent to returning
// (false, err): both result in a nack-with-requeue.
type Processor interface {
	Process(ctx context.Context, msg *queue.Message) (bool, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, msg *queue.Message) (bool, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, msg *queue.Message) (bool, error) {
	return f(ctx, msg)
}

// QueueManager abstracts the subset of queue.Queue the handler needs,
// keeping Coordinator testable against a fake.
type QueueManager interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Message, error)
	Acknowledge(ctx context.Context, msgID string) error
	Reject(ctx context.Context, msgID string, requeue bool) error
}

// Event is the callback event delivered for every terminal outcome of
// processing a message.
type Event string

const (
	EventSucceeded Event = "succeeded"
	EventFailed    Event = "failed"
	EventRetrying  Event = "retrying"
	EventDropped   Event = "dropped" // retries exhausted, no more requeue
)

// CallbackManager is notified of every processing outcome. Implementations
// must not block the calling worker goroutine for long; the default
// implementation (see callback_manager.go) publishes onto the event bus
// asynchronously.
type CallbackManager interface {
	OnEvent(ctx context.Context, event Event, msg *queue.Message, procErr error, duration time.Duration)
}

// Coordinator ties QueueManager, Processor and CallbackManager together for
// a single dequeue-process-ack/nack cycle. Extracted as an interface so the
// worker pool's goroutine-management code never embeds business logic.
type Coordinator interface {
	ProcessOne(ctx context.Context) error
}
