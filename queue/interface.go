package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every backend.
var (
	// ErrClosed is returned by Enqueue on a backend that has been Closed, and
	// by Dequeue on the AMQP and cloud backends; the in-process backend's
	// Dequeue returns (nil, nil) once it is closed and empty.
	ErrClosed = errors.New("queue: closed")
	// ErrFull names the at-capacity condition. No backend returns it: the
	// in-process backend reports a full queue as Enqueue returning (false, nil).
	ErrFull = errors.New("queue: full")
	// ErrNotFound is returned by the in-process backend's Nack for an id not
	// currently in flight, and by Peek on backends that cannot peek.
	ErrNotFound = errors.New("queue: message not in flight")
)

// HealthStatus is the shape returned by Queue.HealthCheck.
type HealthStatus struct {
	Status  string         `json:"status"` // "healthy" | "unhealthy"
	Details map[string]any `json:"details,omitempty"`
}

// Queue is the polymorphic contract every backend (in-process, AMQP, cloud)
// implements. The worker pool and offline queue service depend only on this
// interface, never on a concrete backend.
//
// A dequeued message is not observable to other consumers until it is
// nacked with requeue=true or its backend-specific visibility lease expires.
type Queue interface {
	// Enqueue adds a message to the queue, returning false if a bounded
	// backend is full or the backend rejects the publish.
	Enqueue(ctx context.Context, msg *Message) (bool, error)

	// Dequeue blocks up to timeout for the next highest-priority message,
	// FIFO within a priority class. A zero timeout is non-blocking; a
	// negative timeout (WaitForever) blocks until a message arrives on the
	// in-process and AMQP backends, while the cloud backend long-polls for
	// at most its configured wait time.
	Dequeue(ctx context.Context, timeout time.Duration) (*Message, error)

	// Peek returns the next-to-dequeue message without removing it.
	// The in-process backend reads its queue head; the AMQP and cloud
	// backends cannot peek and always return ErrNotFound.
	Peek(ctx context.Context) (*Message, error)

	// Ack confirms successful processing and removes msgID from the
	// in-flight set. Idempotent: acking twice is not an error.
	Ack(ctx context.Context, msgID string) (bool, error)

	// Nack reports failed processing. If requeue is true and the message's
	// RetryCount is below MaxRetries, RetryCount is incremented and the
	// message is re-enqueued preserving priority; otherwise it is dropped,
	// routed to a dead-letter destination when the backend supports one.
	Nack(ctx context.Context, msgID string, requeue bool) (bool, error)

	// Size returns the number of messages currently queued (not counting
	// in-flight messages).
	Size(ctx context.Context) (int, error)

	// Clear drops every queued message. In-flight messages are unaffected.
	Clear(ctx context.Context) error

	// HealthCheck reports backend connectivity/liveness.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Close releases backend resources. Close is idempotent.
	Close() error
}

// WaitForever, passed as the timeout to Dequeue, blocks until a message
// arrives or the backend is closed.
const WaitForever time.Duration = -1
