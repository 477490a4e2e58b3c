// Package memory implements queue.Queue as an in-process, non-persistent
// priority store: one FIFO bucket per priority class, guarded by a mutex,
// with a channel used to wake waiting consumers.
//
// Generalized to four priority buckets, and built to avoid a
// "clear-the-wake-event-after-take" race: instead of an event primitive
// this uses a best-effort non-blocking notify channel that consumers
// re-check against under the lock, which is race-free because the channel
// is never read except by a waiter that will immediately re-examine the
// buckets.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/edge-robotics/command-core/internal/ids"
	"github.com/edge-robotics/command-core/queue"
)

// Queue is the in-process priority backend. It has no persistence: a
// process restart drops every queued and in-flight message.
type Queue struct {
	mu       sync.Mutex
	buckets  [4][]*queue.Message // indexed by queue.Priority, FIFO within each
	inFlight map[string]*queue.Message
	maxSize  int // 0 means unbounded
	size     int
	notify   chan struct{}
	closed   bool
}

// New creates an in-process priority queue. maxSize<=0 means unbounded.
func New(maxSize int) *Queue {
	return &Queue{
		inFlight: make(map[string]*queue.Message),
		maxSize:  maxSize,
		notify:   make(chan struct{}, 1),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, queue.ErrClosed
	}
	if q.maxSize > 0 && q.size >= q.maxSize {
		return false, nil
	}
	if msg.ID == "" {
		msg.ID = ids.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = queue.DefaultMaxRetries
	}

	q.buckets[msg.Priority] = append(q.buckets[msg.Priority], msg)
	q.size++
	q.wake()
	return true, nil
}

// Dequeue implements queue.Queue. timeout<0 (queue.WaitForever) blocks until
// a message arrives or the queue is closed; timeout==0 is non-blocking.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if msg, ok := q.tryTake(); ok {
			return msg, nil
		}
		if q.isClosed() {
			return nil, nil
		}
		if timeout == 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
			continue
		case <-deadline:
			return nil, nil
		}
	}
}

// tryTake removes and returns the highest-priority head message, or ok=false
// if every bucket is empty.
func (q *Queue) tryTake() (*queue.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := queue.PriorityUrgent; p >= queue.PriorityLow; p-- {
		bucket := q.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		msg := bucket[0]
		q.buckets[p] = bucket[1:]
		q.size--
		q.inFlight[msg.ID] = msg
		return msg, true
	}
	return nil, false
}

// Peek implements queue.Queue: it returns the highest-priority head message
// without removing it from its bucket, or nil when the queue is empty.
func (q *Queue) Peek(ctx context.Context) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := queue.PriorityUrgent; p >= queue.PriorityLow; p-- {
		if len(q.buckets[p]) > 0 {
			return q.buckets[p][0], nil
		}
	}
	return nil, nil
}

// Ack implements queue.Queue. Idempotent.
func (q *Queue) Ack(ctx context.Context, msgID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, msgID)
	return true, nil
}

// Nack implements queue.Queue.
func (q *Queue) Nack(ctx context.Context, msgID string, requeue bool) (bool, error) {
	q.mu.Lock()
	msg, ok := q.inFlight[msgID]
	if !ok {
		q.mu.Unlock()
		return false, queue.ErrNotFound
	}
	delete(q.inFlight, msgID)

	if requeue && msg.RetryCount < msg.MaxRetries {
		msg.RetryCount++
		q.buckets[msg.Priority] = append(q.buckets[msg.Priority], msg)
		q.size++
		q.wake()
		q.mu.Unlock()
		return true, nil
	}
	q.mu.Unlock()
	return true, nil
}

// Size implements queue.Queue; it counts only queued, not in-flight, messages.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size, nil
}

// Clear implements queue.Queue. In-flight messages are left untouched.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := range q.buckets {
		q.buckets[p] = nil
	}
	q.size = 0
	return nil
}

// HealthCheck implements queue.Queue.
func (q *Queue) HealthCheck(ctx context.Context) (queue.HealthStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.HealthStatus{Status: "unhealthy", Details: map[string]any{"reason": "closed"}}, nil
	}
	return queue.HealthStatus{Status: "healthy", Details: map[string]any{
		"size":      q.size,
		"in_flight": len(q.inFlight),
	}}, nil
}

// Close implements queue.Queue. Idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wake()
	}
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
