package worker

import (
	"context"
	"time"

	"github.com/edge-robotics/command-core/queue"
)

// DefaultQueueManager adapts a queue.Queue to the QueueManager interface.
type DefaultQueueManager struct {
	q queue.Queue
}

// NewDefaultQueueManager wraps a backend.
func NewDefaultQueueManager(q queue.Queue) *DefaultQueueManager {
	return &DefaultQueueManager{q: q}
}

// Dequeue implements QueueManager.
func (qm *DefaultQueueManager) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	return qm.q.Dequeue(ctx, timeout)
}

// Acknowledge implements QueueManager.
func (qm *DefaultQueueManager) Acknowledge(ctx context.Context, msgID string) error {
	_, err := qm.q.Ack(ctx, msgID)
	return err
}

// Reject implements QueueManager.
func (qm *DefaultQueueManager) Reject(ctx context.Context, msgID string, requeue bool) error {
	_, err := qm.q.Nack(ctx, msgID, requeue)
	return err
}

var _ QueueManager = (*DefaultQueueManager)(nil)
