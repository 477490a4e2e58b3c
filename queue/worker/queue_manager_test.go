package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-robotics/command-core/queue"
	"github.com/edge-robotics/command-core/queue/memory"
)

func newTestMessage() *queue.Message {
	return queue.NewMessage(map[string]any{"robot_id": "robot-1"}, queue.PriorityNormal)
}

func TestDefaultQueueManager_DequeueDelegatesToBackend(t *testing.T) {
	q := memory.New(0)
	defer q.Close()
	msg := newTestMessage()
	ok, err := q.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, ok)

	qm := NewDefaultQueueManager(q)
	got, err := qm.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
}

func TestDefaultQueueManager_AcknowledgeDelegatesToAck(t *testing.T) {
	q := memory.New(0)
	defer q.Close()
	msg := newTestMessage()
	_, err := q.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)

	qm := NewDefaultQueueManager(q)
	assert.NoError(t, qm.Acknowledge(context.Background(), msg.ID))
}

func TestDefaultQueueManager_RejectDelegatesToNack(t *testing.T) {
	q := memory.New(0)
	defer q.Close()
	msg := newTestMessage()
	_, err := q.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)

	qm := NewDefaultQueueManager(q)
	assert.NoError(t, qm.Reject(context.Background(), msg.ID, true))
}
