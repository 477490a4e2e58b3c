package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-robotics/command-core/queue"
)

func TestQueue_PriorityOrderingAcrossClasses(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	low := queue.NewMessage(nil, queue.PriorityLow)
	high := queue.NewMessage(nil, queue.PriorityHigh)
	urgent := queue.NewMessage(nil, queue.PriorityUrgent)
	normal := queue.NewMessage(nil, queue.PriorityNormal)

	for _, m := range []*queue.Message{low, high, urgent, normal} {
		ok, err := q.Enqueue(ctx, m)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	first, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, first.ID)

	second, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, high.ID, second.ID)
}

func TestQueue_FIFOWithinPriorityClass(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	first := queue.NewMessage(nil, queue.PriorityNormal)
	second := queue.NewMessage(nil, queue.PriorityNormal)
	q.Enqueue(ctx, first)
	q.Enqueue(ctx, second)

	got1, _ := q.Dequeue(ctx, 0)
	got2, _ := q.Dequeue(ctx, 0)
	assert.Equal(t, first.ID, got1.ID)
	assert.Equal(t, second.ID, got2.ID)
}

func TestQueue_EnqueueRejectsWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, queue.NewMessage(nil, queue.PriorityNormal))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(ctx, queue.NewMessage(nil, queue.PriorityNormal))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_DequeueNonBlockingReturnsNilWhenEmpty(t *testing.T) {
	q := New(0)
	msg, err := q.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestQueue_NackRequeuesWithinRetryBudget(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	msg.MaxRetries = 2
	q.Enqueue(ctx, msg)

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)

	ok, err := q.Nack(ctx, got.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	requeued, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, 1, requeued.RetryCount)
}

func TestQueue_NackDropsWhenRetryBudgetExhausted(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	msg.MaxRetries = 1
	msg.RetryCount = 1
	q.Enqueue(ctx, msg)

	got, _ := q.Dequeue(ctx, 0)
	ok, err := q.Nack(ctx, got.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	size, _ := q.Size(ctx)
	assert.Equal(t, 0, size)
}

func TestQueue_NackUnknownIDReturnsErrNotFound(t *testing.T) {
	q := New(0)
	_, err := q.Nack(context.Background(), "missing", true)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestQueue_AckIsIdempotent(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	msg := queue.NewMessage(nil, queue.PriorityNormal)
	q.Enqueue(ctx, msg)
	got, _ := q.Dequeue(ctx, 0)

	ok, err := q.Ack(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Ack(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_ClearDropsQueuedNotInFlight(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	q.Enqueue(ctx, queue.NewMessage(nil, queue.PriorityNormal))
	q.Enqueue(ctx, queue.NewMessage(nil, queue.PriorityNormal))
	inFlight, _ := q.Dequeue(ctx, 0)
	require.NotNil(t, inFlight)

	require.NoError(t, q.Clear(ctx))

	size, _ := q.Size(ctx)
	assert.Equal(t, 0, size)

	ok, err := q.Ack(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	done := make(chan *queue.Message, 1)
	go func() {
		msg, _ := q.Dequeue(ctx, time.Second)
		done <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	sent := queue.NewMessage(nil, queue.PriorityNormal)
	q.Enqueue(ctx, sent)

	select {
	case got := <-done:
		require.NotNil(t, got)
		assert.Equal(t, sent.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked Dequeue to wake")
	}
}

func TestQueue_HealthCheckReflectsClosedState(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	status, err := q.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)

	require.NoError(t, q.Close())
	status, err = q.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", status.Status)
}
