package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-robotics/command-core/queue"
)

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	b, err := Open(":memory:", "test", 0, 3, 10)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBuffer_EnqueueAndFlushSent(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	msg := queue.NewMessage(map[string]any{"action": "move"}, queue.PriorityNormal)
	ok, err := b.Enqueue(ctx, "cmd-1", msg, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	result, err := b.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error {
		assert.Equal(t, "cmd-1", entry.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)

	counts, flushed, _, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flushed)
	assert.Equal(t, 0, counts[StatusPending])
}

func TestBuffer_MaxSizeRejectsEnqueue(t *testing.T) {
	b, err := Open(":memory:", "test", 1, 3, 10)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	msg := queue.NewMessage(map[string]any{}, queue.PriorityLow)
	ok, err := b.Enqueue(ctx, "one", msg, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Enqueue(ctx, "two", msg, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuffer_FlushOrdersByPriorityThenAge(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	low := queue.NewMessage(nil, queue.PriorityLow)
	urgent := queue.NewMessage(nil, queue.PriorityUrgent)

	_, err := b.Enqueue(ctx, "low-1", low, 0)
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, "urgent-1", urgent, 0)
	require.NoError(t, err)

	var order []string
	_, err = b.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error {
		order = append(order, entry.ID)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "urgent-1", order[0])
	assert.Equal(t, "low-1", order[1])
}

func TestBuffer_RetryThenFail(t *testing.T) {
	b, err := Open(":memory:", "test", 0, 2, 10)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	_, err = b.Enqueue(ctx, "cmd-1", msg, 0)
	require.NoError(t, err)

	sendErr := errors.New("unreachable")

	result, err := b.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error { return sendErr })
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)

	result, err = b.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error { return sendErr })
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	counts, _, _, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusFailed])
}

func TestBuffer_ExpiredEntriesDroppedOnFlush(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	_, err := b.Enqueue(ctx, "cmd-1", msg, time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	result, err := b.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error {
		t.Fatal("expired entry should not be sent")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 0, result.Sent)
}

func TestBuffer_Purge(t *testing.T) {
	b, err := Open(":memory:", "test", 0, 1, 10)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	_, err = b.Enqueue(ctx, "cmd-1", msg, 0)
	require.NoError(t, err)

	_, err = b.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error { return errors.New("boom") })
	require.NoError(t, err)

	counts, _, _, err := b.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[StatusFailed])

	purged, err := b.Purge(ctx, StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	counts, _, _, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[StatusFailed])
}
