package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-robotics/command-core/queue"
)

func newTestService(t *testing.T, publish PublishFunc, sync SyncFunc) *Service {
	t.Helper()
	cfg := DefaultConfig(":memory:")
	cfg.FlushInterval = time.Hour // tests trigger flushes explicitly
	svc, err := New(cfg, publish, sync, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func TestService_SubmitCommand_PublishesWhenBrokerAvailable(t *testing.T) {
	var published []string
	var mu sync.Mutex
	svc := newTestService(t, func(ctx context.Context, msg *queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, msg.ID)
		return nil
	}, nil)
	svc.SetBrokerAvailable(context.Background(), true)

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	msg.ID = "cmd-1"
	ok, err := svc.SubmitCommand(context.Background(), "cmd-1", msg)
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"cmd-1"}, published)
}

func TestService_SubmitCommand_BuffersWhenBrokerUnavailable(t *testing.T) {
	svc := newTestService(t, nil, nil)

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	ok, err := svc.SubmitCommand(context.Background(), "cmd-1", msg)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	cmdStats := stats["command_buffer"].(map[string]any)
	counts := cmdStats["counts"].(map[Status]int)
	assert.Equal(t, 1, counts[StatusPending])
}

func TestService_SubmitCommand_BuffersOnPublishError(t *testing.T) {
	svc := newTestService(t, func(ctx context.Context, msg *queue.Message) error {
		return errors.New("broker down")
	}, nil)
	svc.SetBrokerAvailable(context.Background(), true)

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	ok, err := svc.SubmitCommand(context.Background(), "cmd-1", msg)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	cmdStats := stats["command_buffer"].(map[string]any)
	counts := cmdStats["counts"].(map[Status]int)
	assert.Equal(t, 1, counts[StatusPending])
}

func TestService_FlushCommands_SkippedWhenOffline(t *testing.T) {
	svc := newTestService(t, func(ctx context.Context, msg *queue.Message) error { return nil }, nil)
	outcome := svc.FlushCommands(context.Background())
	assert.True(t, outcome.Skipped)
	assert.Equal(t, SkipOffline, outcome.Reason)
}

func TestService_FlushCommands_ReplaysBufferedEntries(t *testing.T) {
	var published []string
	var mu sync.Mutex
	svc := newTestService(t, func(ctx context.Context, msg *queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, msg.ID)
		return nil
	}, nil)

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	msg.ID = "cmd-1"
	_, err := svc.SubmitCommand(context.Background(), "cmd-1", msg)
	require.NoError(t, err)

	svc.SetBrokerAvailable(context.Background(), true)
	// SetBrokerAvailable triggers an async flush; also flush synchronously to assert deterministically.
	outcome := svc.FlushCommands(context.Background())
	require.False(t, outcome.Skipped)
	assert.Equal(t, 1, outcome.Result.Sent)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, published, "cmd-1")
}

func TestService_QueueSyncData_BuffersWhenNetworkUnavailable(t *testing.T) {
	svc := newTestService(t, nil, nil)

	msg := queue.NewMessage(map[string]any{"event": "executed"}, queue.PriorityLow)
	ok, err := svc.QueueSyncData(context.Background(), "sync-1", msg)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	syncStats := stats["sync_buffer"].(map[string]any)
	counts := syncStats["counts"].(map[Status]int)
	assert.Equal(t, 1, counts[StatusPending])
}

func TestService_StartStop_RunsPeriodicFlush(t *testing.T) {
	var mu sync.Mutex
	sent := 0
	svc, err := New(DefaultConfig(":memory:"), func(ctx context.Context, msg *queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		sent++
		return nil
	}, nil, nil)
	require.NoError(t, err)
	svc.flushInterval = 10 * time.Millisecond

	msg := queue.NewMessage(nil, queue.PriorityNormal)
	_, err = svc.SubmitCommand(context.Background(), "cmd-1", msg)
	require.NoError(t, err)

	svc.SetBrokerAvailable(context.Background(), true)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		done := sent > 0
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for periodic flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, svc.Stop())
}
