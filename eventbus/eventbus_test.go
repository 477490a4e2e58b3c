package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := New(time.Second)
	defer bus.Close()

	received := make(chan map[string]any, 1)
	bus.Subscribe(TopicCommandSubmitted, func(ctx context.Context, topic string, payload map[string]any) {
		received <- payload
	})

	bus.Publish(context.Background(), TopicCommandSubmitted, map[string]any{"command_id": "cmd-1"})

	select {
	case payload := <-received:
		assert.Equal(t, "cmd-1", payload["command_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestInProcessBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New(time.Second)
	defer bus.Close()

	var calls int32
	var mu sync.Mutex
	unsubscribe := bus.Subscribe(TopicQueueStatusUpdated, func(ctx context.Context, topic string, payload map[string]any) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	unsubscribe()
	bus.Publish(context.Background(), TopicQueueStatusUpdated, nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(0), calls)
}

func TestInProcessBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := New(time.Second)
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(TopicServiceStarted, func(ctx context.Context, topic string, payload map[string]any) { wg.Done() })
	bus.Subscribe(TopicServiceStarted, func(ctx context.Context, topic string, payload map[string]any) { wg.Done() })

	bus.Publish(context.Background(), TopicServiceStarted, nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers were notified")
	}
}

func TestInProcessBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := New(20 * time.Millisecond)
	defer bus.Close()

	bus.Subscribe(TopicCommandFailed, func(ctx context.Context, topic string, payload map[string]any) {
		<-ctx.Done() // blocks until the dispatch timeout cancels it
	})

	start := time.Now()
	bus.Publish(context.Background(), TopicCommandFailed, nil)
	require.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestInProcessBus_CloseWaitsForInFlightDispatch(t *testing.T) {
	bus := New(time.Second)

	started := make(chan struct{})
	finished := make(chan struct{})
	bus.Subscribe(TopicCommandCompleted, func(ctx context.Context, topic string, payload map[string]any) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(finished)
	})

	bus.Publish(context.Background(), TopicCommandCompleted, nil)
	<-started
	bus.Close()

	select {
	case <-finished:
	default:
		t.Fatal("Close returned before in-flight dispatch finished")
	}
}
