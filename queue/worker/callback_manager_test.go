package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/queue"
)

func TestEventbusCallbackManager_SucceededPublishesToCompletedTopic(t *testing.T) {
	bus := eventbus.New(time.Second)
	defer bus.Close()

	received := make(chan map[string]any, 1)
	bus.Subscribe(eventbus.TopicCommandCompleted, func(ctx context.Context, topic string, payload map[string]any) {
		received <- payload
	})

	cm := NewEventbusCallbackManager(bus)
	msg := queue.NewMessage(map[string]any{}, queue.PriorityNormal)
	cm.OnEvent(context.Background(), EventSucceeded, msg, nil, 5*time.Millisecond)

	select {
	case payload := <-received:
		assert.Equal(t, msg.ID, payload["message_id"])
		assert.NotContains(t, payload, "error")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command.completed dispatch")
	}
}

func TestEventbusCallbackManager_FailedPublishesToFailedTopicWithError(t *testing.T) {
	bus := eventbus.New(time.Second)
	defer bus.Close()

	received := make(chan map[string]any, 1)
	bus.Subscribe(eventbus.TopicCommandFailed, func(ctx context.Context, topic string, payload map[string]any) {
		received <- payload
	})

	cm := NewEventbusCallbackManager(bus)
	msg := queue.NewMessage(map[string]any{}, queue.PriorityNormal)
	cm.OnEvent(context.Background(), EventFailed, msg, errors.New("actuator unreachable"), 0)

	select {
	case payload := <-received:
		assert.Equal(t, "actuator unreachable", payload["error"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command.failed dispatch")
	}
}

func TestEventbusCallbackManager_DroppedPublishesToFailedTopic(t *testing.T) {
	bus := eventbus.New(time.Second)
	defer bus.Close()

	received := make(chan map[string]any, 1)
	bus.Subscribe(eventbus.TopicCommandFailed, func(ctx context.Context, topic string, payload map[string]any) {
		received <- payload
	})

	cm := NewEventbusCallbackManager(bus)
	msg := queue.NewMessage(map[string]any{}, queue.PriorityNormal)
	cm.OnEvent(context.Background(), EventDropped, msg, errors.New("max retries exceeded"), 0)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command.failed dispatch")
	}
}

func TestEventbusCallbackManager_RetryingEventPublishesNothing(t *testing.T) {
	bus := eventbus.New(time.Second)
	defer bus.Close()

	var gotCompleted, gotFailed bool
	bus.Subscribe(eventbus.TopicCommandCompleted, func(ctx context.Context, topic string, payload map[string]any) {
		gotCompleted = true
	})
	bus.Subscribe(eventbus.TopicCommandFailed, func(ctx context.Context, topic string, payload map[string]any) {
		gotFailed = true
	})

	cm := NewEventbusCallbackManager(bus)
	msg := queue.NewMessage(map[string]any{}, queue.PriorityNormal)
	cm.OnEvent(context.Background(), EventRetrying, msg, errors.New("transient"), 0)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, gotCompleted)
	assert.False(t, gotFailed)
}
