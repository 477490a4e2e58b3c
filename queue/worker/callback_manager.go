package worker

import (
	"context"
	"time"

	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/queue"
)

// EventbusCallbackManager publishes worker outcomes onto the shared event
// bus instead of invoking user callbacks directly in-process. This lets
// the coordinator's alert path and external observers subscribe without
// the worker pool knowing about them.
type EventbusCallbackManager struct {
	bus eventbus.Bus
}

// NewEventbusCallbackManager creates a callback manager bound to bus.
func NewEventbusCallbackManager(bus eventbus.Bus) *EventbusCallbackManager {
	return &EventbusCallbackManager{bus: bus}
}

// OnEvent implements CallbackManager.
func (cm *EventbusCallbackManager) OnEvent(ctx context.Context, event Event, msg *queue.Message, procErr error, duration time.Duration) {
	topic := eventTopic(event)
	if topic == "" {
		return
	}
	payload := map[string]any{
		"message_id":  msg.ID,
		"trace_id":    msg.TraceID,
		"retry_count": msg.RetryCount,
		"duration_ms": duration.Milliseconds(),
	}
	if procErr != nil {
		payload["error"] = procErr.Error()
	}
	cm.bus.Publish(ctx, topic, payload)
}

func eventTopic(event Event) string {
	switch event {
	case EventSucceeded:
		return eventbus.TopicCommandCompleted
	case EventFailed, EventDropped:
		return eventbus.TopicCommandFailed
	default:
		return ""
	}
}

var _ CallbackManager = (*EventbusCallbackManager)(nil)
