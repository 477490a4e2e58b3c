// Package queue defines the priority message contract shared by every queue
// backend (in-process, AMQP, cloud) and consumed by the worker pool.
package queue

import (
	"time"

	"github.com/edge-robotics/command-core/internal/ids"
)

// Priority is the total order a queue backend must respect when selecting
// the next message to hand to a consumer: Urgent > High > Normal > Low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String renders the priority the way it appears in logs, metrics and the
// AMQP routing keys (command.low / command.normal / command.high / command.urgent).
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority accepts the routing-key form used in configuration and AMQP bindings.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "urgent":
		return PriorityUrgent, true
	default:
		return PriorityNormal, false
	}
}

// AMQPPriority maps a Priority onto the broker-native priority scale used by
// the x-max-priority:10 queue (see queue/amqp).
func (p Priority) AMQPPriority() uint8 {
	switch p {
	case PriorityLow:
		return 2
	case PriorityNormal:
		return 5
	case PriorityHigh:
		return 8
	case PriorityUrgent:
		return 10
	default:
		return 5
	}
}

// DefaultMaxRetries is applied to a Message that does not set MaxRetries.
const DefaultMaxRetries = 3

// Message is the unit that traverses every queue backend.
type Message struct {
	ID             string         `json:"id"`
	Payload        map[string]any `json:"payload"`
	Priority       Priority       `json:"priority"`
	Timestamp      time.Time      `json:"timestamp"`
	TraceID        string         `json:"trace_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty"`
}

// NewMessage builds a Message with an assigned id, a creation timestamp and
// MaxRetries defaulted; the in-process backend's Enqueue fills in the same
// fields for callers that did not already set them.
func NewMessage(payload map[string]any, priority Priority) *Message {
	return &Message{
		ID:         ids.New(),
		Payload:    payload,
		Priority:   priority,
		Timestamp:  time.Now().UTC(),
		MaxRetries: DefaultMaxRetries,
	}
}

// Clone returns a shallow copy safe for re-enqueue after a nack: the payload
// map is shared (this module never mutates it in place), every other field
// is copied by value.
func (m *Message) Clone() *Message {
	clone := *m
	return &clone
}
