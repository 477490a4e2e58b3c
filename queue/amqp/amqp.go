// Package amqp implements the AMQP broker backend of the priority queue
// contract: a topic exchange, a durable priority-aware queue, and a
// dead-letter exchange/queue pair. Connection
// bring-up (retry-until-connected, topology declaration) is grounded on
// trustbloc-orb's pkg/pubsub/amqp connection-manager pattern; this package
// talks to rabbitmq/amqp091-go directly rather than through watermill, since
// the queue.Queue contract here is ack/nack/peek, not pub/sub topics.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edge-robotics/command-core/queue"
	ramqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the topic exchange robot commands are published through.
	Exchange = "robot.commands"
	// QueueName is the durable, priority-capable main queue.
	QueueName = "robot.commands.queue"
	// DeadLetterExchange backs messages that exhaust their retry budget.
	DeadLetterExchange = "robot.commands.dlx"
	// DeadLetterQueue receives everything published to DeadLetterExchange.
	DeadLetterQueue = "robot.commands.dlq"

	maxPriority = 10
)

var routingKeys = []string{"command.low", "command.normal", "command.high", "command.urgent"}

func routingKeyFor(p queue.Priority) string {
	switch p {
	case queue.PriorityUrgent:
		return "command.urgent"
	case queue.PriorityHigh:
		return "command.high"
	case queue.PriorityNormal:
		return "command.normal"
	default:
		return "command.low"
	}
}

// Config configures the AMQP backend.
type Config struct {
	URL                string
	Exchange           string
	Queue              string
	DLX                string
	DLQ                string
	PrefetchCount      int
	ConnectionPoolSize int // reserved for future multi-connection fan-out
	ChannelPoolSize    int // reserved for future multi-channel fan-out
}

// DefaultConfig returns the default exchange/queue/DLX topology.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:           url,
		Exchange:      Exchange,
		Queue:         QueueName,
		DLX:           DeadLetterExchange,
		DLQ:           DeadLetterQueue,
		PrefetchCount: 10,
	}
}

// Queue is a queue.Queue backed by an AMQP broker.
type Queue struct {
	cfg  *Config
	conn *ramqp.Connection
	ch   *ramqp.Channel

	mu       sync.Mutex
	inFlight map[string]ramqp.Delivery
	deliver  <-chan ramqp.Delivery
	closed   bool
}

// Dial connects to the broker, declares the full topology, and starts
// consuming. Connection retry with backoff is left to the caller (cenkalti/
// backoff can be wired around construction where needed); this mirrors a
// single eager dial at startup, retried by the supervising
// ServiceCoordinator on failure.
func Dial(ctx context.Context, cfg *Config) (*Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("amqp: nil config")
	}
	conn, err := ramqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp: set qos: %w", err)
	}

	q := &Queue{cfg: cfg, conn: conn, ch: ch, inFlight: make(map[string]ramqp.Delivery)}
	if err := q.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp: consume: %w", err)
	}
	q.deliver = deliveries
	return q, nil
}

func (q *Queue) declareTopology() error {
	if err := q.ch.ExchangeDeclare(q.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare exchange %s: %w", q.cfg.Exchange, err)
	}
	if err := q.ch.ExchangeDeclare(q.cfg.DLX, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare dlx %s: %w", q.cfg.DLX, err)
	}
	if _, err := q.ch.QueueDeclare(q.cfg.DLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare dlq %s: %w", q.cfg.DLQ, err)
	}
	if err := q.ch.QueueBind(q.cfg.DLQ, "#", q.cfg.DLX, false, nil); err != nil {
		return fmt.Errorf("amqp: bind dlq: %w", err)
	}

	args := ramqp.Table{
		"x-max-priority":         int32(maxPriority),
		"x-dead-letter-exchange": q.cfg.DLX,
	}
	if _, err := q.ch.QueueDeclare(q.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("amqp: declare queue %s: %w", q.cfg.Queue, err)
	}
	for _, key := range routingKeys {
		if err := q.ch.QueueBind(q.cfg.Queue, key, q.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("amqp: bind %s: %w", key, err)
		}
	}
	return nil
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (bool, error) {
	if q.isClosed() {
		return false, queue.ErrClosed
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("amqp: marshal message: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, q.cfg.Exchange, routingKeyFor(msg.Priority), false, false, ramqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: ramqp.Persistent,
		Priority:     msg.Priority.AMQPPriority(),
		MessageId:    msg.ID,
		Body:         body,
	})
	if err != nil {
		return false, fmt.Errorf("amqp: publish: %w", err)
	}
	return true, nil
}

// Dequeue implements queue.Queue. timeout < 0 waits indefinitely.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	if q.isClosed() {
		return nil, queue.ErrClosed
	}

	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case d, ok := <-q.deliver:
		if !ok {
			return nil, queue.ErrClosed
		}
		var msg queue.Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			_ = d.Nack(false, false)
			return nil, fmt.Errorf("amqp: unmarshal delivery: %w", err)
		}
		q.mu.Lock()
		q.inFlight[msg.ID] = d
		q.mu.Unlock()
		return &msg, nil
	case <-timeoutCh:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek is non-native on a broker-backed queue: best-effort
// only, always reports "not available" rather than pretending to support it.
func (q *Queue) Peek(ctx context.Context) (*queue.Message, error) {
	return nil, queue.ErrNotFound
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, msgID string) (bool, error) {
	q.mu.Lock()
	d, ok := q.inFlight[msgID]
	delete(q.inFlight, msgID)
	q.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := d.Ack(false); err != nil {
		return false, fmt.Errorf("amqp: ack %s: %w", msgID, err)
	}
	return true, nil
}

// Nack implements queue.Queue by passing requeue straight to the broker:
// requeue=true returns the delivery to the queue unchanged, and
// requeue=false rejects it so the broker dead-letters it to the DLX.
// RetryCount and MaxRetries are neither checked nor incremented here, so a
// requeued message keeps the retry count it was published with.
func (q *Queue) Nack(ctx context.Context, msgID string, requeue bool) (bool, error) {
	q.mu.Lock()
	d, ok := q.inFlight[msgID]
	delete(q.inFlight, msgID)
	q.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := d.Nack(false, requeue); err != nil {
		return false, fmt.Errorf("amqp: nack %s: %w", msgID, err)
	}
	return true, nil
}

// Size implements queue.Queue via a passive queue declare.
func (q *Queue) Size(ctx context.Context) (int, error) {
	info, err := q.ch.QueueInspect(q.cfg.Queue)
	if err != nil {
		return 0, fmt.Errorf("amqp: inspect queue: %w", err)
	}
	return info.Messages, nil
}

// Clear purges the main queue.
func (q *Queue) Clear(ctx context.Context) error {
	_, err := q.ch.QueuePurge(q.cfg.Queue, false)
	if err != nil {
		return fmt.Errorf("amqp: purge queue: %w", err)
	}
	return nil
}

// HealthCheck reports broker reachability.
func (q *Queue) HealthCheck(ctx context.Context) (queue.HealthStatus, error) {
	if q.isClosed() || q.conn.IsClosed() {
		return queue.HealthStatus{Status: "unhealthy", Details: map[string]any{"reason": "connection closed"}}, nil
	}
	size, err := q.Size(ctx)
	if err != nil {
		return queue.HealthStatus{Status: "unhealthy", Details: map[string]any{"reason": err.Error()}}, nil
	}
	return queue.HealthStatus{Status: "healthy", Details: map[string]any{"queue_depth": size}}, nil
}

// Close implements queue.Queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return fmt.Errorf("amqp: close channel: %w", err)
	}
	return q.conn.Close()
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

var _ queue.Queue = (*Queue)(nil)
