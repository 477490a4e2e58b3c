// Package cloud implements the cloud queue backend of the priority queue
// contract against an SQS-compatible API: standard or FIFO queue semantics,
// visibility-timeout leases instead of native ack/nack, and priority carried
// as a message attribute since SQS has no native priority concept.
// Client construction is grounded on kedacore-keda's AWS scaler
// wiring (region/credential resolution via the SDK's default provider
// chain), ported from SDK v1 to the aws-sdk-go-v2 + config module this
// module depends on.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edge-robotics/command-core/queue"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// QueueName is the base name of the main queue; ".fifo" is
// appended when UseFIFO is set.
const QueueName = "robot-edge-commands-queue"

// DLQName is the base name of the dead-letter queue.
const DLQName = "robot-edge-commands-dlq"

// Config configures the cloud backend.
type Config struct {
	QueueURL         string // resolved lazily from QueueName if empty
	QueueName        string
	DLQName          string
	Region           string
	VisibilityTimeout time.Duration
	WaitTimeSeconds  int32 // long-poll duration, capped at 20s
	UseFIFO          bool
}

// DefaultConfig returns the default queue naming and timeouts.
func DefaultConfig(region string) *Config {
	return &Config{
		QueueName:        QueueName,
		DLQName:          DLQName,
		Region:           region,
		VisibilityTimeout: 30 * time.Second,
		WaitTimeSeconds:  20,
	}
}

func (c *Config) effectiveQueueName() string {
	if c.UseFIFO {
		return c.QueueName + ".fifo"
	}
	return c.QueueName
}

// Queue is a queue.Queue backed by SQS (or an SQS-compatible API).
type Queue struct {
	cfg      *Config
	client   *sqs.Client
	queueURL string

	mu       sync.Mutex
	inFlight map[string]string // message id -> receipt handle
	closed   bool
}

// Connect resolves AWS credentials/region via the SDK's default provider
// chain and looks up (or accepts) the queue URL.
func Connect(ctx context.Context, cfg *Config) (*Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cloud: nil config")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("cloud: load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg)

	url := cfg.QueueURL
	if url == "" {
		out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: awsString(cfg.effectiveQueueName())})
		if err != nil {
			return nil, fmt.Errorf("cloud: resolve queue url for %s: %w", cfg.effectiveQueueName(), err)
		}
		url = *out.QueueUrl
	}

	return &Queue{
		cfg:      cfg,
		client:   client,
		queueURL: url,
		inFlight: make(map[string]string),
	}, nil
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (bool, error) {
	if q.isClosed() {
		return false, queue.ErrClosed
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("cloud: marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: awsString(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Priority": {
				DataType:    awsString("String"),
				StringValue: awsString(msg.Priority.String()),
			},
		},
	}
	if q.cfg.UseFIFO {
		input.MessageGroupId = awsString("robot-commands")
		input.MessageDeduplicationId = awsString(msg.ID)
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return false, fmt.Errorf("cloud: send message: %w", err)
	}
	return true, nil
}

// Dequeue implements queue.Queue, long-polling up to min(timeout, 20s).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	if q.isClosed() {
		return nil, queue.ErrClosed
	}

	waitSeconds := q.cfg.WaitTimeSeconds
	if timeout >= 0 {
		if s := int32(timeout / time.Second); s < waitSeconds {
			waitSeconds = s
		}
	}
	if waitSeconds > 20 {
		waitSeconds = 20
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   int32(q.cfg.VisibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	var msg queue.Message
	if err := json.Unmarshal([]byte(*raw.Body), &msg); err != nil {
		return nil, fmt.Errorf("cloud: unmarshal message: %w", err)
	}

	q.mu.Lock()
	q.inFlight[msg.ID] = *raw.ReceiptHandle
	q.mu.Unlock()
	return &msg, nil
}

// Peek is non-native on SQS: best-effort only.
func (q *Queue) Peek(ctx context.Context) (*queue.Message, error) {
	return nil, queue.ErrNotFound
}

// Ack implements queue.Queue by deleting the message.
func (q *Queue) Ack(ctx context.Context, msgID string) (bool, error) {
	receipt, ok := q.takeReceipt(msgID)
	if !ok {
		return false, nil
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.queueURL,
		ReceiptHandle: &receipt,
	}); err != nil {
		return false, fmt.Errorf("cloud: delete message %s: %w", msgID, err)
	}
	return true, nil
}

// Nack implements queue.Queue by zeroing the message's visibility timeout,
// so it becomes visible again at once whether or not requeue is set.
// RetryCount and MaxRetries are neither checked nor incremented here;
// moving a message to the DLQ is left to a redrive policy on the queue.
func (q *Queue) Nack(ctx context.Context, msgID string, requeue bool) (bool, error) {
	receipt, ok := q.takeReceipt(msgID)
	if !ok {
		return false, nil
	}
	var visibility int32
	if !requeue {
		// Leave the lease at zero too: without requeue, the message becomes
		// visible once and, lacking redrive-on-nack semantics, is expected to
		// be deleted by a redrive policy configured on the queue (DLQ after N
		// receives) rather than by this client.
		visibility = 0
	}
	if _, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &q.queueURL,
		ReceiptHandle:     &receipt,
		VisibilityTimeout: visibility,
	}); err != nil {
		return false, fmt.Errorf("cloud: change visibility for %s: %w", msgID, err)
	}
	return true, nil
}

func (q *Queue) takeReceipt(msgID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	receipt, ok := q.inFlight[msgID]
	delete(q.inFlight, msgID)
	return receipt, ok
}

// Size implements queue.Queue via the queue's approximate-count attribute.
func (q *Queue) Size(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &q.queueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("cloud: get queue attributes: %w", err)
	}
	var size int
	fmt.Sscanf(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], "%d", &size)
	return size, nil
}

// Clear implements queue.Queue by purging the queue.
func (q *Queue) Clear(ctx context.Context) error {
	_, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: &q.queueURL})
	if err != nil {
		return fmt.Errorf("cloud: purge queue: %w", err)
	}
	return nil
}

// HealthCheck implements queue.Queue.
func (q *Queue) HealthCheck(ctx context.Context) (queue.HealthStatus, error) {
	if q.isClosed() {
		return queue.HealthStatus{Status: "unhealthy", Details: map[string]any{"reason": "closed"}}, nil
	}
	size, err := q.Size(ctx)
	if err != nil {
		return queue.HealthStatus{Status: "unhealthy", Details: map[string]any{"reason": err.Error()}}, nil
	}
	return queue.HealthStatus{Status: "healthy", Details: map[string]any{"queue_depth": size}}, nil
}

// Close implements queue.Queue. The SQS client holds no persistent
// connection to release; Close only flips the guard flag.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func awsString(s string) *string { return &s }

var _ queue.Queue = (*Queue)(nil)
