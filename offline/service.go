package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/queue"
)

// PublishFunc delivers a command directly to the live broker/backend.
type PublishFunc func(ctx context.Context, msg *queue.Message) error

// SyncFunc delivers observability/sync data to its cloud destination.
type SyncFunc func(ctx context.Context, entry *BufferEntry) error

// FlushSkipReason explains why Flush was a no-op (Flush
// idempotence property).
type FlushSkipReason string

const (
	SkipOffline          FlushSkipReason = "offline"
	SkipNoHandler        FlushSkipReason = "no_handler"
	SkipQueueUnavailable FlushSkipReason = "queue_service_unavailable"
)

// FlushOutcome is the return shape of Flush().
type FlushOutcome struct {
	Skipped bool
	Reason  FlushSkipReason
	Result  FlushResult
}

// Service wraps two offline buffers — one for commands awaiting an
// unavailable broker, one for sync/observability data awaiting network
// restoration — behind broker- and network-availability signals.
type Service struct {
	commandBuffer *Buffer
	syncBuffer    *Buffer

	brokerAvailable  atomic.Bool
	networkAvailable atomic.Bool

	publish PublishFunc
	sync    SyncFunc

	bus eventbus.Bus

	flushInterval time.Duration
	ttl           time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Service.
type Config struct {
	DatabasePath  string
	MaxSize       int
	DefaultTTL    time.Duration
	MaxRetryCount int
	SendBatchSize int
	FlushInterval time.Duration
}

// DefaultConfig returns named Offline defaults.
func DefaultConfig(databasePath string) Config {
	return Config{
		DatabasePath:  databasePath,
		MaxSize:       1000,
		DefaultTTL:    time.Hour,
		MaxRetryCount: 3,
		SendBatchSize: 10,
		FlushInterval: 5 * time.Second,
	}
}

// New opens both buffers against cfg.DatabasePath and wires the publish/sync
// handlers. Both buffers assume broker/network are unavailable until
// SetBrokerAvailable/SetNetworkAvailable report otherwise.
func New(cfg Config, publish PublishFunc, sync SyncFunc, bus eventbus.Bus) (*Service, error) {
	commandBuf, err := Open(cfg.DatabasePath, "command", cfg.MaxSize, cfg.MaxRetryCount, cfg.SendBatchSize)
	if err != nil {
		return nil, err
	}
	syncBuf, err := Open(cfg.DatabasePath, "sync", cfg.MaxSize, cfg.MaxRetryCount, cfg.SendBatchSize)
	if err != nil {
		commandBuf.Close()
		return nil, err
	}

	s := &Service{
		commandBuffer: commandBuf,
		syncBuffer:    syncBuf,
		publish:       publish,
		sync:          sync,
		bus:           bus,
		flushInterval: cfg.FlushInterval,
		ttl:           cfg.DefaultTTL,
	}
	return s, nil
}

// SetBrokerAvailable updates the broker-availability signal. Transitioning
// from unavailable to available triggers an immediate command-buffer flush.
func (s *Service) SetBrokerAvailable(ctx context.Context, available bool) {
	was := s.brokerAvailable.Swap(available)
	if !was && available {
		go s.FlushCommands(ctx)
	}
}

// SetNetworkAvailable updates the network-availability signal. Transitioning
// from unavailable to available triggers an immediate sync-buffer flush.
func (s *Service) SetNetworkAvailable(ctx context.Context, available bool) {
	was := s.networkAvailable.Swap(available)
	if !was && available {
		go s.FlushSync(ctx)
	}
}

// SubmitCommand implements submit_command behavior: publish
// directly if the broker is available, falling back to the command buffer
// on unavailability or a publish error.
func (s *Service) SubmitCommand(ctx context.Context, id string, msg *queue.Message) (bool, error) {
	if s.brokerAvailable.Load() {
		if err := s.publish(ctx, msg); err != nil {
			s.brokerAvailable.Store(false)
		} else {
			return true, nil
		}
	}

	ok, err := s.commandBuffer.Enqueue(ctx, id, msg, s.ttl)
	if err != nil || !ok {
		return false, err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.TopicCommandBuffered, map[string]any{"command_id": id})
	}
	return true, nil
}

// LogCommandExecution and QueueSyncData both route through the sync buffer:
// push to the cloud sync handler directly, and on failure (or when no
// handler is wired) persist into the sync buffer instead.
func (s *Service) LogCommandExecution(ctx context.Context, id string, msg *queue.Message) (bool, error) {
	return s.queueSync(ctx, id, msg)
}

// QueueSyncData persists arbitrary observability/sync payloads the same way.
func (s *Service) QueueSyncData(ctx context.Context, id string, msg *queue.Message) (bool, error) {
	return s.queueSync(ctx, id, msg)
}

func (s *Service) queueSync(ctx context.Context, id string, msg *queue.Message) (bool, error) {
	if s.networkAvailable.Load() && s.sync != nil {
		entry := &BufferEntry{ID: id, Priority: msg.Priority}
		if body, err := json.Marshal(msg); err == nil {
			entry.MessageJSON = string(body)
		}
		if err := s.sync(ctx, entry); err == nil {
			return true, nil
		}
		s.networkAvailable.Store(false)
	}
	return s.syncBuffer.Enqueue(ctx, id, msg, s.ttl)
}

// FlushCommands flushes the command buffer against the live publish handler.
func (s *Service) FlushCommands(ctx context.Context) FlushOutcome {
	if !s.brokerAvailable.Load() {
		return FlushOutcome{Skipped: true, Reason: SkipOffline}
	}
	if s.publish == nil {
		return FlushOutcome{Skipped: true, Reason: SkipNoHandler}
	}

	result, err := s.commandBuffer.Flush(ctx, func(ctx context.Context, entry *BufferEntry) error {
		var msg queue.Message
		if err := json.Unmarshal([]byte(entry.MessageJSON), &msg); err != nil {
			return err
		}
		return s.publish(ctx, &msg)
	})
	if err != nil {
		return FlushOutcome{Skipped: true, Reason: SkipQueueUnavailable}
	}
	return FlushOutcome{Result: result}
}

// FlushSync flushes the sync buffer against the live sync handler.
func (s *Service) FlushSync(ctx context.Context) FlushOutcome {
	if !s.networkAvailable.Load() {
		return FlushOutcome{Skipped: true, Reason: SkipOffline}
	}
	if s.sync == nil {
		return FlushOutcome{Skipped: true, Reason: SkipNoHandler}
	}

	result, err := s.syncBuffer.Flush(ctx, s.sync)
	if err != nil {
		return FlushOutcome{Skipped: true, Reason: SkipQueueUnavailable}
	}
	return FlushOutcome{Result: result}
}

// Start launches the periodic flush loop for both buffers.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.flushLoop(loopCtx)
}

func (s *Service) flushLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FlushCommands(ctx)
			s.FlushSync(ctx)
		}
	}
}

// Stop halts the periodic flush loop and closes both buffers.
func (s *Service) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if err := s.commandBuffer.Close(); err != nil {
		return fmt.Errorf("offline: close command buffer: %w", err)
	}
	return s.syncBuffer.Close()
}

// Stats reports per-buffer status counts and cumulative counters.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	cmdCounts, cmdFlushed, cmdExpired, err := s.commandBuffer.Stats(ctx)
	if err != nil {
		return nil, err
	}
	syncCounts, syncFlushed, syncExpired, err := s.syncBuffer.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"command_buffer": map[string]any{"counts": cmdCounts, "total_flushed": cmdFlushed, "total_expired": cmdExpired},
		"sync_buffer":    map[string]any{"counts": syncCounts, "total_flushed": syncFlushed, "total_expired": syncExpired},
	}, nil
}

// Purge clears entries in the given status from both buffers, returning the
// count removed from each.
func (s *Service) Purge(ctx context.Context, status Status) (commandPurged, syncPurged int, err error) {
	commandPurged, err = s.commandBuffer.Purge(ctx, status)
	if err != nil {
		return 0, 0, err
	}
	syncPurged, err = s.syncBuffer.Purge(ctx, status)
	return commandPurged, syncPurged, err
}
