package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edge-robotics/command-core/logger"
	"github.com/edge-robotics/command-core/queue"
	"github.com/edge-robotics/command-core/queue/retry"
	"github.com/edge-robotics/command-core/statestore"
)

const defaultPollInterval = 200 * time.Millisecond

// storedResult is the JSON shape a dispatcher writes to
// statestore.ResultKey(commandID) once a command reaches a terminal state.
type storedResult struct {
	Status     Status         `json:"status"`
	ResultData map[string]any `json:"result_data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Executor dispatches BatchSpecs onto a queue.Queue and polls a
// statestore.Store for each command's terminal result.
type Executor struct {
	q            queue.Queue
	store        statestore.Store
	pollInterval time.Duration
	log          logger.Interface
}

// Option configures an Executor.
type Option func(*Executor)

// WithPollInterval overrides the 200ms default result-polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.pollInterval = d }
}

// WithLogger attaches a logger.Interface for dispatch/retry diagnostics.
func WithLogger(l logger.Interface) Option {
	return func(e *Executor) { e.log = l }
}

// New builds an Executor over q (where commands are enqueued as Messages)
// and store (where their terminal results are polled from).
func New(q queue.Queue, store statestore.Store, opts ...Option) *Executor {
	e := &Executor{q: q, store: store, pollInterval: defaultPollInterval, log: logger.Discard}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs spec according to its Options.ExecutionMode and returns one
// CommandResult per input Command, in input order.
func (e *Executor) Execute(ctx context.Context, spec Spec) (Result, error) {
	if spec.Options.DryRun {
		return e.executeDryRun(spec), nil
	}

	switch spec.Options.ExecutionMode {
	case ModeSequential:
		return e.executeSequential(ctx, spec), nil
	case ModeGrouped:
		return e.executeGrouped(ctx, spec), nil
	case ModeParallel, "":
		return e.executeParallel(ctx, spec), nil
	default:
		return Result{}, fmt.Errorf("batch: unknown execution mode %q", spec.Options.ExecutionMode)
	}
}

func (e *Executor) executeDryRun(spec Spec) Result {
	results := make([]CommandResult, len(spec.Commands))
	now := time.Now().UTC()
	for i, cmd := range spec.Commands {
		results[i] = CommandResult{
			CommandID:  cmd.CommandID,
			Status:     StatusSuccess,
			StartTime:  now,
			EndTime:    now,
			DurationMS: 0,
			ResultData: map[string]any{"dry_run": true},
		}
	}
	return Result{Results: results}
}

func (e *Executor) executeParallel(ctx context.Context, spec Spec) Result {
	n := len(spec.Commands)
	results := make([]CommandResult, n)

	maxParallel := spec.Options.MaxParallel
	if maxParallel <= 0 {
		maxParallel = n
	}
	if maxParallel <= 0 {
		return Result{Results: results}
	}
	sem := make(chan struct{}, maxParallel)

	var wg sync.WaitGroup
	for i, cmd := range spec.Commands {
		wg.Add(1)
		go func(i int, cmd Command) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.dispatchWithRetry(ctx, cmd, spec.Options)
		}(i, cmd)
	}
	wg.Wait()
	return Result{Results: results}
}

func (e *Executor) executeSequential(ctx context.Context, spec Spec) Result {
	results := make([]CommandResult, len(spec.Commands))
	delay := time.Duration(spec.Options.DelayBetweenCommandsMS) * time.Millisecond

	for i, cmd := range spec.Commands {
		result := e.dispatchWithRetry(ctx, cmd, spec.Options)
		results[i] = result

		if spec.Options.StopOnError && (result.Status == StatusFailed || result.Status == StatusTimeout) {
			for j := i + 1; j < len(spec.Commands); j++ {
				results[j] = cancelledResult(spec.Commands[j])
			}
			return Result{Results: results}
		}

		if i < len(spec.Commands)-1 && delay > 0 {
			sleep(ctx, delay)
		}
	}
	return Result{Results: results}
}

// executeGrouped partitions commands by RobotID (first-seen order
// preserved), runs each group's commands sequentially but runs groups
// concurrently with each other, then reassembles results in original input
// order by the positional index captured at partition time — never by
// sorting CommandID, so ties and non-lexicographic ids still round-trip
// correctly.
func (e *Executor) executeGrouped(ctx context.Context, spec Spec) Result {
	type indexed struct {
		index int
		cmd   Command
	}

	groupOrder := make([]string, 0)
	groups := make(map[string][]indexed)
	for i, cmd := range spec.Commands {
		if _, ok := groups[cmd.RobotID]; !ok {
			groupOrder = append(groupOrder, cmd.RobotID)
		}
		groups[cmd.RobotID] = append(groups[cmd.RobotID], indexed{index: i, cmd: cmd})
	}

	results := make([]CommandResult, len(spec.Commands))
	delay := time.Duration(spec.Options.DelayBetweenCommandsMS) * time.Millisecond

	var wg sync.WaitGroup
	for _, robotID := range groupOrder {
		wg.Add(1)
		go func(entries []indexed) {
			defer wg.Done()
			for pos, entry := range entries {
				result := e.dispatchWithRetry(ctx, entry.cmd, spec.Options)
				results[entry.index] = result

				if spec.Options.StopOnError && (result.Status == StatusFailed || result.Status == StatusTimeout) {
					for _, rest := range entries[pos+1:] {
						results[rest.index] = cancelledResult(rest.cmd)
					}
					return
				}
				if pos < len(entries)-1 && delay > 0 {
					sleep(ctx, delay)
				}
			}
		}(groups[robotID])
	}
	wg.Wait()

	return Result{Results: results}
}

// dispatchWithRetry wraps dispatchOnce in a retry loop: up to
// RetryOnFailure+1 attempts, sleeping between attempts per a
// retry.Policy built from RetryBackoffFactor.
func (e *Executor) dispatchWithRetry(ctx context.Context, cmd Command, opts Options) CommandResult {
	var result CommandResult
	maxAttempts := opts.RetryOnFailure + 1
	policy := backoffPolicy(opts.RetryBackoffFactor, maxAttempts)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result = e.dispatchOnce(ctx, cmd)
		result.RetryCount = attempt
		if result.Status == StatusSuccess {
			return result
		}
		if attempt < maxAttempts-1 {
			e.log.Debug(ctx, fmt.Sprintf("batch: retrying command %s (attempt %d)", cmd.CommandID, attempt+1))
			sleep(ctx, policy.NextInterval(attempt))
		}
	}
	return result
}

// backoffPolicy builds a retry.Policy whose per-attempt growth matches
// RetryBackoffFactor, with a one-second base interval and a retry budget
// wide enough to cover every attempt dispatchWithRetry will make.
func backoffPolicy(factor float64, maxAttempts int) *retry.Policy {
	if factor <= 0 {
		factor = 1
	}
	return retry.Exponential(maxAttempts, time.Second, factor)
}

// dispatchOnce enqueues cmd as a Message and polls the state store for its
// terminal result up to cmd.TimeoutMS.
func (e *Executor) dispatchOnce(ctx context.Context, cmd Command) CommandResult {
	start := time.Now().UTC()

	msg := buildMessage(cmd)
	// A retry reuses the command id, so drop any result left by an earlier
	// attempt before polling for this one.
	if err := e.store.Delete(ctx, statestore.ResultKey(msg.ID)); err != nil {
		return failedResult(cmd, start, err.Error())
	}
	ok, err := e.q.Enqueue(ctx, msg)
	if err != nil {
		return failedResult(cmd, start, err.Error())
	}
	if !ok {
		return failedResult(cmd, start, "queue full")
	}

	timeout := time.Duration(cmd.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		stored, found, err := e.pollResult(ctx, msg.ID)
		if err != nil {
			return failedResult(cmd, start, err.Error())
		}
		if found {
			end := time.Now().UTC()
			return CommandResult{
				CommandID:  cmd.CommandID,
				Status:     stored.Status,
				StartTime:  start,
				EndTime:    end,
				DurationMS: end.Sub(start).Milliseconds(),
				ResultData: stored.ResultData,
				Error:      stored.Error,
			}
		}
		if time.Now().After(deadline) {
			end := time.Now().UTC()
			return CommandResult{CommandID: cmd.CommandID, Status: StatusTimeout, StartTime: start, EndTime: end, DurationMS: end.Sub(start).Milliseconds()}
		}

		select {
		case <-ctx.Done():
			end := time.Now().UTC()
			return CommandResult{CommandID: cmd.CommandID, Status: StatusFailed, StartTime: start, EndTime: end, DurationMS: end.Sub(start).Milliseconds(), Error: ctx.Err().Error()}
		case <-ticker.C:
		}
	}
}

func (e *Executor) pollResult(ctx context.Context, commandID string) (storedResult, bool, error) {
	raw, err := e.store.Get(ctx, statestore.ResultKey(commandID))
	if err != nil {
		if err == statestore.ErrNotFound {
			return storedResult{}, false, nil
		}
		return storedResult{}, false, err
	}
	var sr storedResult
	if err := json.Unmarshal(raw, &sr); err != nil {
		return storedResult{}, false, fmt.Errorf("batch: decode result for %s: %w", commandID, err)
	}
	return sr, true, nil
}

func buildMessage(cmd Command) *queue.Message {
	msg := queue.NewMessage(map[string]any{
		"robot_id": cmd.RobotID,
		"action":   cmd.Action,
		"params":   cmd.Params,
	}, queue.Priority(cmd.Priority))
	msg.ID = cmd.CommandID
	msg.TraceID = cmd.TraceID
	if cmd.TimeoutMS > 0 {
		msg.TimeoutSeconds = float64(cmd.TimeoutMS) / 1000.0
	}
	return msg
}

func failedResult(cmd Command, start time.Time, errMsg string) CommandResult {
	end := time.Now().UTC()
	return CommandResult{
		CommandID:  cmd.CommandID,
		Status:     StatusFailed,
		StartTime:  start,
		EndTime:    end,
		DurationMS: end.Sub(start).Milliseconds(),
		Error:      errMsg,
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
