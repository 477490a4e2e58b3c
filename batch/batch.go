// Package batch implements the BatchExecutor: dispatch of an ordered list of
// commands in PARALLEL, SEQUENTIAL or GROUPED mode, polling the shared state
// store for each command's terminal result. Fan-out/fan-in is built with
// goroutines and channels, the same concurrency shape the worker pool in
// queue/worker already uses.
package batch

import (
	"time"
)

// Mode selects how a BatchSpec's commands are scheduled.
type Mode string

const (
	ModeParallel   Mode = "PARALLEL"
	ModeSequential Mode = "SEQUENTIAL"
	ModeGrouped    Mode = "GROUPED"
)

// Status is a CommandResult's terminal state.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCancelled Status = "CANCELLED"
)

// Command is one entry of a BatchSpec.
type Command struct {
	CommandID string
	TraceID   string
	RobotID   string
	Action    string
	Params    map[string]any
	Priority  int
	TimeoutMS int
}

// Options are the batch-wide execution parameters.
type Options struct {
	ExecutionMode          Mode
	MaxParallel            int
	StopOnError            bool
	RetryOnFailure         int
	RetryBackoffFactor     float64
	DelayBetweenCommandsMS int
	DryRun                 bool
}

// DefaultOptions mirrors original_source/src/robot_service/batch/batch_executor.py's defaults.
func DefaultOptions(mode Mode) Options {
	return Options{
		ExecutionMode:          mode,
		MaxParallel:            5,
		StopOnError:            false,
		RetryOnFailure:         0,
		RetryBackoffFactor:     2.0,
		DelayBetweenCommandsMS: 0,
		DryRun:                 false,
	}
}

// Spec is the batch submitted to Execute.
type Spec struct {
	Commands []Command
	Options  Options
}

// CommandResult is the outcome of one Command.
type CommandResult struct {
	CommandID  string
	Status     Status
	StartTime  time.Time
	EndTime    time.Time
	DurationMS int64
	RetryCount int
	ResultData map[string]any
	Error      string
}

// Result is the BatchResult returned by Execute: one CommandResult per input
// Command, in the same order as Spec.Commands.
type Result struct {
	Results []CommandResult
}

func cancelledResult(cmd Command) CommandResult {
	now := time.Now().UTC()
	return CommandResult{CommandID: cmd.CommandID, Status: StatusCancelled, StartTime: now, EndTime: now}
}
