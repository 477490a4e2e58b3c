package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edge-robotics/command-core/command"
	"github.com/edge-robotics/command-core/logger"
	"github.com/edge-robotics/command-core/monitoring"
	"github.com/edge-robotics/command-core/observability"
	"github.com/edge-robotics/command-core/queue"
	"github.com/edge-robotics/command-core/statestore"
)

// commandResult is the JSON shape written to statestore.ResultKey(msg.ID),
// matching batch.Executor's expected storedResult so a batch submission and
// a queued worker dispatch share one result-polling contract.
type commandResult struct {
	Status     string         `json:"status"`
	ResultData map[string]any `json:"result_data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// messageProcessor adapts command.Processor + command.Dispatcher into a
// worker.Processor, recording each message's terminal outcome in store so
// batch submissions (which poll for a result) observe worker-driven
// dispatch the same way they observe directly-dispatched commands.
type messageProcessor struct {
	normalize *command.Processor
	dispatch  command.Dispatcher
	store     statestore.Store
	log       logger.Interface
	telemetry *observability.TelemetryProvider
	metrics   *monitoring.Metrics
}

func newMessageProcessor(normalize *command.Processor, dispatch command.Dispatcher, store statestore.Store, log logger.Interface, telemetry *observability.TelemetryProvider, metrics *monitoring.Metrics) *messageProcessor {
	return &messageProcessor{normalize: normalize, dispatch: dispatch, store: store, log: log, telemetry: telemetry, metrics: metrics}
}

// Process implements worker.Processor.
func (p *messageProcessor) Process(ctx context.Context, msg *queue.Message) (bool, error) {
	spec, err := p.normalize.Process(msg.Payload)
	if err != nil {
		p.recordResult(ctx, msg.ID, commandResult{Status: "FAILED", Error: err.Error()})
		return false, err
	}

	ctx, span := p.telemetry.TraceDispatch(ctx, msg.ID, spec.RobotID, len(spec.Actions))
	start := time.Now()
	ok, dispatchErr := p.dispatch.Dispatch(spec.RobotID, spec.Actions)
	duration := time.Since(start)

	result := commandResult{Status: "SUCCESS"}
	if !ok || dispatchErr != nil {
		result.Status = "FAILED"
		errType := "dispatch_rejected"
		if dispatchErr != nil {
			result.Error = dispatchErr.Error()
			errType = "dispatch_error"
		}
		p.telemetry.SetSpanError(span, dispatchErr)
		p.telemetry.RecordFailed(ctx, spec.RobotID, duration, errType)
		p.metrics.RecordDispatch(spec.RobotID, false, duration, result.Error)
	} else {
		result.ResultData = map[string]any{"robot_id": spec.RobotID, "actions": spec.Actions}
		p.telemetry.SetSpanSuccess(span)
		p.telemetry.RecordDispatched(ctx, spec.RobotID, duration)
		p.metrics.RecordDispatch(spec.RobotID, true, duration, "")
	}
	span.End()
	p.recordResult(ctx, msg.ID, result)

	return ok, dispatchErr
}

func (p *messageProcessor) recordResult(ctx context.Context, msgID string, result commandResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		p.log.Error(ctx, "edge-robot-core: encode result for %s: %v", msgID, err)
		return
	}
	if err := p.store.Set(ctx, statestore.ResultKey(msgID), raw, time.Hour); err != nil {
		p.log.Error(ctx, "edge-robot-core: store result for %s: %v", msgID, err)
	}
}
