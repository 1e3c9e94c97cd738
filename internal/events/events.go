// Package events defines the typed events the engine emits while a
// simulation runs, and the sinks that carry them to adapters (console
// logger, collector, buffered fan-out). Event payloads are type-safe: each
// payload struct implements EventData and reports its own kind.
package events

import (
	"time"
)

// Kind enumerates the event kinds of the sink contract.
type Kind string

const (
	Progress           Kind = "progress"
	ModuleStarted      Kind = "module_started"
	ModuleCompleted    Kind = "module_completed"
	IntermediateResult Kind = "intermediate_result"
	Result             Kind = "result"
	Error              Kind = "error"
	GuardrailViolation Kind = "guardrail_violation"
)

// Terminal reports whether an event kind must never be dropped by a
// bounded sink.
func (k Kind) Terminal() bool {
	return k == Result || k == Error
}

// EventData is implemented by every event payload.
type EventData interface {
	EventKind() Kind
}

// Event is one emitted event. Data holds the kind-specific payload.
type Event struct {
	Kind      Kind      `json:"kind"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// ProgressData reports fractional progress of one module.
type ProgressData struct {
	Module   string  `json:"module"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// EventKind returns the event kind for ProgressData.
func (d *ProgressData) EventKind() Kind { return Progress }

// ModuleStartedData marks a module beginning execution.
type ModuleStartedData struct {
	Module string `json:"module"`
}

// EventKind returns the event kind for ModuleStartedData.
func (d *ModuleStartedData) EventKind() Kind { return ModuleStarted }

// ModuleCompletedData marks a module finishing, with elapsed wall time.
type ModuleCompletedData struct {
	Module               string  `json:"module"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
}

// EventKind returns the event kind for ModuleCompletedData.
func (d *ModuleCompletedData) EventKind() Kind { return ModuleCompleted }

// IntermediateResultData carries a partial result for incremental UIs.
type IntermediateResultData struct {
	Module string      `json:"module"`
	Data   interface{} `json:"data"`
}

// EventKind returns the event kind for IntermediateResultData.
func (d *IntermediateResultData) EventKind() Kind { return IntermediateResult }

// ResultData carries the final result of a run.
type ResultData struct {
	Result               interface{} `json:"result"`
	ExecutionTimeSeconds float64     `json:"execution_time_seconds"`
}

// EventKind returns the event kind for ResultData.
func (d *ResultData) EventKind() Kind { return Result }

// ErrorData reports a run or module failure.
type ErrorData struct {
	Error  string `json:"error"`
	Module string `json:"module,omitempty"`
}

// EventKind returns the event kind for ErrorData.
func (d *ErrorData) EventKind() Kind { return Error }

// GuardrailViolationData reports one guardrail breach.
type GuardrailViolationData struct {
	Rule     string                 `json:"rule"`
	Severity string                 `json:"severity"` // info, warning, error
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// EventKind returns the event kind for GuardrailViolationData.
func (d *GuardrailViolationData) EventKind() Kind { return GuardrailViolation }

// Sink receives events. Emit must be non-blocking; implementations with
// bounded buffers drop the oldest non-terminal progress event on overflow
// and never drop Result or Error events.
type Sink interface {
	Emit(e Event)
}

// New stamps a payload into an Event.
func New(runID string, data EventData) Event {
	return Event{
		Kind:      data.EventKind(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
