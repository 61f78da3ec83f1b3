package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened in the pipeline.
type EventType string

const (
	EventRunStarted         EventType = "run.started"
	EventRunFinished        EventType = "run.finished"
	EventTaskStarted        EventType = "task.started"
	EventTaskFinished       EventType = "task.finished"
	EventAttemptJudged      EventType = "attempt.judged"
	EventRetry              EventType = "generation.retry"
	EventSystemError        EventType = "verdict.system_error"
	EventRecordWritten      EventType = "dataset.record"
	EventDuplicate          EventType = "dataset.duplicate"
	EventEvolutionExhausted EventType = "task.evolution_exhausted"
)

// Event is one pipeline occurrence. Only the fields relevant to Type are set.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	RunID  string `json:"run_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	// Attempt is the zero-based attempt index for attempt-level events.
	Attempt     int    `json:"attempt,omitempty"`
	Verdict     string `json:"verdict,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Stream      string `json:"stream,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`

	// System error details.
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`

	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
	}
}

// WithTask sets the run and task identifiers.
func (e Event) WithTask(runID, taskID string) Event {
	e.RunID = runID
	e.TaskID = taskID
	return e
}

// WithDetail adds a free-form detail.
func (e Event) WithDetail(key string, value any) Event {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}
