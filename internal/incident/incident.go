// Package incident routes compiler infrastructure failures to operational
// reporting, separately from the dataset.
package incident

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
)

// Incident is one system error verdict.
type Incident struct {
	RunID    string    `json:"run_id"`
	TaskID   string    `json:"task_id"`
	Attempt  int       `json:"attempt"`
	Command  string    `json:"command"`
	ExitCode int       `json:"exit_code"`
	TimedOut bool      `json:"timed_out"`
	Cause    string    `json:"cause"`
	At       time.Time `json:"at"`
}

// FromEvent converts a system error event.
func FromEvent(e bus.Event) Incident {
	return Incident{
		RunID:    e.RunID,
		TaskID:   e.TaskID,
		Attempt:  e.Attempt,
		Command:  e.Command,
		ExitCode: e.ExitCode,
		TimedOut: e.TimedOut,
		Cause:    e.Error,
		At:       e.Timestamp,
	}
}

// Values flattens the incident for a stream entry.
func (i Incident) Values() map[string]any {
	return map[string]any{
		"run_id":    i.RunID,
		"task_id":   i.TaskID,
		"attempt":   strconv.Itoa(i.Attempt),
		"command":   i.Command,
		"exit_code": strconv.Itoa(i.ExitCode),
		"timed_out": strconv.FormatBool(i.TimedOut),
		"cause":     i.Cause,
		"at":        i.At.UTC().Format(time.RFC3339Nano),
	}
}

// Sink receives incidents in addition to the log.
type Sink interface {
	Send(ctx context.Context, inc Incident) error
}

// Reporter logs every incident and forwards it to an optional sink.
type Reporter struct {
	log     zerolog.Logger
	sink    Sink
	timeout time.Duration

	mu        sync.Mutex
	incidents []Incident
}

// NewReporter creates a reporter. sink may be nil.
func NewReporter(log zerolog.Logger, sink Sink) *Reporter {
	return &Reporter{log: log, sink: sink, timeout: 2 * time.Second}
}

// Attach subscribes to system error events on b.
func (r *Reporter) Attach(b *bus.Bus) {
	if b == nil {
		return
	}
	b.Subscribe(bus.EventSystemError, func(e bus.Event) { r.Report(FromEvent(e)) })
}

// Report records one incident.
func (r *Reporter) Report(inc Incident) {
	r.mu.Lock()
	r.incidents = append(r.incidents, inc)
	r.mu.Unlock()

	r.log.Error().
		Str("task_id", inc.TaskID).
		Int("attempt", inc.Attempt).
		Str("command", inc.Command).
		Int("exit_code", inc.ExitCode).
		Bool("timed_out", inc.TimedOut).
		Str("cause", inc.Cause).
		Msg("compiler system error")

	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, inc); err != nil {
		r.log.Warn().Err(err).Str("task_id", inc.TaskID).Msg("incident not forwarded")
	}
}

// Incidents returns everything reported so far.
func (r *Reporter) Incidents() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Incident, len(r.incidents))
	copy(out, r.incidents)
	return out
}
