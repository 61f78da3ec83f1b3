// Package dataset turns finished task histories into training records and
// appends them to JSONL streams.
package dataset

import (
	"time"

	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

// Stream names one append-only output file.
type Stream string

const (
	StreamSFT      Stream = "sft"
	StreamDPO      Stream = "dpo"
	StreamNegative Stream = "negative"
	StreamHistory  Stream = "history"
)

// SFTRecord is a supervised example: the instruction and accepted code.
type SFTRecord struct {
	ID          string  `json:"id"`
	Instruction string  `json:"instruction"`
	Output      string  `json:"output"`
	Metadata    SFTMeta `json:"metadata"`
}

// SFTMeta describes where an SFT record came from.
type SFTMeta struct {
	TaskID      string   `json:"task_id"`
	RunID       string   `json:"run_id,omitempty"`
	Seed        string   `json:"seed,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Thought     string   `json:"thought,omitempty"`
	Retries     int      `json:"retries"`
	Evolution   string   `json:"evolution"`
	Depth       int      `json:"depth"`
	Constraints []string `json:"constraints,omitempty"`
	Type        string   `json:"type"`
}

// DPORecord pairs an accepted solution with an earlier rejected attempt of
// the same task.
type DPORecord struct {
	ID       string  `json:"id"`
	Prompt   string  `json:"prompt"`
	Chosen   string  `json:"chosen"`
	Rejected string  `json:"rejected"`
	Metadata DPOMeta `json:"metadata"`
}

// DPOMeta carries the rejected attempt's diagnostic verbatim in Error.
type DPOMeta struct {
	TaskID          string       `json:"task_id"`
	RunID           string       `json:"run_id,omitempty"`
	Error           string       `json:"error"`
	RejectedKind    verdict.Kind `json:"rejected_kind"`
	RejectedAttempt int          `json:"rejected_attempt"`
	ChosenAttempt   int          `json:"chosen_attempt"`
	Source          string       `json:"source"`
}

// NegativeRecord keeps the last failed attempt of a task that was never
// accepted. It has no chosen side.
type NegativeRecord struct {
	ID         string       `json:"id"`
	Prompt     string       `json:"prompt"`
	Code       string       `json:"code"`
	Kind       verdict.Kind `json:"kind"`
	Diagnostic string       `json:"diagnostic"`
	TaskID     string       `json:"task_id"`
	RunID      string       `json:"run_id,omitempty"`
	Attempt    int          `json:"attempt"`
}

// HistoryEntry is one line of the run history log.
type HistoryEntry struct {
	RunID       string         `json:"run_id"`
	TaskID      string         `json:"task_id"`
	Instruction string         `json:"instruction"`
	Seed        string         `json:"seed,omitempty"`
	Depth       int            `json:"depth"`
	Outcome     Outcome        `json:"outcome"`
	Attempts    []AttemptEntry `json:"attempts"`
	Records     []Stream       `json:"records,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// AttemptEntry is one attempt inside a HistoryEntry.
type AttemptEntry struct {
	Attempt    int          `json:"attempt"`
	Code       string       `json:"code"`
	Verdict    verdict.Kind `json:"verdict"`
	Diagnostic string       `json:"diagnostic,omitempty"`
}

// NewHistoryEntry summarizes a finished task.
func NewHistoryEntry(runID string, t task.Task, h task.History, a Assembly, elapsed time.Duration) HistoryEntry {
	e := HistoryEntry{
		RunID:       runID,
		TaskID:      t.ID,
		Instruction: t.Instruction(),
		Seed:        t.Seed,
		Depth:       t.Depth,
		Outcome:     a.Outcome,
		Attempts:    make([]AttemptEntry, 0, len(h)),
		Records:     a.Streams(),
		DurationMs:  elapsed.Milliseconds(),
		FinishedAt:  time.Now().UTC(),
	}
	for _, at := range h {
		e.Attempts = append(e.Attempts, AttemptEntry{
			Attempt:    at.Index,
			Code:       at.Code,
			Verdict:    at.Verdict.Kind,
			Diagnostic: at.Verdict.Diagnostic,
		})
	}
	return e
}
