// Package task defines the unit of work flowing through the pipeline and the
// constraint-injection evolver that derives harder tasks from seeds.
package task

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

// InstructionPrefix starts every SFT instruction. Seen-task detection strips
// it back off.
const InstructionPrefix = "Write an IEC 61131-3 Structured Text function block for: "

// Task is a request for one code artifact. A Task is immutable once it has
// been handed to the dispatcher.
type Task struct {
	ID          string   `json:"id"`
	RootID      string   `json:"root_id"`
	SeedIndex   int      `json:"seed_index"`
	Seed        string   `json:"seed"`
	Description string   `json:"description"`
	Depth       int      `json:"depth"`
	Constraints []string `json:"constraints,omitempty"`
}

// NewSeed returns a depth-0 task for a seed description. index is the seed's
// position in the corpus and drives deterministic evolution.
func NewSeed(description string, index int) Task {
	id := uuid.NewString()
	description = strings.TrimSpace(description)
	return Task{
		ID:          id,
		RootID:      id,
		SeedIndex:   index,
		Seed:        description,
		Description: description,
	}
}

// Instruction returns the SFT instruction text for the task.
func (t Task) Instruction() string {
	return InstructionPrefix + t.Description
}

// Evolved reports whether constraints were injected.
func (t Task) Evolved() bool { return t.Depth > 0 }

// Attempt is one generation round of a task and its verdict.
type Attempt struct {
	Index   int             `json:"attempt"`
	Code    string          `json:"code"`
	Thought string          `json:"thought,omitempty"`
	Verdict verdict.Verdict `json:"verdict"`
}

// History is the ordered attempts of one task.
type History []Attempt

// Accepted returns the first accepted attempt.
func (h History) Accepted() (Attempt, bool) {
	for _, a := range h {
		if a.Verdict.IsAccepted() {
			return a, true
		}
	}
	return Attempt{}, false
}

// HasSystemError reports whether any attempt ended in an infrastructure fault.
func (h History) HasSystemError() bool {
	for _, a := range h {
		if a.Verdict.IsSystemError() {
			return true
		}
	}
	return false
}
