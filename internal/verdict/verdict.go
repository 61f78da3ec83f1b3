// Package verdict judges generated Structured Text.
//
// Every candidate passes through two funnels. FastCheck is a linear lexical
// scan that rejects structurally broken code without spawning anything.
// DeepCheck hands survivors to an external IEC 61131-3 compiler, which is the
// only authority that can accept a candidate.
package verdict

import (
	"fmt"
	"time"
)

// Kind is the outcome class of a verdict.
type Kind int

const (
	Accepted Kind = iota
	RejectedSyntax
	RejectedSemantic
	RejectedSystemError
)

var kindNames = map[Kind]string{
	Accepted:            "accepted",
	RejectedSyntax:      "rejected_syntax",
	RejectedSemantic:    "rejected_semantic",
	RejectedSystemError: "rejected_system_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown verdict kind %d", int(k))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown verdict kind %q", string(b))
}

// Stage names the funnel that produced a verdict.
type Stage string

const (
	StageFast Stage = "fast"
	StageDeep Stage = "deep"
)

// SystemFault describes an infrastructure failure of the deep check. It is
// never a judgement about the candidate.
type SystemFault struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Cause    string `json:"cause"`
}

// Verdict is the immutable result of judging one candidate.
type Verdict struct {
	Kind       Kind         `json:"kind"`
	Stage      Stage        `json:"stage"`
	Diagnostic string       `json:"diagnostic,omitempty"`
	Fault      *SystemFault `json:"fault,omitempty"`

	// Elapsed is the time spent in the compiler, zero for fast rejections.
	Elapsed time.Duration `json:"-"`
}

// Accept returns an Accepted verdict.
func Accept(elapsed time.Duration) Verdict {
	return Verdict{Kind: Accepted, Stage: StageDeep, Elapsed: elapsed}
}

// Syntax returns a fast-stage rejection.
func Syntax(diag string) Verdict {
	return Verdict{Kind: RejectedSyntax, Stage: StageFast, Diagnostic: diag}
}

// Semantic returns a compiler rejection carrying the compiler output.
func Semantic(diag string, elapsed time.Duration) Verdict {
	return Verdict{Kind: RejectedSemantic, Stage: StageDeep, Diagnostic: diag, Elapsed: elapsed}
}

// SystemError returns a verdict for a compiler process failure.
func SystemError(fault SystemFault, elapsed time.Duration) Verdict {
	return Verdict{Kind: RejectedSystemError, Stage: StageDeep, Diagnostic: fault.Cause, Fault: &fault, Elapsed: elapsed}
}

// IsAccepted reports whether the candidate was accepted.
func (v Verdict) IsAccepted() bool { return v.Kind == Accepted }

// IsContentRejection reports whether the candidate itself was found wrong.
// Only content rejections may serve as the rejected side of a preference pair.
func (v Verdict) IsContentRejection() bool {
	return v.Kind == RejectedSyntax || v.Kind == RejectedSemantic
}

// IsSystemError reports whether the verdict is an infrastructure failure.
func (v Verdict) IsSystemError() bool { return v.Kind == RejectedSystemError }
