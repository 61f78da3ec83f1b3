package dataset

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/task"
)

// Outcome classifies a finished task.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeExhausted   Outcome = "exhausted"
	OutcomeSystemError Outcome = "system_error"
	OutcomeFailed      Outcome = "failed"
	OutcomeIncomplete  Outcome = "incomplete"
	OutcomeEmpty       Outcome = "empty"
)

// Assembly is what one task history produced. Each stream gets at most one
// record.
type Assembly struct {
	Outcome     Outcome
	Fingerprint fingerprint.Fingerprint

	SFT      *SFTRecord
	DPO      *DPORecord
	Negative *NegativeRecord
}

// Streams lists the streams that received a record.
func (a Assembly) Streams() []Stream {
	var out []Stream
	if a.SFT != nil {
		out = append(out, StreamSFT)
	}
	if a.DPO != nil {
		out = append(out, StreamDPO)
	}
	if a.Negative != nil {
		out = append(out, StreamNegative)
	}
	return out
}

// AssemblerConfig controls optional outputs.
type AssemblerConfig struct {
	RunID string

	// Negatives enables standalone records for tasks never accepted.
	Negatives bool
}

// Assembler routes histories into records. The fingerprint index is the only
// shared state and Index.Insert is atomic, so Assemble may be called from
// many goroutines.
type Assembler struct {
	cfg   AssemblerConfig
	index *fingerprint.Index
	norm  fingerprint.Normalizer
}

// NewAssembler creates an assembler over index.
func NewAssembler(cfg AssemblerConfig, index *fingerprint.Index, norm fingerprint.Normalizer) *Assembler {
	return &Assembler{cfg: cfg, index: index, norm: norm}
}

// Assemble decides the records for one task.
//
// A final accepted attempt yields an SFT record unless its fingerprint is
// already indexed. A content rejection followed by that acceptance yields a
// DPO pair whether or not the SFT record was a duplicate. A history with any
// system error yields nothing.
func (a *Assembler) Assemble(t task.Task, h task.History) Assembly {
	if len(h) == 0 {
		return Assembly{Outcome: OutcomeEmpty}
	}
	if h.HasSystemError() {
		return Assembly{Outcome: OutcomeSystemError}
	}

	final := h[len(h)-1]
	if !final.Verdict.IsAccepted() {
		out := Assembly{Outcome: OutcomeExhausted}
		if a.cfg.Negatives {
			if neg, ok := lastRejection(h, len(h)); ok {
				out.Negative = &NegativeRecord{
					ID:         uuid.NewString(),
					Prompt:     t.Instruction(),
					Code:       neg.Code,
					Kind:       neg.Verdict.Kind,
					Diagnostic: neg.Verdict.Diagnostic,
					TaskID:     t.ID,
					RunID:      a.cfg.RunID,
					Attempt:    neg.Index,
				}
			}
		}
		return out
	}

	fp := a.norm.Of(final.Code)
	out := Assembly{Outcome: OutcomeAccepted, Fingerprint: fp}
	if a.index.Insert(fp) {
		out.SFT = &SFTRecord{
			ID:          uuid.NewString(),
			Instruction: t.Instruction(),
			Output:      final.Code,
			Metadata: SFTMeta{
				TaskID:      t.ID,
				RunID:       a.cfg.RunID,
				Seed:        t.Seed,
				Fingerprint: string(fp),
				Thought:     final.Thought,
				Retries:     final.Index,
				Evolution:   evolution(t),
				Depth:       t.Depth,
				Constraints: t.Constraints,
				Type:        "synthetic_st",
			},
		}
	} else {
		out.Outcome = OutcomeDuplicate
	}

	if rej, ok := lastRejection(h, len(h)-1); ok {
		out.DPO = &DPORecord{
			ID:       uuid.NewString(),
			Prompt:   t.Instruction(),
			Chosen:   final.Code,
			Rejected: rej.Code,
			Metadata: DPOMeta{
				TaskID:          t.ID,
				RunID:           a.cfg.RunID,
				Error:           rej.Verdict.Diagnostic,
				RejectedKind:    rej.Verdict.Kind,
				RejectedAttempt: rej.Index,
				ChosenAttempt:   final.Index,
				Source:          "self-correction",
			},
		}
	}
	return out
}

// lastRejection returns the last content-rejected attempt in h[:end] that
// has code. An empty reply teaches nothing as a rejected sample.
func lastRejection(h task.History, end int) (task.Attempt, bool) {
	for i := end - 1; i >= 0; i-- {
		if h[i].Verdict.IsContentRejection() && strings.TrimSpace(h[i].Code) != "" {
			return h[i], true
		}
	}
	return task.Attempt{}, false
}

func evolution(t task.Task) string {
	if t.Evolved() {
		return "evolved"
	}
	return "base"
}
