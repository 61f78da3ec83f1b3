package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

const (
	brokenTimer = "FUNCTION_BLOCK FB_Timer\nVAR t : TON; END_VAR\nEND_IF\nEND_FUNCTION_BLOCK"
	goodTimer   = "FUNCTION_BLOCK FB_Timer\nVAR t : TON; END_VAR\nt(IN := TRUE, PT := T#1s);\nEND_FUNCTION_BLOCK"
)

func newAssembler(negatives bool) *Assembler {
	return NewAssembler(
		AssemblerConfig{RunID: "run-1", Negatives: negatives},
		fingerprint.NewIndex(0),
		fingerprint.Normalizer{Mode: fingerprint.ModeWhitespace},
	)
}

func attempt(i int, code string, v verdict.Verdict) task.Attempt {
	return task.Attempt{Index: i, Code: code, Verdict: v}
}

func TestAssemble_SyntaxThenAccepted(t *testing.T) {
	a := newAssembler(false)
	tk := task.NewSeed("Write an ST function block for a timer", 0)
	diag := "line 3: unexpected END_IF"
	h := task.History{
		attempt(0, brokenTimer, verdict.Syntax(diag)),
		attempt(1, goodTimer, verdict.Accept(time.Millisecond)),
	}

	got := a.Assemble(tk, h)
	assert.Equal(t, OutcomeAccepted, got.Outcome)
	require.NotNil(t, got.SFT)
	assert.Equal(t, goodTimer, got.SFT.Output)
	assert.Equal(t, 1, got.SFT.Metadata.Retries)

	require.NotNil(t, got.DPO)
	assert.Equal(t, goodTimer, got.DPO.Chosen)
	assert.Equal(t, brokenTimer, got.DPO.Rejected)
	assert.Contains(t, got.DPO.Metadata.Error, "unexpected END_IF")
	assert.Equal(t, verdict.RejectedSyntax, got.DPO.Metadata.RejectedKind)
	assert.Equal(t, tk.ID, got.DPO.Metadata.TaskID)
	assert.Equal(t, tk.Instruction(), got.DPO.Prompt)
	assert.Nil(t, got.Negative)
}

func TestAssemble_FirstTryAccepted(t *testing.T) {
	index := fingerprint.NewIndex(0)
	norm := fingerprint.Normalizer{Mode: fingerprint.ModeWhitespace}
	a := NewAssembler(AssemblerConfig{}, index, norm)

	got := a.Assemble(task.NewSeed("timer", 0), task.History{attempt(0, goodTimer, verdict.Accept(0))})
	require.NotNil(t, got.SFT)
	assert.Nil(t, got.DPO)
	assert.Equal(t, []Stream{StreamSFT}, got.Streams())
	assert.True(t, index.Contains(norm.Of(goodTimer)))
	assert.Equal(t, 1, index.Len())
	assert.Equal(t, string(norm.Of(goodTimer)), got.SFT.Metadata.Fingerprint)
}

func TestAssemble_DuplicateAcrossTasks(t *testing.T) {
	a := newAssembler(false)

	first := a.Assemble(task.NewSeed("timer one", 0), task.History{attempt(0, goodTimer, verdict.Accept(0))})
	require.NotNil(t, first.SFT)

	// Same text with different spacing normalizes to the same fingerprint.
	again := strings.ReplaceAll(goodTimer, "\n", "\n   ")
	second := a.Assemble(task.NewSeed("timer two", 1), task.History{
		attempt(0, "bad", verdict.Semantic("source.st:2: error", 0)),
		attempt(1, again, verdict.Accept(0)),
	})
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Nil(t, second.SFT)
	// The preference pair survives a duplicate SFT.
	require.NotNil(t, second.DPO)
	assert.Equal(t, "bad", second.DPO.Rejected)
}

func TestAssemble_SystemErrorExcluded(t *testing.T) {
	a := newAssembler(true)
	fault := verdict.SystemFault{Command: "iec2c", TimedOut: true, Cause: "timed out after 10s"}
	got := a.Assemble(task.NewSeed("timer", 0), task.History{
		attempt(0, brokenTimer, verdict.Syntax("x")),
		attempt(1, goodTimer, verdict.SystemError(fault, 10*time.Second)),
	})
	assert.Equal(t, OutcomeSystemError, got.Outcome)
	assert.Empty(t, got.Streams())
}

func TestAssemble_ExhaustedNegative(t *testing.T) {
	h := task.History{
		attempt(0, "a", verdict.Syntax("s1")),
		attempt(1, "b", verdict.Semantic("s2", 0)),
	}

	got := newAssembler(false).Assemble(task.NewSeed("x", 0), h)
	assert.Equal(t, OutcomeExhausted, got.Outcome)
	assert.Empty(t, got.Streams())

	got = newAssembler(true).Assemble(task.NewSeed("x", 0), h)
	require.NotNil(t, got.Negative)
	assert.Equal(t, "b", got.Negative.Code)
	assert.Equal(t, verdict.RejectedSemantic, got.Negative.Kind)
	assert.Equal(t, "s2", got.Negative.Diagnostic)
	assert.Nil(t, got.DPO)
	assert.Nil(t, got.SFT)
}

func TestAssemble_Empty(t *testing.T) {
	assert.Equal(t, OutcomeEmpty, newAssembler(true).Assemble(task.NewSeed("x", 0), nil).Outcome)
}

func TestAssemble_EmptyRejectionsNeverPaired(t *testing.T) {
	got := newAssembler(false).Assemble(task.NewSeed("timer", 0), task.History{
		attempt(0, brokenTimer, verdict.Syntax("line 3: unexpected END_IF")),
		attempt(1, "  \n", verdict.Syntax("empty source")),
		attempt(2, goodTimer, verdict.Accept(0)),
	})
	require.NotNil(t, got.DPO)
	assert.Equal(t, brokenTimer, got.DPO.Rejected)
	assert.Equal(t, 0, got.DPO.Metadata.RejectedAttempt)

	got = newAssembler(false).Assemble(task.NewSeed("timer", 0), task.History{
		attempt(0, "", verdict.Syntax("empty source")),
		attempt(1, goodTimer, verdict.Accept(0)),
	})
	require.NotNil(t, got.SFT)
	assert.Nil(t, got.DPO)

	got = newAssembler(true).Assemble(task.NewSeed("timer", 0), task.History{
		attempt(0, "", verdict.Syntax("empty source")),
	})
	assert.Equal(t, OutcomeExhausted, got.Outcome)
	assert.Nil(t, got.Negative)
}

// Pairs always come from one history and never use accepted or system
// error attempts as the rejected side.
func TestAssemble_DPOProvenance(t *testing.T) {
	a := newAssembler(false)
	kinds := []verdict.Verdict{verdict.Syntax("s"), verdict.Semantic("m", 0)}
	for i := 0; i < 20; i++ {
		tk := task.NewSeed("task", i)
		var h task.History
		for j := 0; j <= i%3; j++ {
			h = append(h, attempt(j, tk.ID+"-rej", kinds[j%2]))
		}
		h = append(h, attempt(len(h), tk.ID+"-ok", verdict.Accept(0)))

		got := a.Assemble(tk, h)
		require.NotNil(t, got.DPO)
		assert.Equal(t, tk.ID+"-ok", got.DPO.Chosen)
		assert.Equal(t, tk.ID+"-rej", got.DPO.Rejected)
		assert.Equal(t, tk.ID, got.DPO.Metadata.TaskID)
		assert.Less(t, got.DPO.Metadata.RejectedAttempt, got.DPO.Metadata.ChosenAttempt)
	}
}

func TestAssemble_ConcurrentSameTextSingleSFT(t *testing.T) {
	a := newAssembler(false)
	var wg sync.WaitGroup
	results := make(chan Assembly, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- a.Assemble(task.NewSeed("same", i), task.History{attempt(0, goodTimer, verdict.Accept(0))})
		}(i)
	}
	wg.Wait()
	close(results)

	sft := 0
	for r := range results {
		if r.SFT != nil {
			sft++
		}
	}
	assert.Equal(t, 1, sft)
}

func TestWriter_AppendsLines(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		SFT:     filepath.Join(dir, "out", "sft.jsonl"),
		DPO:     filepath.Join(dir, "out", "dpo.jsonl"),
		History: filepath.Join(dir, "out", "history.jsonl"),
	}
	w, err := OpenWriter(paths)
	require.NoError(t, err)
	assert.False(t, w.Enabled(StreamNegative))

	a := newAssembler(true)
	tk := task.NewSeed("Write a timer", 0)
	h := task.History{
		attempt(0, brokenTimer, verdict.Syntax("line 3: unexpected END_IF")),
		attempt(1, goodTimer, verdict.Accept(0)),
	}
	asm := a.Assemble(tk, h)
	require.NoError(t, w.WriteAssembly(asm))
	require.NoError(t, w.Append(StreamHistory, NewHistoryEntry("run-1", tk, h, asm, time.Second)))
	require.NoError(t, w.Append(StreamNegative, NegativeRecord{}))
	require.NoError(t, w.Close())

	recs, err := ReadSFT(paths.SFT)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, goodTimer, recs[0].Output)

	raw, err := os.ReadFile(paths.DPO)
	require.NoError(t, err)
	var dpo DPORecord
	require.NoError(t, json.Unmarshal(raw, &dpo))
	assert.Equal(t, "rejected_syntax", mustKindText(t, dpo.Metadata.RejectedKind))

	raw, err = os.ReadFile(paths.History)
	require.NoError(t, err)
	var hist HistoryEntry
	require.NoError(t, json.Unmarshal(raw, &hist))
	assert.Equal(t, OutcomeAccepted, hist.Outcome)
	assert.Equal(t, []Stream{StreamSFT, StreamDPO}, hist.Records)
	assert.Len(t, hist.Attempts, 2)

	assert.Equal(t, []string{paths.SFT, paths.DPO, paths.History}, paths.Files())
}

func mustKindText(t *testing.T, k verdict.Kind) string {
	t.Helper()
	b, err := k.MarshalText()
	require.NoError(t, err)
	return string(b)
}

func TestLoadSeenTasks(t *testing.T) {
	dir := t.TempDir()
	sft := filepath.Join(dir, "sft.jsonl")
	lines := []string{
		`{"instruction": "` + task.InstructionPrefix + `Control a pump"}`,
		`not json`,
		``,
		`{"instruction": "Legacy raw task"}`,
		`{"output": "no instruction"}`,
	}
	require.NoError(t, os.WriteFile(sft, []byte(strings.Join(lines, "\n")), 0o644))

	seen, err := LoadSeenTasks(sft, filepath.Join(dir, "missing.jsonl"), "")
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.Contains(t, seen, "Control a pump")
	assert.Contains(t, seen, "Legacy raw task")
}

func TestLoadSeenTasks_EvolvedOnly(t *testing.T) {
	dir := t.TempDir()
	hist := filepath.Join(dir, "history.jsonl")

	seed := task.NewSeed("Write a timer block", 0)
	evolved, err := task.NewEvolver(task.DefaultCatalog(), nil, nil).Evolve(seed, 1)
	require.NoError(t, err)
	h := task.History{attempt(1, goodTimer, verdict.Accept(time.Millisecond))}
	entry := NewHistoryEntry("run-1", evolved, h, Assembly{Outcome: OutcomeAccepted}, time.Second)
	line, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(hist, append(line, '\n'), 0o644))

	seen, err := LoadSeenTasks(hist)
	require.NoError(t, err)
	assert.Contains(t, seen, "Write a timer block")
	assert.Contains(t, seen, evolved.Description)
}

func TestLoadSeenTasks_SFTMetadataSeed(t *testing.T) {
	sft := filepath.Join(t.TempDir(), "sft.jsonl")
	line := `{"instruction": "` + task.InstructionPrefix + `Pump with dry-run guard\nAdditional requirements:\n- x", "metadata": {"seed": "Pump with dry-run guard"}}`
	require.NoError(t, os.WriteFile(sft, []byte(line+"\n"), 0o644))

	seen, err := LoadSeenTasks(sft)
	require.NoError(t, err)
	assert.Contains(t, seen, "Pump with dry-run guard")
}
