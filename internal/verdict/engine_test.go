package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompiler struct {
	res   *CompileResult
	err   error
	calls atomic.Int32
}

func (s *stubCompiler) Check(ctx context.Context, source string) (*CompileResult, error) {
	s.calls.Add(1)
	return s.res, s.err
}

func TestEngine_Judge(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		compiler  *stubCompiler
		wantKind  Kind
		wantStage Stage
		wantDiag  string
		wantCalls int32
	}{
		{
			name:      "fast rejection never reaches compiler",
			source:    "FUNCTION_BLOCK FB\nVAR x : INT; END_VAR\nIF x > 0 THEN\nEND_FUNCTION_BLOCK",
			compiler:  &stubCompiler{res: &CompileResult{}},
			wantKind:  RejectedSyntax,
			wantStage: StageFast,
			wantDiag:  "expected END_IF",
			wantCalls: 0,
		},
		{
			name:      "clean compile accepted",
			source:    counterFB,
			compiler:  &stubCompiler{res: &CompileResult{ExitCode: 0}},
			wantKind:  Accepted,
			wantStage: StageDeep,
			wantCalls: 1,
		},
		{
			name:      "output with zero exit is rejected",
			source:    counterFB,
			compiler:  &stubCompiler{res: &CompileResult{ExitCode: 0, Output: "warning: unused variable"}},
			wantKind:  RejectedSemantic,
			wantStage: StageDeep,
			wantDiag:  "warning: unused variable",
			wantCalls: 1,
		},
		{
			name:      "nonzero exit without output",
			source:    counterFB,
			compiler:  &stubCompiler{res: &CompileResult{ExitCode: 2}},
			wantKind:  RejectedSemantic,
			wantStage: StageDeep,
			wantDiag:  "compiler exited with status 2",
			wantCalls: 1,
		},
		{
			name:      "timeout is a system error",
			source:    counterFB,
			compiler:  &stubCompiler{err: &ProcessError{Command: "iec2c source.st", ExitCode: -1, TimedOut: true}},
			wantKind:  RejectedSystemError,
			wantStage: StageDeep,
			wantDiag:  "timed out",
			wantCalls: 1,
		},
		{
			name:      "opaque error is a system error",
			source:    counterFB,
			compiler:  &stubCompiler{err: errors.New("disk full")},
			wantKind:  RejectedSystemError,
			wantStage: StageDeep,
			wantDiag:  "disk full",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil, tt.compiler, zerolog.Nop())
			v := e.Judge(context.Background(), tt.source)

			assert.Equal(t, tt.wantKind, v.Kind)
			assert.Equal(t, tt.wantStage, v.Stage)
			assert.Contains(t, v.Diagnostic, tt.wantDiag)
			assert.Equal(t, tt.wantCalls, tt.compiler.calls.Load())
		})
	}
}

func TestEngine_SystemFaultDetails(t *testing.T) {
	c := &stubCompiler{err: &ProcessError{Command: "iec2c -T out source.st", ExitCode: -1, TimedOut: true, Elapsed: 10 * time.Second}}
	v := NewEngine(nil, c, zerolog.Nop()).Judge(context.Background(), counterFB)

	require.True(t, v.IsSystemError())
	require.NotNil(t, v.Fault)
	assert.Equal(t, "iec2c -T out source.st", v.Fault.Command)
	assert.Equal(t, -1, v.Fault.ExitCode)
	assert.True(t, v.Fault.TimedOut)
	assert.False(t, v.IsContentRejection())
}

func TestEngine_Preflight(t *testing.T) {
	assert.ErrorIs(t, NewEngine(nil, nil, zerolog.Nop()).Preflight(), ErrCompilerUnavailable)
	assert.NoError(t, NewEngine(nil, &stubCompiler{}, zerolog.Nop()).Preflight())
}

func TestVerdict_JSON(t *testing.T) {
	v := Semantic("source.st:3: error", time.Second)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"rejected_semantic","stage":"deep","diagnostic":"source.st:3: error"}`, string(data))

	var back Verdict
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, RejectedSemantic, back.Kind)

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("maybe")))
}
