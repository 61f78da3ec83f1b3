package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

func TestGenerationMessages(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	tk := task.NewSeed("Control a traffic light", 0)
	msgs, err := s.GenerationMessages(tk, "")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.NotContains(t, msgs[0].Content, "example of an accepted solution")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Control a traffic light")

	msgs, err = s.GenerationMessages(tk, "FUNCTION_BLOCK Golden\nEND_FUNCTION_BLOCK")
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "FUNCTION_BLOCK Golden")
}

func TestFeedbackMessages(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	msgs, err := s.FeedbackMessages("bad code", verdict.Syntax("line 5: unexpected END_FUNCTION_BLOCK, expected END_IF"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "bad code", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "Syntax Error: line 5: unexpected END_FUNCTION_BLOCK, expected END_IF")

	msgs, err = s.FeedbackMessages("code", verdict.Semantic("source.st:3: error: undefined 'Foo'\n", 0))
	require.NoError(t, err)
	assert.Contains(t, msgs[1].Content, "Compiler Error:\nsource.st:3: error: undefined 'Foo'")
}

func TestRenderEvolution(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	out, err := s.RenderEvolution("Pump control", []task.Constraint{
		{Tag: "a", Text: "Debounce inputs."},
		{Tag: "b", Text: "Time out acknowledgements."},
	})
	require.NoError(t, err)
	assert.Equal(t, "Pump control\nAdditional requirements:\n- Debounce inputs.\n- Time out acknowledgements.", out)

	// The store plugs into the evolver.
	var _ task.Renderer = s
}

func TestBrainstormMessages(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)
	msgs, err := s.BrainstormMessages("Safety Logic in Pharma", 7)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "Safety Logic in Pharma")
	assert.Contains(t, msgs[0].Content, "Propose 7")
}

func TestLoadFile_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generation: \"Do: {{ .Task }}\"\n"), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	msgs, err := s.GenerationMessages(task.NewSeed("blink", 0), "")
	require.NoError(t, err)
	assert.Equal(t, "Do: blink", msgs[1].Content)

	require.NoError(t, os.WriteFile(path, []byte("generation: \"{{ .Task \"\n"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
