package pipeline

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/prompts"
)

type cannedProvider struct {
	reply string
	req   *llm.ChatRequest
}

func (c *cannedProvider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.req = req
	return &llm.ChatResponse{Content: c.reply}, nil
}

func (c *cannedProvider) Name() string    { return "canned" }
func (c *cannedProvider) Available() bool { return true }

func newBrainstormer(t *testing.T, reply string) (*Brainstormer, *cannedProvider) {
	t.Helper()
	store, err := prompts.Load()
	require.NoError(t, err)
	p := &cannedProvider{reply: reply}
	return NewBrainstormer(BrainstormConfig{Count: 4}, p, store, rand.New(rand.NewSource(7)), zerolog.Nop()), p
}

func TestBrainstorm_Topic(t *testing.T) {
	b, _ := newBrainstormer(t, "")
	for i := 0; i < 20; i++ {
		parts := strings.SplitN(b.Topic(), " in ", 2)
		require.Len(t, parts, 2)
		assert.Contains(t, Domains, parts[0])
		assert.Contains(t, Industries, parts[1])
	}
}

func TestBrainstorm_Replies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "tasks object",
			reply: `{"tasks": ["Bottle filler with level sensor", "short", "   Star-delta motor starter   "]}`,
			want:  []string{"Bottle filler with level sensor", "Star-delta motor starter"},
		},
		{
			name:  "bare list in a fence",
			reply: "```json\n[\"Chlorine dosing controller\", \"0123456789\"]\n```",
			want:  []string{"Chlorine dosing controller"},
		},
		{
			name:  "other list field",
			reply: `{"ideas": ["Robot cell safety door interlock"]}`,
			want:  []string{"Robot cell safety door interlock"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p := newBrainstormer(t, tt.reply)
			got, err := b.Brainstorm(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, p.req.JSONMode)
			assert.Contains(t, p.req.Messages[0].Content, "Propose 4")
		})
	}
}

func TestBrainstorm_Unparseable(t *testing.T) {
	b, _ := newBrainstormer(t, "I cannot help with that.")
	_, err := b.Brainstorm(context.Background())
	assert.Error(t, err)
}
