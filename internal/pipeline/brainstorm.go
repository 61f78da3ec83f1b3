package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angleyanalbedo/generatestcode/internal/llm"
)

// Domains and Industries are crossed to pick a brainstorm topic.
var (
	Domains    = []string{"Motion Control", "Safety Logic", "Closed Loop Control", "Data Processing", "Communication"}
	Industries = []string{"Packaging", "Pharma", "Automotive", "Water Treatment"}
)

// minIdeaLen drops fragments the backend returns in place of real tasks.
const minIdeaLen = 10

// BrainstormPrompter renders the brainstorm request.
type BrainstormPrompter interface {
	BrainstormMessages(topic string, count int) ([]llm.Message, error)
}

// BrainstormConfig controls one brainstorm round.
type BrainstormConfig struct {
	Count       int
	Model       string
	Temperature float64
	MaxTokens   int
}

// Brainstormer asks the backend for fresh seed task descriptions.
type Brainstormer struct {
	cfg      BrainstormConfig
	provider llm.Provider
	prompts  BrainstormPrompter
	rng      *rand.Rand
	log      zerolog.Logger
}

// NewBrainstormer creates a brainstormer. A nil rng is seeded from the clock.
func NewBrainstormer(cfg BrainstormConfig, provider llm.Provider, prompts BrainstormPrompter, rng *rand.Rand, log zerolog.Logger) *Brainstormer {
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.9
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Brainstormer{cfg: cfg, provider: provider, prompts: prompts, rng: rng, log: log}
}

// Topic picks a random domain and industry.
func (b *Brainstormer) Topic() string {
	return fmt.Sprintf("%s in %s", Domains[b.rng.Intn(len(Domains))], Industries[b.rng.Intn(len(Industries))])
}

// Brainstorm runs one round and returns the usable ideas.
func (b *Brainstormer) Brainstorm(ctx context.Context) ([]string, error) {
	topic := b.Topic()
	msgs, err := b.prompts.BrainstormMessages(topic, b.cfg.Count)
	if err != nil {
		return nil, fmt.Errorf("render brainstorm prompt: %w", err)
	}

	resp, err := b.provider.Chat(ctx, &llm.ChatRequest{
		Model:       b.cfg.Model,
		Messages:    msgs,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("brainstorm %q: %w", topic, err)
	}

	list, err := llm.ParseStringList(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse brainstorm reply: %w", err)
	}

	ideas := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if len(s) <= minIdeaLen {
			continue
		}
		ideas = append(ideas, s)
	}
	b.log.Debug().Str("topic", topic).Int("ideas", len(ideas)).Int("dropped", len(list)-len(ideas)).Msg("brainstorm round")
	return ideas, nil
}
