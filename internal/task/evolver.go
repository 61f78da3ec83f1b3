package task

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrEvolutionExhausted means the catalog has too few unused constraints left
// for a seed to reach the requested depth. The task is skipped.
var ErrEvolutionExhausted = errors.New("evolution exhausted")

// Renderer turns a seed description plus injected constraints into a new
// task description.
type Renderer interface {
	RenderEvolution(seed string, constraints []Constraint) (string, error)
}

// plainRenderer is used when no template renderer is configured.
type plainRenderer struct{}

func (plainRenderer) RenderEvolution(seed string, constraints []Constraint) (string, error) {
	var b strings.Builder
	b.WriteString(seed)
	b.WriteString("\nAdditional requirements:")
	for _, c := range constraints {
		b.WriteString("\n- ")
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

// Evolver injects catalog constraints into tasks. Each root seed consumes
// catalog entries independently; a constraint is used at most once per root.
//
// With a nil random source selection is deterministic: the walk over the
// catalog starts at the seed's corpus index. With a source, unused entries are
// drawn from it, so runs are reproducible given the same seed value.
type Evolver struct {
	catalog  Catalog
	renderer Renderer
	rng      *rand.Rand

	mu   sync.Mutex
	used map[string]map[int]bool // root ID -> catalog indices consumed
}

// NewEvolver creates an evolver. A nil renderer uses a plain text layout.
func NewEvolver(catalog Catalog, renderer Renderer, rng *rand.Rand) *Evolver {
	if renderer == nil {
		renderer = plainRenderer{}
	}
	return &Evolver{
		catalog:  catalog,
		renderer: renderer,
		rng:      rng,
		used:     make(map[string]map[int]bool),
	}
}

// Evolve returns a task at depth whose description extends seed with
// depth-seed.Depth unused constraints. On ErrEvolutionExhausted nothing is
// consumed.
func (e *Evolver) Evolve(seed Task, depth int) (Task, error) {
	need := depth - seed.Depth
	if need <= 0 {
		return Task{}, fmt.Errorf("evolve to depth %d: task is already at depth %d", depth, seed.Depth)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	used := e.used[seed.RootID]
	picked := e.pick(seed.SeedIndex, used, need)
	if len(picked) < need {
		return Task{}, fmt.Errorf("%w: root %s needs %d more constraints, %d unused", ErrEvolutionExhausted, seed.RootID, need, len(picked))
	}

	constraints := make([]Constraint, 0, need)
	all := make([]Constraint, 0, len(seed.Constraints)+need)
	for _, tag := range seed.Constraints {
		if c, ok := e.byTag(tag); ok {
			all = append(all, c)
		}
	}
	for _, i := range picked {
		constraints = append(constraints, e.catalog[i])
	}
	all = append(all, constraints...)

	desc, err := e.renderer.RenderEvolution(seed.Seed, all)
	if err != nil {
		return Task{}, fmt.Errorf("render evolution: %w", err)
	}

	if used == nil {
		used = make(map[int]bool)
		e.used[seed.RootID] = used
	}
	tags := append([]string(nil), seed.Constraints...)
	for _, i := range picked {
		used[i] = true
		tags = append(tags, e.catalog[i].Tag)
	}

	return Task{
		ID:          uuid.NewString(),
		RootID:      seed.RootID,
		SeedIndex:   seed.SeedIndex,
		Seed:        seed.Seed,
		Description: desc,
		Depth:       depth,
		Constraints: tags,
	}, nil
}

// pick chooses up to n unused catalog indices.
func (e *Evolver) pick(seedIndex int, used map[int]bool, n int) []int {
	size := len(e.catalog)
	if size == 0 {
		return nil
	}

	var order []int
	if e.rng != nil {
		order = e.rng.Perm(size)
	} else {
		start := seedIndex % size
		if start < 0 {
			start += size
		}
		order = make([]int, size)
		for i := range order {
			order[i] = (start + i) % size
		}
	}

	out := make([]int, 0, n)
	for _, i := range order {
		if used[i] {
			continue
		}
		out = append(out, i)
		if len(out) == n {
			break
		}
	}
	return out
}

func (e *Evolver) byTag(tag string) (Constraint, bool) {
	for _, c := range e.catalog {
		if c.Tag == tag {
			return c, true
		}
	}
	return Constraint{}, false
}

// Remaining returns how many catalog entries a root has not consumed yet.
func (e *Evolver) Remaining(rootID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.catalog) - len(e.used[rootID])
}
