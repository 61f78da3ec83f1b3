// Package pipeline runs one distillation: it feeds seed and evolved tasks to
// the dispatcher, routes every finished history into the dataset streams and
// keeps golden memory current.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
	"github.com/angleyanalbedo/generatestcode/internal/dataset"
	"github.com/angleyanalbedo/generatestcode/internal/dispatch"
	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/golden"
	"github.com/angleyanalbedo/generatestcode/internal/logging"
	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

// ErrNoSeeds is returned when there is neither a seed corpus nor a
// brainstormer to produce tasks.
var ErrNoSeeds = errors.New("no seed tasks")

// maxBrainstormFailures ends brainstorming after this many failed rounds in a row.
const maxBrainstormFailures = 3

// Preflighter verifies the environment before any task is dispatched.
type Preflighter interface {
	Preflight() error
}

// Config controls a run.
type Config struct {
	RunID string

	// Seeds are consumed in order before brainstorming starts.
	Seeds []string

	// IncludeSeeds dispatches the depth-0 task of every seed.
	IncludeSeeds bool

	// MaxDepth is the deepest evolution derived from each seed.
	MaxDepth int

	// TargetCount stops producing tasks once this many SFT records have been
	// written. Zero runs until the seeds are used up.
	TargetCount int

	// BrainstormRounds caps brainstorming. Zero means unlimited, which is
	// only allowed with a TargetCount.
	BrainstormRounds int

	// FlushTimeout bounds the golden memory flush after the run.
	FlushTimeout time.Duration
}

// Deps are the collaborators of a run. Store, Brainstorm, Seen and Bus are
// optional.
type Deps struct {
	Preflight  Preflighter
	Evolver    *task.Evolver
	Dispatcher *dispatch.Dispatcher
	Assembler  *dataset.Assembler
	Writer     *dataset.Writer
	Index      *fingerprint.Index
	Golden     *golden.Memory
	Store      golden.Store
	Brainstorm *Brainstormer
	Bus        *bus.Bus
	Seen       map[string]struct{}
	Log        zerolog.Logger
}

// Summary reports a finished run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Tasks is the number of outcomes received, Incomplete ones included.
	Tasks    int
	Outcomes map[dataset.Outcome]int

	// Verdicts counts every attempt of every task that was not dropped as
	// incomplete.
	Verdicts map[verdict.Kind]int
	Records  map[dataset.Stream]int

	SeedsSkipped       int
	EvolutionExhausted int
	ExemplarsHeld      int
	Cancelled          bool
}

func newSummary(runID string) *Summary {
	return &Summary{
		RunID:     runID,
		StartedAt: time.Now(),
		Outcomes:  make(map[dataset.Outcome]int),
		Verdicts:  make(map[verdict.Kind]int),
		Records:   make(map[dataset.Stream]int),
	}
}

func (s *Summary) Accepted() int     { return s.Verdicts[verdict.Accepted] }
func (s *Summary) Syntax() int       { return s.Verdicts[verdict.RejectedSyntax] }
func (s *Summary) Semantic() int     { return s.Verdicts[verdict.RejectedSemantic] }
func (s *Summary) SystemErrors() int { return s.Verdicts[verdict.RejectedSystemError] }

// Duration returns the wall time of the run.
func (s *Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Orchestrator runs one distillation. It is single-use, like the dispatcher
// it drives.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	exhausted atomic.Int64
	skipped   atomic.Int64
	sft       int
	pending   []golden.FingerprintEntry
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if deps.Seen == nil {
		deps.Seen = make(map[string]struct{})
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With().Str("run_id", cfg.RunID).Logger(),
		stop: make(chan struct{}),
	}
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// Run executes the pipeline until the seeds are used up, the target count is
// reached or ctx ends. A cancelled run returns its summary with Cancelled
// set and a nil error.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if len(o.cfg.Seeds) == 0 && o.deps.Brainstorm == nil {
		return nil, ErrNoSeeds
	}
	if o.deps.Brainstorm != nil && o.cfg.BrainstormRounds == 0 && o.cfg.TargetCount == 0 {
		return nil, errors.New("unlimited brainstorming needs a target count")
	}
	if o.deps.Preflight != nil {
		if err := o.deps.Preflight.Preflight(); err != nil {
			return nil, fmt.Errorf("preflight: %w", err)
		}
	}
	if err := o.loadGolden(ctx); err != nil {
		return nil, err
	}

	sum := newSummary(o.cfg.RunID)
	o.publish(bus.NewEvent(bus.EventRunStarted).
		WithDetail("seeds", len(o.cfg.Seeds)).
		WithDetail("max_depth", o.cfg.MaxDepth).
		WithDetail("target_count", o.cfg.TargetCount))
	o.log.Info().
		Int("seeds", len(o.cfg.Seeds)).
		Int("max_depth", o.cfg.MaxDepth).
		Int("target_count", o.cfg.TargetCount).
		Bool("brainstorm", o.deps.Brainstorm != nil).
		Msg("run started")

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	g, gctx := errgroup.WithContext(runCtx)
	tasks := make(chan task.Task)
	outcomes := o.deps.Dispatcher.Dispatch(gctx, tasks)

	g.Go(func() error {
		return o.produce(gctx, tasks)
	})
	g.Go(func() error {
		return o.consume(outcomes, sum, abort)
	})
	runErr := g.Wait()

	sum.Cancelled = ctx.Err() != nil
	sum.SeedsSkipped = int(o.skipped.Load())
	sum.EvolutionExhausted = int(o.exhausted.Load())

	if err := o.flushGolden(ctx); err != nil {
		o.log.Error().Err(err).Msg("golden memory flush failed")
		if runErr == nil {
			runErr = err
		}
	}
	if o.deps.Golden != nil {
		sum.ExemplarsHeld = o.deps.Golden.Len()
	}

	sum.FinishedAt = time.Now()
	o.publish(bus.NewEvent(bus.EventRunFinished).
		WithDetail("tasks", sum.Tasks).
		WithDetail("cancelled", sum.Cancelled))
	o.log.Info().
		Int("tasks", sum.Tasks).
		Int("accepted", sum.Accepted()).
		Int("rejected_syntax", sum.Syntax()).
		Int("rejected_semantic", sum.Semantic()).
		Int("system_errors", sum.SystemErrors()).
		Int("sft", sum.Records[dataset.StreamSFT]).
		Int("dpo", sum.Records[dataset.StreamDPO]).
		Bool("cancelled", sum.Cancelled).
		Dur("elapsed", sum.Duration()).
		Msg("run finished")

	if runErr != nil {
		return sum, runErr
	}
	return sum, nil
}

func (o *Orchestrator) loadGolden(ctx context.Context) error {
	if o.deps.Store == nil {
		return nil
	}
	fps, err := o.deps.Store.LoadFingerprints(ctx)
	if err != nil {
		return fmt.Errorf("load fingerprints: %w", err)
	}
	o.deps.Index.Load(fps)

	if o.deps.Golden != nil {
		exemplars, err := o.deps.Store.LoadExemplars(ctx)
		if err != nil {
			return fmt.Errorf("load exemplars: %w", err)
		}
		o.deps.Golden.Load(exemplars)
	}
	o.log.Debug().Int("fingerprints", len(fps)).Msg("golden memory loaded")
	return nil
}

// flushGolden persists this run's fingerprints and the exemplar ring. It runs
// detached so an interrupted run still saves what it accepted.
func (o *Orchestrator) flushGolden(ctx context.Context) error {
	if o.deps.Store == nil {
		return nil
	}
	fctx, cancel := logging.DetachContextWithTimeout(ctx, o.cfg.FlushTimeout)
	defer cancel()

	if len(o.pending) > 0 {
		if err := o.deps.Store.SaveFingerprints(fctx, o.pending); err != nil {
			return fmt.Errorf("save fingerprints: %w", err)
		}
	}
	if o.deps.Golden != nil {
		if err := o.deps.Store.ReplaceExemplars(fctx, o.deps.Golden.Snapshot()); err != nil {
			return fmt.Errorf("save exemplars: %w", err)
		}
	}
	o.log.Debug().Int("fingerprints", len(o.pending)).Msg("golden memory flushed")
	return nil
}

func (o *Orchestrator) halt() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// produce feeds tasks until the seeds run out, the target is reached or ctx
// ends. It owns and closes out.
func (o *Orchestrator) produce(ctx context.Context, out chan<- task.Task) error {
	defer close(out)

	p := &producer{o: o, ctx: ctx, out: out}
	for _, s := range o.cfg.Seeds {
		if !p.feed(s) {
			return nil
		}
	}

	b := o.deps.Brainstorm
	if b == nil {
		return nil
	}
	failures := 0
	for round := 0; o.cfg.BrainstormRounds == 0 || round < o.cfg.BrainstormRounds; round++ {
		if p.done() {
			return nil
		}
		ideas, err := b.Brainstorm(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			o.log.Warn().Err(err).Int("round", round).Msg("brainstorm round failed")
			if failures >= maxBrainstormFailures {
				o.log.Warn().Int("failures", failures).Msg("giving up on brainstorming")
				return nil
			}
			continue
		}
		failures = 0
		for _, idea := range ideas {
			if !p.feed(idea) {
				return nil
			}
		}
	}
	return nil
}

type producer struct {
	o     *Orchestrator
	ctx   context.Context
	out   chan<- task.Task
	index int
}

func (p *producer) done() bool {
	select {
	case <-p.ctx.Done():
		return true
	case <-p.o.stop:
		return true
	default:
		return false
	}
}

func (p *producer) emit(t task.Task) bool {
	select {
	case p.out <- t:
		return true
	case <-p.ctx.Done():
		return false
	case <-p.o.stop:
		return false
	}
}

// feed emits a seed and its evolution chain. It returns false when the
// producer must stop.
func (p *producer) feed(desc string) bool {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return true
	}
	o := p.o
	if _, ok := o.deps.Seen[desc]; ok {
		o.skipped.Add(1)
		return true
	}
	o.deps.Seen[desc] = struct{}{}

	seed := task.NewSeed(desc, p.index)
	p.index++
	if o.cfg.IncludeSeeds || o.cfg.MaxDepth == 0 {
		if !p.emit(seed) {
			return false
		}
	}

	cur := seed
	for depth := 1; depth <= o.cfg.MaxDepth; depth++ {
		next, err := o.deps.Evolver.Evolve(cur, depth)
		if errors.Is(err, task.ErrEvolutionExhausted) {
			o.exhausted.Add(1)
			o.publish(bus.NewEvent(bus.EventEvolutionExhausted).
				WithTask(o.cfg.RunID, seed.ID).
				WithDetail("depth", depth))
			o.log.Debug().Err(err).Str("root_id", seed.RootID).Int("depth", depth).Msg("evolution exhausted")
			break
		}
		if err != nil {
			o.log.Warn().Err(err).Str("root_id", seed.RootID).Int("depth", depth).Msg("evolution failed")
			break
		}
		if !p.emit(next) {
			return false
		}
		cur = next
	}
	return !p.done()
}

// consume drains every outcome. A write failure aborts the run but draining
// continues so no dispatcher goroutine is left blocked.
func (o *Orchestrator) consume(outcomes <-chan dispatch.Outcome, sum *Summary, abort context.CancelFunc) error {
	var firstErr error
	for oc := range outcomes {
		sum.Tasks++
		if firstErr != nil {
			continue
		}
		if err := o.handle(oc, sum); err != nil {
			firstErr = err
			o.log.Error().Err(err).Msg("dataset write failed, aborting run")
			abort()
		}
	}
	return firstErr
}

func (o *Orchestrator) handle(oc dispatch.Outcome, sum *Summary) error {
	t := oc.Task
	log := o.log.With().Str("task_id", t.ID).Int("depth", t.Depth).Logger()

	var asm dataset.Assembly
	switch {
	case oc.Incomplete:
		asm.Outcome = dataset.OutcomeIncomplete
		log.Info().Int("attempts", len(oc.History)).Msg("task interrupted, dropped")
	case oc.Err != nil:
		asm.Outcome = dataset.OutcomeFailed
		log.Warn().Err(oc.Err).Int("attempts", len(oc.History)).Msg("task failed")
	default:
		asm = o.deps.Assembler.Assemble(t, oc.History)
	}
	sum.Outcomes[asm.Outcome]++

	if asm.Outcome == dataset.OutcomeIncomplete {
		o.finished(t, asm.Outcome, oc.Elapsed)
		return nil
	}
	for _, a := range oc.History {
		sum.Verdicts[a.Verdict.Kind]++
	}

	if err := o.deps.Writer.WriteAssembly(asm); err != nil {
		return fmt.Errorf("write records for task %s: %w", t.ID, err)
	}
	entry := dataset.NewHistoryEntry(o.cfg.RunID, t, oc.History, asm, oc.Elapsed)
	if oc.Err != nil {
		entry.Error = oc.Err.Error()
	}
	if err := o.deps.Writer.Append(dataset.StreamHistory, entry); err != nil {
		return fmt.Errorf("write history for task %s: %w", t.ID, err)
	}

	for _, s := range asm.Streams() {
		if !o.deps.Writer.Enabled(s) {
			continue
		}
		sum.Records[s]++
		e := bus.NewEvent(bus.EventRecordWritten).WithTask(o.cfg.RunID, t.ID)
		e.Stream = string(s)
		e.Fingerprint = string(asm.Fingerprint)
		o.publish(e)
	}

	switch asm.Outcome {
	case dataset.OutcomeDuplicate:
		e := bus.NewEvent(bus.EventDuplicate).WithTask(o.cfg.RunID, t.ID)
		e.Fingerprint = string(asm.Fingerprint)
		o.publish(e)
		log.Debug().Str("fingerprint", asm.Fingerprint.Short()).Msg("duplicate solution, sft suppressed")
	case dataset.OutcomeAccepted:
		o.accepted(t, asm)
		log.Info().
			Int("attempts", len(oc.History)).
			Str("fingerprint", asm.Fingerprint.Short()).
			Dur("elapsed", oc.Elapsed).
			Msg("task accepted")
	case dataset.OutcomeSystemError:
		log.Warn().Msg("task ended by system error, nothing assembled")
	}

	o.finished(t, asm.Outcome, oc.Elapsed)
	return nil
}

func (o *Orchestrator) accepted(t task.Task, asm dataset.Assembly) {
	o.pending = append(o.pending, golden.FingerprintEntry{
		Fingerprint: asm.Fingerprint,
		TaskID:      t.ID,
		RunID:       o.cfg.RunID,
		CreatedAt:   time.Now().UTC(),
	})
	if o.deps.Golden != nil && asm.SFT != nil {
		o.deps.Golden.Offer(golden.Entry{
			Fingerprint: asm.Fingerprint,
			Instruction: asm.SFT.Instruction,
			Code:        asm.SFT.Output,
		})
	}

	o.sft++
	if o.cfg.TargetCount > 0 && o.sft >= o.cfg.TargetCount {
		o.halt()
		o.log.Info().Int("target_count", o.cfg.TargetCount).Msg("target reached, no new tasks")
	}
}

func (o *Orchestrator) finished(t task.Task, outcome dataset.Outcome, elapsed time.Duration) {
	e := bus.NewEvent(bus.EventTaskFinished).WithTask(o.cfg.RunID, t.ID)
	e.Outcome = string(outcome)
	e.DurationMs = elapsed.Milliseconds()
	o.publish(e)
}

func (o *Orchestrator) publish(e bus.Event) {
	if o.deps.Bus == nil {
		return
	}
	if e.RunID == "" {
		e.RunID = o.cfg.RunID
	}
	if err := o.deps.Bus.Publish(e); err != nil {
		o.log.Debug().Err(err).Str("type", string(e.Type)).Msg("event dropped")
	}
}
