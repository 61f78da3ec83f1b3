// Package dispatch fans tasks out to the generation backend under a global
// concurrency ceiling and runs each task's self-correction loop against the
// verdict engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

// ErrAlreadyDispatched is returned in an Outcome when Dispatch is called a
// second time on the same Dispatcher.
var ErrAlreadyDispatched = errors.New("dispatcher already used")

// Judge validates one candidate.
type Judge interface {
	Judge(ctx context.Context, source string) verdict.Verdict
}

// Prompter builds the conversation for a task and the feedback turns after a
// rejected attempt.
type Prompter interface {
	GenerationMessages(t task.Task, exemplar string) ([]llm.Message, error)
	FeedbackMessages(code string, v verdict.Verdict) ([]llm.Message, error)
}

// ExemplarSource supplies a few-shot example; "" means none.
type ExemplarSource interface {
	Pick() string
}

// Publisher receives pipeline events.
type Publisher interface {
	Publish(bus.Event) error
}

// Config controls admission, retries and self-correction.
type Config struct {
	// MaxConcurrency is the number of tasks in flight at once.
	MaxConcurrency int

	// MaxRetries is the number of extra tries after a transient backend
	// error, per attempt.
	MaxRetries int

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// SelfCorrectionDepth is the maximum number of attempts per task,
	// including the first.
	SelfCorrectionDepth int

	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:      8,
		MaxRetries:          3,
		BackoffInitial:      time.Second,
		BackoffMax:          30 * time.Second,
		SelfCorrectionDepth: 3,
		Temperature:         0.7,
		MaxTokens:           2048,
	}
}

// Outcome is the result of one task.
type Outcome struct {
	Task    task.Task
	History task.History

	// Err is set when the task could not be completed for a reason other
	// than cancellation: a permanent backend error, transient errors beyond
	// the retry budget, or a prompt rendering failure.
	Err error

	// Incomplete is set when the run was cancelled mid-task. Incomplete
	// outcomes must not be assembled.
	Incomplete bool

	Elapsed time.Duration
}

// Dispatcher runs tasks concurrently. A Dispatcher serves one Dispatch call.
type Dispatcher struct {
	cfg       Config
	provider  llm.Provider
	judge     Judge
	prompts   Prompter
	exemplars ExemplarSource
	events    Publisher
	log       zerolog.Logger
	runID     string

	sem      *semaphore.Weighted
	used     atomic.Bool
	inflight atomic.Int64
	peak     atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExemplars sets the few-shot exemplar source.
func WithExemplars(src ExemplarSource) Option {
	return func(d *Dispatcher) { d.exemplars = src }
}

// WithEvents sets the event publisher.
func WithEvents(p Publisher, runID string) Option {
	return func(d *Dispatcher) {
		d.events = p
		d.runID = runID
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New creates a Dispatcher. Non-positive limits fall back to DefaultConfig.
func New(cfg Config, provider llm.Provider, judge Judge, prompts Prompter, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.SelfCorrectionDepth <= 0 {
		cfg.SelfCorrectionDepth = 1
	}

	d := &Dispatcher{
		cfg:      cfg,
		provider: provider,
		judge:    judge,
		prompts:  prompts,
		log:      zerolog.Nop(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InFlight returns the number of tasks currently admitted.
func (d *Dispatcher) InFlight() int { return int(d.inflight.Load()) }

// Peak returns the highest number of tasks admitted at once.
func (d *Dispatcher) Peak() int { return int(d.peak.Load()) }

// Dispatch consumes tasks until the channel closes or ctx ends and returns
// their outcomes in completion order. The returned channel is closed after
// every admitted task has reported; the caller must drain it.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks <-chan task.Task) <-chan Outcome {
	out := make(chan Outcome)
	if !d.used.CompareAndSwap(false, true) {
		go func() {
			out <- Outcome{Err: ErrAlreadyDispatched}
			close(out)
		}()
		return out
	}

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()

		for {
			var t task.Task
			var ok bool
			select {
			case <-ctx.Done():
				return
			case t, ok = <-tasks:
				if !ok {
					return
				}
			}

			// Acquire before start so the ceiling holds system-wide.
			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.log.Debug().Str("task_id", t.ID).Msg("task dropped before admission")
				return
			}
			d.enter()

			wg.Add(1)
			go func(t task.Task) {
				defer wg.Done()
				o := d.runTask(ctx, t)
				d.leave()
				d.sem.Release(1)
				out <- o
			}(t)
		}
	}()
	return out
}

func (d *Dispatcher) enter() {
	n := d.inflight.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (d *Dispatcher) leave() { d.inflight.Add(-1) }

// runTask drives the self-correction loop for one task. Attempts are
// strictly sequential: the next one starts only after the previous verdict.
func (d *Dispatcher) runTask(ctx context.Context, t task.Task) Outcome {
	start := time.Now()
	o := Outcome{Task: t}
	d.publish(d.event(bus.EventTaskStarted, t))

	exemplar := ""
	if d.exemplars != nil {
		exemplar = d.exemplars.Pick()
	}
	msgs, err := d.prompts.GenerationMessages(t, exemplar)
	if err != nil {
		o.Err = fmt.Errorf("render prompt: %w", err)
		o.Elapsed = time.Since(start)
		return o
	}

	for attempt := 0; attempt < d.cfg.SelfCorrectionDepth; attempt++ {
		gen, err := d.generate(ctx, t, attempt, msgs)
		if err != nil {
			if ctx.Err() != nil {
				o.Incomplete = true
			} else {
				o.Err = err
			}
			break
		}

		v := d.judge.Judge(ctx, gen.Code)
		if v.IsSystemError() && ctx.Err() != nil {
			// Killed by shutdown, not an infrastructure fault.
			o.Incomplete = true
			break
		}
		o.History = append(o.History, task.Attempt{
			Index:   attempt,
			Code:    gen.Code,
			Thought: gen.Thought,
			Verdict: v,
		})
		d.publishVerdict(t, attempt, v)

		if v.IsAccepted() || v.IsSystemError() {
			break
		}
		if attempt+1 == d.cfg.SelfCorrectionDepth {
			break
		}
		feedback, err := d.prompts.FeedbackMessages(gen.Code, v)
		if err != nil {
			o.Err = fmt.Errorf("render feedback: %w", err)
			break
		}
		msgs = append(msgs, feedback...)
	}

	o.Elapsed = time.Since(start)
	return o
}

// generate performs one attempt's backend call, retrying transient errors
// with capped exponential backoff. A server-provided Retry-After wins when it
// is longer than the current backoff.
func (d *Dispatcher) generate(ctx context.Context, t task.Task, attempt int, msgs []llm.Message) (llm.Generation, error) {
	req := &llm.ChatRequest{
		Model:       d.cfg.Model,
		Messages:    msgs,
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
		JSONMode:    true,
	}

	backoff := d.cfg.BackoffInitial
	for try := 0; ; try++ {
		resp, err := d.provider.Chat(ctx, req)
		if err == nil {
			return llm.ParseGeneration(resp.Content), nil
		}
		if ctx.Err() != nil {
			return llm.Generation{}, ctx.Err()
		}
		if !llm.IsTransient(err) {
			return llm.Generation{}, err
		}
		if try >= d.cfg.MaxRetries {
			return llm.Generation{}, fmt.Errorf("%d retries exhausted: %w", d.cfg.MaxRetries, err)
		}

		wait := backoff
		if ra := llm.RetryAfter(err); ra > wait {
			wait = ra
		}
		d.log.Warn().Err(err).
			Str("task_id", t.ID).
			Int("attempt", attempt).
			Int("retry", try+1).
			Dur("wait", wait).
			Msg("transient backend error, retrying")
		e := d.event(bus.EventRetry, t)
		e.Attempt = attempt
		e.Error = err.Error()
		d.publish(e)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return llm.Generation{}, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > d.cfg.BackoffMax {
			backoff = d.cfg.BackoffMax
		}
	}
}

func (d *Dispatcher) event(typ bus.EventType, t task.Task) bus.Event {
	return bus.NewEvent(typ).WithTask(d.runID, t.ID)
}

func (d *Dispatcher) publishVerdict(t task.Task, attempt int, v verdict.Verdict) {
	e := d.event(bus.EventAttemptJudged, t)
	e.Attempt = attempt
	e.Verdict = v.Kind.String()
	e.Stage = string(v.Stage)
	e.DurationMs = v.Elapsed.Milliseconds()
	d.publish(e)

	if v.IsSystemError() && v.Fault != nil {
		se := d.event(bus.EventSystemError, t)
		se.Attempt = attempt
		se.Command = v.Fault.Command
		se.ExitCode = v.Fault.ExitCode
		se.TimedOut = v.Fault.TimedOut
		se.Error = v.Fault.Cause
		d.publish(se)
	}
}

func (d *Dispatcher) publish(e bus.Event) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(e); err != nil {
		d.log.Debug().Err(err).Str("event", string(e.Type)).Msg("event not published")
	}
}
