// Package metrics aggregates pipeline events into run statistics and
// Prometheus series.
package metrics

import (
	"sync"
	"time"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

// RunStats is the tally of one run.
type RunStats struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	TasksStarted       int `json:"tasks_started"`
	InFlight           int `json:"in_flight"`
	Retries            int `json:"retries"`
	SystemErrors       int `json:"system_errors"`
	Duplicates         int `json:"duplicates"`
	EvolutionExhausted int `json:"evolution_exhausted"`

	// Verdicts counts attempts by verdict kind.
	Verdicts map[string]int `json:"verdicts"`
	// Outcomes counts finished tasks by outcome.
	Outcomes map[string]int `json:"outcomes"`
	// Records counts written records by stream.
	Records map[string]int `json:"records"`

	LastEvent     string    `json:"last_event,omitempty"`
	LastEventTime time.Time `json:"last_event_time,omitempty"`
}

// Accepted returns the number of accepted attempts.
func (s RunStats) Accepted() int { return s.Verdicts[verdict.Accepted.String()] }

// Syntax returns the number of fast-check rejections.
func (s RunStats) Syntax() int { return s.Verdicts[verdict.RejectedSyntax.String()] }

// Semantic returns the number of compiler rejections.
func (s RunStats) Semantic() int { return s.Verdicts[verdict.RejectedSemantic.String()] }

// Collector subscribes to the bus and aggregates metrics.
type Collector struct {
	mu    sync.RWMutex
	stats RunStats
	prom  *Prom
	sub   bus.SubscriptionID
}

// NewCollector creates a collector. prom may be nil.
func NewCollector(runID string, prom *Prom) *Collector {
	return &Collector{
		prom: prom,
		stats: RunStats{
			RunID:     runID,
			StartedAt: time.Now(),
			Verdicts:  make(map[string]int),
			Outcomes:  make(map[string]int),
			Records:   make(map[string]int),
		},
	}
}

// Attach subscribes to every event on b.
func (c *Collector) Attach(b *bus.Bus) {
	if b == nil {
		return
	}
	c.sub = b.Subscribe("", c.handleEvent)
}

// Snapshot returns a copy of the current stats.
func (c *Collector) Snapshot() RunStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Verdicts = copyCounts(c.stats.Verdicts)
	s.Outcomes = copyCounts(c.stats.Outcomes)
	s.Records = copyCounts(c.stats.Records)
	return s
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// handleEvent is the central event handler.
func (c *Collector) handleEvent(e bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.stats
	s.LastEvent = string(e.Type)
	s.LastEventTime = e.Timestamp

	switch e.Type {
	case bus.EventRunStarted:
		s.StartedAt = e.Timestamp
	case bus.EventRunFinished:
		s.FinishedAt = e.Timestamp
	case bus.EventTaskStarted:
		s.TasksStarted++
		s.InFlight++
		if c.prom != nil {
			c.prom.InFlight.Inc()
		}
	case bus.EventTaskFinished:
		s.Outcomes[e.Outcome]++
		s.InFlight--
		if c.prom != nil {
			c.prom.InFlight.Dec()
			c.prom.Tasks.WithLabelValues(e.Outcome).Inc()
		}
	case bus.EventAttemptJudged:
		s.Verdicts[e.Verdict]++
		if c.prom != nil {
			c.prom.Verdicts.WithLabelValues(e.Verdict).Inc()
			if e.Stage == string(verdict.StageDeep) {
				c.prom.CompileSeconds.Observe(float64(e.DurationMs) / 1000)
			}
		}
	case bus.EventRetry:
		s.Retries++
		if c.prom != nil {
			c.prom.Retries.Inc()
		}
	case bus.EventSystemError:
		s.SystemErrors++
	case bus.EventRecordWritten:
		s.Records[e.Stream]++
		if c.prom != nil {
			c.prom.Records.WithLabelValues(e.Stream).Inc()
		}
	case bus.EventDuplicate:
		s.Duplicates++
	case bus.EventEvolutionExhausted:
		s.EvolutionExhausted++
	}
}
