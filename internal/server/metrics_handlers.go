package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultEventCount = 100

// StatusHandler serves the run status routes.
type StatusHandler struct {
	stats   StatsSource
	events  EventSource
	started time.Time
}

// NewStatusHandler creates a handler. events may be nil.
func NewStatusHandler(stats StatsSource, events EventSource) *StatusHandler {
	return &StatusHandler{stats: stats, events: events, started: time.Now()}
}

// Health reports liveness.
// GET /healthz
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run returns the live tally of the current run.
// GET /api/run
func (h *StatusHandler) Run(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.JSON(http.StatusOK, RunResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Run:       h.stats.Snapshot(),
	})
}

// Events returns the most recent pipeline events, oldest first.
// GET /api/events?n=50
func (h *StatusHandler) Events(c *gin.Context) {
	n := defaultEventCount
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
			return
		}
		n = v
	}
	if h.events == nil {
		c.JSON(http.StatusOK, EventsResponse{Events: nil})
		return
	}
	events := h.events.GetHistorySlice(n)
	c.JSON(http.StatusOK, EventsResponse{Count: len(events), Events: events})
}
