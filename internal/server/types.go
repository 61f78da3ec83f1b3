// Package server exposes a read-only status endpoint for a running
// distillation: liveness, the live run tally, recent pipeline events and the
// Prometheus scrape target.
package server

import (
	"time"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
	"github.com/angleyanalbedo/generatestcode/internal/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds status server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":9464". Empty disables the server.
	Addr string

	// ShutdownTimeout is the graceful shutdown timeout (default: 5s)
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the status server.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":9464",
		ShutdownTimeout: 5 * time.Second,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// DATA SOURCES
// ═══════════════════════════════════════════════════════════════════════════════

// StatsSource provides the live run tally.
type StatsSource interface {
	Snapshot() metrics.RunStats
}

// EventSource provides recent pipeline events.
type EventSource interface {
	GetHistorySlice(n int) []bus.Event
}

// ═══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ═══════════════════════════════════════════════════════════════════════════════

// RunResponse is the JSON body of GET /api/run.
type RunResponse struct {
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Run       metrics.RunStats `json:"run"`
}

// EventsResponse is the JSON body of GET /api/events.
type EventsResponse struct {
	Count  int         `json:"count"`
	Events []bus.Event `json:"events"`
}
