// Package golden holds the golden memory: accepted exemplars shown as
// few-shot examples and the persisted fingerprint baseline used for dedup.
package golden

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
)

const (
	// DefaultCapacity is the exemplar ring size.
	DefaultCapacity = 50

	// Exemplars must be strictly longer than MinExemplarLen and strictly
	// shorter than MaxExemplarLen bytes.
	MinExemplarLen = 200
	MaxExemplarLen = 2000
)

// Entry is one exemplar.
type Entry struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Instruction string                  `json:"instruction"`
	Code        string                  `json:"code"`
	CreatedAt   time.Time               `json:"created_at"`
}

// FingerprintEntry is a persisted fingerprint.
type FingerprintEntry struct {
	Fingerprint fingerprint.Fingerprint
	TaskID      string
	RunID       string
	CreatedAt   time.Time
}

// Store persists golden memory between runs.
type Store interface {
	LoadFingerprints(ctx context.Context) ([]fingerprint.Fingerprint, error)
	LoadExemplars(ctx context.Context) ([]Entry, error)
	// SaveFingerprints inserts entries, ignoring ones already stored.
	SaveFingerprints(ctx context.Context, entries []FingerprintEntry) error
	// ReplaceExemplars makes entries the complete exemplar set.
	ReplaceExemplars(ctx context.Context, entries []Entry) error
	Close() error
}

// Memory is a fixed-size FIFO ring of exemplars. It is safe for concurrent
// use.
type Memory struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	rng      *rand.Rand
}

// NewMemory creates a ring of the given capacity. rng may be nil for a
// time-seeded source.
func NewMemory(capacity int, rng *rand.Rand) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Memory{capacity: capacity, rng: rng}
}

// Eligible reports whether code is a usable exemplar size.
func Eligible(code string) bool {
	return len(code) > MinExemplarLen && len(code) < MaxExemplarLen
}

// Offer adds an accepted solution when it has an eligible size. The oldest
// entry is evicted once the ring is full.
func (m *Memory) Offer(e Entry) bool {
	if !Eligible(e.Code) {
		return false
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return true
}

// Load seeds the ring from persisted entries, keeping the newest ones.
func (m *Memory) Load(entries []Entry) {
	for _, e := range entries {
		m.Offer(e)
	}
}

// Pick returns a random exemplar's code, or "" when the ring is empty.
func (m *Memory) Pick() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[m.rng.Intn(len(m.entries))].Code
}

// Snapshot returns a copy of the ring, oldest first.
func (m *Memory) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of exemplars held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
