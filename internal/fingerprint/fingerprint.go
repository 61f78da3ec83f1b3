// Package fingerprint identifies accepted Structured Text by a content hash and
// keeps the bounded set of hashes already emitted, so the same program is not
// written to the dataset twice.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/angleyanalbedo/generatestcode/internal/stlex"
)

// Fingerprint is the hex SHA-256 of normalized source text.
type Fingerprint string

// Short returns the first 12 hex digits, for logs.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// Mode selects how source is normalized before hashing.
type Mode string

const (
	// ModeExact hashes the text as-is.
	ModeExact Mode = "exact"
	// ModeWhitespace collapses whitespace runs and trims.
	ModeWhitespace Mode = "whitespace"
	// ModeComments drops comments and pragmas, then collapses whitespace
	// between tokens. String literals are kept intact.
	ModeComments Mode = "comments"
)

// ParseMode validates a mode name. Empty selects ModeWhitespace.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeWhitespace:
		return ModeWhitespace, nil
	case ModeExact:
		return ModeExact, nil
	case ModeComments:
		return ModeComments, nil
	default:
		return "", fmt.Errorf("unknown normalization mode %q (want exact, whitespace or comments)", s)
	}
}

// Normalizer turns source into its canonical form for hashing.
type Normalizer struct {
	Mode Mode
}

// Normalize returns the canonical form of src.
func (n Normalizer) Normalize(src string) string {
	switch n.Mode {
	case ModeExact:
		return src
	case ModeComments:
		toks, err := stlex.New(src).All()
		if err != nil {
			// Unlexable text cannot have been accepted; fall back rather than fail.
			return collapse(src)
		}
		parts := make([]string, len(toks))
		for i, t := range toks {
			parts[i] = t.Text
		}
		return strings.Join(parts, " ")
	default:
		return collapse(src)
	}
}

// Of returns the fingerprint of src.
func (n Normalizer) Of(src string) Fingerprint {
	sum := sha256.Sum256([]byte(n.Normalize(src)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX
// ═══════════════════════════════════════════════════════════════════════════════

// Index is the set of fingerprints already emitted. All methods are safe for
// concurrent use; Insert is an atomic check-then-insert.
type Index struct {
	mu       sync.Mutex
	set      map[Fingerprint]struct{}
	order    []Fingerprint // insertion order, used for eviction
	head     int
	capacity int
	added    []Fingerprint
}

// NewIndex returns an empty index. capacity <= 0 means unbounded; otherwise
// the oldest fingerprint is evicted once capacity is exceeded.
func NewIndex(capacity int) *Index {
	return &Index{
		set:      make(map[Fingerprint]struct{}),
		capacity: capacity,
	}
}

// Contains reports whether fp is present.
func (i *Index) Contains(fp Fingerprint) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.set[fp]
	return ok
}

// Insert adds fp and reports whether it was absent. Inserting a present
// fingerprint is a no-op.
func (i *Index) Insert(fp Fingerprint) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.insertLocked(fp) {
		return false
	}
	i.added = append(i.added, fp)
	return true
}

// Load seeds the index with fingerprints persisted by earlier runs. Loaded
// fingerprints are not reported by Added.
func (i *Index) Load(fps []Fingerprint) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, fp := range fps {
		i.insertLocked(fp)
	}
}

func (i *Index) insertLocked(fp Fingerprint) bool {
	if _, ok := i.set[fp]; ok {
		return false
	}
	i.set[fp] = struct{}{}
	i.order = append(i.order, fp)

	if i.capacity > 0 && len(i.set) > i.capacity {
		oldest := i.order[i.head]
		i.order[i.head] = ""
		i.head++
		delete(i.set, oldest)
		if i.head > len(i.order)/2 {
			i.order = append([]Fingerprint(nil), i.order[i.head:]...)
			i.head = 0
		}
	}
	return true
}

// Len returns the number of fingerprints held.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.set)
}

// Added returns the fingerprints inserted since the index was created, in
// insertion order, including any later evicted.
func (i *Index) Added() []Fingerprint {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Fingerprint(nil), i.added...)
}
