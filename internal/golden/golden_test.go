package golden

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
)

func sized(n int, tag string) string {
	return tag + strings.Repeat("x", n-len(tag))
}

func TestEligible(t *testing.T) {
	assert.False(t, Eligible(sized(200, "a")))
	assert.True(t, Eligible(sized(201, "a")))
	assert.True(t, Eligible(sized(1999, "a")))
	assert.False(t, Eligible(sized(2000, "a")))
}

func TestMemory_OfferAndEvict(t *testing.T) {
	m := NewMemory(3, rand.New(rand.NewSource(1)))

	assert.False(t, m.Offer(Entry{Code: "too short"}))
	for _, tag := range []string{"a", "b", "c", "d"} {
		require.True(t, m.Offer(Entry{Fingerprint: fingerprint.Fingerprint(tag), Code: sized(300, tag)}))
	}

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, fingerprint.Fingerprint("b"), snap[0].Fingerprint)
	assert.Equal(t, fingerprint.Fingerprint("d"), snap[2].Fingerprint)
	assert.False(t, snap[0].CreatedAt.IsZero())
}

func TestMemory_Pick(t *testing.T) {
	m := NewMemory(0, rand.New(rand.NewSource(7)))
	assert.Empty(t, m.Pick())

	m.Load([]Entry{{Code: sized(300, "one")}, {Code: sized(300, "two")}})
	assert.Equal(t, 2, m.Len())
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[m.Pick()[:3]] = true
	}
	assert.True(t, seen["one"])
	assert.True(t, seen["two"])
}
