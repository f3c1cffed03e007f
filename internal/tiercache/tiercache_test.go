package tiercache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arena-db/warpengine/internal/hints"
)

// withFrozenClock pins nowFn for the duration of a test, restoring it after.
func withFrozenClock(t *testing.T) *time.Time {
	t.Helper()
	now := time.Now()
	orig := nowFn
	nowFn = func() time.Time { return now }
	t.Cleanup(func() { nowFn = orig })
	return &now
}

func TestAdmitThenLookupRoundTrip(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{})
	defer c.Close()

	c.Admit([]byte("k"), []byte("v"), hints.Hints{})

	v, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestLookupMissIncrementsMisses(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{})
	defer c.Close()

	_, ok := c.Lookup([]byte("nope"))
	require.False(t, ok)
	require.Equal(t, uint64(1), c.Stats().Misses)
}

func TestAdmitPlacesByPriority(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{})
	defer c.Close()

	c.Admit([]byte("crit"), []byte("v"), hints.Hints{Priority: hints.PriorityCritical})
	c.Admit([]byte("high"), []byte("v"), hints.Hints{Priority: hints.PriorityHigh})
	c.Admit([]byte("norm"), []byte("v"), hints.Hints{Priority: hints.PriorityNormal})
	c.Admit([]byte("bg"), []byte("v"), hints.Hints{Priority: hints.PriorityBackground})

	stats := c.Stats()
	require.Equal(t, 1, stats.TierSizes[0])
	require.Equal(t, 1, stats.TierSizes[1])
	require.Equal(t, 1, stats.TierSizes[2])
	require.Equal(t, 1, stats.TierSizes[3])
}

func TestInvalidateRemovesFromWhicheverTier(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{})
	defer c.Close()

	c.Admit([]byte("k"), []byte("v"), hints.Hints{Priority: hints.PriorityLow})
	c.Invalidate([]byte("k"))

	_, ok := c.Lookup([]byte("k"))
	require.False(t, ok)
}

func TestAdmitEvictsLowestScoringWhenTierFull(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{C0: 2})
	defer c.Close()

	// Age the first entry relative to the others by advancing the frozen
	// clock between admissions, so its recency term is strictly lower.
	base := time.Now()
	nowFn = func() time.Time { return base }
	c.Admit([]byte("old"), []byte("v"), hints.Hints{Priority: hints.PriorityCritical})

	nowFn = func() time.Time { return base.Add(time.Hour) }
	c.Admit([]byte("new1"), []byte("v"), hints.Hints{Priority: hints.PriorityCritical})
	c.Admit([]byte("new2"), []byte("v"), hints.Hints{Priority: hints.PriorityCritical})

	require.Equal(t, 2, c.Stats().TierSizes[0])
	// "old" should have been displaced down into tier 1 by the third admit.
	_, okTier0 := c.tiers[0].index["old"]
	require.False(t, okTier0)
}

func TestDisplacedEntryDemotesNotDrops(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{C0: 1, C1: 1})
	defer c.Close()

	base := time.Now()
	nowFn = func() time.Time { return base }
	c.Admit([]byte("a"), []byte("v1"), hints.Hints{Priority: hints.PriorityCritical})

	nowFn = func() time.Time { return base.Add(time.Hour) }
	c.Admit([]byte("b"), []byte("v2"), hints.Hints{Priority: hints.PriorityCritical})

	// "a" was displaced from tier 0 into tier 1, not dropped.
	v, ok := c.Lookup([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestOnEvictFiresWhenPushedPastLastTier(t *testing.T) {
	withFrozenClock(t)
	var evicted []string
	c := New(Config{C0: 1, C1: 1, C2: 1, C3: 1, OnEvict: func(key string, value []byte) {
		evicted = append(evicted, key)
	}})
	defer c.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		nowFn = func(i int) func() time.Time {
			return func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		}(i)
		c.Admit([]byte(fmt.Sprintf("k%d", i)), []byte("v"), hints.Hints{Priority: hints.PriorityCritical})
	}

	require.NotEmpty(t, evicted)
	// Evictions counts every demotion, including intermediate cascades, so
	// it only ever exceeds or matches the count of final onEvict calls.
	require.GreaterOrEqual(t, c.Stats().Evictions, uint64(len(evicted)))
}

func TestCompressionAppliesAboveThresholdInLowerTiers(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{CompressThreshold: 8})
	defer c.Close()

	big := make([]byte, 64)
	for i := range big {
		big[i] = byte(i)
	}
	// Normal priority lands in tier 2, which compresses above the threshold.
	c.Admit([]byte("k"), big, hints.Hints{Priority: hints.PriorityNormal})

	n, ok := c.tiers[2].index["k"]
	require.True(t, ok)
	require.True(t, n.compressed)

	v, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	require.Equal(t, big, v)
}

func TestTier3AlwaysCompresses(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{})
	defer c.Close()

	c.Admit([]byte("k"), []byte("tiny"), hints.Hints{Priority: hints.PriorityBackground})

	n, ok := c.tiers[3].index["k"]
	require.True(t, ok)
	require.True(t, n.compressed)

	v, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("tiny"), v)
}

func TestAdmitOverwriteAcrossTiersPurgesStaleEntry(t *testing.T) {
	withFrozenClock(t)
	c := New(Config{})
	defer c.Close()

	// First write lands in tier 0 (critical priority).
	c.Admit([]byte("k"), []byte("v1"), hints.Hints{Priority: hints.PriorityCritical})
	_, ok := c.tiers[0].index["k"]
	require.True(t, ok)

	// Overwrite at normal priority lands in tier 2; the stale tier-0 copy
	// must be purged, or Lookup (which checks tier 0 first) would still
	// return the old value.
	c.Admit([]byte("k"), []byte("v2"), hints.Hints{Priority: hints.PriorityNormal})

	_, stillTier0 := c.tiers[0].index["k"]
	require.False(t, stillTier0, "stale copy must not remain in the old tier")

	v, ok := c.Lookup([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestPromotionOnHotLookup(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	base := time.Now()
	nowFn = func() time.Time { return base }
	t.Cleanup(func() { nowFn = time.Now })

	// Admitted into tier 2 (normal priority).
	c.Admit([]byte("k"), []byte("v"), hints.Hints{Priority: hints.PriorityNormal})
	_, ok := c.tiers[2].index["k"]
	require.True(t, ok)

	// Repeated hot lookups raise accessCount/score past tier 2's promotion
	// threshold (0.6), which should move the entry up toward tier 1/0.
	for i := 0; i < 200; i++ {
		_, ok := c.Lookup([]byte("k"))
		require.True(t, ok)
	}

	_, stillTier2 := c.tiers[2].index["k"]
	require.False(t, stillTier2, "expected repeated hot access to promote entry out of tier 2")
}
