package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arena-db/warpengine/internal/hints"
)

func TestRouteIsDeterministic(t *testing.T) {
	r := New(3)
	key := []byte("some-key")

	first := r.Route(key, hints.Hints{})
	for i := 0; i < 100; i++ {
		require.Equal(t, first, r.Route(key, hints.Hints{}))
	}
}

func TestRouteWithinBounds(t *testing.T) {
	r := New(3)
	for i := 0; i < 500; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		shard := r.Route(key, hints.Hints{})
		require.GreaterOrEqual(t, shard, 0)
		require.Less(t, shard, 3)
	}
}

func TestRouteHotHintsPreferShardZero(t *testing.T) {
	r := New(3)

	home := func(key []byte) int { return int(HashKey(key) % 3) }

	// Find a key whose hash-home isn't already shard 0, so the hints are the
	// deciding factor rather than a coincidence of the hash term. A hot
	// pattern alone (weight 0.3) cannot outweigh the hash term (weight 0.5),
	// so the hot pattern is paired with critical priority.
	var key []byte
	for i := 0; ; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		if home(k) != 0 {
			key = k
			break
		}
	}

	got := r.Route(key, hints.Hints{AccessPattern: hints.AccessHot, Priority: hints.PriorityCritical})
	require.Equal(t, 0, got)
}

func TestRouteColdHintsPreferLastShard(t *testing.T) {
	r := New(3)

	home := func(key []byte) int { return int(HashKey(key) % 3) }

	// As above: a cold pattern alone cannot outweigh the hash term, so it is
	// paired with background priority.
	var key []byte
	for i := 0; ; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		if home(k) != 2 {
			key = k
			break
		}
	}

	got := r.Route(key, hints.Hints{AccessPattern: hints.AccessCold, Priority: hints.PriorityBackground})
	require.Equal(t, 2, got)
}

func TestRouteTiebreakPrefersLowestShard(t *testing.T) {
	// With NumShards=1 every affinity term collapses to a constant, so every
	// candidate scores identically; the only shard available is 0, which
	// also exercises the "lowest id wins" rule trivially.
	r := New(1)
	require.Equal(t, 0, r.Route([]byte("anything"), hints.Hints{}))
}

func TestPriorityAffinityMonotonicAcrossShards(t *testing.T) {
	numShards := 5
	// Critical priority must score non-increasing affinity as shard id rises.
	var prev = 2.0
	for s := 0; s < numShards; s++ {
		score := priorityAffinity(hints.PriorityCritical, s, numShards)
		require.LessOrEqual(t, score, prev)
		prev = score
	}
}

func TestHashAffinityPeaksAtHomeShard(t *testing.T) {
	numShards := 4
	hashed := uint64(2) // home = 2 % 4 = 2
	home := hashAffinity(hashed, 2, numShards)
	for s := 0; s < numShards; s++ {
		if s == 2 {
			continue
		}
		require.Less(t, hashAffinity(hashed, s, numShards), home)
	}
}

func TestNewPanicsOnNonPositiveShardCount(t *testing.T) {
	require.Panics(t, func() { New(0) })
	require.Panics(t, func() { New(-1) })
}
