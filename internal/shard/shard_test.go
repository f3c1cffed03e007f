package shard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arena-db/warpengine/internal/walog"
)

func newTestShard(t *testing.T) *Shard {
	t.Helper()
	log, err := walog.Open(t.TempDir(), 0, walog.Sync, 1)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return New(0, log, nil)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestShard(t)

	seq, err := s.Put([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	v, ok := s.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestPutOverwrite(t *testing.T) {
	s := newTestShard(t)

	_, err := s.Put([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	_, err = s.Put([]byte("k"), []byte("v2"))
	require.NoError(t, err)

	v, ok := s.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
	require.Equal(t, 1, s.Size())
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestShard(t)

	_, err := s.Put([]byte("k"), []byte("v1"))
	require.NoError(t, err)

	existed, err := s.Delete([]byte("k"))
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = s.Delete([]byte("k"))
	require.NoError(t, err)
	require.False(t, existed)

	_, ok := s.Get([]byte("k"))
	require.False(t, ok)
}

func TestScanSnapshot(t *testing.T) {
	s := newTestShard(t)

	_, err := s.Put([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = s.Put([]byte("b"), []byte("2"))
	require.NoError(t, err)

	snap := s.Scan()
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, snap)
}

func TestStatsSnapshotCounters(t *testing.T) {
	s := newTestShard(t)

	_, err := s.Put([]byte("a"), []byte("1"))
	require.NoError(t, err)

	_, _ = s.Get([]byte("a"))
	_, _ = s.Get([]byte("missing"))
	_, _ = s.Delete([]byte("nope"))

	stats := s.StatsSnapshot()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, uint64(0), stats.Deletions)
	require.Equal(t, 1, stats.Size)
}

func TestRecoveredSeedIsUsed(t *testing.T) {
	log, err := walog.Open(t.TempDir(), 0, walog.Sync, 5)
	require.NoError(t, err)
	defer log.Close()

	seed := map[string]*Record{"k": {Value: []byte("v"), InsertedAtSeq: 3, LastAccessSeq: 3}}
	s := New(0, log, seed)

	v, ok := s.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	seq, err := s.Put([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, uint64(5), seq)
}
