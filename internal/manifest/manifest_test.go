package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(3, 12345)
	m.ShardLastSeq[1] = 42

	require.NoError(t, m.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, m.Version, loaded.Version)
	require.Equal(t, m.NShards, loaded.NShards)
	require.Equal(t, m.HashAlgorithm, loaded.HashAlgorithm)
	require.Equal(t, m.FormatMagic, loaded.FormatMagic)
	require.Equal(t, m.CreatedAtUnixNs, loaded.CreatedAtUnixNs)
	require.Equal(t, m.ShardLastSeq, loaded.ShardLastSeq)
}

func TestLoadMissingReturnsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.True(t, os.IsNotExist(err))
}

func TestVerifyAcceptsMatchingManifest(t *testing.T) {
	m := New(3, 1)
	require.NoError(t, m.Verify(3))
}

func TestVerifyRejectsVersionMismatch(t *testing.T) {
	m := New(3, 1)
	m.Version = 99
	err := m.Verify(3)
	require.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestVerifyRejectsShardCountMismatch(t *testing.T) {
	m := New(3, 1)
	err := m.Verify(5)
	require.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestVerifyRejectsHashAlgorithmMismatch(t *testing.T) {
	m := New(3, 1)
	m.HashAlgorithm = "fnv1a"
	err := m.Verify(3)
	require.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestVerifyRejectsFormatMagicMismatch(t *testing.T) {
	m := New(3, 1)
	m.FormatMagic = "0xdeadbeef"
	err := m.Verify(3)
	require.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestAcquireLockThenReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	l, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, l.Release(dir))

	l2, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Release(dir))
}

func TestAcquireLockTwiceFails(t *testing.T) {
	dir := t.TempDir()

	l, err := AcquireLock(dir)
	require.NoError(t, err)
	defer l.Release(dir)

	_, err = AcquireLock(dir)
	require.True(t, errors.Is(err, ErrAlreadyLocked))
}

func TestEnsureDirCreatesShardSubdirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, EnsureDir(dir, 3))

	for i := 0; i < 3; i++ {
		info, err := os.Stat(filepath.Join(dir, "shard-"+string(rune('0'+i))))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}
