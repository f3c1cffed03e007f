// Package walog implements the per-shard write-ahead log: a durable,
// append-only segment file with batched asynchronous fsync, sequence
// numbering, and crash-safe recovery support.
//
// The batching shape is grounded on Prometheus TSDB's SegmentWAL (256MiB
// segments, buffered writer, group fsync) and on arena-cache's general
// "hot path never blocks on disk" philosophy, adapted here to the spec's
// three durability modes instead of a single fixed flush interval.
//
// © 2025 warpengine authors. MIT License.
package walog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arena-db/warpengine/internal/codec"
	"github.com/arena-db/warpengine/internal/segring"
)

// Durability selects how aggressively ShardLog.Append waits for fsync.
type Durability int

const (
	// Sync fsyncs before Append returns. Highest durability, lowest
	// throughput.
	Sync Durability = iota
	// GroupCommit (the default) batches concurrent appends and fsyncs on a
	// timer or byte-size trigger, whichever comes first. Append's returned
	// handle resolves once the batch containing it has been fsynced.
	GroupCommit
	// AsyncAck acks the caller immediately; fsync happens on the same
	// schedule as GroupCommit, but the caller does not wait for it and
	// therefore accepts loss of in-flight writes on crash.
	AsyncAck
)

const (
	// DefaultGroupCommitInterval is GROUP_COMMIT_INTERVAL_MS's default.
	DefaultGroupCommitInterval = 5 * time.Millisecond
	// DefaultGroupCommitMaxBytes is GROUP_COMMIT_MAX_BYTES's default.
	DefaultGroupCommitMaxBytes int64 = 1 << 20
	// DefaultSegmentMaxBytes is SEGMENT_MAX_BYTES's default, re-exported
	// from segring so callers configuring a ShardLog don't need to import
	// that package directly.
	DefaultSegmentMaxBytes = segring.DefaultSegmentMaxBytes
)

// ErrLogUnavailable is returned by every operation once the log has been
// poisoned by a write or fsync failure. The log must not be used again;
// the owning process should restart to recover.
var ErrLogUnavailable = errors.New("walog: log unavailable (poisoned)")

// ErrNoSpace indicates fsync failed because the underlying device is full.
// The log is not poisoned by this alone; the caller may retry.
var ErrNoSpace = errors.New("walog: no space left on device")

// FlushHandle is returned by Append; Wait blocks until the entry identified
// by Seq is durable (or the log is poisoned, in which case Wait returns
// ErrLogUnavailable).
type FlushHandle struct {
	seq  uint64
	done <-chan error
}

// Seq is the sequence number assigned to the appended entry.
func (h FlushHandle) Seq() uint64 { return h.seq }

// Wait blocks until the entry is fsynced, returning any error encountered
// durably persisting it.
func (h FlushHandle) Wait() error {
	if h.done == nil {
		return nil
	}
	return <-h.done
}

type pendingWaiter struct {
	seq uint64
	ch  chan error
}

// ShardLog is the durable append log for one shard.
type ShardLog struct {
	dir        string
	shardID    int
	durability Durability
	logger     *zap.Logger

	segMax int64
	ring   *segring.Ring

	mu       sync.Mutex
	file     *os.File
	buf      []byte
	nextSeq  uint64
	waiters  []pendingWaiter
	poisoned error

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	onRotate func(oldID, newID uint64)
}

// Option configures ShardLog at Open time.
type Option func(*ShardLog)

// WithLogger plugs a zap.Logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *ShardLog) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSegmentMaxBytes overrides SEGMENT_MAX_BYTES.
func WithSegmentMaxBytes(n int64) Option {
	return func(s *ShardLog) {
		if n > 0 {
			s.segMax = n
		}
	}
}

// WithRotationHook installs a callback invoked whenever a segment rotates,
// primarily so callers can emit metrics without walog depending on a
// specific metrics backend.
func WithRotationHook(fn func(oldID, newID uint64)) Option {
	return func(s *ShardLog) { s.onRotate = fn }
}

func segmentPath(dir string, shardID int, segID uint64) string {
	return filepath.Join(dir, fmt.Sprintf("shard-%d", shardID), fmt.Sprintf("wal-%08d.log", segID))
}

func shardDir(dir string, shardID int) string {
	return filepath.Join(dir, fmt.Sprintf("shard-%d", shardID))
}

// SegmentIDs returns every segment id present for shardID under dir, sorted
// ascending. Used by recovery to enumerate segments in order.
func SegmentIDs(dir string, shardID int) ([]uint64, error) {
	entries, err := os.ReadDir(shardDir(dir, shardID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "wal-%08d.log", &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SegmentPath returns the path of segment id within shardID's directory.
func SegmentPath(dir string, shardID int, segID uint64) string {
	return segmentPath(dir, shardID, segID)
}

// Open opens (or creates) the WAL for one shard, resuming from the highest
// existing segment. startSeq is the sequence number the next Append should
// assign — callers pass recovery's computed next_seq so numbering stays
// contiguous across restarts.
func Open(dir string, shardID int, durability Durability, startSeq uint64, opts ...Option) (*ShardLog, error) {
	sd := shardDir(dir, shardID)
	if err := os.MkdirAll(sd, 0o755); err != nil {
		return nil, fmt.Errorf("walog: mkdir shard dir: %w", err)
	}

	ids, err := SegmentIDs(dir, shardID)
	if err != nil {
		return nil, fmt.Errorf("walog: list segments: %w", err)
	}

	var activeID uint64
	if len(ids) > 0 {
		activeID = ids[len(ids)-1]
	}

	s := &ShardLog{
		dir:        dir,
		shardID:    shardID,
		durability: durability,
		logger:     zap.NewNop(),
		segMax:     segring.DefaultSegmentMaxBytes,
		nextSeq:    startSeq,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(segmentPath(dir, shardID, activeID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open active segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("walog: stat active segment: %w", err)
	}
	s.file = f
	s.ring = segring.New(s.segMax, activeID)
	s.ring.AddBytes(info.Size())

	go s.flushLoop()
	return s, nil
}

// Append assigns the next sequence number, buffers the encoded entry, and
// returns a FlushHandle. In Sync mode the entry is already durable by the
// time Append returns. Append never blocks on disk I/O outside of Sync
// mode.
func (s *ShardLog) Append(entry codec.LogEntry) (FlushHandle, error) {
	s.mu.Lock()
	if s.poisoned != nil {
		err := s.poisoned
		s.mu.Unlock()
		return FlushHandle{}, err
	}

	seq := s.nextSeq
	s.nextSeq++
	entry.Seq = seq

	encoded := codec.Encode(entry)
	s.buf = append(s.buf, encoded...)

	ch := make(chan error, 1)
	s.waiters = append(s.waiters, pendingWaiter{seq: seq, ch: ch})

	wakeNow := int64(len(s.buf)) >= DefaultGroupCommitMaxBytes
	s.mu.Unlock()

	if wakeNow {
		s.signalFlush()
	}

	handle := FlushHandle{seq: seq, done: ch}

	if s.durability == Sync {
		s.signalFlush()
		err := handle.Wait()
		return handle, err
	}
	// GroupCommit and AsyncAck both rely on the ticker/byte-threshold
	// schedule in flushLoop. A GroupCommit caller blocks on handle.Wait()
	// at the Shard layer; an AsyncAck handle carries no completion channel,
	// so its Wait returns at once.
	if s.durability == AsyncAck {
		return FlushHandle{seq: seq}, nil
	}
	return handle, nil
}

func (s *ShardLog) signalFlush() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// FlushUntil blocks until every entry with seq <= target is durably
// fsynced. It does not itself append anything to the log: it registers a
// marker alongside whatever is already buffered and waits for the next
// flush cycle, which fsyncs the whole buffer (a superset of everything up
// to target) as one unit.
func (s *ShardLog) FlushUntil(target uint64) error {
	s.mu.Lock()
	if s.poisoned != nil {
		err := s.poisoned
		s.mu.Unlock()
		return err
	}
	ch := make(chan error, 1)
	s.waiters = append(s.waiters, pendingWaiter{seq: target, ch: ch})
	s.mu.Unlock()

	s.signalFlush()
	return (FlushHandle{seq: target, done: ch}).Wait()
}

func (s *ShardLog) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(DefaultGroupCommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.flushBuffer()
			return
		case <-ticker.C:
			s.flushBuffer()
		case <-s.wake:
			s.flushBuffer()
		}
	}
}

func (s *ShardLog) flushBuffer() {
	s.mu.Lock()
	if s.poisoned != nil {
		s.mu.Unlock()
		return
	}
	if len(s.buf) == 0 {
		// Nothing to write, but marker waiters (e.g. from FlushUntil) still
		// need releasing: there is nothing in-flight for them to wait on.
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()
		for _, w := range waiters {
			w.ch <- nil
			close(w.ch)
		}
		return
	}
	toWrite := s.buf
	s.buf = nil
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	if _, err := s.file.Write(toWrite); err != nil {
		s.handleFlushErr(classifyWriteErr(err), waiters)
		return
	}
	if err := s.file.Sync(); err != nil {
		s.handleFlushErr(classifyWriteErr(err), waiters)
		return
	}

	s.mu.Lock()
	needsRotate := s.ring.AddBytes(int64(len(toWrite)))
	s.mu.Unlock()

	for _, w := range waiters {
		w.ch <- nil
		close(w.ch)
	}

	if needsRotate {
		if err := s.rotate(); err != nil {
			s.logger.Error("wal segment rotation failed", zap.Int("shard", s.shardID), zap.Error(err))
		}
	}
}

func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return ErrNoSpace
	}
	return err
}

// handleFlushErr dispatches a failed write/fsync. ENOSPC does not poison the
// log per spec §7: the operation is reported as not-durable but the engine
// stays open for the caller to retry after freeing space. Any other error
// is fatal for the shard and poisons the log.
func (s *ShardLog) handleFlushErr(cause error, waiters []pendingWaiter) {
	if errors.Is(cause, ErrNoSpace) {
		s.logger.Warn("wal flush hit no space", zap.Int("shard", s.shardID))
		for _, w := range waiters {
			w.ch <- ErrNoSpace
			close(w.ch)
		}
		return
	}
	s.poisonLocked(cause, waiters)
}

func (s *ShardLog) poisonLocked(cause error, waiters []pendingWaiter) {
	s.mu.Lock()
	if s.poisoned == nil {
		s.poisoned = fmt.Errorf("%w: %v", ErrLogUnavailable, cause)
	}
	poisonErr := s.poisoned
	pending := append(waiters, s.waiters...)
	s.waiters = nil
	s.mu.Unlock()

	s.logger.Error("wal poisoned", zap.Int("shard", s.shardID), zap.Error(cause))
	for _, w := range pending {
		w.ch <- poisonErr
		close(w.ch)
	}
}

// rotate closes the current segment and opens a fresh one, per
// rotate_if_needed in the spec.
func (s *ShardLog) rotate() error {
	s.mu.Lock()
	oldID, newID := s.ring.Rotate()
	oldFile := s.file
	s.mu.Unlock()

	f, err := os.OpenFile(segmentPath(s.dir, s.shardID, newID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("walog: open new segment: %w", err)
	}

	s.mu.Lock()
	s.file = f
	s.mu.Unlock()

	if err := oldFile.Close(); err != nil {
		s.logger.Warn("failed closing retired segment", zap.Error(err))
	}

	s.logger.Info("wal segment rotated",
		zap.Int("shard", s.shardID), zap.Uint64("old_segment", oldID), zap.Uint64("new_segment", newID))
	if s.onRotate != nil {
		s.onRotate(oldID, newID)
	}
	return nil
}

// NextSeq returns the sequence number that will be assigned to the next
// appended entry.
func (s *ShardLog) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Poisoned reports whether the log has stopped accepting writes.
func (s *ShardLog) Poisoned() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned
}

// Close drains outstanding buffered writes (fsyncing them, unless already
// poisoned) and closes the active segment file.
func (s *ShardLog) Close() error {
	close(s.stop)
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
