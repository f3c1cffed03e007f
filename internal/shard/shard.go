// Package shard owns the in-memory hash table for one shard and
// coordinates with its write-ahead log.
//
// Grounded on arena-cache's pkg/shard.go (RWMutex-guarded map, atomic
// hit/miss/eviction counters, hash helper), with the CLOCK-Pro
// admission/eviction machinery removed: a Shard's map is the system of
// record for its slice of the keyspace, not a bounded cache — entries are
// only ever removed by an explicit Delete.
//
// © 2025 warpengine authors. MIT License.
package shard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arena-db/warpengine/internal/codec"
	"github.com/arena-db/warpengine/internal/walog"
)

// Record is the in-memory value kept for a live key, together with the
// sequence number of the write that inserted it and of its latest write.
type Record struct {
	Value         []byte
	InsertedAtSeq uint64
	LastAccessSeq uint64
}

// Shard owns the map for a slice of the key space plus its log.
type Shard struct {
	ID  int
	log *walog.ShardLog

	mu  sync.RWMutex
	m   map[string]*Record

	hits      atomic.Uint64
	misses    atomic.Uint64
	deletions atomic.Uint64

	seqCounter atomic.Uint64
}

// New constructs a shard bound to an already-open log, seeded with the keys
// recovery produced (may be nil for a brand new shard).
func New(id int, log *walog.ShardLog, recovered map[string]*Record) *Shard {
	if recovered == nil {
		recovered = make(map[string]*Record)
	}
	return &Shard{ID: id, log: log, m: recovered}
}

// Put durably persists key=value, overwriting any prior value, and returns
// the sequence number assigned to the write. It blocks for however long the
// shard's log durability mode requires (see internal/walog).
func (s *Shard) Put(key, value []byte) (uint64, error) {
	handle, err := s.log.Append(codec.LogEntry{
		Op:          codec.OpPut,
		Key:         key,
		Value:       value,
		TimestampNs: uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return 0, err
	}
	if err := handle.Wait(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	rec, exists := s.m[string(key)]
	if exists {
		rec.Value = value
		rec.LastAccessSeq = handle.Seq()
	} else {
		s.m[string(key)] = &Record{
			Value:         value,
			InsertedAtSeq: handle.Seq(),
			LastAccessSeq: handle.Seq(),
		}
	}
	s.mu.Unlock()

	return handle.Seq(), nil
}

// Get performs a pure in-memory lookup.
func (s *Shard) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	rec, ok := s.m[string(key)]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return rec.Value, true
}

// GetRecord returns the full record (value + access metadata), used by the
// cache layer to compute admission/promotion scores without a redundant
// lookup.
func (s *Shard) GetRecord(key []byte) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[string(key)]
	return rec, ok
}

// Delete logs a tombstone and removes the key from the map. It reports
// whether the key existed.
func (s *Shard) Delete(key []byte) (bool, error) {
	handle, err := s.log.Append(codec.LogEntry{
		Op:          codec.OpDelete,
		Key:         key,
		TimestampNs: uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return false, err
	}
	if err := handle.Wait(); err != nil {
		return false, err
	}

	s.mu.Lock()
	_, existed := s.m[string(key)]
	delete(s.m, string(key))
	s.mu.Unlock()

	if existed {
		s.deletions.Add(1)
	}
	return existed, nil
}

// Scan returns a point-in-time snapshot of every live key=value pair.
// Iteration order is unspecified and the snapshot does not reflect
// concurrent mutations made after it is taken.
func (s *Shard) Scan() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.m))
	for k, rec := range s.m {
		out[k] = rec.Value
	}
	return out
}

// Size returns the number of live keys in the shard.
func (s *Shard) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Flush blocks until every write accepted so far by this shard is durable.
func (s *Shard) Flush() error {
	return s.log.FlushUntil(s.log.NextSeq())
}

// Stats is a point-in-time counter snapshot for this shard.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Deletions uint64
	Size      int
	LastSeq   uint64
}

// StatsSnapshot reports the shard's current counters.
func (s *Shard) StatsSnapshot() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Deletions: s.deletions.Load(),
		Size:      s.Size(),
		LastSeq:   s.log.NextSeq() - 1,
	}
}

// Close closes the shard's underlying log.
func (s *Shard) Close() error {
	return s.log.Close()
}
