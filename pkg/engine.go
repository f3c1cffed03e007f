// Package warpengine is the public API of a sharded, write-ahead-logged
// embedded key-value engine: a fixed number of in-memory shards, each with
// its own durable log, fronted by a weighted router and a multi-tier
// score-based cache.
//
// Composition mirrors the teacher's top-level pkg/cache.go Cache[K,V]: a
// slice of shard objects, built from a validated config produced by
// functional options, with Put dispatching through a router instead of a
// raw hash-mod-len, and Get/Delete through a reverse key->shard directory.
//
// © 2025 warpengine authors. MIT License.
package warpengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/arena-db/warpengine/internal/manifest"
	"github.com/arena-db/warpengine/internal/recovery"
	"github.com/arena-db/warpengine/internal/router"
	"github.com/arena-db/warpengine/internal/shard"
	"github.com/arena-db/warpengine/internal/tiercache"
	"github.com/arena-db/warpengine/internal/walog"
)

// engineState tracks the Open/Closing/Closed lifecycle (spec §4.6).
type engineState int32

const (
	stateOpen engineState = iota
	stateClosing
	stateClosed
)

// Engine is the public entry point: open a data directory, Put/Get/Delete
// keys, Flush/Close when done.
type Engine struct {
	dir    string
	logger *zap.Logger
	cfg    *config

	router *router.Router
	cache  *tiercache.Cache
	shards [NShards]*shard.Shard

	lock *manifest.Lock
	man  *manifest.Manifest

	sf singleflight.Group

	mu    sync.RWMutex
	state engineState

	// dirMu guards keyShard, the reverse key->shard directory (spec §4.4).
	// Get/Delete cannot re-derive a key's shard from the router alone: the
	// router's score depends on the hints supplied at Put time, which a bare
	// key lookup doesn't have. The directory is rebuilt from each shard's
	// recovered records at Open and kept in sync by every Put/Delete; it is
	// never persisted.
	dirMu    sync.RWMutex
	keyShard map[string]int

	metrics metricsSink
}

// shardForKey consults the reverse directory, reporting the shard owning
// key and whether key is known to exist at all.
func (e *Engine) shardForKey(key []byte) (int, bool) {
	e.dirMu.RLock()
	defer e.dirMu.RUnlock()
	sid, ok := e.keyShard[string(key)]
	return sid, ok
}

func (e *Engine) setKeyShard(key []byte, sid int) {
	e.dirMu.Lock()
	e.keyShard[string(key)] = sid
	e.dirMu.Unlock()
}

func (e *Engine) forgetKeyShard(key []byte) {
	e.dirMu.Lock()
	delete(e.keyShard, string(key))
	e.dirMu.Unlock()
}

// LoaderFunc loads a value on a GetOrLoad cache miss.
type LoaderFunc func(ctx context.Context, key []byte) ([]byte, error)

// Open opens (creating if absent) the data directory at dir and runs
// recovery (spec §4.6 Startup sequence). It returns ErrAlreadyLocked if
// another instance already holds dir's LOCK file, and ErrVersionMismatch
// if an existing manifest disagrees with this build's shard count or hash
// algorithm.
func Open(dir string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := manifest.EnsureDir(dir, NShards); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	lock, err := manifest.AcquireLock(dir)
	if err != nil {
		if errors.Is(err, manifest.ErrAlreadyLocked) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	man, err := loadOrCreateManifest(dir)
	if err != nil {
		lock.Release(dir)
		return nil, err
	}
	if err := man.Verify(NShards); err != nil {
		lock.Release(dir)
		return nil, fmt.Errorf("%w", ErrVersionMismatch)
	}

	e := &Engine{
		dir:      dir,
		logger:   cfg.logger,
		cfg:      cfg,
		router:   router.New(NShards),
		cache:    tiercache.New(cfg.cacheTiers),
		lock:     lock,
		man:      man,
		keyShard: make(map[string]int),
		metrics:  newMetricsSink(cfg.registry),
	}

	if err := e.openShards(); err != nil {
		lock.Release(dir)
		return nil, err
	}

	e.state = stateOpen
	return e, nil
}

func loadOrCreateManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.Load(dir)
	if err == nil {
		return m, nil
	}
	m = manifest.New(NShards, uint64(time.Now().UnixNano()))
	if saveErr := m.Save(dir); saveErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, saveErr)
	}
	return m, nil
}

// openShards replays recovery for every shard in parallel and opens each
// shard's log at its recovered next-sequence offset.
func (e *Engine) openShards() error {
	type opened struct {
		id  int
		s   *shard.Shard
		res *recovery.Result
	}

	results := make([]opened, NShards)
	g, _ := errgroup.WithContext(context.Background())

	for i := 0; i < NShards; i++ {
		i := i
		g.Go(func() error {
			res, err := recovery.Replay(e.dir, i, e.logger)
			if err != nil {
				return fmt.Errorf("%w: shard %d recovery: %v", ErrCorruptData, i, err)
			}

			log, err := walog.Open(e.dir, i, e.cfg.durability, res.NextSeq,
				walog.WithLogger(e.logger),
				walog.WithSegmentMaxBytes(e.cfg.segmentMaxBytes),
				walog.WithRotationHook(func(oldID, newID uint64) {
					e.metrics.incWalRotation(i)
				}),
			)
			if err != nil {
				return fmt.Errorf("%w: shard %d: %v", ErrIO, i, err)
			}

			results[i] = opened{id: i, s: shard.New(i, log, res.Records), res: res}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range results {
		e.shards[r.id] = r.s
		for key := range r.res.Records {
			e.keyShard[key] = r.id
		}
	}
	return nil
}

func keyHints(h []Hints) Hints {
	if len(h) == 0 {
		return Hints{}
	}
	return h[0]
}

// Put durably stores key=value, overwriting any prior value. hints is
// optional; the zero value (balanced access, normal priority) is used if
// omitted.
func (e *Engine) Put(key, value []byte, h ...Hints) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if len(key) < 1 || len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}

	hv := keyHints(h)
	sid := e.router.Route(key, hv)
	s := e.shards[sid]

	if _, err := s.Put(key, value); err != nil {
		return classifyShardErr(err)
	}

	e.setKeyShard(key, sid)
	e.cache.Admit(key, value, hv)
	e.metrics.incPut(sid)
	e.metrics.setShardSize(sid, s.Size())
	return nil
}

// Get looks up key, checking the front cache first and falling through to
// the owning shard on a miss, admitting the result back into the cache.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}

	if v, ok := e.cache.Lookup(key); ok {
		e.metrics.incCacheHit()
		return v, true, nil
	}
	e.metrics.incCacheMiss()

	// Get never re-routes: the router's score depends on the hints supplied
	// at Put time, which aren't available here, so only the reverse
	// directory (spec §4.4) can tell us which shard (if any) holds key.
	sid, ok := e.shardForKey(key)
	if !ok {
		return nil, false, nil
	}
	s := e.shards[sid]
	e.metrics.incGet(sid)

	v, ok := s.Get(key)
	if !ok {
		return nil, false, nil
	}
	e.cache.Admit(key, v, Hints{})
	return v, true, nil
}

// GetOrLoad behaves like Get, but on a miss invokes loader exactly once
// per key even under concurrent callers (golang.org/x/sync/singleflight),
// durably Puts its result, and returns it to every waiter.
func (e *Engine) GetOrLoad(ctx context.Context, key []byte, loader LoaderFunc) ([]byte, error) {
	if v, ok, err := e.Get(key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	v, err, _ := e.sf.Do(string(key), func() (any, error) {
		if v, ok, err := e.Get(key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		val, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := e.Put(key, val); err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Delete removes key, reporting whether it existed. A deleted key is
// invalidated from the front cache before Delete returns (invariant I5).
func (e *Engine) Delete(key []byte) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}

	// As with Get, deletion must consult the reverse directory rather than
	// re-route: re-routing a bare key can land on a different shard than
	// the one its hints placed it in at Put time, which would tombstone the
	// wrong shard's WAL and leave the real entry live to resurrect on
	// reopen.
	sid, ok := e.shardForKey(key)
	if !ok {
		return false, nil
	}
	s := e.shards[sid]

	existed, err := s.Delete(key)
	if err != nil {
		return false, classifyShardErr(err)
	}
	if existed {
		e.forgetKeyShard(key)
	}

	e.cache.Invalidate(key)
	e.metrics.incDelete(sid)
	e.metrics.setShardSize(sid, s.Size())
	return existed, nil
}

// Flush blocks until every write accepted so far across all shards is
// durable.
func (e *Engine) Flush() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	for _, s := range e.shards {
		if err := s.Flush(); err != nil {
			return classifyShardErr(err)
		}
	}
	return nil
}

// Stats is a point-in-time snapshot across the whole engine, consumed by
// cmd/warpenginectl and suitable for JSON encoding.
type Stats struct {
	Shards []shard.Stats    `json:"shards"`
	Cache  tiercache.Stats  `json:"cache"`
}

// Stats reports a snapshot of shard and cache counters.
func (e *Engine) Stats() Stats {
	s := Stats{Shards: make([]shard.Stats, NShards), Cache: e.cache.Stats()}
	for i, sh := range e.shards {
		s.Shards[i] = sh.StatsSnapshot()
	}
	return s
}

// RegisterMetrics attaches a Prometheus registry to an already-open
// Engine, for callers who don't have a registry ready at Open time.
// Passing a registry that already holds this engine's collectors (the
// same registry twice, or the one given to WithMetrics) panics via
// prometheus's own AlreadyRegistered error.
func (e *Engine) RegisterMetrics(reg *prometheus.Registry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = newMetricsSink(reg)
}

// Close drains outstanding writes, closes every shard's log, writes a
// final manifest recording last-seq per shard, and releases the directory
// lock. No data loss occurs under Sync or GroupCommit durability;
// AsyncAck may lose writes that were never fsynced.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return nil
	}
	e.state = stateClosing
	e.mu.Unlock()

	if err := e.Flush(); err != nil {
		e.logger.Warn("flush before close failed", zap.Error(err))
	}

	lastSeq := make([]uint64, NShards)
	var firstErr error
	for i, s := range e.shards {
		lastSeq[i] = s.StatsSnapshot().LastSeq
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.cache.Close()

	now := uint64(time.Now().UnixNano())
	e.man.LastCleanShutdownUnixNs = &now
	e.man.ShardLastSeq = lastSeq
	if err := e.man.Save(e.dir); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := e.lock.Release(e.dir); err != nil && firstErr == nil {
		firstErr = err
	}

	e.mu.Lock()
	e.state = stateClosed
	e.mu.Unlock()

	if firstErr != nil {
		return fmt.Errorf("%w: %v", ErrIO, firstErr)
	}
	return nil
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != stateOpen {
		return ErrClosed
	}
	return nil
}

// classifyShardErr maps a walog sentinel to this package's public
// taxonomy while preserving errors.Is-ability against the original.
func classifyShardErr(err error) error {
	switch {
	case errors.Is(err, walog.ErrNoSpace):
		return fmt.Errorf("%w: %v", ErrNoSpace, err)
	case errors.Is(err, walog.ErrLogUnavailable):
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
}
