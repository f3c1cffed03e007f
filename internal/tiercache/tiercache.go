// Package tiercache implements the four-tier front cache that sits between
// the Engine's public API and the shards (spec §4.5): event horizon,
// photon sphere, deep cache, singularity, in decreasing priority, each a
// capacity-bounded ring with score-based admission/eviction/promotion.
//
// The ring + sweeping "hand" shape is inherited from arena-cache's
// internal/clockpro: that package swept a circular list and made
// hot/cold/test bit transitions on every pass. Here the hand instead
// compares entries directly against the spec's score() formula —
// admission and promotion/demotion are driven by a continuous score, not a
// two-state reference bit, because the spec's cache is ranked by
// recency/frequency/priority rather than CLOCK-Pro's approximate LRU.
//
// © 2025 warpengine authors. MIT License.
package tiercache

import (
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/arena-db/warpengine/internal/hints"
)

// Tier capacity defaults (spec §4.5).
const (
	DefaultC0 = 1024
	DefaultC1 = 4096
	DefaultC2 = 16384
	DefaultC3 = 65536

	// DefaultCompressThreshold is COMPRESS_THRESHOLD_BYTES's default.
	DefaultCompressThreshold = 4 << 10
)

// Score weights (spec §4.5).
const (
	scoreRecencyWeight   = 0.4
	scoreFrequencyWeight = 0.4
	scorePriorityWeight  = 0.2
)

// Promotion thresholds per tier index 1..3 (spec §4.5). Index 0 is unused:
// tier 0 is the top tier and nothing promotes into it from above.
var promotionThreshold = [4]float64{0, 0.8, 0.6, 0.4}

// nowFn holds Go clock access so tests can stub time; matches arena-cache's
// style of keeping time.Now() calls out of the hot scoring formula where
// reasonable.
var nowFn = time.Now

type node struct {
	key        string
	value      []byte
	compressed bool

	priorityWeight float64
	accessCount    uint32
	lastAccess     time.Time

	prev, next *node
}

func newNode(key string, value []byte, compressed bool, pw float64) *node {
	n := &node{key: key, value: value, compressed: compressed, priorityWeight: pw, lastAccess: nowFn(), accessCount: 1}
	n.prev, n.next = n, n
	return n
}

func (n *node) score() float64 {
	recency := 1.0 / (1.0 + nowFn().Sub(n.lastAccess).Seconds())
	freq := float64(n.accessCount) / 100.0
	if freq > 1.0 {
		freq = 1.0
	}
	return scoreRecencyWeight*recency + scoreFrequencyWeight*freq + scorePriorityWeight*n.priorityWeight
}

// tier is a capacity-bounded ring of nodes with a sweeping eviction hand.
type tier struct {
	mu       sync.RWMutex
	cap      int
	index    map[string]*node
	head     *node // hand position
	compress bool  // tier 3 always compresses
}

func newTier(capacity int, alwaysCompress bool) *tier {
	return &tier{cap: capacity, index: make(map[string]*node), compress: alwaysCompress}
}

func (t *tier) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

func (t *tier) append(n *node) {
	if t.head == nil {
		t.head = n
		return
	}
	tail := t.head.prev
	tail.next = n
	n.prev = tail
	n.next = t.head
	t.head.prev = n
}

func (t *tier) unlink(n *node) {
	if n.next == n {
		t.head = nil
	} else {
		n.prev.next = n.next
		n.next.prev = n.prev
		if t.head == n {
			t.head = n.next
		}
	}
	n.next, n.prev = nil, nil
}

// evictLowestLocked removes and returns the lowest-scoring node, or nil if
// the tier is empty. Caller holds t.mu.
func (t *tier) evictLowestLocked() *node {
	if t.head == nil {
		return nil
	}
	worst := t.head
	worstScore := worst.score()
	n := t.head.next
	for n != t.head {
		if s := n.score(); s < worstScore {
			worst = n
			worstScore = s
		}
		n = n.next
	}
	t.unlink(worst)
	delete(t.index, worst.key)
	return worst
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	TierSizes [4]int
	Evictions uint64
}

// Cache is the four-tier front cache.
type Cache struct {
	tiers [4]*tier

	compressThreshold int
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	onEvict           func(key string, value []byte)

	mu        sync.Mutex // guards counters only
	hits      uint64
	misses    uint64
	evictions uint64
}

// Config configures tier capacities and the compression threshold. Zero
// values fall back to the spec's defaults.
type Config struct {
	C0, C1, C2, C3    int
	CompressThreshold int

	// OnEvict, if set, is called with the raw (decompressed) value of any
	// entry pushed out past tier 3. The shard beneath the cache is always
	// the system of record, so this is purely advisory — a hook for a
	// cold external archive, never load-bearing for correctness.
	OnEvict func(key string, value []byte)
}

// New constructs a four-tier cache. Compression errors during Admit
// degrade silently (spec §7): the entry is simply dropped from the cache,
// the shard beneath it is untouched.
func New(cfg Config) *Cache {
	if cfg.C0 <= 0 {
		cfg.C0 = DefaultC0
	}
	if cfg.C1 <= 0 {
		cfg.C1 = DefaultC1
	}
	if cfg.C2 <= 0 {
		cfg.C2 = DefaultC2
	}
	if cfg.C3 <= 0 {
		cfg.C3 = DefaultC3
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}

	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)

	return &Cache{
		tiers: [4]*tier{
			newTier(cfg.C0, false),
			newTier(cfg.C1, false),
			newTier(cfg.C2, false),
			newTier(cfg.C3, true),
		},
		compressThreshold: cfg.CompressThreshold,
		encoder:           enc,
		decoder:           dec,
		onEvict:           cfg.OnEvict,
	}
}

// destinationTier maps a priority hint to its admission tier (spec §4.5).
func destinationTier(p hints.Priority) int {
	switch p {
	case hints.PriorityCritical:
		return 0
	case hints.PriorityHigh:
		return 1
	case hints.PriorityLow, hints.PriorityBackground:
		return 3
	default: // normal
		return 2
	}
}

// Lookup checks tiers in order (0..3); on a hit at tier k>0 it may promote
// the entry toward tier 0 if the entry's score clears that tier's
// promotion threshold.
func (c *Cache) Lookup(key []byte) ([]byte, bool) {
	k := string(key)

	for ti, t := range c.tiers {
		t.mu.Lock()
		n, ok := t.index[k]
		if !ok {
			t.mu.Unlock()
			continue
		}
		n.accessCount++
		n.lastAccess = nowFn()
		value := c.materialize(n)

		if ti > 0 && n.score() > promotionThreshold[ti] {
			t.unlink(n)
			delete(t.index, k)
			t.mu.Unlock()

			c.promote(ti-1, n)
		} else {
			t.mu.Unlock()
		}

		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return value, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

func (c *Cache) materialize(n *node) []byte {
	if !n.compressed {
		return n.value
	}
	out, err := c.decoder.DecodeAll(n.value, nil)
	if err != nil {
		return nil
	}
	return out
}

// promote admits n into destTier, demoting (never dropping to a lower tier
// that lacks room — demotion never promotes) whatever it displaces.
func (c *Cache) promote(destTier int, n *node) {
	t := c.tiers[destTier]
	var displaced *node

	t.mu.Lock()
	if len(t.index) >= t.cap {
		displaced = t.evictLowestLocked()
	}
	if t.compress && !n.compressed {
		n.value = c.encoder.EncodeAll(n.value, nil)
		n.compressed = true
	} else if !t.compress && n.compressed {
		if raw, err := c.decoder.DecodeAll(n.value, nil); err == nil {
			n.value = raw
			n.compressed = false
		}
	}
	t.append(n)
	t.index[n.key] = n
	t.mu.Unlock()

	if displaced != nil {
		c.demote(destTier+1, displaced)
	}
}

// demote pushes a displaced node one tier down; if that tier is also full
// and the entry cannot find room, it is dropped (demotion never promotes,
// and there is no tier below 3).
func (c *Cache) demote(destTier int, n *node) {
	if destTier > 3 {
		c.mu.Lock()
		c.evictions++
		c.mu.Unlock()
		if c.onEvict != nil {
			c.onEvict(n.key, c.materialize(n))
		}
		return
	}
	t := c.tiers[destTier]

	t.mu.Lock()
	var displaced *node
	if len(t.index) >= t.cap {
		displaced = t.evictLowestLocked()
	}
	if t.compress && !n.compressed {
		n.value = c.encoder.EncodeAll(n.value, nil)
		n.compressed = true
	}
	t.append(n)
	t.index[n.key] = n
	t.mu.Unlock()

	c.mu.Lock()
	c.evictions++
	c.mu.Unlock()

	if displaced != nil {
		c.demote(destTier+1, displaced)
	}
}

// Admit inserts key=value into the tier implied by hints.Priority. If the
// destination tier is full, its lowest-scoring entry is evicted and
// demoted into the next tier down (or dropped past tier 3). Any prior
// occurrence of key in another tier is purged first — otherwise a later
// Admit for the same key at a different priority would leave a stale
// value reachable at the old tier, and Lookup (which checks tiers in
// ascending order) could return it instead of the fresh write.
func (c *Cache) Admit(key, value []byte, h hints.Hints) {
	destTier := destinationTier(h.Priority)
	k := string(key)

	for ti, t := range c.tiers {
		if ti == destTier {
			continue
		}
		t.mu.Lock()
		if existing, ok := t.index[k]; ok {
			t.unlink(existing)
			delete(t.index, k)
		}
		t.mu.Unlock()
	}

	t := c.tiers[destTier]

	shouldCompress := t.compress || (len(value) > c.compressThreshold && destTier >= 2)
	stored := value
	if shouldCompress {
		stored = c.encoder.EncodeAll(value, nil)
	}

	n := newNode(k, stored, shouldCompress, h.Priority.Weight())

	t.mu.Lock()
	if existing, ok := t.index[k]; ok {
		t.unlink(existing)
		delete(t.index, k)
	}
	var displaced *node
	if len(t.index) >= t.cap {
		displaced = t.evictLowestLocked()
	}
	t.append(n)
	t.index[k] = n
	t.mu.Unlock()

	if displaced != nil {
		c.demote(destTier+1, displaced)
	}
}

// Invalidate removes key from whichever tier holds it. Callers must call
// this before a Delete returns, preserving I5 (the cache never holds data
// the shard does not).
func (c *Cache) Invalidate(key []byte) {
	k := string(key)
	for _, t := range c.tiers {
		t.mu.Lock()
		if n, ok := t.index[k]; ok {
			t.unlink(n)
			delete(t.index, k)
		}
		t.mu.Unlock()
	}
}

// Stats reports hit/miss/eviction counters and per-tier sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
	c.mu.Unlock()
	for i, t := range c.tiers {
		s.TierSizes[i] = t.len()
	}
	return s
}

// Close releases the compressor/decompressor resources.
func (c *Cache) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
