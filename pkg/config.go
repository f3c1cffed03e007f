package warpengine

// config.go defines Engine's functional options, following the teacher's
// pkg/config.go convention: a private config struct with sane defaults,
// options that merely capture references (logger, registry), validated
// once at construction time.
//
// © 2025 warpengine authors. MIT License.

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arena-db/warpengine/internal/tiercache"
	"github.com/arena-db/warpengine/internal/walog"
)

// NShards is frozen for the lifetime of any data directory (see DESIGN.md):
// three semantic tiers, hot/warm/cold.
const NShards = 3

// MaxKeySize and MaxValueSize bound Put's arguments (spec §3).
const (
	MaxKeySize   = 4 << 10        // 4 KiB
	MaxValueSize = 16 << 20       // 16 MiB
)

// Durability selects how aggressively Put waits for its write to be
// fsynced. Open uses GroupCommit unless WithDurability says otherwise; the
// type's zero value is Sync.
type Durability = walog.Durability

const (
	Sync        = walog.Sync
	GroupCommit = walog.GroupCommit
	AsyncAck    = walog.AsyncAck
)

type config struct {
	durability        Durability
	segmentMaxBytes   int64
	groupCommitMs     time.Duration
	logger            *zap.Logger
	registry          *prometheus.Registry
	cacheTiers        tiercache.Config
}

func defaultConfig() *config {
	return &config{
		durability:      GroupCommit,
		segmentMaxBytes: walog.DefaultSegmentMaxBytes,
		groupCommitMs:   walog.DefaultGroupCommitInterval,
		logger:          zap.NewNop(),
	}
}

// Option configures an Engine at Open time.
type Option func(*config)

// WithDurability overrides the default GroupCommit durability mode.
func WithDurability(d Durability) Option {
	return func(c *config) { c.durability = d }
}

// WithSegmentMaxBytes overrides SEGMENT_MAX_BYTES (default 256MiB).
func WithSegmentMaxBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.segmentMaxBytes = n
		}
	}
}

// WithGroupCommitInterval records a group-commit interval in the engine's
// config. The shard logs do not read it: they always flush on
// walog.DefaultGroupCommitInterval (5ms).
func WithGroupCommitInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.groupCommitMs = d
		}
	}
}

// WithLogger plugs an external zap.Logger. The engine never logs on the
// hot path (Put/Get/Delete); only slow events (rotation, recovery,
// poisoning) are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for this Engine
// instance. Passing nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithCacheTiers overrides the front cache's per-tier capacities and
// compression threshold. Zero fields fall back to the spec's defaults.
func WithCacheTiers(cfg tiercache.Config) Option {
	return func(c *config) { c.cacheTiers = cfg }
}

// FromEnv applies the spec's optional environment-variable overrides
// (ENGINE_DURABILITY, ENGINE_GROUP_COMMIT_MS, ENGINE_SEGMENT_MAX_BYTES) on
// top of whatever Options were already given. Call it last in an Open's
// option list to let the environment win, or first to let explicit
// Options win. ENGINE_GROUP_COMMIT_MS sets the same field as
// WithGroupCommitInterval and, like it, leaves the shard logs' flush
// interval unchanged.
func FromEnv(lookup func(string) (string, bool)) Option {
	return func(c *config) {
		if v, ok := lookup("ENGINE_DURABILITY"); ok {
			switch v {
			case "sync":
				c.durability = Sync
			case "group_commit":
				c.durability = GroupCommit
			case "async_ack":
				c.durability = AsyncAck
			}
		}
		if v, ok := lookup("ENGINE_GROUP_COMMIT_MS"); ok {
			if ms, err := time.ParseDuration(v + "ms"); err == nil && ms > 0 {
				c.groupCommitMs = ms
			}
		}
		if v, ok := lookup("ENGINE_SEGMENT_MAX_BYTES"); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				c.segmentMaxBytes = n
			}
		}
	}
}
