// Package segring tracks a shard's write-ahead-log segment files and
// decides when to rotate to a new one.
//
// It is a direct descendant of arena-cache's internal/genring, which tracked
// a ring of byte-bounded arena "generations" for its in-process cache. Here
// the same byte-budget-triggered rotation and monotonic id counter track WAL
// segment files on disk instead of arenas in memory: a "generation" becomes
// a "segment", and rotating frees no memory — it simply means the caller
// should close the current segment file and open the next one.
//
// segring does not perform any file I/O itself; it only does the
// accounting. internal/walog owns the actual segment files and calls here
// to learn when to rotate.
//
// © 2025 warpengine authors. MIT License.
package segring

import "sync/atomic"

// DefaultSegmentMaxBytes is the spec's default SEGMENT_MAX_BYTES (256MiB).
const DefaultSegmentMaxBytes int64 = 256 << 20

// Ring tracks the currently active segment's id and accumulated size.
// Not internally synchronised: the caller (walog's single writer/flusher)
// already serialises access.
type Ring struct {
	maxBytes int64

	activeID    uint64
	activeBytes int64

	idCtr atomic.Uint64
}

// New constructs a ring whose first active segment has the given starting
// id (walog.Open passes the highest segment id found on disk, which it
// resumes appending to; a brand new shard starts at 0).
func New(maxBytes int64, startID uint64) *Ring {
	if maxBytes <= 0 {
		maxBytes = DefaultSegmentMaxBytes
	}
	r := &Ring{maxBytes: maxBytes, activeID: startID}
	r.idCtr.Store(startID)
	return r
}

// ActiveID returns the id of the segment currently being appended to.
func (r *Ring) ActiveID() uint64 { return r.activeID }

// AddBytes records that n additional bytes were appended to the active
// segment and reports whether the segment has crossed its size budget.
func (r *Ring) AddBytes(n int64) (needsRotation bool) {
	r.activeBytes += n
	return r.activeBytes > r.maxBytes
}

// Rotate advances to a new segment id, resetting the byte counter, and
// returns the id of the segment just retired.
func (r *Ring) Rotate() (retiredID, newID uint64) {
	retiredID = r.activeID
	newID = r.idCtr.Add(1)
	r.activeID = newID
	r.activeBytes = 0
	return retiredID, newID
}

// ActiveBytes reports the accumulated size of the active segment.
func (r *Ring) ActiveBytes() int64 { return r.activeBytes }
