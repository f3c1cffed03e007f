package warpengine

// hints.go re-exports internal/hints under the public API surface. The
// types are kept in an internal leaf package (rather than defined here
// directly) because both this package and internal/router need them, and
// this package already imports internal/router — defining Hints here
// would create an import cycle. Type aliases keep the internal package
// path out of user code, the same trick the teacher's config.go uses for
// EjectReason.
//
// © 2025 warpengine authors. MIT License.

import "github.com/arena-db/warpengine/internal/hints"

// AccessPattern is the caller's declared access-pattern hint for a key.
type AccessPattern = hints.AccessPattern

// Priority is the caller's declared priority hint for a key.
type Priority = hints.Priority

// Hints carries optional per-Put metadata that influences shard routing
// and cache tier placement. The zero value is the documented default:
// balanced access pattern, normal priority.
type Hints = hints.Hints

const (
	AccessBalanced = hints.AccessBalanced
	AccessHot      = hints.AccessHot
	AccessWarm     = hints.AccessWarm
	AccessCold     = hints.AccessCold
)

const (
	PriorityNormal     = hints.PriorityNormal
	PriorityCritical   = hints.PriorityCritical
	PriorityHigh       = hints.PriorityHigh
	PriorityLow        = hints.PriorityLow
	PriorityBackground = hints.PriorityBackground
)

// ErrInvalidHints is returned when a Hints value carries an enum member
// outside its declared range.
var ErrInvalidHints = hints.ErrInvalidHints
