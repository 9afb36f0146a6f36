package watchit

import (
	"strings"
	"time"
)

// Scope describes how much of a registered path a watch covers.
type Scope uint8

const (
	// ScopeFile watches a single file.
	ScopeFile Scope = iota

	// ScopeDir watches the direct children of a directory, and the
	// directory itself.
	ScopeDir

	// ScopeDirRecursive watches a directory and everything below it.
	ScopeDirRecursive
)

func (s Scope) String() string {
	switch s {
	case ScopeFile:
		return "file"
	case ScopeDir:
		return "dir"
	case ScopeDirRecursive:
		return "dir-recursive"
	default:
		return "invalid"
	}
}

// RawOp is a backend-neutral change mask. A single raw event may carry more
// than one bit when the native facility reports changes in batches.
type RawOp uint16

const (
	RawCreate RawOp = 1 << iota
	RawWrite
	RawRemove
	RawRename
	RawChmod
)

// Has reports whether any bit of o is set in op.
func (op RawOp) Has(o RawOp) bool { return op&o != 0 }

func (op RawOp) String() string {
	names := []struct {
		bit  RawOp
		name string
	}{
		{RawCreate, "create"},
		{RawWrite, "write"},
		{RawRemove, "remove"},
		{RawRename, "rename"},
		{RawChmod, "chmod"},
	}
	var parts []string
	for _, n := range names {
		if op.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// RawEvent is a single native notification translated into backend-neutral
// form. It is consumed immediately by the normalizer and never retained.
type RawEvent struct {
	// Path the notification refers to. For directory-granularity backends
	// the adapter has already resolved this to the affected entry.
	Path string

	// Mask is the native change mask.
	Mask RawOp

	// Seq is a per-backend monotonic hint used to keep per-path ordering
	// stable through coalescing.
	Seq uint64
}

// WatchHandle is the opaque token a backend issues for a registered path.
// It is owned by the backend; the registry only holds it for lookups.
type WatchHandle uint64

// Backend is the capability a native notification facility must provide.
//
// NextEvents is subject to a single-reader discipline: the dispatch loop is
// the only caller. Register and Unregister may be called concurrently from
// other goroutines while a poll is in flight.
type Backend interface {
	// Register subscribes a path with the native facility and returns a
	// handle for it. Exhaustion of native watch descriptors is reported as
	// an error matching ErrResourceExhausted.
	Register(path string, scope Scope) (WatchHandle, error)

	// Unregister releases the native subscription for a handle.
	Unregister(handle WatchHandle) error

	// NextEvents blocks up to timeout and returns the raw events that
	// arrived. A timeout with no activity returns an empty slice and no
	// error.
	NextEvents(timeout time.Duration) ([]RawEvent, error)

	// Close releases all native resources held by the backend.
	Close() error
}
