package watchit

import "time"

// ChangeKind classifies what happened to a watched path.
type ChangeKind uint8

const (
	// Unknown is reported when the backend delivered a change the engine
	// could not classify.
	Unknown ChangeKind = iota

	// Created means the path came into existence.
	Created

	// Modified means the contents of the path changed. A remove that is
	// immediately followed by a create of the same path within the debounce
	// window is also reported as Modified, since that is how most editors
	// save files.
	Modified

	// Removed means the path no longer exists. Backends that cannot resolve
	// the destination of a rename report the old name as Removed.
	Removed

	// Renamed means the path is the destination of a rename. It is only
	// produced by backends that can pair both halves of a move.
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent is the value passed to the watch callback. It is not retained
// by the engine after dispatch.
type ChangeEvent struct {
	// Path is the canonical path the event refers to.
	Path string

	// Kind classifies the change.
	Kind ChangeKind

	// RenamedFrom holds the previous name when Kind is Renamed, and is
	// empty otherwise.
	RenamedFrom string

	// ObservedAt is when the engine last saw a raw notification for this
	// event before the debounce window closed.
	ObservedAt time.Time
}

// EngineErrorKind classifies a runtime failure reported on the error handler.
type EngineErrorKind uint8

const (
	// ErrorKindCallbackPanic means a watch callback panicked. The event that
	// triggered the panic is dropped and the dispatch loop continues.
	ErrorKindCallbackPanic EngineErrorKind = iota

	// ErrorKindBackendError means a poll of the backend failed. The engine
	// retries with backoff; this kind is informational.
	ErrorKindBackendError

	// ErrorKindBackendFailure means polling failed repeatedly and the retry
	// budget is exhausted. The engine reports this once and stops watching.
	ErrorKindBackendFailure
)

func (k EngineErrorKind) String() string {
	switch k {
	case ErrorKindCallbackPanic:
		return "callback panic"
	case ErrorKindBackendError:
		return "backend error"
	case ErrorKindBackendFailure:
		return "backend failure"
	default:
		return "unknown"
	}
}

// EngineError describes a failure discovered inside the dispatch loop, where
// there is no call site to return an error to. It is delivered to the handler
// configured with WithErrorHandler.
type EngineError struct {
	Kind EngineErrorKind
	Path string // optional; empty when the failure is not tied to a path
	Err  error
}

func (e EngineError) Error() string {
	if e.Path != "" {
		return e.Kind.String() + " (" + e.Path + "): " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e EngineError) Unwrap() error {
	return e.Err
}

// Metrics reports counters for a Watcher instance.
type Metrics struct {
	// EventsDelivered is the number of callback invocations that completed.
	EventsDelivered uint64

	// EventsCoalesced is the number of raw notifications that were merged
	// into an already pending event within the debounce window.
	EventsCoalesced uint64

	// EventsDropped is the number of pending events discarded outright,
	// such as a create that was undone by a remove within the window.
	EventsDropped uint64

	// Errors is the number of poll errors observed, including retried ones.
	Errors uint64
}
