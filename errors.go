package watchit

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound is returned when a watch target does not exist at
	// registration time.
	ErrPathNotFound = errors.New("path not found")

	// ErrNotDirectory is returned by WatchDir when the path is not a
	// directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrUnknownTarget is returned when unwatching a path that is not
	// currently watched.
	ErrUnknownTarget = errors.New("unknown watch target")

	// ErrResourceExhausted is returned when the native notification
	// facility has run out of watch descriptors or open files.
	ErrResourceExhausted = errors.New("watch resources exhausted")

	// ErrAlreadyRunning is returned when the dispatch loop is started while
	// it is not idle.
	ErrAlreadyRunning = errors.New("dispatch loop already running")

	// ErrWatcherStopped is returned by calls made after Stop. A stopped
	// Watcher cannot be restarted.
	ErrWatcherStopped = errors.New("watcher is stopped")

	// errBackendClosed is returned by a backend poll after Close.
	errBackendClosed = errors.New("backend is closed")
)

// BackendError wraps a failure from the native notification backend with the
// operation and path it happened on. Sentinels such as ErrResourceExhausted
// remain matchable through errors.Is.
type BackendError struct {
	Op   string // "register", "unregister" or "poll"
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("backend %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s %q: %s", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
