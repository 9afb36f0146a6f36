package watchit

import (
	"errors"
	"sync/atomic"
)

// Watcher invokes a callback whenever a watched file or directory changes.
//
// The zero value is not usable; construct with New. The dispatch loop starts
// lazily with the first successful Watch or WatchDir call and runs on its
// own goroutine. The callback runs on that goroutine, one event at a time,
// so it should not block for long; the engine enforces no timeout.
type Watcher struct {
	cfg      *config
	registry *registry
	engine   *engine
}

// New creates a Watcher that delivers change events to callback. Without a
// WithBackend option, the OS-native notification facility is used.
//
// New does not start watching anything; the engine spins up on the first
// successful watch call.
func New(callback func(ChangeEvent), opts ...Option) (*Watcher, error) {
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	backend := cfg.backend
	if backend == nil {
		native, err := NewFSNotifyBackend()
		if err != nil {
			return nil, err
		}
		backend = native
	}

	norm := newNormalizer(cfg.debounceWindow)
	reg := newRegistry(backend)
	return &Watcher{
		cfg:      cfg,
		registry: reg,
		engine:   newEngine(backend, reg, norm, callback, cfg),
	}, nil
}

// Watch starts watching a single path, non-recursively. Watching a path
// that is already watched replaces the prior registration. The path must
// exist; a missing path returns an error matching ErrPathNotFound.
func (w *Watcher) Watch(path string) error {
	return w.watch(path, ScopeFile)
}

// WatchDir starts watching a directory: its direct children, or the whole
// subtree when recursive is true.
func (w *Watcher) WatchDir(path string, recursive bool) error {
	scope := ScopeDir
	if recursive {
		scope = ScopeDirRecursive
	}
	return w.watch(path, scope)
}

func (w *Watcher) watch(path string, scope Scope) error {
	if w.engine.currentState() >= stateStopping {
		return ErrWatcherStopped
	}

	canonical, err := w.registry.add(path, scope)
	if err != nil {
		return err
	}
	w.cfg.logger.Printf("watching %q (%s)", canonical, scope)

	// Lazy start on the first successful watch.
	if err := w.engine.start(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return err
	}
	return nil
}

// Unwatch stops watching a path. Any event still being coalesced for it is
// pinned when Unwatch returns and delivered on the dispatch goroutine within
// one poll interval, unless the Watcher was built with WithDiscardOnUnwatch.
// No new events for the path are reported after Unwatch returns. Unwatching
// a path that is not watched returns an error matching ErrUnknownTarget.
func (w *Watcher) Unwatch(path string) error {
	canonical, err := w.registry.remove(path)
	if err != nil {
		return err
	}
	w.engine.flushPath(canonical, w.cfg.discardOnUnwatch)
	w.cfg.logger.Printf("unwatched %q", canonical)
	return nil
}

// Stop shuts the watcher down and releases every native watch. It blocks
// until the dispatch loop has exited, is safe to call from any goroutine
// and is idempotent. A stopped Watcher cannot be restarted.
func (w *Watcher) Stop() error {
	w.engine.stop()
	w.registry.clear()
	return nil
}

// Targets returns a snapshot of the currently watched paths.
func (w *Watcher) Targets() []WatchTarget {
	return w.registry.all()
}

// Metrics reports the watcher's counters.
func (w *Watcher) Metrics() Metrics {
	merged, dropped := w.engine.norm.counters()
	return Metrics{
		EventsDelivered: atomic.LoadUint64(&w.engine.delivered),
		EventsCoalesced: merged,
		EventsDropped:   dropped,
		Errors:          atomic.LoadUint64(&w.engine.errCount),
	}
}
