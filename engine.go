package watchit

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// engineState is the dispatch loop lifecycle. Transitions are monotonic:
// idle -> running -> stopping -> stopped, never backwards.
type engineState uint8

const (
	stateIdle engineState = iota
	stateRunning
	stateStopping
	stateStopped
)

// engine owns the backend and runs the dispatch loop: poll, normalize,
// invoke the callback, repeat. One goroutine runs the loop; everything else
// talks to it through the registry, the normalizer or the quit channel.
type engine struct {
	backend  Backend
	registry *registry
	norm     *normalizer
	callback func(ChangeEvent)
	onError  func(EngineError)
	logger   *log.Logger

	pollTimeout time.Duration
	maxRetries  int
	retryBase   time.Duration

	mu    sync.Mutex
	state engineState
	quit  chan struct{} // closed when stop is requested
	done  chan struct{} // closed once the loop has fully exited

	// flushed holds events popped by an unwatch, waiting for the loop to
	// deliver them. Only the loop goroutine invokes the callback.
	flushMu sync.Mutex
	flushed []ChangeEvent

	delivered uint64
	errCount  uint64
}

func newEngine(backend Backend, registry *registry, norm *normalizer, callback func(ChangeEvent), cfg *config) *engine {
	return &engine{
		backend:     backend,
		registry:    registry,
		norm:        norm,
		callback:    callback,
		onError:     cfg.errorHandler,
		logger:      cfg.logger,
		pollTimeout: cfg.pollTimeout,
		maxRetries:  cfg.maxRetries,
		retryBase:   cfg.retryBase,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// start moves idle -> running and launches the loop.
func (e *engine) start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateIdle:
		e.state = stateRunning
		go e.run()
		return nil
	case stateStopping, stateStopped:
		return ErrWatcherStopped
	default:
		return ErrAlreadyRunning
	}
}

// stop requests a cooperative shutdown and waits for the loop to finish.
// It is idempotent; the loop observes the request at the top of its next
// iteration, so latency is bounded by the poll timeout.
func (e *engine) stop() {
	e.mu.Lock()
	switch e.state {
	case stateIdle:
		// Never started; release the backend here since no loop will.
		e.state = stateStopped
		e.mu.Unlock()
		if err := e.backend.Close(); err != nil {
			e.logger.Printf("backend close: %s", err)
		}
		close(e.done)
		return
	case stateRunning:
		e.state = stateStopping
		close(e.quit)
	case stateStopping, stateStopped:
		// Someone else is already tearing down; just wait for it.
	}
	e.mu.Unlock()
	<-e.done
}

func (e *engine) currentState() engineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *engine) stopRequested() bool {
	select {
	case <-e.quit:
		return true
	default:
		return false
	}
}

func (e *engine) run() {
	defer func() {
		// Drain in-flight normalization, then release native resources.
		e.deliverFlushed()
		e.dispatch(e.norm.flushAll())
		if err := e.backend.Close(); err != nil {
			e.logger.Printf("backend close: %s", err)
		}
		e.mu.Lock()
		e.state = stateStopped
		e.mu.Unlock()
		close(e.done)
	}()

	attempts := 0
	for {
		e.deliverFlushed()
		if e.stopRequested() {
			return
		}

		raws, err := e.backend.NextEvents(e.pollWindow())
		if e.stopRequested() {
			now := time.Now()
			for _, raw := range raws {
				e.norm.observe(raw, now)
			}
			return
		}
		if err != nil {
			atomic.AddUint64(&e.errCount, 1)
			if attempts >= e.maxRetries {
				e.reportError(EngineError{Kind: ErrorKindBackendFailure, Err: err})
				return
			}
			e.reportError(EngineError{Kind: ErrorKindBackendError, Err: err})
			delay := e.retryBase << attempts
			attempts++
			select {
			case <-e.quit:
				return
			case <-time.After(delay):
			}
			continue
		}
		attempts = 0

		now := time.Now()
		for _, raw := range raws {
			e.norm.observe(raw, now)
		}
		e.dispatch(e.norm.due(now))
		e.deliverFlushed()
	}
}

// pollWindow bounds the next poll so a pending debounce deadline is not
// overslept.
func (e *engine) pollWindow() time.Duration {
	timeout := e.pollTimeout
	if deadline, ok := e.norm.nextDeadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return timeout
}

// dispatch invokes the callback for each event that still has a live target.
// A path can lose its target between normalization and dispatch (unwatch
// races the loop); such events are dropped here, so nothing outlives an
// unwatch except the flush Unwatch itself performs.
func (e *engine) dispatch(events []ChangeEvent) {
	for _, event := range events {
		if !e.registry.covers(event.Path) {
			continue
		}
		e.invoke(event)
	}
}

// invoke runs the callback for one event. A panicking callback is reported
// and never takes the loop down with it.
func (e *engine) invoke(event ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.reportError(EngineError{
				Kind: ErrorKindCallbackPanic,
				Path: event.Path,
				Err:  fmt.Errorf("panic: %v", r),
			})
		}
	}()
	e.callback(event)
	atomic.AddUint64(&e.delivered, 1)
}

// flushPath settles the pending event for an unwatched path: emitted by
// default, discarded when the watcher was configured that way. The pending
// slot is popped here, on the unwatcher's goroutine, so no later raw event
// can merge into it; delivery stays with the loop goroutine, which is the
// only one allowed to run the callback.
func (e *engine) flushPath(path string, discard bool) {
	if discard {
		e.norm.discard(path)
		return
	}
	event, ok := e.norm.flush(path)
	if !ok {
		return
	}
	e.flushMu.Lock()
	e.flushed = append(e.flushed, event)
	e.flushMu.Unlock()
}

// deliverFlushed invokes the callback for events an unwatch popped out of
// the normalizer. Flushed events bypass the registry filter: their target is
// gone, delivering them is the point.
func (e *engine) deliverFlushed() {
	e.flushMu.Lock()
	events := e.flushed
	e.flushed = nil
	e.flushMu.Unlock()

	for _, event := range events {
		e.invoke(event)
	}
}

func (e *engine) reportError(engineErr EngineError) {
	e.logger.Printf("%s", engineErr.Error())
	if e.onError != nil {
		e.onError(engineErr)
	}
}
