package watchit

import (
	"log"
	"os"
	"time"
)

const (
	// DefaultDebounceWindow is how long events for a path are coalesced
	// before the callback sees them, if nothing else is configured.
	DefaultDebounceWindow = 50 * time.Millisecond

	// DefaultPollTimeout bounds each backend poll, which in turn bounds how
	// long Stop can take to be observed.
	DefaultPollTimeout = 250 * time.Millisecond

	// DefaultMaxRetries is how many times a failing backend poll is retried
	// with backoff before the engine gives up.
	DefaultMaxRetries = 3

	defaultRetryBase = 200 * time.Millisecond
)

type config struct {
	backend          Backend
	debounceWindow   time.Duration
	pollTimeout      time.Duration
	maxRetries       int
	retryBase        time.Duration
	logger           *log.Logger
	errorHandler     func(EngineError)
	discardOnUnwatch bool
}

func defaultConfig() *config {
	return &config{
		debounceWindow: DefaultDebounceWindow,
		pollTimeout:    DefaultPollTimeout,
		maxRetries:     DefaultMaxRetries,
		retryBase:      defaultRetryBase,
		logger:         log.New(os.Stdout, "[watchit] ", log.LstdFlags),
	}
}

// Option configures a Watcher at construction time.
type Option func(*config)

// WithBackend replaces the default OS-native backend, for example with a
// PollBackend over a custom file system.
func WithBackend(backend Backend) Option {
	return func(cfg *config) {
		cfg.backend = backend
	}
}

// WithDebounceWindow sets how long rapid events for the same path are
// coalesced before one ChangeEvent is emitted.
func WithDebounceWindow(window time.Duration) Option {
	return func(cfg *config) {
		cfg.debounceWindow = window
	}
}

// WithPollTimeout sets the bound on each backend poll. Smaller values make
// Stop react faster at the cost of more loop wakeups.
func WithPollTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.pollTimeout = timeout
	}
}

// WithMaxRetries sets how many times a failed poll is retried before the
// engine reports a fatal backend failure and stops.
func WithMaxRetries(retries int) Option {
	return func(cfg *config) {
		cfg.maxRetries = retries
	}
}

// WithRetryBaseDelay sets the first retry delay; each further attempt
// doubles it.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(cfg *config) {
		cfg.retryBase = delay
	}
}

// WithLogger routes the engine's diagnostics to the given logger.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithErrorHandler registers a sink for failures that happen inside the
// dispatch loop and have no call site to return to: callback panics, poll
// errors and the final fatal backend failure.
func WithErrorHandler(handler func(EngineError)) Option {
	return func(cfg *config) {
		cfg.errorHandler = handler
	}
}

// WithDiscardOnUnwatch drops a path's pending coalesced event on Unwatch
// instead of flushing it to the callback, which is the default.
func WithDiscardOnUnwatch() Option {
	return func(cfg *config) {
		cfg.discardOnUnwatch = true
	}
}
