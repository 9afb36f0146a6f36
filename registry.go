package watchit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// WatchTarget is one watched path as the registry sees it.
type WatchTarget struct {
	// Path is the canonical absolute path; it is the target's identity.
	Path string

	// Scope is what the watch covers.
	Scope Scope

	handle WatchHandle
}

// registry tracks the set of watched paths and their backend handles. It is
// the only shared mutable state in the engine; everything else flows by
// value. One mutex serializes registry mutation and backend registration
// against the dispatch loop's lookups, while polling proceeds concurrently.
type registry struct {
	backend Backend

	mu      sync.Mutex
	targets map[string]*WatchTarget
}

func newRegistry(backend Backend) *registry {
	return &registry{
		backend: backend,
		targets: make(map[string]*WatchTarget),
	}
}

// canonicalPath resolves a user path to the absolute cleaned form used as
// target identity.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// add registers a path. Watching an already watched path is not an error:
// the prior registration is replaced, so at most one live target exists per
// canonical path. The replacement is registered before the prior handle is
// released, so a backend failure leaves the existing watch intact rather
// than leaving the path half registered.
func (r *registry) add(path string, scope Scope) (string, error) {
	canonical, err := canonicalPath(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrPathNotFound, path)
	}
	switch {
	case scope == ScopeFile && info.IsDir():
		scope = ScopeDir
	case scope != ScopeFile && !info.IsDir():
		return "", fmt.Errorf("%w: %q", ErrNotDirectory, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	handle, err := r.backend.Register(canonical, scope)
	if err != nil {
		// A prior registration for the path, if any, is still live.
		return "", registerError(canonical, err)
	}

	if prior, watched := r.targets[canonical]; watched {
		if err := r.backend.Unregister(prior.handle); err != nil {
			// Keep the prior watch; the replacement is released best effort.
			_ = r.backend.Unregister(handle)
			return "", &BackendError{Op: "unregister", Path: canonical, Err: err}
		}
	}
	r.targets[canonical] = &WatchTarget{Path: canonical, Scope: scope, handle: handle}
	return canonical, nil
}

func registerError(path string, err error) error {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return err
	}
	return &BackendError{Op: "register", Path: path, Err: err}
}

// remove unregisters a path. An unknown path is an error; a backend failure
// keeps the entry so the caller can retry.
func (r *registry) remove(path string) (string, error) {
	canonical, err := canonicalPath(path)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target, watched := r.targets[canonical]
	if !watched {
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, path)
	}
	if err := r.backend.Unregister(target.handle); err != nil {
		return "", &BackendError{Op: "unregister", Path: canonical, Err: err}
	}
	delete(r.targets, canonical)
	return canonical, nil
}

// covers reports whether some live target is responsible for a path: the
// target itself, a direct child of a directory target, or anything below a
// recursive one.
func (r *registry) covers(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.targets[path]; ok {
		return true
	}
	for _, target := range r.targets {
		switch target.Scope {
		case ScopeDir:
			if filepath.Dir(path) == target.Path {
				return true
			}
		case ScopeDirRecursive:
			if isWithin(target.Path, path) {
				return true
			}
		}
	}
	return false
}

// all returns a stable snapshot of the current targets.
func (r *registry) all() []WatchTarget {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make([]WatchTarget, 0, len(r.targets))
	for _, target := range r.targets {
		targets = append(targets, *target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets
}

// clear drops every target. Used on Stop, after the backend itself has been
// closed, so no per-target unregister calls are made.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = make(map[string]*WatchTarget)
}
