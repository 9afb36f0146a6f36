package watchit

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyTarget is the bookkeeping for one registered path.
type fsnotifyTarget struct {
	path  string
	scope Scope

	// subdirs are the extra directories armed below a recursive target.
	// Keyed by path, so they can be released on Unregister.
	subdirs map[string]struct{}
}

// FSNotifyBackend adapts the platform notification facility exposed by
// fsnotify (inotify, kqueue, ReadDirectoryChangesW) to the Backend contract.
//
// The native facilities report changes at directory granularity on some
// platforms, so file targets are implemented by watching the parent directory
// and filtering the stream down to the registered name. Watched directories
// are reference counted, since several targets can share a parent.
type FSNotifyBackend struct {
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	targets map[WatchHandle]*fsnotifyTarget
	dirRefs map[string]int
	nextID  WatchHandle
	seq     uint64
	closed  bool
}

var _ Backend = (*FSNotifyBackend)(nil)

// NewFSNotifyBackend creates the default OS-native backend.
func NewFSNotifyBackend() (*FSNotifyBackend, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if isExhausted(err) {
			return nil, &BackendError{Op: "register", Err: ErrResourceExhausted}
		}
		return nil, err
	}
	return &FSNotifyBackend{
		watcher: watcher,
		targets: make(map[WatchHandle]*fsnotifyTarget),
		dirRefs: make(map[string]int),
	}, nil
}

// isExhausted reports whether err is the native watch-count or descriptor
// limit being hit.
func isExhausted(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

// Register subscribes a path. File targets arm the parent directory;
// directory targets arm the directory itself, plus every subdirectory when
// the scope is recursive.
func (b *FSNotifyBackend) Register(path string, scope Scope) (WatchHandle, error) {
	path = filepath.Clean(path)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errBackendClosed
	}

	target := &fsnotifyTarget{path: path, scope: scope}

	switch scope {
	case ScopeFile:
		if err := b.addDirLocked(filepath.Dir(path)); err != nil {
			return 0, err
		}
	case ScopeDir:
		if err := b.addDirLocked(path); err != nil {
			return 0, err
		}
	case ScopeDirRecursive:
		if err := b.addDirLocked(path); err != nil {
			return 0, err
		}
		subdirs, err := collectSubdirs(path)
		if err != nil {
			b.releaseDirLocked(path)
			return 0, err
		}
		target.subdirs = make(map[string]struct{}, len(subdirs))
		for _, dir := range subdirs {
			if err := b.addDirLocked(dir); err != nil {
				// Roll back everything armed so far.
				for armed := range target.subdirs {
					b.releaseDirLocked(armed)
				}
				b.releaseDirLocked(path)
				return 0, err
			}
			target.subdirs[dir] = struct{}{}
		}
	}

	b.nextID++
	b.targets[b.nextID] = target
	return b.nextID, nil
}

// Unregister releases the native subscriptions for a handle.
func (b *FSNotifyBackend) Unregister(handle WatchHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target, ok := b.targets[handle]
	if !ok {
		return ErrUnknownTarget
	}
	delete(b.targets, handle)
	if b.closed {
		return nil
	}

	switch target.scope {
	case ScopeFile:
		b.releaseDirLocked(filepath.Dir(target.path))
	case ScopeDir:
		b.releaseDirLocked(target.path)
	case ScopeDirRecursive:
		for dir := range target.subdirs {
			b.releaseDirLocked(dir)
		}
		b.releaseDirLocked(target.path)
	}
	return nil
}

// NextEvents blocks up to timeout for native activity, filters it against
// the registered targets and returns the batch. Only the dispatch loop may
// call this; Register and Unregister stay safe to call concurrently.
func (b *FSNotifyBackend) NextEvents(timeout time.Duration) ([]RawEvent, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return nil, errBackendClosed
			}
			raw, match := b.translate(ev)
			if !match {
				continue
			}
			// Return the whole burst that is already queued, so the
			// normalizer sees rapid sequences in one pass.
			return append([]RawEvent{raw}, b.drainQueued()...), nil
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return nil, errBackendClosed
			}
			return nil, err
		case <-deadline:
			return nil, nil
		}
	}
}

// drainQueued empties whatever the native facility has already delivered
// without blocking.
func (b *FSNotifyBackend) drainQueued() []RawEvent {
	var batch []RawEvent
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return batch
			}
			if raw, match := b.translate(ev); match {
				batch = append(batch, raw)
			}
		default:
			return batch
		}
	}
}

// translate maps one native event onto the registered targets. Events for
// paths nobody asked about are dropped here, because only the adapter knows
// that a parent-directory watch stands in for a file target.
func (b *FSNotifyBackend) translate(ev fsnotify.Event) (RawEvent, bool) {
	name := filepath.Clean(ev.Name)
	mask := rawMask(ev.Op)
	if mask == 0 {
		return RawEvent{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	match := false
	for _, target := range b.targets {
		if target.matches(name) {
			match = true
			if target.scope == ScopeDirRecursive && mask.Has(RawCreate) {
				b.armNewSubdirLocked(target, name)
			}
		}
	}
	if !match {
		return RawEvent{}, false
	}

	b.seq++
	return RawEvent{Path: name, Mask: mask, Seq: b.seq}, true
}

// armNewSubdirLocked re-arms a directory created below a recursive target,
// so changes inside it are seen too.
func (b *FSNotifyBackend) armNewSubdirLocked(target *fsnotifyTarget, name string) {
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() {
		return
	}
	if _, armed := target.subdirs[name]; armed {
		return
	}
	if err := b.addDirLocked(name); err != nil {
		return
	}
	if target.subdirs == nil {
		target.subdirs = make(map[string]struct{})
	}
	target.subdirs[name] = struct{}{}
}

func (t *fsnotifyTarget) matches(name string) bool {
	switch t.scope {
	case ScopeFile:
		return name == t.path
	case ScopeDir:
		return name == t.path || filepath.Dir(name) == t.path
	case ScopeDirRecursive:
		return name == t.path || isWithin(t.path, name)
	default:
		return false
	}
}

// isWithin reports whether child is underneath parent.
func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func rawMask(op fsnotify.Op) RawOp {
	var mask RawOp
	if op&fsnotify.Create != 0 {
		mask |= RawCreate
	}
	if op&fsnotify.Write != 0 {
		mask |= RawWrite
	}
	if op&fsnotify.Remove != 0 {
		mask |= RawRemove
	}
	if op&fsnotify.Rename != 0 {
		mask |= RawRename
	}
	if op&fsnotify.Chmod != 0 {
		mask |= RawChmod
	}
	return mask
}

// addDirLocked arms a directory, reference counted across targets.
func (b *FSNotifyBackend) addDirLocked(dir string) error {
	if b.dirRefs[dir] > 0 {
		b.dirRefs[dir]++
		return nil
	}
	if err := b.watcher.Add(dir); err != nil {
		if isExhausted(err) {
			return &BackendError{Op: "register", Path: dir, Err: ErrResourceExhausted}
		}
		return err
	}
	b.dirRefs[dir] = 1
	return nil
}

// releaseDirLocked drops one reference on an armed directory and removes the
// native watch when nobody needs it anymore.
func (b *FSNotifyBackend) releaseDirLocked(dir string) {
	count := b.dirRefs[dir]
	if count > 1 {
		b.dirRefs[dir] = count - 1
		return
	}
	delete(b.dirRefs, dir)
	// The directory may already be gone; the native watch dies with it.
	_ = b.watcher.Remove(dir)
}

// Close releases every native watch and wakes the poller.
func (b *FSNotifyBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.targets = make(map[WatchHandle]*fsnotifyTarget)
	b.dirRefs = make(map[string]int)
	b.mu.Unlock()
	return b.watcher.Close()
}

// collectSubdirs lists every directory below root.
func collectSubdirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}
