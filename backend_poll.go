package watchit

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// pollTarget holds the last observed state for one registered path.
type pollTarget struct {
	path   string // path as registered
	fsPath string // the same path in fs.FS form
	scope  Scope

	// File targets.
	exists bool
	info   fs.FileInfo

	// Directory targets: registered-space entry path -> last stat.
	entries map[string]fs.FileInfo
}

// PollBackend is a portable Backend that detects changes by sweeping the
// file system and diffing per-target snapshots. It works over any fs.FS,
// which makes it usable where no native notification facility exists and
// lets tests drive it with an in-memory file system.
type PollBackend struct {
	fsys fs.FS

	mu      sync.Mutex
	targets map[WatchHandle]*pollTarget
	nextID  WatchHandle
	seq     uint64

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Backend = (*PollBackend)(nil)

// NewPollBackend creates a polling backend over fsys.
func NewPollBackend(fsys fs.FS) *PollBackend {
	return &PollBackend{
		fsys:    fsys,
		targets: make(map[WatchHandle]*pollTarget),
		closed:  make(chan struct{}),
	}
}

// Register takes the initial snapshot for a path so the first sweep has a
// baseline to diff against.
func (b *PollBackend) Register(path string, scope Scope) (WatchHandle, error) {
	target := &pollTarget{
		path:   path,
		fsPath: toFSPath(path),
		scope:  scope,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.closed:
		return 0, errBackendClosed
	default:
	}

	if err := b.snapshotLocked(target); err != nil {
		return 0, err
	}
	b.nextID++
	b.targets[b.nextID] = target
	return b.nextID, nil
}

// Unregister forgets a target. There is no native resource to release.
func (b *PollBackend) Unregister(handle WatchHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.targets[handle]; !ok {
		return ErrUnknownTarget
	}
	delete(b.targets, handle)
	return nil
}

// NextEvents sweeps immediately and, when nothing changed, once more after
// waiting out the timeout. An uneventful poll returns an empty batch.
func (b *PollBackend) NextEvents(timeout time.Duration) ([]RawEvent, error) {
	select {
	case <-b.closed:
		return nil, errBackendClosed
	default:
	}

	if batch := b.sweep(); len(batch) > 0 {
		return batch, nil
	}
	if timeout == 0 {
		return nil, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-b.closed:
		return nil, errBackendClosed
	case <-deadline:
	}
	return b.sweep(), nil
}

// Close wakes a blocked poll and stops the backend.
func (b *PollBackend) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// sweep diffs every target against its snapshot and updates the snapshots.
func (b *PollBackend) sweep() []RawEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var batch []RawEvent
	for _, target := range b.targets {
		batch = append(batch, b.sweepTargetLocked(target)...)
	}
	return batch
}

func (b *PollBackend) sweepTargetLocked(target *pollTarget) []RawEvent {
	if target.scope == ScopeFile {
		return b.sweepFileLocked(target)
	}
	return b.sweepDirLocked(target)
}

func (b *PollBackend) sweepFileLocked(target *pollTarget) []RawEvent {
	info, err := fs.Stat(b.fsys, target.fsPath)
	switch {
	case err != nil && target.exists:
		target.exists = false
		target.info = nil
		return []RawEvent{b.rawLocked(target.path, RawRemove)}
	case err != nil:
		return nil
	case !target.exists:
		target.exists = true
		target.info = info
		return []RawEvent{b.rawLocked(target.path, RawCreate)}
	case statChanged(target.info, info):
		target.info = info
		return []RawEvent{b.rawLocked(target.path, RawWrite)}
	default:
		return nil
	}
}

func (b *PollBackend) sweepDirLocked(target *pollTarget) []RawEvent {
	current, err := b.readEntries(target)
	if err != nil {
		// The whole directory may have disappeared; report everything we
		// knew about as removed and keep watching for it to come back.
		current = map[string]fs.FileInfo{}
	}

	var batch []RawEvent
	for path, prev := range target.entries {
		info, still := current[path]
		if !still {
			batch = append(batch, b.rawLocked(path, RawRemove))
			continue
		}
		if !prev.IsDir() && statChanged(prev, info) {
			batch = append(batch, b.rawLocked(path, RawWrite))
		}
	}
	for path := range current {
		if _, known := target.entries[path]; !known {
			batch = append(batch, b.rawLocked(path, RawCreate))
		}
	}
	target.entries = current
	return batch
}

// rawLocked stamps an event with the backend's sequence counter.
func (b *PollBackend) rawLocked(path string, mask RawOp) RawEvent {
	b.seq++
	return RawEvent{Path: path, Mask: mask, Seq: b.seq}
}

// snapshotLocked records the current state of a target without emitting
// anything.
func (b *PollBackend) snapshotLocked(target *pollTarget) error {
	switch target.scope {
	case ScopeFile:
		info, err := fs.Stat(b.fsys, target.fsPath)
		if err != nil {
			return fmt.Errorf("stat %q: %w", target.path, err)
		}
		target.exists = true
		target.info = info
		return nil
	default:
		entries, err := b.readEntries(target)
		if err != nil {
			return err
		}
		target.entries = entries
		return nil
	}
}

// readEntries lists a directory target. Non-recursive scope sees direct
// children only; recursive scope walks the whole subtree.
func (b *PollBackend) readEntries(target *pollTarget) (map[string]fs.FileInfo, error) {
	entries := make(map[string]fs.FileInfo)

	if target.scope == ScopeDir {
		list, err := fs.ReadDir(b.fsys, target.fsPath)
		if err != nil {
			return nil, fmt.Errorf("read dir %q: %w", target.path, err)
		}
		for _, entry := range list {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			entries[filepath.Join(target.path, entry.Name())] = info
		}
		return entries, nil
	}

	err := fs.WalkDir(b.fsys, target.fsPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == target.fsPath {
			return nil
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		rel := strings.TrimPrefix(path, target.fsPath+"/")
		entries[filepath.Join(target.path, filepath.FromSlash(rel))] = info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", target.path, err)
	}
	return entries, nil
}

// statChanged reports whether a file's contents plausibly changed.
func statChanged(prev, current fs.FileInfo) bool {
	return prev.Size() != current.Size() || !prev.ModTime().Equal(current.ModTime())
}

// toFSPath converts a registered path to the form fs.FS implementations
// expect: slash separated, no leading separator, "." for the root.
func toFSPath(path string) string {
	p := filepath.ToSlash(filepath.Clean(path))
	if vol := filepath.VolumeName(path); vol != "" {
		p = strings.TrimPrefix(p, filepath.ToSlash(vol))
	}
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}
