package watchit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ciresnave/watchit"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// pollFor polls the backend until an event for path arrives or the deadline
// passes. Native backends batch and reorder under load, so the tests assert
// on what must eventually show up rather than on exact batch shapes.
func pollFor(t *testing.T, backend watchit.Backend, path string) watchit.RawEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := backend.NextEvents(100 * time.Millisecond)
		require.NoError(t, err)
		for _, raw := range batch {
			if raw.Path == path {
				return raw
			}
		}
	}
	t.Fatalf("no event for %q", path)
	return watchit.RawEvent{}
}

// drainFor collects every event arriving within the window.
func drainFor(backend watchit.Backend, window time.Duration) []watchit.RawEvent {
	var all []watchit.RawEvent
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		batch, err := backend.NextEvents(50 * time.Millisecond)
		if err != nil {
			return all
		}
		all = append(all, batch...)
	}
	return all
}

func newNativeBackend(t *testing.T) *watchit.FSNotifyBackend {
	t.Helper()
	backend, err := watchit.NewFSNotifyBackend()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestFSNotifyBackendFileTarget(t *testing.T) {
	backend := newNativeBackend(t)
	dir := t.TempDir()
	target := writeTempFile(t, dir, "target.txt")
	sibling := writeTempFile(t, dir, "sibling.txt")

	_, err := backend.Register(target, watchit.ScopeFile)
	require.NoError(t, err)

	// A sibling in the same directory shares the native watch but must be
	// filtered out of the stream.
	require.NoError(t, os.WriteFile(sibling, []byte("sibling change"), 0o644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte("target change"), 0o644))

	raw := pollFor(t, backend, target)
	require.True(t, raw.Mask.Has(watchit.RawWrite) || raw.Mask.Has(watchit.RawCreate))
	for _, extra := range drainFor(backend, 200*time.Millisecond) {
		require.NotEqual(t, sibling, extra.Path)
	}
}

func TestFSNotifyBackendDirTarget(t *testing.T) {
	backend := newNativeBackend(t)
	dir := t.TempDir()

	_, err := backend.Register(dir, watchit.ScopeDir)
	require.NoError(t, err)

	child := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(child, []byte("content"), 0o644))

	raw := pollFor(t, backend, child)
	require.True(t, raw.Mask.Has(watchit.RawCreate) || raw.Mask.Has(watchit.RawWrite))
	require.NotZero(t, raw.Seq)
}

func TestFSNotifyBackendRecursiveTarget(t *testing.T) {
	backend := newNativeBackend(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	_, err := backend.Register(dir, watchit.ScopeDirRecursive)
	require.NoError(t, err)

	nested := filepath.Join(sub, "deep.txt")
	require.NoError(t, os.WriteFile(nested, []byte("content"), 0o644))

	raw := pollFor(t, backend, nested)
	require.True(t, raw.Mask.Has(watchit.RawCreate) || raw.Mask.Has(watchit.RawWrite))
}

func TestFSNotifyBackendArmsNewSubdirs(t *testing.T) {
	backend := newNativeBackend(t)
	dir := t.TempDir()

	_, err := backend.Register(dir, watchit.ScopeDirRecursive)
	require.NoError(t, err)

	// The directory did not exist at registration time; seeing its create
	// event is what arms it.
	sub := filepath.Join(dir, "later")
	require.NoError(t, os.Mkdir(sub, 0o755))
	raw := pollFor(t, backend, sub)
	require.True(t, raw.Mask.Has(watchit.RawCreate))

	nested := filepath.Join(sub, "deep.txt")
	require.NoError(t, os.WriteFile(nested, []byte("content"), 0o644))
	raw = pollFor(t, backend, nested)
	require.True(t, raw.Mask.Has(watchit.RawCreate) || raw.Mask.Has(watchit.RawWrite))
}

func TestFSNotifyBackendUnregister(t *testing.T) {
	backend := newNativeBackend(t)
	dir := t.TempDir()
	target := writeTempFile(t, dir, "target.txt")

	handle, err := backend.Register(target, watchit.ScopeFile)
	require.NoError(t, err)
	require.NoError(t, backend.Unregister(handle))
	require.ErrorIs(t, backend.Unregister(handle), watchit.ErrUnknownTarget)

	require.NoError(t, os.WriteFile(target, []byte("change after unregister"), 0o644))
	for _, raw := range drainFor(backend, 300*time.Millisecond) {
		require.NotEqual(t, target, raw.Path)
	}
}

func TestFSNotifyBackendConcurrentRegister(t *testing.T) {
	backend := newNativeBackend(t)
	dir := t.TempDir()
	first := writeTempFile(t, dir, "first.txt")

	_, err := backend.Register(first, watchit.ScopeFile)
	require.NoError(t, err)

	// Registrations land while a poll is blocked; the single-reader rule
	// only applies to NextEvents itself.
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := backend.NextEvents(300 * time.Millisecond)
		return err
	})

	second := writeTempFile(t, dir, "second.txt")
	_, err = backend.Register(second, watchit.ScopeFile)
	require.NoError(t, err)
	require.NoError(t, eg.Wait())

	require.NoError(t, os.WriteFile(second, []byte("change"), 0o644))
	raw := pollFor(t, backend, second)
	require.True(t, raw.Mask.Has(watchit.RawWrite) || raw.Mask.Has(watchit.RawCreate))
}

func TestFSNotifyBackendClose(t *testing.T) {
	backend := newNativeBackend(t)
	target := writeTempFile(t, t.TempDir(), "a.txt")

	_, err := backend.Register(target, watchit.ScopeFile)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close()) // idempotent

	_, err = backend.NextEvents(10 * time.Millisecond)
	require.Error(t, err)
	_, err = backend.Register(target, watchit.ScopeFile)
	require.Error(t, err)
}
