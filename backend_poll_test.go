package watchit_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ciresnave/watchit"
	"github.com/spiretechnology/go-memfs"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// sweepOnce polls the backend with no wait, which runs exactly one sweep.
func sweepOnce(t *testing.T, backend *watchit.PollBackend) []watchit.RawEvent {
	t.Helper()
	batch, err := backend.NextEvents(0)
	require.NoError(t, err)
	return batch
}

func TestPollBackendFileScope(t *testing.T) {
	fsys := memfs.FS{
		"watch/a.txt": memfs.File("hello"),
	}
	backend := watchit.NewPollBackend(fsys)
	defer backend.Close()

	handle, err := backend.Register("/watch/a.txt", watchit.ScopeFile)
	require.NoError(t, err)
	require.NotZero(t, handle)

	// The registration snapshot is the baseline; nothing changed yet.
	require.Empty(t, sweepOnce(t, backend))

	fsys["watch/a.txt"] = memfs.File("hello, world")
	batch := sweepOnce(t, backend)
	require.Len(t, batch, 1)
	require.Equal(t, "/watch/a.txt", batch[0].Path)
	require.True(t, batch[0].Mask.Has(watchit.RawWrite))

	delete(fsys, "watch/a.txt")
	batch = sweepOnce(t, backend)
	require.Len(t, batch, 1)
	require.True(t, batch[0].Mask.Has(watchit.RawRemove))

	// A file target keeps being swept after removal and sees the recreate.
	fsys["watch/a.txt"] = memfs.File("back again")
	batch = sweepOnce(t, backend)
	require.Len(t, batch, 1)
	require.True(t, batch[0].Mask.Has(watchit.RawCreate))
}

func TestPollBackendDirScope(t *testing.T) {
	fsys := memfs.FS{
		"watch/a.txt": memfs.File("one"),
		"watch/b.txt": memfs.File("two"),
	}
	backend := watchit.NewPollBackend(fsys)
	defer backend.Close()

	_, err := backend.Register("/watch", watchit.ScopeDir)
	require.NoError(t, err)
	require.Empty(t, sweepOnce(t, backend))

	fsys["watch/c.txt"] = memfs.File("three")
	batch := sweepOnce(t, backend)
	require.Len(t, batch, 1)
	require.Equal(t, filepath.Join("/watch", "c.txt"), batch[0].Path)
	require.True(t, batch[0].Mask.Has(watchit.RawCreate))

	delete(fsys, "watch/b.txt")
	batch = sweepOnce(t, backend)
	require.Len(t, batch, 1)
	require.Equal(t, filepath.Join("/watch", "b.txt"), batch[0].Path)
	require.True(t, batch[0].Mask.Has(watchit.RawRemove))
}

func TestPollBackendRecursiveScope(t *testing.T) {
	fsys := memfs.FS{
		"watch/sub/a.txt": memfs.File("one"),
	}
	backend := watchit.NewPollBackend(fsys)
	defer backend.Close()

	_, err := backend.Register("/watch", watchit.ScopeDirRecursive)
	require.NoError(t, err)
	require.Empty(t, sweepOnce(t, backend))

	fsys["watch/sub/deep/b.txt"] = memfs.File("two")
	batch := sweepOnce(t, backend)

	paths := make(map[string]watchit.RawOp, len(batch))
	for _, raw := range batch {
		paths[raw.Path] = raw.Mask
	}
	// The new file and the directory that appeared with it.
	require.True(t, paths[filepath.Join("/watch", "sub", "deep", "b.txt")].Has(watchit.RawCreate))
}

func TestPollBackendRegister(t *testing.T) {
	t.Run("missing file fails", func(t *testing.T) {
		backend := watchit.NewPollBackend(memfs.FS{})
		defer backend.Close()

		_, err := backend.Register("/nope.txt", watchit.ScopeFile)
		require.Error(t, err)
	})

	t.Run("unregister unknown handle fails", func(t *testing.T) {
		backend := watchit.NewPollBackend(memfs.FS{})
		defer backend.Close()

		require.ErrorIs(t, backend.Unregister(42), watchit.ErrUnknownTarget)
	})

	t.Run("unregistered target stops producing", func(t *testing.T) {
		fsys := memfs.FS{"a.txt": memfs.File("one")}
		backend := watchit.NewPollBackend(fsys)
		defer backend.Close()

		handle, err := backend.Register("/a.txt", watchit.ScopeFile)
		require.NoError(t, err)
		require.NoError(t, backend.Unregister(handle))

		fsys["a.txt"] = memfs.File("changed content")
		require.Empty(t, sweepOnce(t, backend))
	})
}

func TestPollBackendClose(t *testing.T) {
	backend := watchit.NewPollBackend(memfs.FS{})

	var eg errgroup.Group
	eg.Go(func() error {
		// Blocks until Close wakes it.
		_, err := backend.NextEvents(time.Minute)
		require.Error(t, err)
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, backend.Close())
	require.NoError(t, eg.Wait())

	// Closed backends refuse further polls and registrations.
	_, err := backend.NextEvents(0)
	require.Error(t, err)
	_, err = backend.Register("/a.txt", watchit.ScopeFile)
	require.Error(t, err)
}
