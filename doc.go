// Package watchit notifies application code when files or directories it is
// told to watch change on disk, by invoking a user-supplied callback with a
// description of the change.
//
// It works uniformly across operating systems: the default backend rides the
// platform's native notification facility (inotify, kqueue,
// ReadDirectoryChangesW), and a portable polling backend over any fs.FS is
// available where native notifications are unavailable or undesirable.
// Whatever the backend, raw notifications are coalesced within a debounce
// window and classified into a stable event model before the callback sees
// them: a remove chased by a create becomes a single Modified event (the
// usual editor save pattern), and a create undone by a remove within the
// window is not reported at all.
//
// Basic usage:
//
//	w, err := watchit.New(func(ev watchit.ChangeEvent) {
//		log.Printf("%s: %s", ev.Kind, ev.Path)
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
//
//	if err := w.Watch("file.txt"); err != nil {
//		log.Fatal(err)
//	}
//
// The callback runs on the watcher's dispatch goroutine, one event at a
// time. Events for the same path are delivered in the order the operating
// system reported them; no ordering is promised across different paths.
// A panicking callback is reported through the WithErrorHandler sink and
// never stops delivery of later events.
package watchit
