package watchit

import (
	"sort"
	"sync"
	"time"
)

// pending is an event held back while its debounce window is open.
type pending struct {
	kind     ChangeKind
	seq      uint64
	observed time.Time
	deadline time.Time
}

// normalizer classifies raw backend events and coalesces bursts for the same
// path within a debounce window. Events for different paths may reorder
// relative to each other, but per-path order survives: a slot either merges
// or is emitted before a later raw event for the same path can open a new one.
//
// The dispatch loop feeds and drains it; Unwatch flushes it from the caller's
// goroutine, so it carries its own lock.
type normalizer struct {
	window time.Duration

	mu      sync.Mutex
	slots   map[string]*pending
	merged  uint64
	dropped uint64
}

func newNormalizer(window time.Duration) *normalizer {
	return &normalizer{
		window: window,
		slots:  make(map[string]*pending),
	}
}

// classify maps a raw change mask to the public event model. A zero result
// with ok=false means the mask carried nothing worth reporting (bare chmod
// noise, mostly).
func classify(mask RawOp) (ChangeKind, bool) {
	switch {
	case mask.Has(RawRemove | RawRename):
		// Native rename events name the old path without a destination, so
		// the watched name is gone either way.
		return Removed, true
	case mask.Has(RawCreate):
		return Created, true
	case mask.Has(RawWrite):
		return Modified, true
	case mask == RawChmod:
		return Unknown, false
	default:
		return Unknown, true
	}
}

// observe folds one raw event into the pending state. Coalescing rules:
// last kind wins, except a Removed chased by a Created becomes Modified
// (rewrite-by-replace) and a Created chased by a Removed cancels out
// (ephemeral file). Each new raw event re-opens the window.
func (n *normalizer) observe(raw RawEvent, now time.Time) {
	kind, ok := classify(raw.Mask)
	if !ok {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	slot, open := n.slots[raw.Path]
	if !open {
		n.slots[raw.Path] = &pending{
			kind:     kind,
			seq:      raw.Seq,
			observed: now,
			deadline: now.Add(n.window),
		}
		return
	}

	n.merged++
	switch {
	case slot.kind == Removed && kind == Created:
		slot.kind = Modified
	case slot.kind == Created && kind == Removed:
		delete(n.slots, raw.Path)
		n.dropped++
		return
	default:
		slot.kind = kind
	}
	slot.observed = now
	slot.deadline = now.Add(n.window)
}

// due returns the events whose window has closed, oldest first.
func (n *normalizer) due(now time.Time) []ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var drained []drainedEvent
	for path, slot := range n.slots {
		if slot.deadline.After(now) {
			continue
		}
		drained = append(drained, drainedEvent{eventFromSlot(path, slot), slot.seq})
		delete(n.slots, path)
	}
	return sortDrained(drained)
}

// nextDeadline reports when the earliest open window closes, so the loop can
// bound its poll instead of oversleeping a due event.
func (n *normalizer) nextDeadline() (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var earliest time.Time
	for _, slot := range n.slots {
		if earliest.IsZero() || slot.deadline.Before(earliest) {
			earliest = slot.deadline
		}
	}
	return earliest, !earliest.IsZero()
}

// flush pops the pending event for one path, if any. Used on unwatch so a
// target's last event does not outlive it.
func (n *normalizer) flush(path string) (ChangeEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	slot, open := n.slots[path]
	if !open {
		return ChangeEvent{}, false
	}
	delete(n.slots, path)
	return eventFromSlot(path, slot), true
}

// discard drops the pending event for one path without emitting it.
func (n *normalizer) discard(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, open := n.slots[path]; open {
		delete(n.slots, path)
		n.dropped++
	}
}

// flushAll drains everything still pending, oldest first. Used on stop.
func (n *normalizer) flushAll() []ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var drained []drainedEvent
	for path, slot := range n.slots {
		drained = append(drained, drainedEvent{eventFromSlot(path, slot), slot.seq})
	}
	n.slots = make(map[string]*pending)
	return sortDrained(drained)
}

// counters returns how many raw events were merged away or dropped.
func (n *normalizer) counters() (merged, dropped uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.merged, n.dropped
}

func eventFromSlot(path string, slot *pending) ChangeEvent {
	return ChangeEvent{
		Path:       path,
		Kind:       slot.kind,
		ObservedAt: slot.observed,
	}
}

type drainedEvent struct {
	event ChangeEvent
	seq   uint64
}

// sortDrained orders a drained batch by the sequence of the raw event that
// opened each slot, so emission tracks native arrival order for events that
// did not merge.
func sortDrained(drained []drainedEvent) []ChangeEvent {
	sort.Slice(drained, func(i, j int) bool {
		return drained[i].seq < drained[j].seq
	})
	events := make([]ChangeEvent, 0, len(drained))
	for _, d := range drained {
		events = append(events, d.event)
	}
	return events
}
