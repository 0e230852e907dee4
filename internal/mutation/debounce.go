package mutation

import (
	"sync"
	"time"
)

// pendingUpdate is the coalesced, not yet persisted state of one element.
type pendingUpdate struct {
	ElementID  string
	DocumentID string
	PageID     string
	Actor      Actor
	Delta      Delta

	timer *time.Timer
}

// debouncer coalesces rapid updates to the same element and persists the
// merged delta once the element has been quiet for the window. Each element
// has at most one persist in flight; a timer that fires while one is running
// re-arms instead of racing it.
type debouncer struct {
	window  time.Duration
	persist func(pendingUpdate)

	mu       sync.Mutex
	idle     *sync.Cond
	pending  map[string]*pendingUpdate
	inflight map[string]Delta
}

func newDebouncer(window time.Duration, persist func(pendingUpdate)) *debouncer {
	d := &debouncer{
		window:   window,
		persist:  persist,
		pending:  map[string]*pendingUpdate{},
		inflight: map[string]Delta{},
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// add merges u into the pending state for its element and restarts the timer.
func (d *debouncer) add(u pendingUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.pending[u.ElementID]; ok {
		current.timer.Stop()
		u.Delta = current.Delta.Merge(u.Delta)
	}
	entry := &u
	entry.timer = time.AfterFunc(d.window, func() { d.fire(entry) })
	d.pending[u.ElementID] = entry
}

func (d *debouncer) fire(entry *pendingUpdate) {
	d.mu.Lock()
	if d.pending[entry.ElementID] != entry {
		d.mu.Unlock()
		return
	}
	if _, busy := d.inflight[entry.ElementID]; busy {
		entry.timer = time.AfterFunc(d.window, func() { d.fire(entry) })
		d.mu.Unlock()
		return
	}
	delete(d.pending, entry.ElementID)
	d.inflight[entry.ElementID] = entry.Delta
	d.mu.Unlock()

	d.run(*entry)
}

func (d *debouncer) run(u pendingUpdate) {
	defer func() {
		d.mu.Lock()
		delete(d.inflight, u.ElementID)
		d.idle.Broadcast()
		d.mu.Unlock()
	}()
	d.persist(u)
}

// peek returns the not yet persisted delta for an element, in-flight state
// first and pending state on top.
func (d *debouncer) peek(elementID string) (Delta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delta, ok := d.inflight[elementID]
	if entry, queued := d.pending[elementID]; queued {
		if ok {
			delta = delta.Merge(entry.Delta)
		} else {
			delta = entry.Delta
		}
		ok = true
	}
	return delta, ok
}

// cancel drops pending state for an element, e.g. after it was deleted.
func (d *debouncer) cancel(elementID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.pending[elementID]; ok {
		entry.timer.Stop()
		delete(d.pending, elementID)
	}
}

func (d *debouncer) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// flush waits for in-flight persists, then persists everything pending
// without waiting for timers.
func (d *debouncer) flush() {
	d.mu.Lock()
	for len(d.inflight) > 0 {
		d.idle.Wait()
	}
	entries := make([]pendingUpdate, 0, len(d.pending))
	for id, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, id)
		d.inflight[id] = entry.Delta
		entries = append(entries, *entry)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		d.run(entry)
	}

	d.mu.Lock()
	for len(d.inflight) > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
