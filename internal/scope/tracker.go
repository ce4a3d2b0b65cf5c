package scope

import "sync"

// Tracker collects affected scopes across ledgers until a sweep drains them.
// Safe for concurrent use by the ingestion loop and the sweep schedulers.
type Tracker struct {
	mu  sync.Mutex
	set *Set
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{set: NewSet()}
}

// Mark records the events of one ledger's diff.
func (t *Tracker) Mark(events []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set.AddAll(events)
}

// Drain returns all pending events and resets the tracker.
func (t *Tracker) Drain() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.set.Events()
	t.set = NewSet()
	return events
}

// Pending reports the number of undrained events.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.Len()
}
