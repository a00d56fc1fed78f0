// Package event implements the configuration-time event table: cyclic and
// software-only trigger sources carrying a priority, a pending flag, and a
// saturating activation-loss counter.
//
// The table follows a "build under a builder, then run against it" shape:
// a plain mutex-guarded slice sized once at configuration time and frozen
// by Lock before the scheduler ever reads it.
package event

import (
	"fmt"
	"math"
	"sync"
)

// Event is a cyclic or software-only activation source.
type Event struct {
	ID           int
	Priority     uint8
	Period       uint32 // ticks; 0 means software-only
	FirstOffset  uint32 // ticks; ignored if Period == 0
	MinPrivilege int    // minimum caller privilege level required to trigger by software

	mu            sync.Mutex
	countdown     uint32
	pending       bool
	activationLoss uint32
}

// Pending reports whether the event currently has an unconsumed activation.
func (e *Event) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// ActivationLoss returns the saturating count of triggers that arrived
// while the event was already pending.
func (e *Event) ActivationLoss() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activationLoss
}

// tryActivate sets the pending flag, or increments activation-loss if it
// was already set. Returns true if the activation was accepted.
func (e *Event) tryActivate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		if e.activationLoss != math.MaxUint32 {
			e.activationLoss++
		}
		return false
	}
	e.pending = true
	return true
}

// clearPending re-arms the event after its tasks have run.
func (e *Event) clearPending() {
	e.mu.Lock()
	e.pending = false
	e.mu.Unlock()
}

// Table is the configuration-time set of events, dense-indexed 0..NE-1.
type Table struct {
	mu     sync.Mutex
	events []*Event
	locked bool
}

// NewTable returns an empty, unlocked event table.
func NewTable() *Table {
	return &Table{}
}

// Create declares a new event and returns its dense ID. period == 0 marks
// a software-only event (firstOffset is then ignored).
func (t *Table) Create(period, firstOffset uint32, priority uint8, minPrivilege int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.locked {
		return 0, fmt.Errorf("event: cannot create an event after the table is locked")
	}
	if priority == 0 {
		return 0, fmt.Errorf("event: priority 0 is reserved for the idle context")
	}

	id := len(t.events)
	ev := &Event{
		ID:           id,
		Priority:     priority,
		Period:       period,
		FirstOffset:  firstOffset,
		MinPrivilege: minPrivilege,
	}
	if period > 0 {
		ev.countdown = firstOffset
	}
	t.events = append(t.events, ev)
	return id, nil
}

// Lock freezes the table; called once by start_kernel.
func (t *Table) Lock() {
	t.mu.Lock()
	t.locked = true
	t.mu.Unlock()
}

// Get returns the event with the given id, or false if it does not
// exist: triggering a not-yet-created event id returns false and does
// not corrupt state.
func (t *Table) Get(id int) (*Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.events) {
		return nil, false
	}
	return t.events[id], true
}

// Len returns the number of declared events.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Trigger activates id by software, returning false if the id is unknown
// or the activation was lost because the event was already pending.
func (t *Table) Trigger(id int) bool {
	ev, ok := t.Get(id)
	if !ok {
		return false
	}
	return ev.tryActivate()
}

// ClearPending re-arms id after its tasks have completed for this cycle.
func (t *Table) ClearPending(id int) {
	if ev, ok := t.Get(id); ok {
		ev.clearPending()
	}
}

// Pending returns the ids of every currently pending event, in no
// particular order; used by the scheduler to re-arbitrate after a
// running task returns and the CPU is free at a lower priority.
func (t *Table) Pending() []int {
	t.mu.Lock()
	events := append([]*Event(nil), t.events...)
	t.mu.Unlock()

	var ids []int
	for _, ev := range events {
		if ev.Pending() {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

// Tick advances every cyclic event's countdown and returns the ids of
// events that fired this tick, in ascending id order (ties among
// equal-priority ready tasks are broken by event id). An event whose
// countdown is already zero fires, reloads the countdown to Period-1 and
// attempts activation, counting an activation loss exactly as a software
// trigger would; any other countdown is decremented by one. An event thus
// fires every Period ticks, first on tick FirstOffset+1.
func (t *Table) Tick() []int {
	t.mu.Lock()
	events := append([]*Event(nil), t.events...)
	t.mu.Unlock()

	var due []int
	for _, ev := range events {
		if ev.Period == 0 {
			continue
		}
		ev.mu.Lock()
		fire := false
		if ev.countdown == 0 {
			fire = true
			ev.countdown = ev.Period - 1
		} else {
			ev.countdown--
		}
		ev.mu.Unlock()
		if fire {
			if ev.tryActivate() {
				due = append(due, ev.ID)
			}
		}
	}
	return due
}
