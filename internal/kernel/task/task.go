// Package task implements the configuration-time task table: the mapping
// from an event to one or more (process, entry, budget) tuples run in
// declaration order when the event fires.
//
// The table follows a builder-then-freeze shape: entries are registered
// one at a time, then frozen by Lock, generalizing "one capability per
// registration" to "one task slot per (event, declaration order) pair".
package task

import (
	"fmt"
	"sync"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
)

// MemoryBus is the minimal simulated-memory capability a task's body uses
// to touch process-owned RAM. The scheduler binds this to the real
// pal/simpal.Bus; Context.Read/Write is the only way a task touches
// memory, which is what lets a misbehaving task's illegal access be
// caught before it takes effect rather than after.
type MemoryBus interface {
	Read(addr uintptr, out []byte) error
	Write(addr uintptr, data []byte) error
}

// StackScanner is an optional capability a MemoryBus backend may offer: a
// count of how many bytes starting at base still hold pattern, the stack
// high-water-mark sample a diagnostics probe needs. Not every MemoryBus
// backs real memory a pattern scan makes sense against (a test double may
// not), so callers type-assert for it rather than requiring it of every
// MemoryBus.
type StackScanner interface {
	FreeBytes(base, size uintptr, pattern byte) (uintptr, error)
}

// Fault is panicked by Context.Read/Write when the underlying bus denies
// an access. There is no suspension point for a task to recover from a
// hardware trap, so a Go panic recovered by the scheduler's dispatch loop
// is the closest idiomatic match to "control never returns to the
// faulting instruction".
type Fault struct {
	Cause process.Cause
	Addr  uintptr
}

func (f *Fault) Error() string {
	return fmt.Sprintf("task: %s fault at 0x%x", f.Cause, f.Addr)
}

// Context is passed to a task's Entry on every activation.
type Context struct {
	Bus MemoryBus
	Arg int32
}

// Read performs a simulated memory read, panicking with *Fault if the
// bus denies it.
func (c *Context) Read(addr uintptr, out []byte) {
	if err := c.Bus.Read(addr, out); err != nil {
		panic(&Fault{Cause: process.CauseMemoryAccess, Addr: addr})
	}
}

// Write performs a simulated memory write, panicking with *Fault if the
// bus denies it.
func (c *Context) Write(addr uintptr, data []byte) {
	if err := c.Bus.Write(addr, data); err != nil {
		panic(&Fault{Cause: process.CauseMemoryAccess, Addr: addr})
	}
}

// Entry is a task's body. It runs to completion; a negative return value
// is a user-signalled error (counted, does not affect scheduling).
type Entry func(ctx *Context) int32

// State is a task execution slot's lifecycle state.
type State int

const (
	Idle State = iota
	Pending
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Task is one execution slot bound to an event.
type Task struct {
	EventID  int
	Slot     int // position among tasks bound to the same event
	PID      int
	Entry    Entry
	BudgetUs uint32 // 0 disables the deadline check

	mu    sync.Mutex
	state State
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState is used by the scheduler to drive the IDLE->PENDING->RUNNING->IDLE
// cycle; unexported since only one writer (the scheduler) may ever hold it.
func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// SetState is exported for the scheduler package, which lives in a
// separate package from task but is the sole legitimate driver of task
// state transitions.
func (t *Task) SetState(s State) { t.setState(s) }

// Table maps each event to its ordered slice of tasks.
type Table struct {
	mu       sync.Mutex
	byEvent  map[int][]*Task
	maxSlots map[int]int // declared slot capacity per event, 0 = unbounded
	locked   bool
}

// NewTable returns an empty task table.
func NewTable() *Table {
	return &Table{byEvent: make(map[int][]*Task), maxSlots: make(map[int]int)}
}

// SetMaxSlots declares how many tasks event may have bound to it; a
// subsequent Register beyond this count returns an error. A max of 0
// means unbounded.
func (t *Table) SetMaxSlots(eventID, max int) {
	t.mu.Lock()
	t.maxSlots[eventID] = max
	t.mu.Unlock()
}

// Register binds a new task to eventID, in declaration order, running in
// pid's memory view. Fails if the table is locked or the event's declared
// slot capacity is exceeded.
func (t *Table) Register(eventID, pid int, entry Entry, budgetUs uint32) (*Task, error) {
	if entry == nil {
		return nil, fmt.Errorf("task: nil entry for event %d", eventID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.locked {
		return nil, fmt.Errorf("task: cannot register a task after the table is locked")
	}
	existing := t.byEvent[eventID]
	if max := t.maxSlots[eventID]; max > 0 && len(existing) >= max {
		return nil, fmt.Errorf("task: event %d declared %d slots, slot %d exceeds it", eventID, max, len(existing))
	}

	tk := &Task{EventID: eventID, Slot: len(existing), PID: pid, Entry: entry, BudgetUs: budgetUs}
	t.byEvent[eventID] = append(existing, tk)
	return tk, nil
}

// Lock freezes the table.
func (t *Table) Lock() {
	t.mu.Lock()
	t.locked = true
	t.mu.Unlock()
}

// TasksFor returns the tasks bound to eventID in declaration order.
func (t *Table) TasksFor(eventID int) []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Task(nil), t.byEvent[eventID]...)
}

// All returns every registered task, grouped by event in ascending event
// id order, each group in declaration order; used by the scheduler's
// halt sweep in Scheduler.Suspend.
func (t *Table) All() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []int
	for id := range t.byEvent {
		ids = append(ids, id)
	}
	// simple insertion sort: the table is small and configuration-time only
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	var all []*Task
	for _, id := range ids {
		all = append(all, t.byEvent[id]...)
	}
	return all
}
