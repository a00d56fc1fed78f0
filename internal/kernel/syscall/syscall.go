// Package syscall implements the system-call dispatcher and its
// conformance-class model.
//
// The descriptor table follows a builder/frozen-table split: entries are
// registered once through a builder, validated for duplicates and nil
// handlers, then frozen into a plain array indexed by syscall number —
// "register intercepts, then dispatch by table lookup" keyed by syscall
// index rather than by address.
package syscall

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
)

// Class is a system-call's conformance class.
type Class int

const (
	// Basic: very short, non-preemptable, runs with all interrupts
	// masked, may not call other kernel services.
	Basic Class = iota
	// Simple: short, interrupts masked up to the kernel-tick priority,
	// may not suspend, may call argument-validation helpers.
	Simple
	// Full: may run with interrupts unmasked, may be preempted by ISRs,
	// may not block.
	Full
)

func (c Class) String() string {
	switch c {
	case Basic:
		return "BASIC"
	case Simple:
		return "SIMPLE"
	case Full:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}

// Args are the up-to-three integer arguments a trap carries.
type Args [3]int64

// Handler is a system-call body. caller is the invoking process, used for
// argument-pointer validation via is_user_readable/is_user_writable.
type Handler func(caller *process.Process, args Args) (int64, error)

// BadSystemCallArgument is returned by a Handler to request the
// BAD_SYSTEM_CALL_ARGUMENT abort path without duplicating the process
// charge logic at every call site.
type BadSystemCallArgument struct {
	Reason string
}

func (e *BadSystemCallArgument) Error() string {
	return fmt.Sprintf("syscall: bad argument: %s", e.Reason)
}

// descriptor is the constant (handler, conformance-class) pair a
// registered syscall number resolves to.
type descriptor struct {
	handler Handler
	class   Class
}

func noop(*process.Process, Args) (int64, error) { return 0, nil }

// TaskExitIndex is the fixed index 0 BASIC handler, task_exit.
const TaskExitIndex = 0

// ErrTaskExit is the sentinel the task_exit handler returns. Dispatch
// passes it back to its caller as the error result, without aborting, so
// "end this activation" can be told apart from a normal return.
var ErrTaskExit = fmt.Errorf("syscall: task_exit")

func taskExit(*process.Process, Args) (int64, error) { return 0, ErrTaskExit }

// Table is the configuration-time, constant-after-Lock descriptor array.
// Unassigned entries resolve to a no-op handler that does not abort the
// caller.
type Table struct {
	mu      sync.Mutex
	entries []descriptor
	locked  bool
}

// NewTable returns a table of size n (system-call numbers 0..n-1), with
// index 0 pre-bound to task_exit.
func NewTable(n int) (*Table, error) {
	if n < 1 {
		return nil, fmt.Errorf("syscall: table size must be at least 1 for task_exit")
	}
	entries := make([]descriptor, n)
	for i := range entries {
		entries[i] = descriptor{handler: noop, class: Basic}
	}
	entries[TaskExitIndex] = descriptor{handler: taskExit, class: Basic}
	return &Table{entries: entries}, nil
}

// Register binds index to handler/class. index 0 is reserved for
// task_exit and cannot be rebound.
func (t *Table) Register(index int, class Class, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("syscall: nil handler for index %d", index)
	}
	if index == TaskExitIndex {
		return fmt.Errorf("syscall: index 0 is reserved for task_exit")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.locked {
		return fmt.Errorf("syscall: cannot register index %d after the table is locked", index)
	}
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("syscall: index %d out of range 0..%d", index, len(t.entries)-1)
	}
	t.entries[index] = descriptor{handler: handler, class: class}
	return nil
}

// Lock freezes the table; thereafter it lives in the kernel's read-only
// configuration.
func (t *Table) Lock() {
	t.mu.Lock()
	t.locked = true
	t.mu.Unlock()
}

// Len returns NS, the configured table size.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Dispatch validates index, then runs the bound handler under the rules
// of its conformance class. An out-of-range index raises BAD_SYSTEM_CALL
// and does not reach any handler; a handler requesting
// BadSystemCallArgument raises BAD_SYSTEM_CALL_ARGUMENT. around is the
// caller-supplied wrapper (the kernel's, in internal/kernel) that enforces
// Basic/Simple/Full's interrupt-masking rules around the call; Dispatch
// itself is conformance-class-agnostic plumbing.
func (t *Table) Dispatch(caller *process.Process, index int, args Args, around func(class Class, body func() (int64, error)) (int64, error)) (int64, error, process.Cause, bool) {
	t.mu.Lock()
	if index < 0 || index >= len(t.entries) {
		t.mu.Unlock()
		return 0, fmt.Errorf("syscall: index %d out of range 0..%d", index, len(t.entries)-1), process.CauseBadSystemCall, true
	}
	d := t.entries[index]
	t.mu.Unlock()

	ret, err := around(d.class, func() (int64, error) { return d.handler(caller, args) })
	if err == nil {
		return ret, nil, 0, false
	}
	if err == ErrTaskExit {
		return ret, err, 0, false
	}
	var badArg *BadSystemCallArgument
	if errors.As(err, &badArg) {
		return 0, err, process.CauseBadSystemCallArgument, true
	}
	return 0, err, process.CauseOther, true
}
