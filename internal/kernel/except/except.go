// Package except implements the exception handler: cause classification,
// the user-task abort path, the kernel/ISR halt path, and a bounded ring
// of nested-exception records for post-mortem diagnostics.
//
// ExceptionError and the Cause classification follow the shape of a
// CPU-emulator's typed exception value and Cause* constant block, the
// same one a trap-vector table elsewhere keys its handlers by.
package except

import (
	"fmt"
	"sync"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// ExceptionError is the value type an ISR or task-entry call site returns
// (or the scheduler synthesizes) to report a faulting condition. It
// carries enough context for Handler.HandleUserFault to classify and
// charge the correct process without re-deriving the cause.
type ExceptionError struct {
	Cause   process.Cause
	Addr    uintptr // faulting address, if applicable (0 otherwise)
	Message string
}

func (e *ExceptionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("except: %s: %s", e.Cause, e.Message)
	}
	return fmt.Sprintf("except: %s at 0x%x", e.Cause, e.Addr)
}

// nestedRingSize bounds the post-mortem ring; no heap growth after boot.
const nestedRingSize = 16

// NestedRecord is one entry of the nested-exception ring: a fault that
// arrived while another fault was already being handled. It is counted
// separately by preempted-cause rather than cascading into the normal
// abort path.
type NestedRecord struct {
	PreemptedCause process.Cause
	NewCause       process.Cause
}

// HaltFunc stops the processor irrecoverably; normally pal.PAL.Halt.
type HaltFunc func()

// RestartFunc re-enters the scheduler's dispatch loop after a user task
// has been aborted.
type RestartFunc func()

// Handler is the kernel's single exception entry point.
type Handler struct {
	processes *process.Table
	tasks     *task.Table
	halt      HaltFunc
	restart   RestartFunc

	mu            sync.Mutex
	handling      bool
	handlingCause process.Cause
	nested        []NestedRecord
	nestedNext    int
}

// New binds a Handler to the process/task tables and to the platform's
// halt primitive.
func New(processes *process.Table, tasks *task.Table, halt HaltFunc, restart RestartFunc) *Handler {
	return &Handler{processes: processes, tasks: tasks, halt: halt, restart: restart, nested: make([]NestedRecord, 0, nestedRingSize)}
}

// recordNested appends to the bounded ring, overwriting the oldest entry
// once full.
func (h *Handler) recordNested(preempted, newCause process.Cause) {
	rec := NestedRecord{PreemptedCause: preempted, NewCause: newCause}
	if len(h.nested) < nestedRingSize {
		h.nested = append(h.nested, rec)
	} else {
		h.nested[h.nestedNext] = rec
		h.nestedNext = (h.nestedNext + 1) % nestedRingSize
	}
}

// NestedRecords returns a copy of the ring's current contents, oldest
// first among the retained entries.
func (h *Handler) NestedRecords() []NestedRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append(append([]NestedRecord(nil), h.nested[h.nestedNext:]...), h.nested[:h.nestedNext]...)
}

// HandleUserFault handles a fault in user-task context: classify, charge
// the owning process, mark t IDLE, and ask the scheduler to resume. A
// second fault arriving while this one is still being processed
// (re-entrant call on the same Handler) is recorded in the nested ring
// rather than cascading into another abort.
func (h *Handler) HandleUserFault(t *task.Task, ee *ExceptionError) {
	h.mu.Lock()
	if h.handling {
		h.recordNested(h.handlingCause, ee.Cause)
		h.mu.Unlock()
		return
	}
	h.handling = true
	h.handlingCause = ee.Cause
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.handling = false
		h.mu.Unlock()
	}()

	p, ok := h.processes.Get(t.PID)
	if ok {
		p.RecordError(ee.Cause)
	}
	t.SetState(task.Idle)
	if h.restart != nil {
		h.restart()
	}
}

// HandleKernelFault handles a fault in kernel/ISR context: it halts the
// system rather than attempting recovery. Interrupts are masked first so
// no further
// activity occurs before Halt (which, on simpal, parks the goroutine and
// never returns, matching the target's infinite loop).
func (h *Handler) HandleKernelFault(pl pal.PAL, ee *ExceptionError) {
	pl.DisableExternalInterrupts()
	h.halt()
}

// Classify maps a raw CPU trap reason string to a process.Cause; used by
// PAL backends that report faults as opaque strings (e.g. a future real
// MPC5643L backend's IVOR vector name) rather than as a typed
// ExceptionError. simpal's test harness constructs ExceptionError
// directly and does not need this path.
func Classify(ivor string) process.Cause {
	switch ivor {
	case "IVOR1_MACHINE_CHECK":
		return process.CauseOther
	case "IVOR2_DATA_STORAGE":
		return process.CauseMemoryAccess
	case "IVOR3_INSTRUCTION_STORAGE":
		return process.CauseMemoryAccess
	case "IVOR5_ALIGNMENT":
		return process.CauseMisaligned
	case "IVOR6_PROGRAM_ILLEGAL":
		return process.CauseIllegalInstruction
	case "IVOR6_PROGRAM_PRIVILEGED":
		return process.CausePrivilegedInstruction
	case "IVOR7_FPU_UNAVAILABLE":
		return process.CauseFPU
	case "IVOR8_SYSTEM_CALL":
		return process.CauseBadSystemCall
	default:
		return process.CauseOther
	}
}
