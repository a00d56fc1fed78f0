package kernel

// sys_trigger_event, sys_suspend_process, sys_mask_to_priority, and
// sys_restore_priority are the user-context Helpers, registered onto the
// syscall table the same way task_exit is (see internal/kernel/syscall's
// fixed index 0), but they close over state that only exists once New has
// assembled a Kernel: the scheduler that actually triggers events and
// suspends processes.
//
// Bindings is the patch point that lets a handler be recorded against the
// syscall table at configuration time, before config.Builder.Build locks
// it, while the scheduler it eventually calls into is wired in afterward by
// Bind. This mirrors a deferred-callback registration for interrupt
// handlers, where a vector's handler is recorded before the controller
// backing it is fully constructed; here the indirection is a couple of
// function fields instead of an interface, since the binding only ever
// happens once, in series, never concurrently with a trap (Bind runs
// strictly before Kernel.Start).

import (
	"fmt"

	"github.com/tinyrange/mpc5643l-rtos/internal/ic"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/syscall"
)

// Bindings holds the scheduler-dependent calls sys_trigger_event and
// sys_suspend_process need. Create with NewBindings, register handlers
// built from it onto a config.Builder's syscall table, then call
// (*Kernel).Bind once the Kernel exists and before Start.
type Bindings struct {
	TriggerEvent func(eventID, callerPID int) bool
	Suspend      func(pid, callerPID int) error
	Tick         func()
}

// NewBindings returns an empty Bindings ready to hand to the Handler
// constructors below; its fields are nil until a matching Bind call.
func NewBindings() *Bindings { return &Bindings{} }

// Bind wires b's fields to k's scheduler. Must be called after New and
// before Start; calling a Handler built from b before Bind returns an
// error rather than a nil-pointer panic.
func (k *Kernel) Bind(b *Bindings) {
	b.TriggerEvent = func(eventID, callerPID int) bool {
		return k.Scheduler.TriggerEvent(eventID, callerPID, false)
	}
	b.Suspend = func(pid, callerPID int) error {
		return k.Scheduler.Suspend(pid, callerPID)
	}
	b.Tick = func() {
		k.Scheduler.Tick()
	}
}

// TickHandler returns an ic.Handler suitable for registering the system
// tick at TickVector: RegisterInterruptHandler must be called before
// config.Builder.Build locks the controller, which is before a Kernel
// (and so b's scheduler binding) exists, hence the same Bindings
// indirection TriggerEventHandler and SuspendProcessHandler use.
func TickHandler(b *Bindings) ic.Handler {
	return func() {
		if b.Tick == nil {
			return
		}
		b.Tick()
	}
}

// TriggerEventHandler implements sys_trigger_event(event_id) -> bool:
// args[0] is the event id. The syscall return value is 1 if the
// activation was accepted, 0 if it was lost or the id/privilege check
// failed — trigger_event's own false return is not an error condition,
// so this never requests an abort.
func TriggerEventHandler(b *Bindings) syscall.Handler {
	return func(caller *process.Process, args syscall.Args) (int64, error) {
		if b.TriggerEvent == nil {
			return 0, fmt.Errorf("kernel: sys_trigger_event called before Bind")
		}
		if b.TriggerEvent(int(args[0]), caller.PID) {
			return 1, nil
		}
		return 0, nil
	}
}

// SuspendProcessHandler implements sys_suspend_process(PID), permitted
// only for privileged processes: process.Table.Suspend already enforces
// Permissions.MaySuspendOther against the caller's PID, so a disallowed
// call surfaces as BAD_SYSTEM_CALL_ARGUMENT — charged to the calling
// process rather than silently ignored.
func SuspendProcessHandler(b *Bindings) syscall.Handler {
	return func(caller *process.Process, args syscall.Args) (int64, error) {
		if b.Suspend == nil {
			return 0, fmt.Errorf("kernel: sys_suspend_process called before Bind")
		}
		if err := b.Suspend(int(args[0]), caller.PID); err != nil {
			return 0, &syscall.BadSystemCallArgument{Reason: err.Error()}
		}
		return 0, nil
	}
}

// MaskToPriorityHandler implements sys_mask_to_priority(n) -> saved:
// raises the shared current-priority register and hands the caller the
// value to present back to sys_restore_priority. The interrupt
// controller is configuration-time state (internal/ic.Controller exists
// from config.NewBuilder onward), so this handler needs no Bindings
// indirection.
//
// Register this as conformance class BASIC, not SIMPLE: this is exactly
// the "one-word state change" BASIC calls are meant for, and unlike
// SIMPLE's kernel.around wrapper — which acquires and releases its own
// ceiling guard for the call's duration, undoing any register change the
// handler body made before returning — BASIC's wrapper (kernel.around)
// disables external interrupts only, leaving the priority register's new
// value exactly as the handler left it once the call returns to user
// code.
func MaskToPriorityHandler(c *ic.Controller) syscall.Handler {
	return func(caller *process.Process, args syscall.Args) (int64, error) {
		n := args[0]
		if n < 0 || n > ic.MaxPriority {
			return 0, &syscall.BadSystemCallArgument{Reason: fmt.Sprintf("priority %d out of range 0..%d", n, ic.MaxPriority)}
		}
		return int64(c.RaisePriority(uint8(n))), nil
	}
}

// RestorePriorityHandler implements sys_restore_priority(saved), the
// counterpart to MaskToPriorityHandler: a saved value the current
// priority cannot have dropped below rejects with BAD_SYSTEM_CALL_ARGUMENT
// per internal/ic.Controller.LowerPriority's monotonic-release invariant.
func RestorePriorityHandler(c *ic.Controller) syscall.Handler {
	return func(caller *process.Process, args syscall.Args) (int64, error) {
		saved := args[0]
		if saved < 0 || saved > ic.MaxPriority {
			return 0, &syscall.BadSystemCallArgument{Reason: fmt.Sprintf("saved priority %d out of range 0..%d", saved, ic.MaxPriority)}
		}
		if err := c.LowerPriority(uint8(saved)); err != nil {
			return 0, &syscall.BadSystemCallArgument{Reason: err.Error()}
		}
		return 0, nil
	}
}
