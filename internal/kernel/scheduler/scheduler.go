// Package scheduler implements tick-driven event activation, priority-
// based task selection, preemption, and deadline enforcement.
//
// The dispatch loop is structured as "advance, then re-arbitrate" — step
// one tick, then check for a pending higher-priority event — rather than
// an interrupt-driven call stack, which keeps it testable without a real
// timer. This targets a single-hart machine, so every Scheduler method
// must be called from one logical thread of control; a task's body that
// triggers another event is, in effect, the hardware preempting itself,
// which Go expresses for free as ordinary recursive function calls.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/tinyrange/mpc5643l-rtos/internal/actrecord"
	"github.com/tinyrange/mpc5643l-rtos/internal/ic"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/diag"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/event"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/except"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// userTaskKind tags every ordinary task activation in the activation
// trace; actrecord.Init (registered by the actrecord package itself)
// tags the one-shot init-task pass in RunInitTasks.
var userTaskKind = actrecord.RegisterKind("task", actrecord.FlagUserTask)

// Scheduler drives the event/task/process tables against a PAL backend.
//
// The current-priority register it arbitrates against is not its own
// state: it is internal/ic.Controller's shared priority register, the
// same one ceiling.Domain.AcquireCeiling raises. A task that raises its
// own ceiling is therefore immediately visible to the scheduler's own
// preemption decisions, with no separate bookkeeping to keep in sync.
type Scheduler struct {
	events    *event.Table
	tasks     *task.Table
	processes *process.Table
	handler   *except.Handler
	diag      *diag.Diagnostics
	pl        pal.PAL
	bus       task.MemoryBus
	ic        *ic.Controller

	idleStart time.Duration
	running   *task.Task
	started   bool
}

// New wires a Scheduler against its dependent tables and backends. bus is
// the simulated memory a task's Context reads and writes through.
// controller is the interrupt controller whose current-priority register
// the scheduler arbitrates against — the same controller ceiling.Domain
// wraps, so a task's AcquireCeiling call is visible to dispatchIfHigher
// without any separate channel between the two packages.
func New(events *event.Table, tasks *task.Table, processes *process.Table, handler *except.Handler, diagnostics *diag.Diagnostics, pl pal.PAL, bus task.MemoryBus, controller *ic.Controller) *Scheduler {
	return &Scheduler{events: events, tasks: tasks, processes: processes, handler: handler, diag: diagnostics, pl: pl, bus: bus, ic: controller}
}

// ConfigVeto is returned by RunInitTasks when an init task's return value
// is negative, which vetoes kernel startup.
type ConfigVeto struct {
	PID int
}

func (e *ConfigVeto) Error() string {
	return fmt.Sprintf("scheduler: init task for PID %d vetoed kernel startup", e.PID)
}

// RunInitTasks runs each task registered via register_init_task once, in
// its PID's memory view, before the scheduler starts.
func (s *Scheduler) RunInitTasks(initTasks []*task.Task) error {
	for _, t := range initTasks {
		p, ok := s.processes.Get(t.PID)
		if !ok {
			return fmt.Errorf("scheduler: init task references unknown PID %d", t.PID)
		}
		s.switchProcess(p)
		entry := s.pl.Timebase()
		ret := s.runEntrySafely(t, p)
		actrecord.Record(actrecord.Init, s.pl.Timebase()-entry)
		if ret < 0 {
			return &ConfigVeto{PID: t.PID}
		}
	}
	return nil
}

// Start marks the scheduler ready for tick-driven operation. After Start,
// register_interrupt_handler-style configuration calls must no longer
// succeed; callers lock the event/task/process/syscall tables themselves
// before calling Start (see internal/kernel/config.Builder).
func (s *Scheduler) Start() {
	s.started = true
	s.switchToIdle()
}

func (s *Scheduler) switchToIdle() {
	s.running = nil
	s.idleStart = s.pl.Timebase()
	if kernel, ok := s.processes.Get(process.KernelPID); ok {
		s.switchProcess(kernel)
	}
}

func (s *Scheduler) switchProcess(p *process.Process) {
	unrestricted := p.PID == process.KernelPID
	_ = s.pl.ConfigureRegions(p.MPURegions(s.processes.Shared()), unrestricted)
}

// TriggerEvent implements os_trigger_event / sys_trigger_event. callerPID
// is the triggering process (ignored when isISR is true, since an ISR
// trigger always succeeds from kernel context).
func (s *Scheduler) TriggerEvent(eventID int, callerPID int, isISR bool) bool {
	if !isISR {
		ev, ok := s.events.Get(eventID)
		if !ok {
			return false
		}
		p, ok := s.processes.Get(callerPID)
		if !ok {
			return false
		}
		if p.PID != process.KernelPID && callerPrivilegeInsufficient(p, ev) {
			return false
		}
	}
	accepted := s.events.Trigger(eventID)
	if accepted {
		s.dispatchIfHigher(eventID)
	}
	return accepted
}

// callerPrivilegeInsufficient is a placeholder hook for a richer
// privilege-level model; the minimal model here treats any registered
// process as meeting every event's minimum privilege unless
// the event specifically demands the kernel's own privilege level
// (MinPrivilege <= 0 means "kernel only").
func callerPrivilegeInsufficient(p *process.Process, ev *event.Event) bool {
	if ev.MinPrivilege <= 0 {
		return p.PID != process.KernelPID
	}
	return false
}

// Tick advances the scheduler by one system tick: every cyclic event's
// countdown is decremented, due events are activated, and the
// highest-priority ready event's tasks run to completion before lower
// ones, breaking ties by ascending event id.
func (s *Scheduler) Tick() {
	due := s.events.Tick()
	if len(due) == 0 {
		return
	}

	sort.Slice(due, func(i, j int) bool {
		ei, _ := s.events.Get(due[i])
		ej, _ := s.events.Get(due[j])
		if ei.Priority != ej.Priority {
			return ei.Priority > ej.Priority
		}
		return due[i] < due[j]
	})

	for _, id := range due {
		s.dispatchIfHigher(id)
	}
}

// dispatchIfHigher runs eventID's tasks now if eventID's priority exceeds
// the priority of whatever is currently running; this is also how a
// task's own trigger_event call preempts itself via recursion.
func (s *Scheduler) dispatchIfHigher(eventID int) {
	ev, ok := s.events.Get(eventID)
	if !ok {
		return
	}
	if ev.Priority <= s.ic.Current() {
		return
	}
	s.runEventTasks(ev)
}

// runEventTasks runs every task bound to ev, in declaration order, then
// clears the event's pending flag and re-arbitrates: on return from an
// interrupt or a system call the dispatcher compares the priority of the
// highest-ready task against the running one, which in this simulator
// means checking, at the priority level this call is about
// to drop back to, whether some other event is still pending at a higher
// priority than that level — e.g. because it was triggered while this one
// was running and so could not preempt it at the time.
func (s *Scheduler) runEventTasks(ev *event.Event) {
	savedRunning := s.running
	fromIdle := s.ic.Current() == 0
	if fromIdle && s.diag != nil {
		s.diag.Load().RecordIdle(s.pl.Timebase() - s.idleStart)
	}
	saved := s.ic.RaisePriority(ev.Priority)

	for _, t := range s.tasks.TasksFor(ev.ID) {
		p, ok := s.processes.Get(t.PID)
		if !ok || p.Halted() {
			continue
		}
		s.runOneTask(t, p)
	}

	s.events.ClearPending(ev.ID)

	_ = s.ic.LowerPriority(saved)
	s.running = savedRunning
	s.rearbitrate(saved)

	if savedRunning != nil {
		s.switchProcess(mustProcess(s.processes, savedRunning.PID))
	} else {
		s.switchToIdle()
	}
}

// rearbitrate runs, in priority order (ties broken by ascending event
// id), every currently pending event whose priority exceeds floor, until
// none remain. Each dispatched event's own runEventTasks call restores
// the priority to floor before returning, so this converges.
func (s *Scheduler) rearbitrate(floor uint8) {
	for {
		pending := s.events.Pending()
		best := -1
		var bestEv *event.Event
		for _, id := range pending {
			ev, ok := s.events.Get(id)
			if !ok || ev.Priority <= floor {
				continue
			}
			if bestEv == nil || ev.Priority > bestEv.Priority || (ev.Priority == bestEv.Priority && id < best) {
				best = id
				bestEv = ev
			}
		}
		if bestEv == nil {
			return
		}
		s.runEventTasks(bestEv)
	}
}

func mustProcess(t *process.Table, pid int) *process.Process {
	p, _ := t.Get(pid)
	return p
}

// runOneTask drives one task through PENDING->RUNNING->IDLE, sampling the
// timebase for the deadline check and recovering a *task.Fault panic into
// the exception handler's user-fault path.
func (s *Scheduler) runOneTask(t *task.Task, p *process.Process) {
	s.running = t
	s.switchProcess(p)
	t.SetState(task.Running)

	entry := s.pl.Timebase()
	ret := s.runEntrySafely(t, p)
	exit := s.pl.Timebase()
	actrecord.Record(userTaskKind, exit-entry)

	// A fault has already been charged by the exception handler, which
	// also left the task IDLE.
	faulted := t.State() != task.Running
	if !faulted {
		t.SetState(task.Idle)
	}

	if t.BudgetUs > 0 {
		if elapsed := exit - entry; elapsed > time.Duration(t.BudgetUs)*time.Microsecond {
			s.handler.HandleUserFault(t, &except.ExceptionError{Cause: process.CauseDeadline})
		}
	}
	if ret < 0 && !faulted {
		s.handler.HandleUserFault(t, &except.ExceptionError{Cause: process.CauseOther})
	}
	if s.diag != nil {
		s.diag.Load().RecordBusy(exit - entry)
		if scanner, ok := s.bus.(task.StackScanner); ok {
			if free, err := scanner.FreeBytes(p.StackRegion.Base, p.StackRegion.Size, diag.FillPattern); err == nil {
				s.diag.StackReserveFor(p.PID).Observe(free)
			}
		}
	}
}

// runEntrySafely invokes t.Entry, converting a *task.Fault panic into a
// call to the exception handler and returning a negative sentinel so the
// caller's normal bookkeeping (deadline, load) still runs. A fault
// belonging to the kernel process is never a recoverable user-task
// error — p.PID == process.KernelPID means this entry was an ISR or a
// kernel-context task, and the only sound response is to halt rather
// than idle the task and let the scheduler try to run it again.
func (s *Scheduler) runEntrySafely(t *task.Task, p *process.Process) (ret int32) {
	defer func() {
		if r := recover(); r != nil {
			fault, ok := r.(*task.Fault)
			if !ok {
				panic(r)
			}
			ee := &except.ExceptionError{Cause: fault.Cause, Addr: fault.Addr}
			if p.PID == process.KernelPID {
				s.handler.HandleKernelFault(s.pl, ee)
			} else {
				s.handler.HandleUserFault(t, ee)
			}
			ret = -1
		}
	}()
	ctx := &task.Context{Bus: s.bus, Arg: 0}
	return t.Entry(ctx)
}

// Suspend implements os_suspend_process / sys_suspend_process. Once the
// process table marks pid halted, any of its tasks not already idle is
// forced back to IDLE: a task left RUNNING or PENDING against a halted
// process would otherwise keep occupying its slot with no way to ever
// dispatch again.
func (s *Scheduler) Suspend(pid int, callerPID int) error {
	if err := s.processes.Suspend(pid, callerPID); err != nil {
		return err
	}
	for _, t := range s.tasks.All() {
		if t.PID == pid && t.State() != task.Idle {
			t.SetState(task.Idle)
		}
	}
	return nil
}

// CurrentPriority returns the priority of the currently running task (0
// if idle), for diagnostics and tests.
func (s *Scheduler) CurrentPriority() uint8 { return s.ic.Current() }

// Running returns the currently running task, or nil if idle.
func (s *Scheduler) Running() *task.Task { return s.running }
