// Package kernel wires the scheduler, event/task/process tables,
// interrupt controller, syscall dispatcher, exception handler, priority-
// ceiling domain, and diagnostics surface into the single object a driver
// program talks to.
//
// Kernel plays the same role a top-level runtime-wiring struct does
// elsewhere: assembling independently testable components into one
// runtime handle exposed to the driver command, here cmd/rtossim.
package kernel

import (
	"errors"
	"fmt"

	"github.com/tinyrange/mpc5643l-rtos/internal/ic"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/ceiling"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/config"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/diag"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/event"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/except"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/scheduler"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/syscall"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal/simpal"
)

// Kernel is the fully wired runtime: every top-level kernel component,
// bound together and ready for start_kernel.
type Kernel struct {
	Events    *event.Table
	Tasks     *task.Table
	Processes *process.Table
	Syscalls  *syscall.Table
	IC        *ic.Controller
	Except    *except.Handler
	Ceiling   *ceiling.Domain
	Critical  *ceiling.Critical
	Diag      *diag.Diagnostics
	Scheduler *scheduler.Scheduler

	pal pal.PAL
	bus *simpal.Bus
}

// New assembles a Kernel from a built config.Builder and a software PAL
// backend. bus is the simulated RAM the scheduler's task contexts read
// and write through; its regions must match the process table's owned
// regions plus the shared region.
func New(b *config.Builder, pl *simpal.PAL, bus *simpal.Bus) *Kernel {
	events, tasks, processes, syscalls, controller := b.Tables()

	k := &Kernel{
		Events:    events,
		Tasks:     tasks,
		Processes: processes,
		Syscalls:  syscalls,
		IC:        controller,
		Ceiling:   ceiling.NewDomain(controller),
		Critical:  ceiling.NewCritical(pl),
		Diag:      diag.New(events, processes),
		pal:       pl,
		bus:       bus,
	}
	restart := func() {}
	k.Except = except.New(processes, tasks, pl.Halt, restart)
	k.Scheduler = scheduler.New(events, tasks, processes, k.Except, k.Diag, pl, bus, controller)

	for _, p := range processes.All() {
		_ = bus.FillPattern(p.StackRegion.Base, p.StackRegion.Size, diag.FillPattern)
	}

	return k
}

// Start runs every registered init task and then starts the scheduler.
// It returns a *config.ConfigError if an init task vetoes startup (a
// negative return value from an init task vetoes kernel startup).
func (k *Kernel) Start(b *config.Builder) error {
	if err := k.Scheduler.RunInitTasks(b.InitTasks()); err != nil {
		var veto *scheduler.ConfigVeto
		if errors.As(err, &veto) {
			return &config.ConfigError{Reason: config.ReasonInitTaskVeto, Detail: fmt.Sprintf("PID %d", veto.PID)}
		}
		return err
	}
	k.Scheduler.Start()
	return nil
}

// TickVector is the interrupt vector the system tick is registered at
// when a driver wires it through the interrupt controller (see
// Bindings.Tick / TickHandler); Dispatch, not Kernel.Tick, is the entry
// point that enforces the mask.
const TickVector = 0

// TickPriority is the configuration-time-chosen priority of the system
// tick interrupt; SIMPLE calls mask up to this level. A real deployment
// would take this from config.Builder; fixed here to the calibration
// sample's value until the builder grows a dedicated setter.
const TickPriority = 1

// Tick advances the kernel by one system tick. If a tick-vector handler
// has been registered on the interrupt controller (cmd/rtossim's demo
// scenario does this; config.LoadYAML's declarative path does not), the
// tick runs through IC.Dispatch like any other interrupt, so a task
// holding the tick priority or higher via AcquireCeiling correctly masks
// it. With no vector registered, Dispatch reports the vector unknown and
// Tick falls back to driving the scheduler directly, preserving the
// unmasked-tick behavior existing configurations rely on.
func (k *Kernel) Tick() {
	if _, err := k.IC.Dispatch(TickVector); err == nil {
		return
	}
	k.Scheduler.Tick()
}

// TriggerEvent implements os_trigger_event / sys_trigger_event.
func (k *Kernel) TriggerEvent(eventID, callerPID int, isISR bool) bool {
	return k.Scheduler.TriggerEvent(eventID, callerPID, isISR)
}

// Dispatch implements the user-context system-call trap entry point: it
// validates and runs the syscall under its conformance class's interrupt-
// masking rule, then folds any resulting fault into the exception
// handler via the owning task.
func (k *Kernel) Dispatch(callerPID int, t *task.Task, index int, args syscall.Args) (int64, error) {
	caller, ok := k.Processes.Get(callerPID)
	if !ok {
		return 0, fmt.Errorf("kernel: dispatch from unknown PID %d", callerPID)
	}

	ret, err, cause, abort := k.Syscalls.Dispatch(caller, index, args, k.around)
	if abort {
		ee := &except.ExceptionError{Cause: cause, Message: err.Error()}
		if callerPID == process.KernelPID {
			k.Except.HandleKernelFault(k.pal, ee)
		} else {
			k.Except.HandleUserFault(t, ee)
		}
		return 0, err
	}
	return ret, err
}

// around enforces each conformance class's interrupt-masking rule around
// one syscall body's execution.
func (k *Kernel) around(class syscall.Class, body func() (int64, error)) (int64, error) {
	switch class {
	case syscall.Basic:
		g := k.Critical.DisableAll()
		defer g.Release()
		return body()
	case syscall.Simple:
		g := k.Ceiling.AcquireCeiling(TickPriority)
		defer g.Release()
		return body()
	case syscall.Full:
		return body()
	default:
		return body()
	}
}
