// Package config implements the configuration-time API: create_event,
// register_task, register_init_task, register_interrupt_handler, and
// start_kernel, plus a discriminated ConfigError identifying which check
// failed.
//
// Builder follows the collect-then-freeze shape of an incremental
// device/capability builder: values are registered one at a time,
// validated, then frozen (Build) into the immutable runtime structures —
// here generalized to "register events, tasks, processes, and interrupt
// handlers at a time".
package config

import (
	"fmt"

	"github.com/tinyrange/mpc5643l-rtos/internal/ic"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/event"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/syscall"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// Reason discriminates why start_kernel rejected a configuration.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDuplicateEventID
	ReasonPriorityOutOfRange
	ReasonOverlappingRegions
	ReasonUnassignedTaskSlot
	ReasonDuplicateVector
	ReasonDuplicatePID
	ReasonUnknownEvent
	ReasonUnknownPID
	ReasonInitTaskVeto
)

func (r Reason) String() string {
	names := [...]string{
		"none", "duplicate-event-id", "priority-out-of-range",
		"overlapping-regions", "unassigned-task-slot", "duplicate-vector",
		"duplicate-pid", "unknown-event", "unknown-pid", "init-task-veto",
	}
	if int(r) < 0 || int(r) >= len(names) {
		return "unknown"
	}
	return names[r]
}

// ConfigError is the discriminated error start_kernel returns when a
// configuration check fails.
type ConfigError struct {
	Reason Reason
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Reason, e.Detail)
}

// Builder accumulates a kernel configuration before Build freezes it.
type Builder struct {
	events    *event.Table
	tasks     *task.Table
	processes *process.Table
	syscalls  *syscall.Table
	ic        *ic.Controller

	initTasks []*task.Task
	built     bool
}

// NewBuilder returns a Builder with ns syscall slots and the given shared
// memory region.
func NewBuilder(ns int, shared pal.Region) (*Builder, error) {
	tbl, err := syscall.NewTable(ns)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Builder{
		events:    event.NewTable(),
		tasks:     task.NewTable(),
		processes: process.NewTable(shared),
		syscalls:  tbl,
		ic:        ic.New(),
	}, nil
}

// CreateEvent implements create_event.
func (b *Builder) CreateEvent(periodTicks, firstOffsetTicks uint32, priority uint8, minPrivilege int) (int, error) {
	if priority == 0 || priority > 127 {
		return 0, &ConfigError{Reason: ReasonPriorityOutOfRange, Detail: fmt.Sprintf("priority %d", priority)}
	}
	id, err := b.events.Create(periodTicks, firstOffsetTicks, priority, minPrivilege)
	if err != nil {
		return 0, &ConfigError{Reason: ReasonDuplicateEventID, Detail: err.Error()}
	}
	return id, nil
}

// DeclareTaskSlots fixes the number of task slots an event may have; a
// registration beyond this returns ReasonUnassignedTaskSlot.
func (b *Builder) DeclareTaskSlots(eventID, slots int) {
	b.tasks.SetMaxSlots(eventID, slots)
}

// RegisterProcess declares PID's memory regions and permissions.
func (b *Builder) RegisterProcess(pid int, stack pal.Region, regions []pal.Region, perms process.Permissions) error {
	if _, err := b.processes.Register(pid, stack, regions, perms); err != nil {
		return &ConfigError{Reason: ReasonOverlappingRegions, Detail: err.Error()}
	}
	return nil
}

// RegisterTask implements register_task.
func (b *Builder) RegisterTask(eventID, pid int, entry task.Entry, maxBudgetUs uint32) error {
	if _, ok := b.events.Get(eventID); !ok {
		return &ConfigError{Reason: ReasonUnknownEvent, Detail: fmt.Sprintf("event %d", eventID)}
	}
	if _, ok := b.processes.Get(pid); !ok {
		return &ConfigError{Reason: ReasonUnknownPID, Detail: fmt.Sprintf("PID %d", pid)}
	}
	if _, err := b.tasks.Register(eventID, pid, entry, maxBudgetUs); err != nil {
		return &ConfigError{Reason: ReasonUnassignedTaskSlot, Detail: err.Error()}
	}
	return nil
}

// RegisterInitTask implements register_init_task: entry runs once, in
// pid's memory view, before the scheduler starts. A negative return value
// vetoes kernel startup.
func (b *Builder) RegisterInitTask(pid int, entry task.Entry) error {
	if b.built {
		return &ConfigError{Reason: ReasonNone, Detail: "RegisterInitTask called after Build"}
	}
	if _, ok := b.processes.Get(pid); !ok {
		return &ConfigError{Reason: ReasonUnknownPID, Detail: fmt.Sprintf("PID %d", pid)}
	}
	b.initTasks = append(b.initTasks, &task.Task{PID: pid, Entry: entry, EventID: -1})
	return nil
}

// RegisterInterruptHandler implements register_interrupt_handler.
func (b *Builder) RegisterInterruptHandler(vector int, hwPrio uint8, preemptable bool, handler ic.Handler) error {
	if err := b.ic.RegisterInterruptHandler(vector, hwPrio, preemptable, handler); err != nil {
		return &ConfigError{Reason: ReasonDuplicateVector, Detail: err.Error()}
	}
	return nil
}

// RegisterSyscall binds a handler at index under the given conformance
// class.
func (b *Builder) RegisterSyscall(index int, class syscall.Class, handler syscall.Handler) error {
	if err := b.syscalls.Register(index, class, handler); err != nil {
		return &ConfigError{Reason: ReasonUnassignedTaskSlot, Detail: err.Error()}
	}
	return nil
}

// Tables returns the builder's tables for wiring into a kernel.Kernel. It
// may be called before Build; the tables are frozen only once Build runs.
func (b *Builder) Tables() (*event.Table, *task.Table, *process.Table, *syscall.Table, *ic.Controller) {
	return b.events, b.tasks, b.processes, b.syscalls, b.ic
}

// InitTasks returns the declared init tasks in registration order, ready
// to hand to scheduler.Scheduler.RunInitTasks.
func (b *Builder) InitTasks() []*task.Task {
	return append([]*task.Task(nil), b.initTasks...)
}

// Build freezes every table. After Build, no further configuration calls
// may succeed; Build may be called only once.
func (b *Builder) Build() error {
	if b.built {
		return &ConfigError{Reason: ReasonNone, Detail: "Build called twice"}
	}
	b.events.Lock()
	b.tasks.Lock()
	b.processes.Lock()
	b.syscalls.Lock()
	b.ic.Lock()
	b.built = true
	return nil
}
