package kernel

import (
	"testing"

	"github.com/tinyrange/mpc5643l-rtos/internal/ic"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/config"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/syscall"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal/simpal"
)

const (
	triggerIdx = 1
	suspendIdx = 2
	maskIdx    = 3
	restoreIdx = 4
)

// newKernelWithHelpers is newKernel's shape (kernel_test.go) widened to 5
// syscall slots, since the 4 slots there (task_exit at fixed index 0)
// leave no room for all four Helpers at indices 1..4.
func newKernelWithHelpers(t *testing.T, configure func(b *config.Builder, icc *ic.Controller) error) (*Kernel, *config.Builder, *Bindings) {
	t.Helper()
	bindings := NewBindings()

	shared := pal.Region{Name: "shared", Base: 0, Size: 0x40}
	kstack := pal.Region{Name: "kstack", Base: 0xF000, Size: 0x100}
	p1stack := pal.Region{Name: "p1-stack", Base: 0x1000, Size: 0x100}

	b, err := config.NewBuilder(5, shared)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.RegisterProcess(process.KernelPID, kstack, nil, process.Permissions{}); err != nil {
		t.Fatalf("RegisterProcess(kernel): %v", err)
	}
	if err := b.RegisterProcess(1, p1stack, nil, process.Permissions{}); err != nil {
		t.Fatalf("RegisterProcess(1): %v", err)
	}

	_, _, _, _, icc := b.Tables()
	if err := b.RegisterSyscall(triggerIdx, syscall.Full, TriggerEventHandler(bindings)); err != nil {
		t.Fatalf("RegisterSyscall(trigger): %v", err)
	}
	if err := b.RegisterSyscall(suspendIdx, syscall.Full, SuspendProcessHandler(bindings)); err != nil {
		t.Fatalf("RegisterSyscall(suspend): %v", err)
	}
	if err := b.RegisterSyscall(maskIdx, syscall.Basic, MaskToPriorityHandler(icc)); err != nil {
		t.Fatalf("RegisterSyscall(mask): %v", err)
	}
	if err := b.RegisterSyscall(restoreIdx, syscall.Basic, RestorePriorityHandler(icc)); err != nil {
		t.Fatalf("RegisterSyscall(restore): %v", err)
	}
	if configure != nil {
		if err := configure(b, icc); err != nil {
			t.Fatalf("configure: %v", err)
		}
	}
	if err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	pl := simpal.New()
	bus, err := simpal.NewBus(pl, []pal.Region{shared, kstack, p1stack})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	return New(b, pl, bus), b, bindings
}

func TestSysTriggerEventAcceptsThenLosesSecondActivation(t *testing.T) {
	var eventID int
	var k *Kernel

	k, b, bindings := newKernelWithHelpers(t, func(b *config.Builder, _ *ic.Controller) error {
		id, err := b.CreateEvent(0, 0, 1, 1)
		if err != nil {
			return err
		}
		eventID = id
		b.DeclareTaskSlots(id, 1)
		// The event's own task re-triggers it via sys_trigger_event. By
		// the time this entry runs, runEventTasks has already raised the
		// scheduler's current priority to the event's priority and has
		// not yet cleared its pending flag (that happens only after every
		// bound task returns), so this inner activation is lost and
		// counted rather than accepted or re-run.
		return b.RegisterTask(id, 1, func(*task.Context) int32 {
			k.Dispatch(1, &task.Task{PID: 1}, triggerIdx, syscall.Args{int64(eventID)})
			return 0
		}, 0)
	})

	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	k.Bind(bindings)

	caller := &task.Task{PID: 1}
	ret, err := k.Dispatch(1, caller, triggerIdx, syscall.Args{int64(eventID)})
	if err != nil {
		t.Fatalf("sys_trigger_event: %v", err)
	}
	if ret != 1 {
		t.Fatalf("expected the outer trigger to be accepted, got %d", ret)
	}

	ev, _ := k.Events.Get(eventID)
	if ev.ActivationLoss() != 1 {
		t.Fatalf("expected the recursive trigger to be lost, got activation loss %d", ev.ActivationLoss())
	}
}

func TestSysSuspendProcessRejectsUnprivilegedCaller(t *testing.T) {
	k, b, bindings := newKernelWithHelpers(t, nil)
	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	k.Bind(bindings)

	caller := &task.Task{PID: 1}
	_, err := k.Dispatch(1, caller, suspendIdx, syscall.Args{1})
	if err == nil {
		t.Fatalf("expected sys_suspend_process to abort an unprivileged caller")
	}
	p, _ := k.Processes.Get(1)
	if p.Errors(process.CauseBadSystemCallArgument) != 1 {
		t.Fatalf("expected 1 BAD_SYSTEM_CALL_ARGUMENT, got %d", p.Errors(process.CauseBadSystemCallArgument))
	}
}

func TestSysSuspendProcessSucceedsFromKernel(t *testing.T) {
	k, b, bindings := newKernelWithHelpers(t, nil)
	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	k.Bind(bindings)

	kernelTask := &task.Task{PID: process.KernelPID}
	if _, err := k.Dispatch(process.KernelPID, kernelTask, suspendIdx, syscall.Args{1}); err != nil {
		t.Fatalf("sys_suspend_process from kernel: %v", err)
	}
	p, _ := k.Processes.Get(1)
	if !p.Halted() {
		t.Fatalf("expected process 1 halted")
	}
}

func TestSysMaskAndRestorePriorityRoundTrip(t *testing.T) {
	k, b, bindings := newKernelWithHelpers(t, nil)
	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	k.Bind(bindings)

	caller := &task.Task{PID: 1}
	before := k.IC.Current()

	ret, err := k.Dispatch(1, caller, maskIdx, syscall.Args{5})
	if err != nil {
		t.Fatalf("sys_mask_to_priority: %v", err)
	}
	if k.IC.Current() != 5 {
		t.Fatalf("expected current priority 5 after mask, got %d", k.IC.Current())
	}

	if _, err := k.Dispatch(1, caller, restoreIdx, syscall.Args{ret}); err != nil {
		t.Fatalf("sys_restore_priority: %v", err)
	}
	if k.IC.Current() != before {
		t.Fatalf("expected current priority restored to %d, got %d", before, k.IC.Current())
	}
}

func TestSysRestorePriorityRejectsRaisingAboveCurrent(t *testing.T) {
	k, b, bindings := newKernelWithHelpers(t, nil)
	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	k.Bind(bindings)

	caller := &task.Task{PID: 1}
	if _, err := k.Dispatch(1, caller, restoreIdx, syscall.Args{10}); err == nil {
		t.Fatalf("expected sys_restore_priority to reject restoring above the current priority")
	}
}
