package kernel

import (
	"testing"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/config"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal/simpal"
)

func newKernel(t *testing.T, configure func(b *config.Builder) error) (*Kernel, *config.Builder) {
	t.Helper()

	shared := pal.Region{Name: "shared", Base: 0, Size: 0x40}
	kstack := pal.Region{Name: "kstack", Base: 0xF000, Size: 0x100}
	p1stack := pal.Region{Name: "p1-stack", Base: 0x1000, Size: 0x100}

	b, err := config.NewBuilder(4, shared)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.RegisterProcess(process.KernelPID, kstack, nil, process.Permissions{}); err != nil {
		t.Fatalf("RegisterProcess(kernel): %v", err)
	}
	if err := b.RegisterProcess(1, p1stack, nil, process.Permissions{}); err != nil {
		t.Fatalf("RegisterProcess(1): %v", err)
	}
	if configure != nil {
		if err := configure(b); err != nil {
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

	return New(b, pl, bus), b
}

func TestStartRunsInitTaskOnceBeforeScheduling(t *testing.T) {
	runs := 0
	k, b := newKernel(t, func(b *config.Builder) error {
		return b.RegisterInitTask(1, func(*task.Context) int32 { runs++; return 0 })
	})

	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected init task to run exactly once, got %d", runs)
	}
}

func TestStartVetoedByNegativeInitTaskReturn(t *testing.T) {
	k, b := newKernel(t, func(b *config.Builder) error {
		return b.RegisterInitTask(1, func(*task.Context) int32 { return -1 })
	})

	err := k.Start(b)
	if err == nil {
		t.Fatalf("expected Start to fail when an init task vetoes startup")
	}
	ce, ok := err.(*config.ConfigError)
	if !ok {
		t.Fatalf("expected *config.ConfigError, got %T: %v", err, err)
	}
	if ce.Reason != config.ReasonInitTaskVeto {
		t.Fatalf("expected ReasonInitTaskVeto, got %v", ce.Reason)
	}
}

func TestTickRunsDueEventTasks(t *testing.T) {
	var eventID int
	runs := 0
	k, b := newKernel(t, func(b *config.Builder) error {
		id, err := b.CreateEvent(1, 0, 2, 0)
		if err != nil {
			return err
		}
		eventID = id
		b.DeclareTaskSlots(id, 1)
		return b.RegisterTask(id, 1, func(*task.Context) int32 { runs++; return 0 }, 0)
	})
	_ = eventID

	if err := k.Start(b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	k.Tick()
	if runs != 1 {
		t.Fatalf("expected 1 run after the first tick, got %d", runs)
	}
}
