package diag

import (
	"testing"
	"time"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/event"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

func TestStackReserveTracksMinimum(t *testing.T) {
	var sr StackReserve
	sr.Observe(512)
	sr.Observe(256)
	sr.Observe(400)
	if got := sr.Bytes(); got != 256 {
		t.Fatalf("expected lowest observed free bytes 256, got %d", got)
	}
}

func TestActivationLossUnknownEventIsZero(t *testing.T) {
	events := event.NewTable()
	procs := process.NewTable(pal.Region{})
	d := New(events, procs)
	if got := d.ActivationLoss(99); got != 0 {
		t.Fatalf("expected 0 for unknown event, got %d", got)
	}
}

func TestProcessErrorsMatchTable(t *testing.T) {
	events := event.NewTable()
	procs := process.NewTable(pal.Region{Name: "shared", Base: 0, Size: 0x10})
	p, _ := procs.Register(1, pal.Region{Name: "p1-stack", Base: 0x1000, Size: 0x100}, nil, process.Permissions{})
	p.RecordError(process.CauseDeadline)

	d := New(events, procs)
	if got := d.ProcessErrors(1, process.CauseDeadline); got != 1 {
		t.Fatalf("expected 1 deadline error, got %d", got)
	}
	if got := d.ProcessErrorsTotal(1); got != 1 {
		t.Fatalf("expected total 1, got %d", got)
	}
}

func TestLoadProbeAllBusyIsThousandPermille(t *testing.T) {
	lp := NewLoadProbe(10 * time.Millisecond)
	lp.RecordBusy(10 * time.Millisecond)
	if got := lp.Permille(); got != 1000 {
		t.Fatalf("expected 1000 permille for all-busy window, got %d", got)
	}
}

func TestLoadProbeAllIdleIsZeroPermille(t *testing.T) {
	lp := NewLoadProbe(10 * time.Millisecond)
	lp.RecordIdle(10 * time.Millisecond)
	if got := lp.Permille(); got != 0 {
		t.Fatalf("expected 0 permille for all-idle window, got %d", got)
	}
}
