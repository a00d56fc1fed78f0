package simpal

import (
	"testing"

	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

func TestConfigureRegionsDeniesUnlisted(t *testing.T) {
	p := New()
	shared := pal.Region{Name: "shared", Base: 0x1000, Size: 0x100, Writable: true}
	own := pal.Region{Name: "p1", Base: 0x2000, Size: 0x100, Writable: true}
	other := pal.Region{Name: "p2", Base: 0x3000, Size: 0x100, Writable: false}

	if err := p.ConfigureRegions([]pal.Region{own, shared, other}, false); err != nil {
		t.Fatalf("ConfigureRegions: %v", err)
	}

	if err := p.CheckWrite(own.Base, 4); err != nil {
		t.Errorf("write to own region should be allowed: %v", err)
	}
	if err := p.CheckWrite(shared.Base, 4); err != nil {
		t.Errorf("write to shared region should be allowed: %v", err)
	}
	if err := p.CheckWrite(other.Base, 1); err == nil {
		t.Errorf("write to foreign region should be denied")
	}
}

func TestUnrestrictedAllowsEverything(t *testing.T) {
	p := New()
	if err := p.ConfigureRegions(nil, true); err != nil {
		t.Fatalf("ConfigureRegions: %v", err)
	}
	if err := p.CheckWrite(0xdeadbeef, 4); err != nil {
		t.Errorf("unrestricted context should allow any write: %v", err)
	}
}

func TestBusWriteOutsideOwnedRegionDoesNotTouchMemory(t *testing.T) {
	p := New()
	p1 := pal.Region{Name: "p1", Base: 0x10000, Size: 0x1000, Writable: true}
	p2 := pal.Region{Name: "p2", Base: 0x20000, Size: 0x1000, Writable: false}

	bus, err := NewBus(p, []pal.Region{p1, p2})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()

	// Both regions readable for the baseline snapshot (simulates an
	// omniscient test harness, not any task's own MPU view).
	p2ReadableOnly := p2
	p2ReadableOnly.Writable = false
	if err := p.ConfigureRegions([]pal.Region{p1, p2ReadableOnly}, false); err != nil {
		t.Fatalf("ConfigureRegions: %v", err)
	}
	before := make([]byte, 1)
	if err := bus.Read(p2.Base, before); err != nil {
		t.Fatalf("baseline read of p2 failed: %v", err)
	}

	// Now simulate the MPU state while task tP1 is RUNNING: only p1 is
	// mapped at all.
	if err := p.ConfigureRegions([]pal.Region{p1}, false); err != nil {
		t.Fatalf("ConfigureRegions: %v", err)
	}
	if err := bus.Write(p2.Base, []byte{0xff}); err == nil {
		t.Fatalf("write into p2's region from p1's context should be denied")
	}

	// Switch back to the omniscient view and confirm nothing changed.
	if err := p.ConfigureRegions([]pal.Region{p1, p2ReadableOnly}, false); err != nil {
		t.Fatalf("ConfigureRegions: %v", err)
	}
	after := make([]byte, 1)
	if err := bus.Read(p2.Base, after); err != nil {
		t.Fatalf("read of p2 after denied write: %v", err)
	}
	if after[0] != before[0] {
		t.Fatalf("p2's memory changed despite denied write: before=%v after=%v", before, after)
	}
}

func TestDisableEnableExternalInterruptsRestoresState(t *testing.T) {
	p := New()
	was := p.DisableExternalInterrupts()
	if !was {
		t.Fatalf("expected interrupts to have been enabled before first disable")
	}
	was2 := p.DisableExternalInterrupts()
	if was2 {
		t.Fatalf("second disable should observe already-disabled state")
	}
	p.EnableExternalInterrupts(was)
	if p.irqsDisabled.Load() {
		t.Fatalf("interrupts should be re-enabled")
	}
}
