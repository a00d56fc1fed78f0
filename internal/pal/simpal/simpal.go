// Package simpal is the only pal.PAL implementation in this repository: a
// deterministic, host-process software simulation of the privileged
// operations a real MPC5643L-class target would provide. It backs
// cmd/rtossim and every kernel test.
//
// simpal backs each region with real host memory from
// golang.org/x/sys/unix Mmap, mapped read-write. A simulated memory-
// protection violation is caught by consulting the currently active
// region table before any byte is touched, never by catching a host
// SIGSEGV; the host page protection is not changed.
package simpal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// PAL is the simulated platform. The zero value is not usable; use New.
type PAL struct {
	boot time.Time

	mu            sync.RWMutex
	active        []pal.Region
	unrestricted  bool
	irqsDisabled  atomic.Bool
	haltRequested atomic.Bool
}

// New returns a PAL whose Timebase starts counting from this call.
func New() *PAL {
	return &PAL{boot: time.Now()}
}

// Timebase implements pal.PAL.
func (p *PAL) Timebase() time.Duration {
	return time.Since(p.boot)
}

// ConfigureRegions implements pal.PAL.
func (p *PAL) ConfigureRegions(regions []pal.Region, unrestricted bool) error {
	cp := append([]pal.Region(nil), regions...)
	p.mu.Lock()
	p.active = cp
	p.unrestricted = unrestricted
	p.mu.Unlock()
	return nil
}

// DisableExternalInterrupts implements pal.PAL.
func (p *PAL) DisableExternalInterrupts() bool {
	return !p.irqsDisabled.Swap(true)
}

// EnableExternalInterrupts implements pal.PAL.
func (p *PAL) EnableExternalInterrupts(wasEnabled bool) {
	if wasEnabled {
		p.irqsDisabled.Store(false)
	}
}

// Halt implements pal.PAL. It never returns.
func (p *PAL) Halt() {
	p.haltRequested.Store(true)
	select {}
}

// Halted reports whether Halt has been called; exposed for tests that
// cannot safely invoke Halt itself since it never returns.
func (p *PAL) Halted() bool {
	return p.haltRequested.Load()
}

// checkAccess reports whether addr..addr+size is permitted under the
// currently configured regions. write distinguishes a write check (must
// match a writable region) from a read check (any region, or unrestricted,
// permits reading).
func (p *PAL) checkAccess(addr uintptr, size uintptr, write bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.unrestricted {
		return nil
	}
	want := pal.Region{Base: addr, Size: size}
	for _, r := range p.active {
		if !want.Overlaps(r) {
			continue
		}
		// A valid access must be wholly contained in a single region.
		if want.Base < r.Base || want.End() > r.End() {
			continue
		}
		if write && !r.Writable {
			continue
		}
		return nil
	}
	if write {
		return fmt.Errorf("simpal: write to 0x%x..0x%x denied by MPU", addr, addr+size)
	}
	return fmt.Errorf("simpal: read of 0x%x..0x%x denied by MPU", addr, addr+size)
}

// CheckWrite reports whether a size-byte write at addr is currently
// permitted, without performing it. Used by Bus.Write.
func (p *PAL) CheckWrite(addr uintptr, size uintptr) error {
	return p.checkAccess(addr, size, true)
}

// CheckRead reports whether a size-byte read at addr is currently
// permitted, without performing it.
func (p *PAL) CheckRead(addr uintptr, size uintptr) error {
	return p.checkAccess(addr, size, false)
}

var _ pal.PAL = (*PAL)(nil)
