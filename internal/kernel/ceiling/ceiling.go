// Package ceiling implements three disjoint protection domains: the
// priority-ceiling protocol between tasks, mask-to-priority between tasks
// and ISRs, and a hardware-interrupt-disable critical section used inside
// the kernel only.
//
// The task-ceiling and mask-to-priority domains both hand out a *Guard,
// through separate entry points; the kernel-only critical section has its
// own guard type. The release-tied-to-scope-exit
// guard replaces an open-brace/close-brace macro pair with a value whose
// Release method runs the matching close, in the spirit of a
// lifecycle-triple helper applied to one acquire/release pair.
package ceiling

import (
	"fmt"

	"github.com/tinyrange/mpc5643l-rtos/internal/ic"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// Domain is the priority-ceiling protocol between tasks, nestable.
// AcquireCeiling raises the interrupt controller's current-priority
// register to level (only if currently lower) and returns a Guard whose
// Release restores the saved value.
type Domain struct {
	ic *ic.Controller
}

// NewDomain binds a Domain to the interrupt controller whose
// current-priority register it shares with ISR dispatch.
func NewDomain(c *ic.Controller) *Domain {
	return &Domain{ic: c}
}

// Guard is returned by AcquireCeiling and MaskToPriority. Release restores
// the priority saved at acquisition; calling it more than once is a
// programming error and returns an error rather than corrupting the
// register.
type Guard struct {
	ic       *ic.Controller
	saved    uint8
	released bool
}

// AcquireCeiling implements acquire_ceiling(level). The ceiling for a
// shared datum is the maximum priority of all tasks that touch it; if
// the caller already holds that priority, this is a no-op that still
// returns a valid Guard.
func (d *Domain) AcquireCeiling(level uint8) *Guard {
	return &Guard{ic: d.ic, saved: d.ic.RaisePriority(level)}
}

// Release restores the current-priority register to the value saved at
// acquisition. Nested acquire/release is allowed and must be balanced; on
// a balanced sequence the current priority returns exactly to the value
// before the outermost acquire.
func (g *Guard) Release() error {
	if g.released {
		return fmt.Errorf("ceiling: guard already released")
	}
	g.released = true
	return g.ic.LowerPriority(g.saved)
}

// MaskToPriority implements the nestable task/ISR domain: os_mask_to_priority(n).
// Internally it is the same current-priority register as the ceiling
// domain, since interrupts and the ceiling protocol share one hardware
// register; it is kept as a distinct entry point so callers state which
// domain's invariant they rely on.
func MaskToPriority(c *ic.Controller, n uint8) *Guard {
	return &Guard{ic: c, saved: c.RaisePriority(n)}
}

// Critical is the hardest lock: disables all external interrupts. Used
// inside the kernel only, and is non-nestable — a second DisableAll while
// already disabled is a programming error.
type Critical struct {
	p pal.PAL
}

// NewCritical binds a Critical section helper to the platform.
func NewCritical(p pal.PAL) *Critical {
	return &Critical{p: p}
}

// CriticalGuard is returned by DisableAll.
type CriticalGuard struct {
	p        pal.PAL
	wasOn    bool
	released bool
}

// DisableAll implements os_enter_critical / disable_interrupts.
func (c *Critical) DisableAll() *CriticalGuard {
	return &CriticalGuard{p: c.p, wasOn: c.p.DisableExternalInterrupts()}
}

// Release implements os_leave_critical / enable_interrupts.
func (g *CriticalGuard) Release() error {
	if g.released {
		return fmt.Errorf("ceiling: critical guard already released")
	}
	g.released = true
	g.p.EnableExternalInterrupts(g.wasOn)
	return nil
}
