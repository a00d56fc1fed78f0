// Package pal defines the Platform Abstraction Layer: the narrow set of
// privileged operations the kernel needs from the CPU and board that this
// repository does not itself implement. A real target (e.g. the MPC5643L's
// e200z4 core and its MPU) plugs in a PAL implementation; internal/pal/simpal
// is the only implementation shipped here, used by the simulator and by
// every test in this repository.
//
// Every PAL method is a trusted I/O and platform glue capability: the
// kernel calls through this interface and never reaches for a raw
// register address itself, keeping the kernel-logic packages separate
// from any per-backend hardware bindings.
package pal

import "time"

// Region describes one memory window the MPU should grant or deny write
// access to for a given process context.
type Region struct {
	Name     string
	Base     uintptr
	Size     uintptr
	Writable bool
}

// End returns the exclusive upper bound of the region.
func (r Region) End() uintptr { return r.Base + r.Size }

// Overlaps reports whether r and other share any byte.
func (r Region) Overlaps(other Region) bool {
	return r.Base < other.End() && other.Base < r.End()
}

// PAL is the platform abstraction the kernel is built against. All methods
// must be safe to call with external interrupts enabled unless documented
// otherwise; the kernel itself is responsible for any critical section a
// given call requires.
type PAL interface {
	// Timebase returns a free-running, monotonically increasing counter in
	// the implementation's native units. It never wraps within the
	// lifetime of one kernel run on the target.
	Timebase() time.Duration

	// ConfigureRegions programs the MPU so that only the regions listed
	// (plus whatever the implementation treats as the shared region) are
	// writable by the process about to run, and all other RAM is read-only.
	// unrestricted, when true, removes all protection (used for the
	// kernel process, PID 0).
	ConfigureRegions(regions []Region, unrestricted bool) error

	// DisableExternalInterrupts masks all external interrupt sources and
	// returns whether they were enabled beforehand, for EnableExternalInterrupts
	// to restore. Non-nestable: callers must use the kernel's own critical
	// section primitive (internal/kernel/ceiling) to nest safely.
	DisableExternalInterrupts() (wasEnabled bool)

	// EnableExternalInterrupts unmasks external interrupt sources if
	// wasEnabled is true; otherwise it is a no-op.
	EnableExternalInterrupts(wasEnabled bool)

	// Halt stops the processor in an unrecoverable state: interrupts
	// disabled, no further instructions executed. Used only by the
	// exception handler on an unrecoverable kernel/ISR fault.
	Halt()
}
