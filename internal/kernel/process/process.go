// Package process implements the configuration-time process table:
// memory regions, permission bits, the halted flag, and per-(process,
// cause) error counters.
//
// Region disjointness is checked with the same pairwise overlap
// arithmetic an address-space's fixed-window registration would use,
// generalized from "one address space, many fixed MMIO windows" to "N
// process address spaces plus one shared window".
package process

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// Cause enumerates the per-process error counters.
type Cause int

const (
	CauseDeadline Cause = iota
	CauseIllegalInstruction
	CausePrivilegedInstruction
	CauseMemoryAccess
	CauseMisaligned
	CauseDivideByZero
	CauseFPU
	CauseBadSystemCall
	CauseBadSystemCallArgument
	CauseUserAbort
	CauseReturnedFromTask
	CauseOther

	causeCount
)

func (c Cause) String() string {
	names := [...]string{
		"DEADLINE", "ILLEGAL_INSTRUCTION", "PRIVILEGED_INSTRUCTION",
		"MEMORY_ACCESS", "MISALIGNED", "DIVIDE_BY_ZERO", "FPU",
		"BAD_SYSTEM_CALL", "BAD_SYSTEM_CALL_ARGUMENT", "USER_ABORT",
		"RETURNED_FROM_TASK", "OTHER",
	}
	if int(c) < 0 || int(c) >= len(names) {
		return "UNKNOWN"
	}
	return names[c]
}

// Permissions are the capability bits carried by a process.
type Permissions struct {
	IOAccess        bool // read/write I/O registers
	SupervisorWrite bool // write supervisor registers / invoke privileged APIs
	MaySuspendOther bool // may call suspend_process on another PID
}

// KernelPID is the reserved identity of the kernel process, which has
// unrestricted memory and I/O access.
const KernelPID = 0

// Process is one memory-isolation domain.
type Process struct {
	PID         int
	StackRegion pal.Region
	Regions     []pal.Region // owned regions, not including the shared region
	Perms       Permissions

	shared pal.Region // the table's shared region, reachable by every process
	halted atomic.Bool
	errs   [causeCount]atomic.Uint32
	total  atomic.Uint32
}

// Halted reports whether the process has been permanently suspended.
func (p *Process) Halted() bool { return p.halted.Load() }

// RecordError increments cause's per-process counter and the process
// total, saturating at MaxUint32. The exception handler is the sole
// writer of these counters; no other caller should touch them.
func (p *Process) RecordError(cause Cause) {
	if cause < 0 || cause >= causeCount {
		cause = CauseOther
	}
	saturatingIncrement(&p.errs[cause])
	saturatingIncrement(&p.total)
}

func saturatingIncrement(c *atomic.Uint32) {
	for {
		v := c.Load()
		if v == ^uint32(0) {
			return
		}
		if c.CompareAndSwap(v, v+1) {
			return
		}
	}
}

// Errors returns the saturating count for cause.
func (p *Process) Errors(cause Cause) uint32 {
	if cause < 0 || cause >= causeCount {
		return 0
	}
	return p.errs[cause].Load()
}

// ErrorsTotal returns the sum over all causes.
func (p *Process) ErrorsTotal() uint32 { return p.total.Load() }

// isUserAccessible reports whether addr..addr+size falls wholly within one
// of p's owned regions or the shared region, honoring write when a write
// is requested. The kernel process is unrestricted. It backs system-call
// argument validation (is_user_readable/is_user_writable) and checks the
// same region set (owned plus shared) that MPURegions exports to the PAL.
func (p *Process) isUserAccessible(addr, size uintptr, write bool) bool {
	if p.PID == KernelPID {
		return true
	}
	want := pal.Region{Base: addr, Size: size}
	for _, r := range p.Regions {
		if r.Base <= want.Base && want.End() <= r.End() {
			if write && !r.Writable {
				continue
			}
			return true
		}
	}
	if p.shared.Size > 0 && p.shared.Base <= want.Base && want.End() <= p.shared.End() {
		return !write || p.shared.Writable
	}
	return false
}

// IsUserReadable implements the is_user_readable helper.
func (p *Process) IsUserReadable(addr, size uintptr) bool {
	return p.isUserAccessible(addr, size, false)
}

// IsUserWritable implements the is_user_writable helper.
func (p *Process) IsUserWritable(addr, size uintptr) bool {
	return p.isUserAccessible(addr, size, true)
}

// MPURegions returns the region list the PAL should program for this
// process: its owned regions plus the shared region. The kernel process
// (PID 0) gets the same list; its unrestricted access does not come from
// this list.
func (p *Process) MPURegions(shared pal.Region) []pal.Region {
	regions := append([]pal.Region(nil), p.Regions...)
	regions = append(regions, shared)
	return regions
}

// Table is the configuration-time process table, PID 0..NP.
type Table struct {
	mu      sync.Mutex
	byPID   map[int]*Process
	shared  pal.Region
	locked  bool
}

// NewTable returns a process table with the given shared region, writable
// by all processes: one well-known region every process may reach.
func NewTable(shared pal.Region) *Table {
	shared.Writable = true
	return &Table{byPID: make(map[int]*Process), shared: shared}
}

// Shared returns the shared region.
func (t *Table) Shared() pal.Region { return t.shared }

// Register declares PID's stack and owned regions, checking pairwise
// disjointness against every already-registered process (and against the
// shared region) before accepting them. The kernel process is exempt from
// both checks, on either side of a comparison.
func (t *Table) Register(pid int, stack pal.Region, regions []pal.Region, perms Permissions) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.locked {
		return nil, fmt.Errorf("process: cannot register PID %d after the table is locked", pid)
	}
	if _, exists := t.byPID[pid]; exists {
		return nil, fmt.Errorf("process: PID %d already registered", pid)
	}

	candidates := append([]pal.Region{stack}, regions...)
	if pid != KernelPID {
		for _, c := range candidates {
			if c.Overlaps(t.shared) {
				return nil, fmt.Errorf("process: PID %d region %q overlaps the shared region", pid, c.Name)
			}
		}
	}
	for other, op := range t.byPID {
		if other == KernelPID || pid == KernelPID {
			continue
		}
		for _, c := range candidates {
			for _, existing := range append([]pal.Region{op.StackRegion}, op.Regions...) {
				if c.Overlaps(existing) {
					return nil, fmt.Errorf("process: PID %d region %q overlaps PID %d region %q", pid, c.Name, other, existing.Name)
				}
			}
		}
	}

	p := &Process{PID: pid, StackRegion: stack, Regions: regions, Perms: perms, shared: t.shared}
	t.byPID[pid] = p
	return p, nil
}

// Lock freezes the table.
func (t *Table) Lock() {
	t.mu.Lock()
	t.locked = true
	t.mu.Unlock()
}

// Get returns the process with the given PID.
func (t *Table) Get(pid int) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPID[pid]
	return p, ok
}

// All returns every registered process in ascending PID order; used by
// diagnostics setup (priming each process's stack fill pattern) and by
// anything that needs to sweep every process rather than look one up by
// PID.
func (t *Table) All() []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()

	pids := make([]int, 0, len(t.byPID))
	for pid := range t.byPID {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	all := make([]*Process, 0, len(pids))
	for _, pid := range pids {
		all = append(all, t.byPID[pid])
	}
	return all
}

// Suspend halts pid: no task of that process may enter RUNNING again.
// Calling it twice is equivalent to calling it once. Returns an error if
// the caller lacks permission, unless callerPID is the kernel (callerPID
// == KernelPID always permitted).
func (t *Table) Suspend(pid int, callerPID int) error {
	if callerPID != KernelPID {
		caller, ok := t.Get(callerPID)
		if !ok || !caller.Perms.MaySuspendOther {
			return fmt.Errorf("process: PID %d is not permitted to suspend other processes", callerPID)
		}
	}
	p, ok := t.Get(pid)
	if !ok {
		return fmt.Errorf("process: unknown PID %d", pid)
	}
	p.halted.Store(true)
	return nil
}
