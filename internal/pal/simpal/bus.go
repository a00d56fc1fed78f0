package simpal

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// Bus is simulated physical RAM: one real, separately mmap'd page range per
// declared region, addressed by the same pal.Region.Base values the
// kernel's process table uses. A task that wants to touch "memory" goes
// through Read/Write rather than a Go pointer, which is what lets a
// misbehaving simulated task corrupt only its own region even though it is
// ordinary (memory-safe) Go code: the address space it can name is the
// Bus's, not the host process's.
type Bus struct {
	pal    *PAL
	arenas []arena
}

type arena struct {
	region pal.Region
	pages  []byte
}

// NewBus allocates one mmap'd, read-write arena per region and binds the
// result to pal for access checking. NewBus rounds each region's
// reservation up to the host page size; the arenas stay read-write, and
// access is narrowed only by pal's region check.
func NewBus(p *PAL, regions []pal.Region) (*Bus, error) {
	b := &Bus{pal: p}
	pageSize := unix.Getpagesize()
	for _, r := range regions {
		sz := int(r.Size)
		if rem := sz % pageSize; rem != 0 {
			sz += pageSize - rem
		}
		pages, err := unix.Mmap(-1, 0, sz, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("simpal: mmap region %q: %w", r.Name, err)
		}
		b.arenas = append(b.arenas, arena{region: r, pages: pages})
	}
	sort.Slice(b.arenas, func(i, j int) bool { return b.arenas[i].region.Base < b.arenas[j].region.Base })
	return b, nil
}

// Close unmaps every arena. Safe to call on a partially constructed Bus.
func (b *Bus) Close() error {
	var firstErr error
	for _, a := range b.arenas {
		if err := unix.Munmap(a.pages); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("simpal: munmap region %q: %w", a.region.Name, err)
		}
	}
	b.arenas = nil
	return firstErr
}

func (b *Bus) find(addr uintptr, size uintptr) (arena, bool) {
	for _, a := range b.arenas {
		if addr >= a.region.Base && addr+size <= a.region.End() {
			return a, true
		}
	}
	return arena{}, false
}

// Write checks the address against the PAL's currently active MPU
// configuration and, only if permitted, copies data into backing memory.
// The check-then-act ordering is the point: an illegal store never
// reaches memory — the exception handler aborts the faulting task before
// any byte changes.
func (b *Bus) Write(addr uintptr, data []byte) error {
	if err := b.pal.CheckWrite(addr, uintptr(len(data))); err != nil {
		return err
	}
	a, ok := b.find(addr, uintptr(len(data)))
	if !ok {
		return fmt.Errorf("simpal: write to unmapped address 0x%x", addr)
	}
	copy(a.pages[addr-a.region.Base:], data)
	return nil
}

// Read checks the address against the PAL's currently active MPU
// configuration and, only if permitted, copies from backing memory.
func (b *Bus) Read(addr uintptr, out []byte) error {
	if err := b.pal.CheckRead(addr, uintptr(len(out))); err != nil {
		return err
	}
	a, ok := b.find(addr, uintptr(len(out)))
	if !ok {
		return fmt.Errorf("simpal: read of unmapped address 0x%x", addr)
	}
	copy(out, a.pages[addr-a.region.Base:])
	return nil
}

// FillPattern overwrites base..base+size with pattern, bypassing the
// PAL's access check: a trusted kernel-internal diagnostic operation
// (priming a process's stack region for the high-water-mark scan), not a
// simulated task's own memory access.
func (b *Bus) FillPattern(base, size uintptr, pattern byte) error {
	a, ok := b.find(base, size)
	if !ok {
		return fmt.Errorf("simpal: fill of unmapped region at 0x%x", base)
	}
	off := base - a.region.Base
	region := a.pages[off : off+size]
	for i := range region {
		region[i] = pattern
	}
	return nil
}

// FreeBytes counts the contiguous run of pattern-valued bytes starting at
// base, stopping at the first byte that differs: the stack high-water
// mark, under the convention that a stack grows down from the top of its
// region, so bytes nearest base are the last ones touched.
func (b *Bus) FreeBytes(base, size uintptr, pattern byte) (uintptr, error) {
	a, ok := b.find(base, size)
	if !ok {
		return 0, fmt.Errorf("simpal: scan of unmapped region at 0x%x", base)
	}
	off := base - a.region.Base
	region := a.pages[off : off+size]
	var free uintptr
	for free < size && region[free] == pattern {
		free++
	}
	return free, nil
}
