// Package ic implements the interrupt controller: configuration-time
// registration of interrupt service routines at a numbered vector with a
// hardware priority, and the current-priority register the priority-ceiling
// protocol (internal/kernel/ceiling) raises and lowers.
//
// The shape — a fixed vector table keyed by source number, pending-
// bitmask semantics, claim/ack — generalizes a platform-level interrupt
// controller's usual fixed-vector/core-local-interruptor split down to
// one register: MaxPriority hardware ISR levels feeding a single
// current-priority register shared by one core.
package ic

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxPriority is the highest hardware interrupt priority. ISR priorities
// occupy the disjoint space 1..15.
const MaxPriority = 15

// Handler runs at vector's configured priority. It must not block.
type Handler func()

type vectorEntry struct {
	prio        uint8
	preemptable bool
	handler     Handler
}

// Controller owns the vector table and the current-priority register.
// Registration is configuration-time only: once Lock is called, further
// RegisterInterruptHandler calls fail — interrupt handlers may not be
// registered after the kernel has started.
type Controller struct {
	mu       sync.Mutex
	vectors  map[int]*vectorEntry
	locked   bool
	priority atomic.Uint32 // current-priority register, 0..MaxPriority
}

// New returns an empty, unlocked Controller with the current-priority
// register at 0: 0 is reserved for the idle/task-priority-space floor,
// ISR priorities start at 1.
func New() *Controller {
	return &Controller{vectors: make(map[int]*vectorEntry)}
}

// RegisterInterruptHandler binds handler to vector at hardware priority
// prio (1..MaxPriority). Returns an error if the controller is locked, the
// vector is already bound, or prio is out of range.
func (c *Controller) RegisterInterruptHandler(vector int, prio uint8, preemptable bool, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("ic: nil handler for vector %d", vector)
	}
	if prio < 1 || prio > MaxPriority {
		return fmt.Errorf("ic: priority %d for vector %d out of range 1..%d", prio, vector, MaxPriority)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		return fmt.Errorf("ic: cannot register vector %d after the controller is locked", vector)
	}
	if _, exists := c.vectors[vector]; exists {
		return fmt.Errorf("ic: vector %d already registered", vector)
	}
	c.vectors[vector] = &vectorEntry{prio: prio, preemptable: preemptable, handler: handler}
	return nil
}

// Lock freezes the vector table; called once by start_kernel.
func (c *Controller) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
}

// Current returns the current-priority register's value.
func (c *Controller) Current() uint8 {
	return uint8(c.priority.Load())
}

// RaisePriority implements the non-blocking half of the priority-ceiling
// acquire: it raises the current-priority register to level if level is
// higher, returning the previous value to restore on release. If the
// caller already holds a priority >= level, this is a documented no-op:
// a caller already at the maximum priority sees acquire do nothing.
func (c *Controller) RaisePriority(level uint8) (saved uint8) {
	for {
		cur := uint8(c.priority.Load())
		if cur >= level {
			return cur
		}
		if c.priority.CompareAndSwap(uint32(cur), uint32(level)) {
			return cur
		}
	}
}

// LowerPriority restores the current-priority register to saved. The
// register only ever drops monotonically to the value saved at the
// matching acquire; a caller lowering to a value above the current one
// is a programming error and is rejected rather than silently raising
// the priority back up.
func (c *Controller) LowerPriority(saved uint8) error {
	cur := uint8(c.priority.Load())
	if saved > cur {
		return fmt.Errorf("ic: release to %d would raise current priority %d", saved, cur)
	}
	c.priority.Store(uint32(saved))
	return nil
}

// Dispatch runs vector's registered handler if the controller's current
// priority permits it: a higher-or-equal current priority masks the
// interrupt exactly as the hardware would. It reports whether the
// handler ran.
func (c *Controller) Dispatch(vector int) (ran bool, err error) {
	c.mu.Lock()
	entry, ok := c.vectors[vector]
	c.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("ic: unregistered vector %d", vector)
	}

	if uint8(c.priority.Load()) >= entry.prio {
		return false, nil
	}

	saved := c.RaisePriority(entry.prio)
	entry.handler()
	if err := c.LowerPriority(saved); err != nil {
		// The handler unbalanced the priority register; surface it rather
		// than silently leaving the current-priority register wrong.
		return true, fmt.Errorf("ic: vector %d: %w", vector, err)
	}
	return true, nil
}

// Priority returns the configured hardware priority for vector and true,
// or 0 and false if the vector is unregistered.
func (c *Controller) Priority(vector int) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.vectors[vector]
	if !ok {
		return 0, false
	}
	return entry.prio, true
}
