// Package uartdrv is a demo serial driver exercising the FULL conformance
// class: a write_serial system call backed by a trusted I/O and platform
// glue collaborator outside the kernel core proper. This package only
// shows how such a driver plugs into the syscall table via
// internal/kernel/config.Builder.
//
// The device model is an unbounded, buffer-backed byte sink with a Write
// method, the host-side syscall-handler counterpart of a guest-visible
// MMIO UART device.
package uartdrv

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/syscall"
)

// UART is an in-memory stand-in for a real MPC5643L LINFlex/DSPI serial
// port: bytes written via the syscall handler accumulate here for the
// simulator to display or for a test to inspect.
type UART struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// New returns an empty UART sink.
func New() *UART { return &UART{} }

// Bytes returns a copy of everything written so far.
func (u *UART) Bytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.buf.Bytes()...)
}

func (u *UART) write(p []byte) {
	u.mu.Lock()
	u.buf.Write(p)
	u.mu.Unlock()
}

// WriteSerialHandler returns a syscall.Handler implementing
// write_serial(ptr, len): it validates the caller's pointer with
// IsUserReadable before touching the simulated bus, so a bad pointer
// sends no byte to the UART at all.
func WriteSerialHandler(u *UART, bus MemoryReader) syscall.Handler {
	return func(caller *process.Process, args syscall.Args) (int64, error) {
		ptr, n := uintptr(args[0]), uintptr(args[1])
		if n == 0 {
			return 0, nil
		}
		if !caller.IsUserReadable(ptr, n) {
			return 0, &syscall.BadSystemCallArgument{Reason: fmt.Sprintf("buffer 0x%x..0x%x not readable by PID %d", ptr, ptr+n, caller.PID)}
		}
		data := make([]byte, n)
		if err := bus.Read(ptr, data); err != nil {
			return 0, &syscall.BadSystemCallArgument{Reason: err.Error()}
		}
		u.write(data)
		return int64(n), nil
	}
}

// MemoryReader is the minimal bus capability write_serial needs;
// named distinctly from task.MemoryBus (which also has Write) because a
// syscall handler only ever reads the caller's buffer, never writes into
// it.
type MemoryReader interface {
	Read(addr uintptr, out []byte) error
}

// BusRef is a MemoryReader that forwards to whatever bus Bind later
// supplies. write_serial must be registered onto a config.Builder's
// syscall table before Build locks it, but the real *simpal.Bus doesn't
// exist until after Build — the same configuration-order problem
// internal/kernel.Bindings solves for sys_trigger_event and friends, here
// applied to a driver outside the kernel core.
type BusRef struct {
	bus MemoryReader
}

// NewBusRef returns an unbound BusRef; Read returns an error until Bind
// is called.
func NewBusRef() *BusRef { return &BusRef{} }

// Bind wires r to the real bus. Must be called after the bus exists and
// before any task can reach write_serial.
func (r *BusRef) Bind(bus MemoryReader) { r.bus = bus }

// Read implements MemoryReader by forwarding to the bound bus.
func (r *BusRef) Read(addr uintptr, out []byte) error {
	if r.bus == nil {
		return fmt.Errorf("uartdrv: BusRef.Read called before Bind")
	}
	return r.bus.Read(addr, out)
}
