// Command rtossim is a host-side simulation harness for the kernel: it
// loads a declarative YAML configuration (or builds a demo scenario in
// Go), boots the kernel against the software PAL backend, and drives it
// from an accelerated host clock.
//
// Flag parsing and raw-terminal console handling follow a familiar CLI
// harness pattern: stdlib flag with a custom flag.Usage, golang.org/x/term
// put into raw mode for the duration of the run.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/tinyrange/mpc5643l-rtos/internal/actrecord"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/config"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/syscall"
	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/task"
	"github.com/tinyrange/mpc5643l-rtos/internal/ktrace"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal/simpal"
	"github.com/tinyrange/mpc5643l-rtos/internal/uartdrv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rtossim:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a YAML kernel configuration")
	ticks := flag.Int("ticks", 1000, "Number of system ticks to simulate")
	traceFile := flag.String("trace-file", "", "Write a structured kernel trace to this file")
	actTraceFile := flag.String("act-trace-file", "", "Write a binary task-activation duration trace to this file")
	rawTerminal := flag.Bool("raw-terminal", false, "Put the host terminal into raw mode for the demo UART console")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rtossim [-config <file>] [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Simulates the MPC5643L-class safety kernel on the host.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var trace *ktrace.Log
	if *traceFile != "" {
		l, err := ktrace.OpenFile(*traceFile)
		if err != nil {
			return fmt.Errorf("rtossim: open trace file: %w", err)
		}
		defer l.Close()
		trace = l
	}

	if *actTraceFile != "" {
		f, err := os.OpenFile(*actTraceFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("rtossim: open activation trace file: %w", err)
		}
		closer, err := actrecord.Open(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("rtossim: open activation recorder: %w", err)
		}
		defer f.Close()
		defer closer.Close()
	}

	if *rawTerminal && term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("rtossim: enter raw terminal mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	var b *config.Builder
	var regions []pal.Region
	var bindings *kernel.Bindings
	var busRef *uartdrv.BusRef
	var uart *uartdrv.UART
	var err error
	if *configPath != "" {
		b, _, regions, err = config.LoadYAML(*configPath)
		if err != nil {
			return fmt.Errorf("rtossim: build configuration: %w", err)
		}
	} else {
		b, regions, bindings, busRef, uart, err = scenarioA()
		if err != nil {
			return fmt.Errorf("rtossim: build configuration: %w", err)
		}
	}

	if err := b.Build(); err != nil {
		return fmt.Errorf("rtossim: %w", err)
	}

	pl := simpal.New()
	bus, err := simpal.NewBus(pl, regions)
	if err != nil {
		return fmt.Errorf("rtossim: allocate simulated RAM: %w", err)
	}
	defer bus.Close()

	k := kernel.New(b, pl, bus)
	if bindings != nil {
		k.Bind(bindings)
	}
	if busRef != nil {
		busRef.Bind(bus)
	}
	if err := k.Start(b); err != nil {
		return fmt.Errorf("rtossim: %w", err)
	}

	start := time.Now()
	for i := 0; i < *ticks; i++ {
		k.Tick()
		if trace != nil {
			trace.Writef("rtossim", "tick %d priority=%d", i, k.Scheduler.CurrentPriority())
		}
	}
	fmt.Printf("rtossim: simulated %d ticks in %s\n", *ticks, time.Since(start))
	if uart != nil {
		if out := uart.Bytes(); len(out) > 0 {
			fmt.Printf("rtossim: uart wrote %q\n", out)
		}
	}
	return nil
}

// Syscall numbers scenarioA registers alongside task_exit's fixed index 0.
const (
	sysTriggerEvent    = 1
	sysSuspendProcess  = 2
	sysMaskToPriority  = 3
	sysRestorePriority = 4
	sysWriteSerial     = 5
)

// scenarioA builds a demo configuration: a single 1ms-period event at
// priority 2 with a 10-tick first-activation offset, bound to one task
// in process 1. It also wires the four user-context Helpers onto the
// syscall table so process 1's task can exercise sys_trigger_event and
// friends directly rather than only through their kernel-context Go
// equivalents, registers the system tick on the interrupt controller so
// Kernel.Tick runs it through priority masking like any other interrupt,
// and registers write_serial against a demo UART. It returns the memory
// regions the caller must back with a simpal.Bus, the Bindings to pass
// to (*kernel.Kernel).Bind, the uartdrv.BusRef to bind to the real bus,
// and the UART sink itself, once the kernel and bus exist.
func scenarioA() (*config.Builder, []pal.Region, *kernel.Bindings, *uartdrv.BusRef, *uartdrv.UART, error) {
	shared := pal.Region{Name: "shared", Base: 0, Size: 0x100}
	kstack := pal.Region{Name: "kstack", Base: 0xF000, Size: 0x200}
	p1stack := pal.Region{Name: "p1-stack", Base: 0x1000, Size: 0x200}
	p1ram := pal.Region{Name: "p1-ram", Base: 0x2000, Size: 0x200, Writable: true}

	b, err := config.NewBuilder(6, shared)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := b.RegisterProcess(process.KernelPID, kstack, nil, process.Permissions{}); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := b.RegisterProcess(1, p1stack, []pal.Region{p1ram}, process.Permissions{}); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	id, err := b.CreateEvent(1, 10, 2, 0)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	b.DeclareTaskSlots(id, 1)

	if err := b.RegisterTask(id, 1, func(ctx *task.Context) int32 { return 0 }, 0); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	bindings := kernel.NewBindings()
	_, _, _, _, icc := b.Tables()
	if err := b.RegisterSyscall(sysTriggerEvent, syscall.Full, kernel.TriggerEventHandler(bindings)); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := b.RegisterSyscall(sysSuspendProcess, syscall.Full, kernel.SuspendProcessHandler(bindings)); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := b.RegisterSyscall(sysMaskToPriority, syscall.Basic, kernel.MaskToPriorityHandler(icc)); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := b.RegisterSyscall(sysRestorePriority, syscall.Basic, kernel.RestorePriorityHandler(icc)); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	if err := b.RegisterInterruptHandler(kernel.TickVector, kernel.TickPriority, true, kernel.TickHandler(bindings)); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	uart := uartdrv.New()
	busRef := uartdrv.NewBusRef()
	if err := b.RegisterSyscall(sysWriteSerial, syscall.Full, uartdrv.WriteSerialHandler(uart, busRef)); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	return b, []pal.Region{shared, kstack, p1stack, p1ram}, bindings, busRef, uart, nil
}
