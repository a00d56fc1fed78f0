// Command actdump reads a binary task-activation duration trace written
// by rtossim's -act-trace-file flag (internal/actrecord) and prints or
// summarizes it.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/mpc5643l-rtos/internal/actrecord"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "Activation trace file to read")
	sums := fs.Bool("sums", false, "Print total duration per activation kind instead of every record")
	kind := fs.String("kind", "", "Only consider records whose kind name equals this (applies to both modes)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open activation trace: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if *sums {
		sums := map[string]time.Duration{}
		counts := map[string]int{}
		err = actrecord.ReadAllRecords(f, func(name string, flags actrecord.Flags, duration time.Duration) error {
			if *kind != "" && name != *kind {
				return nil
			}
			sums[name] += duration
			counts[name]++
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read activation trace: %v\n", err)
			os.Exit(1)
		}
		for name, sum := range sums {
			fmt.Printf("%s n=%d total=%s mean=%s\n", name, counts[name], sum, sum/time.Duration(counts[name]))
		}
		return
	}

	err = actrecord.ReadAllRecords(f, func(name string, flags actrecord.Flags, duration time.Duration) error {
		if *kind != "" && name != *kind {
			return nil
		}
		fmt.Printf("%s %s %s\n", name, flags, duration)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read activation trace: %v\n", err)
		os.Exit(1)
	}
}
