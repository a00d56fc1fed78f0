// Command tracedump inspects a structured kernel trace written by
// rtossim's -trace-file flag (internal/ktrace).
package main

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/tinyrange/mpc5643l-rtos/internal/ktrace"
)

func run() error {
	list := flag.Bool("list", false, "list all sources in the trace")
	timeRange := flag.Bool("range", false, "print the earliest and latest timestamps")
	source := flag.String("source", "", "regex to filter sources")
	match := flag.String("match", "", "regex to filter messages")
	limit := flag.Int("limit", 100, "limit the number of entries (0 for unlimited)")
	tail := flag.Bool("tail", false, "show last N entries instead of first N")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `tracedump - inspect structured kernel traces

USAGE:
  tracedump [flags] <filename>

FLAGS:
  -list          List all unique source names in the trace, one per line
  -range         Show earliest/latest timestamps and total duration
  -source REGEX  Only show entries where source matches regex (Go regexp syntax)
  -match REGEX   Only show entries where message matches regex (Go regexp syntax)
  -limit N       Max entries to return (default: 100). At 100, more entries is an error unless -tail is set; other limits truncate; 0 for unlimited
  -tail          Show last N entries instead of first N (combine with -limit)

OUTPUT FORMAT:
  Each entry is printed as: TIMESTAMP [SOURCE] MESSAGE
  Timestamps are RFC3339Nano format.

EXAMPLES:
  tracedump trace.bin                          Show entries (errors if >100)
  tracedump -tail trace.bin                    Show last 100 entries
  tracedump -limit 0 trace.bin                 Show all entries (no limit)
  tracedump -source '^scheduler' trace.bin     Entries from sources starting with "scheduler"
  tracedump -match 'fault' trace.bin           Entries containing "fault" in message
`)
	}
	flag.Parse()

	if len(flag.Args()) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	filename := flag.Arg(0)

	reader, closer, err := ktrace.NewReaderFromFile(filename)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer closer.Close()

	if *list {
		for _, src := range reader.Sources() {
			fmt.Println(src)
		}
		return nil
	}

	if *timeRange {
		earliest, latest := reader.TimeRange()
		fmt.Printf("earliest: %s\nlatest:   %s\nduration: %s\n", earliest, latest, latest.Sub(earliest))
		return nil
	}

	var sourceRe, matchRe *regexp.Regexp
	if *source != "" {
		sourceRe, err = regexp.Compile(*source)
		if err != nil {
			return fmt.Errorf("invalid source regex: %w", err)
		}
	}
	if *match != "" {
		matchRe, err = regexp.Compile(*match)
		if err != nil {
			return fmt.Errorf("invalid match regex: %w", err)
		}
	}

	type entry struct {
		ts     time.Time
		source string
		data   []byte
	}
	var entries []entry

	if err := reader.Each(func(ts time.Time, kind ktrace.EntryKind, src string, data []byte) error {
		if sourceRe != nil && !sourceRe.MatchString(src) {
			return nil
		}
		if matchRe != nil && !matchRe.MatchString(string(data)) {
			return nil
		}
		entries = append(entries, entry{ts: ts, source: src, data: data})
		return nil
	}); err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	if *limit > 0 && len(entries) > *limit {
		if *tail {
			entries = entries[len(entries)-*limit:]
		} else if *limit == 100 {
			return fmt.Errorf("too many entries: %d (limit is %d). Use -tail for last %d, or explicitly set a limit using -limit", len(entries), *limit, *limit)
		} else {
			entries = entries[:*limit]
		}
	}

	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.ts.Format(time.RFC3339Nano), e.source, string(e.data))
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracedump: %v\n", err)
		os.Exit(1)
	}
}
