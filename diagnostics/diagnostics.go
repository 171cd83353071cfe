// Package diagnostics formats collector events and integrity violations and
// prints them in a consistent way.
package diagnostics

import (
	"fmt"
	"io"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
)

// ANSI colors used for event kinds. Writers returned by Stderr strip these
// on terminals that cannot render them.
const (
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorReset  = "\x1b[0m"
)

// Event describes a single completed collection cycle.
type Event struct {
	Kind     string // "minor" or "major"
	Before   uint64 // bytes in use before the cycle
	After    uint64 // bytes in use after the cycle
	Promoted uint64 // objects promoted into the old generation
	Duration time.Duration
}

// Write the event to the given writer as a single line.
func (ev Event) WriteTo(w io.Writer) {
	color := colorYellow
	if ev.Kind == "major" {
		color = colorRed
	}
	fmt.Fprintf(w, "gc: %s%-5s%s %s -> %s", color, ev.Kind, colorReset,
		bytesize.ByteSize(ev.Before), bytesize.ByteSize(ev.After))
	if ev.Promoted > 0 {
		fmt.Fprintf(w, " promoted=%d", ev.Promoted)
	}
	fmt.Fprintf(w, " (%v)\n", ev.Duration.Round(time.Microsecond))
}

// Integrity describes a heap verifier violation.
type Integrity struct {
	Check string // short name of the failed check
	Addr  uint64 // address of the offending object, 0 if unknown
	Slot  uint64 // address of the referring slot, 0 for root slots
	Msg   string
}

// Write the violation to the given writer.
func (iv Integrity) WriteTo(w io.Writer) {
	fmt.Fprintf(w, "gc: %sintegrity violation%s [%s]", colorRed, colorReset, iv.Check)
	if iv.Addr != 0 {
		fmt.Fprintf(w, " object=%#x", iv.Addr)
	}
	if iv.Slot != 0 {
		fmt.Fprintf(w, " slot=%#x", iv.Slot)
	}
	fmt.Fprintf(w, ": %s\n", iv.Msg)
}

// Stderr returns a writer to standard error that renders colors where the
// platform supports them.
func Stderr() io.Writer {
	return colorable.NewColorableStderr()
}

// NonColorable wraps w so that color escape sequences are stripped. Use this
// for log files and test buffers.
func NonColorable(w io.Writer) io.Writer {
	return colorable.NewNonColorable(w)
}
