// Package console prints operator-facing progress and summary lines. It is
// deliberately separate from structured logging: the console shows what a
// person running the audit wants to glance at, the diagnostics file keeps
// everything else.
package console

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const (
	green  = "\033[92m"
	yellow = "\033[93m"
	red    = "\033[91m"
	reset  = "\033[0m"
)

type Printer struct {
	w     io.Writer
	color bool
}

// New returns a printer writing to w. Colors are enabled only when w is a
// terminal and NO_COLOR is unset.
func New(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w, color: colorable(w)}
}

// NewPlain returns a printer that never emits escape codes, regardless of
// the destination.
func NewPlain(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

func colorable(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Successf prints a green line for completed phases.
func (p *Printer) Successf(format string, args ...any) {
	p.println(green, fmt.Sprintf(format, args...))
}

// Noticef prints a yellow line for counts and progress totals.
func (p *Printer) Noticef(format string, args ...any) {
	p.println(yellow, fmt.Sprintf(format, args...))
}

// Errorf prints a red line for operator-facing failures.
func (p *Printer) Errorf(format string, args ...any) {
	p.println(red, fmt.Sprintf(format, args...))
}

// Printf prints an uncolored line.
func (p *Printer) Printf(format string, args ...any) {
	p.println("", fmt.Sprintf(format, args...))
}

func (p *Printer) println(color, line string) {
	if p.color && color != "" {
		fmt.Fprint(p.w, color, line, reset, "\n")
		return
	}
	fmt.Fprintln(p.w, line)
}
