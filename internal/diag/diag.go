// Package diag accumulates and prints compiler diagnostics. It
// generalizes the teacher's per-phase `a.error`/`a.errorAt` accumulator
// pattern (lang/sem/analyzer.go, lang/parse/parser.go) into a single
// Bag shared across phases, plus a Printer that renders
// "file:line:col: error: msg" with optional ANSI highlighting.
package diag

import (
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/term"

	"github.com/gmofishsauce/fcc/internal/token"
)

// Severity tags a Diagnostic.
type Severity int

const (
	Error Severity = iota
	Warning
	Internal
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Internal:
		return "internal error"
	default:
		return "error"
	}
}

// Diagnostic is one reported condition, carrying the location the
// analyzer or parser was looking at when it fired.
type Diagnostic struct {
	Severity Severity
	Loc      token.Loc
	Message  string

	// Seq preserves insertion order for diagnostics sharing a Loc; the
	// analyzer and parser both walk in source order (spec: diagnostics
	// are printed in source-appearance order), so Bag never re-sorts
	// past what Seq already encodes.
	Seq int

	// Raw marks a diagnostic whose Message is already fully formatted
	// (the lexer pre-formats its own "file:line:col: error: msg" text);
	// the Printer prints it verbatim instead of re-deriving the prefix.
	Raw bool
}

// Bag accumulates diagnostics for one phase or for a whole compile.
// Never panics; Internal severities record unhandled-dispatch cases so
// execution can continue with a best-effort fallback value.
type Bag struct {
	items []Diagnostic
	seq   int

	// lastErrorLine suppresses cascading errors: consecutive diagnostics
	// on the same source line from the same file are dropped after the
	// first, per spec §4.4 ("errors are suppressed on consecutive tokens
	// from the same source line").
	lastErrorFile string
	lastErrorLine int
}

func (b *Bag) add(sev Severity, loc token.Loc, msg string) {
	b.items = append(b.items, Diagnostic{Severity: sev, Loc: loc, Message: msg, Seq: b.seq})
	b.seq++
}

// Error records an error diagnostic, suppressing it if it falls on the
// same file:line as the immediately preceding error.
func (b *Bag) Error(loc token.Loc, format string, args ...interface{}) {
	if loc.File == b.lastErrorFile && loc.Line == b.lastErrorLine {
		return
	}
	b.lastErrorFile, b.lastErrorLine = loc.File, loc.Line
	b.add(Error, loc, fmt.Sprintf(format, args...))
}

// Passthrough records a pre-formatted diagnostic line verbatim (used
// for the lexer's own "file:line:col: error: msg" strings).
func (b *Bag) Passthrough(msg string) {
	b.items = append(b.items, Diagnostic{Severity: Error, Message: msg, Seq: b.seq, Raw: true})
	b.seq++
}

// Warn records a warning; warnings never trigger same-line suppression.
func (b *Bag) Warn(loc token.Loc, format string, args ...interface{}) {
	b.add(Warning, loc, fmt.Sprintf(format, args...))
}

// InternalError records an unhandled-dispatch condition: logged, never
// panicked on, so the caller can return a best-effort invalid value and
// keep aggregating diagnostics (spec §4.12/§7).
func (b *Bag) InternalError(loc token.Loc, format string, args ...interface{}) {
	b.add(Internal, loc, fmt.Sprintf(format, args...))
}

// Merge appends other's diagnostics, preserving relative order and
// renumbering Seq so a later Sort stays stable across phases.
func (b *Bag) Merge(other *Bag) {
	for _, d := range other.items {
		d.Seq = b.seq
		b.seq++
		b.items = append(b.items, d)
	}
}

// ErrorCount/WarningCount/InternalCount let the driver gate emission on
// "errors == 0" exactly as spec §4.12 requires.
func (b *Bag) ErrorCount() int    { return b.count(Error) }
func (b *Bag) WarningCount() int  { return b.count(Warning) }
func (b *Bag) InternalCount() int { return b.count(Internal) }

func (b *Bag) count(sev Severity) int {
	n := 0
	for _, d := range b.items {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Clean reports whether emission may proceed: no errors and no internal
// invariant failures (warnings alone don't block codegen).
func (b *Bag) Clean() bool { return b.ErrorCount() == 0 && b.InternalCount() == 0 }

// Items returns diagnostics in source-appearance order.
func (b *Bag) Items() []Diagnostic {
	out := make([]Diagnostic, len(b.items))
	copy(out, b.items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Printer renders a Bag to a writer, one line per diagnostic, with
// ANSI color when the destination is a real terminal.
type Printer struct {
	w      io.Writer
	color  bool
}

// NewPrinter builds a Printer writing to w. Color is enabled only when
// w is an *os.File whose descriptor is a terminal (grounded on
// emul/main.go's term.IsTerminal probe — here used read-only for
// detection, never to enter raw mode).
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

// Print renders every diagnostic in items, in order.
func (p *Printer) Print(items []Diagnostic) {
	for _, d := range items {
		if d.Raw {
			fmt.Fprintln(p.w, d.Message)
			continue
		}
		sev := d.Severity.String()
		code := "31" // red: error
		if d.Severity == Warning {
			code = "33" // yellow
		} else if d.Severity == Internal {
			code = "35" // magenta
		}
		fmt.Fprintf(p.w, "%s: %s: %s\n",
			p.paint("1", d.Loc.String()),
			p.paint(code, sev),
			d.Message)
	}
}
