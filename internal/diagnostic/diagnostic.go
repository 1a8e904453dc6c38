// Package diagnostic defines the fatal error type shared by every compiler pass.
//
// Every stage — lexer, parser, semantic pass, code generator, ELF writer — reports failure
// the same way: it raises a *Fatal through panic, which is recovered exactly once at the top
// of driver.Compile. This is the "structured panic boundary" called for by its own
// design notes, the idiom used by recursive-descent parsers like go/parser: a goto-free way to
// unwind an arbitrarily deep call stack to a single point without threading an error return
// through every function in the pass.
package diagnostic

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Fatal is a compiler error tied to a source location. It implements error so it can cross a
// recover() boundary and be returned normally from then on.
type Fatal struct {
	File string
	Line int // one-based; 0 means no specific line is known.
	Msg  string
}

func (f *Fatal) Error() string {
	if f.Line <= 0 {
		return fmt.Sprintf("Compiler Error! %s %s", f.File, f.Msg)
	}

	return fmt.Sprintf("Compiler Error! %s:%d %s", f.File, f.Line, f.Msg)
}

// Raise panics with a *Fatal built from a printf-style message. Callers use this instead of
// constructing Fatal directly so the panic/recover contract stays in one place.
func Raise(file string, line int, format string, args ...any) {
	panic(&Fatal{File: file, Line: line, Msg: fmt.Sprintf(format, args...)})
}

// Recover turns a panicking *Fatal into a returned error. It is a no-op for any other
// recovered value, which is re-panicked so programmer errors (nil pointer dereferences, index
// out of range -- invariant violations) are not silently swallowed.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}

	if f, ok := r.(*Fatal); ok {
		*errp = f
		return
	}

	panic(r)
}

// Print writes err to stderr in the compiler's standard format, highlighting it when stderr is
// a terminal.
func Print(err error) {
	if err == nil {
		return
	}

	if term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "\x1b[31m%s\x1b[0m\n", err.Error())
	} else {
		fmt.Fprintln(os.Stderr, err.Error())
	}
}
