/*
Package compiler implements the compile context: interning of variable names, string and
double literals, the definedness/type table, and the fatal error reporter shared by every
later pass.

The lexer only reports errors through the context. The parser and semantic pass mutate it
(variable and string interning, definedness, types, stack offsets), and the code generator
reads it.
Passes run strictly in sequence, so the context needs no locking.
*/
package compiler

import (
	"github.com/theeyeofcthulhu/least/internal/diagnostic"
	"github.com/theeyeofcthulhu/least/internal/log"
)

// VarType is the narrow type lattice this language tracks: defined/undefined and
// int/str/array. There is no inferencer beyond this.
type VarType int

const (
	TypeUnsure VarType = iota
	TypeInt
	TypeStr
	TypeArray
)

func (t VarType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeStr:
		return "str"
	case TypeArray:
		return "array"
	default:
		return "untyped"
	}
}

// RuntimeLib names a prebuilt runtime object the emitted ELF may need to declare as extern.
type RuntimeLib int

const (
	LibUprint RuntimeLib = iota
	LibPutchar
)

// Variable is one entry in the context's variable table, keyed by its insertion-order index
// (the "var id" used throughout the AST and codegen).
type Variable struct {
	Name        string
	Type        VarType
	Defined     bool
	IsArray     bool
	StackOffset int // absolute word offset from rbp, assigned by AllocateStack.
	StackUnits  int // 1 for scalars; array length for arrays.
}

// Context is the compile-wide state threaded through every pass. There is exactly one per
// compilation; it is never copied.
type Context struct {
	Variables []Variable
	varIndex  map[string]int

	Strings  []string
	strIndex map[string]int

	Doubles     []float64
	doubleIndex map[float64]int

	RequiredLibs map[RuntimeLib]bool

	StackSize int

	File string
	Err  *ErrorReporter

	Log *log.Logger
}

// New creates a Context for compiling the named file.
func New(file string, logger *log.Logger) *Context {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	c := &Context{
		varIndex:     make(map[string]int),
		strIndex:     make(map[string]int),
		doubleIndex:  make(map[float64]int),
		RequiredLibs: make(map[RuntimeLib]bool),
		File:         file,
		Log:          logger,
	}
	c.Err = &ErrorReporter{File: file}

	return c
}

// CheckVar returns the id of an already-known variable, or interns a fresh, UNSURE-typed,
// undefined one and returns its new id.
func (c *Context) CheckVar(name string) int {
	if id, ok := c.varIndex[name]; ok {
		return id
	}

	id := len(c.Variables)
	c.Variables = append(c.Variables, Variable{Name: name, Type: TypeUnsure})
	c.varIndex[name] = id

	return id
}

// CheckArray is CheckVar but marks a freshly interned entry as an array. It does not mark an
// already-known variable as an array -- that would let a later access retroactively reclassify
// an existing scalar, which the semantic pass is responsible for rejecting explicitly instead.
func (c *Context) CheckArray(name string) int {
	if id, ok := c.varIndex[name]; ok {
		return id
	}

	id := len(c.Variables)
	c.Variables = append(c.Variables, Variable{Name: name, Type: TypeUnsure, IsArray: true})
	c.varIndex[name] = id

	return id
}

// CheckStr interns a string literal, deduplicating by value, and returns its str id.
// String interning is idempotent and insertion-ordered: this ordering is load-bearing for
// .rodata layout in the ELF writer.
func (c *Context) CheckStr(text string) int {
	if id, ok := c.strIndex[text]; ok {
		return id
	}

	id := len(c.Strings)
	c.Strings = append(c.Strings, text)
	c.strIndex[text] = id

	return id
}

// CheckDouble interns a double literal, deduplicating by value.
func (c *Context) CheckDouble(value float64) int {
	if id, ok := c.doubleIndex[value]; ok {
		return id
	}

	id := len(c.Doubles)
	c.Doubles = append(c.Doubles, value)
	c.doubleIndex[value] = id

	return id
}

// AllocateStack grows the stack frame by words and returns the new total size, which the
// caller uses as a positive word offset from rbp for the variable it just allocated.
func (c *Context) AllocateStack(words int) int {
	c.StackSize += words
	return c.StackSize
}

// Var looks up a variable's current info by id. Panics on an out-of-range id: that is an
// invariant violation (every AST Var/Access node must reference a valid id), not a user error.
func (c *Context) Var(id int) *Variable {
	return &c.Variables[id]
}

// ErrorReporter holds the current source line and filename and produces fatal diagnostics.
// Every method panics with a *diagnostic.Fatal; see internal/diagnostic for the recovery
// boundary.
type ErrorReporter struct {
	File string
	Line int
}

// SetLine updates the line the next diagnostic will be attributed to. Every node visit in the
// parser and semantic pass calls this before doing any checks.
func (e *ErrorReporter) SetLine(line int) {
	e.Line = line
}

// Errorf raises an unconditional fatal diagnostic.
func (e *ErrorReporter) Errorf(format string, args ...any) {
	diagnostic.Raise(e.File, e.Line, format, args...)
}

// OnFalse raises a fatal diagnostic unless cond is true.
func (e *ErrorReporter) OnFalse(cond bool, format string, args ...any) {
	if !cond {
		diagnostic.Raise(e.File, e.Line, format, args...)
	}
}

// OnTrue raises a fatal diagnostic if cond is true.
func (e *ErrorReporter) OnTrue(cond bool, format string, args ...any) {
	if cond {
		diagnostic.Raise(e.File, e.Line, format, args...)
	}
}
