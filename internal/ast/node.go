// Package ast builds the typed syntax tree for a least program: the parser (tokens -> tree),
// the semantic pass (signature checking, definedness/type tracking, stack allocation), and a
// Graphviz dumper for inspecting the result.
package ast

import "github.com/theeyeofcthulhu/least/internal/compiler"

// Kind tags the variant held by a Node, the same tagged-variant shape lexer.Kind uses
// for Token.
type Kind int

const (
	KBody Kind = iota
	KIf
	KElse
	KWhile
	KConst
	KCmp
	KLog
	KFunc
	KVFunc
	KVar
	KAccess
	KStr
	KLstr
	KArit
)

func (k Kind) String() string {
	switch k {
	case KBody:
		return "body"
	case KIf:
		return "if"
	case KElse:
		return "else"
	case KWhile:
		return "while"
	case KConst:
		return "const"
	case KCmp:
		return "cmp"
	case KLog:
		return "log"
	case KFunc:
		return "func"
	case KVFunc:
		return "vfunc"
	case KVar:
		return "var"
	case KAccess:
		return "access"
	case KStr:
		return "str"
	case KLstr:
		return "lstr"
	case KArit:
		return "arit"
	default:
		return "?"
	}
}

// Node is the flat tagged variant over every AST shape the parser produces. As with
// lexer.Token, only the fields relevant to Kind are populated.
type Node struct {
	Kind Kind
	Line int

	// Body
	BodyID   int
	Children []*Node
	Parent   *Node // weak; read only during parsing to resolve block exit.

	// If / While
	Condition *Node
	Block     *Node
	Elif      *Node // next If (elif) or Else in the chain; nil for the chain's last link.
	IsElif    bool

	// Const
	ConstVal int

	// Cmp / Log / Arit share this operand pair.
	Left, Right *Node
	CmpOp       compiler.CmpOp
	LogOp       compiler.LogOp
	AritOp      compiler.AritOp

	// Func
	FuncID compiler.FuncID
	Args   []*Node

	// VFunc
	VFuncID    compiler.ValueFuncID
	ReturnType compiler.VarType

	// Var / Access
	VarID int
	Index *Node // Access only.

	// Str
	StrID int

	// Lstr
	Format []*Node
}
