// Package lexer turns least source text into a flat token stream. It is context-aware in one
// sense only: interpolated string literals ("lstr") recursively invoke the lexer on their own
// bracketed substitutions, so Lex is reentrant by construction rather than by an explicit
// "mode" flag -- see Lex and lexLstr.
package lexer

import "github.com/theeyeofcthulhu/least/internal/compiler"

// Kind tags the variant held by a Token. Go has no sum types, so Token is a single struct with
// a Kind discriminant and fields that are meaningful only for the matching Kind -- the same
// shape used across every layer here (token, AST, instruction).
type Kind int

const (
	Key Kind = iota
	Arit
	Cmp
	Log
	Str
	Lstr
	Num
	Var
	Access
	Call
	CompleteCall
	Bracket
	Sep
	Eol
)

func (k Kind) String() string {
	switch k {
	case Key:
		return "key"
	case Arit:
		return "arit"
	case Cmp:
		return "cmp"
	case Log:
		return "log"
	case Str:
		return "str"
	case Lstr:
		return "lstr"
	case Num:
		return "num"
	case Var:
		return "var"
	case Access:
		return "access"
	case Call:
		return "call"
	case CompleteCall:
		return "completecall"
	case Bracket:
		return "bracket"
	case Sep:
		return "sep"
	case Eol:
		return "eol"
	default:
		return "?"
	}
}

// BracketPurpose distinguishes a grouping bracket from an access bracket.
type BracketPurpose int

const (
	Grouping BracketPurpose = iota
	AccessBracket
)

// BracketKind is open or close.
type BracketKind int

const (
	Open BracketKind = iota
	Close
)

// Token is the flat tagged variant over every lexical form the lexer produces. Only the
// fields relevant to Kind are populated; the rest are zero.
type Token struct {
	Kind Kind
	Line int // zero-based

	Keyword compiler.Keyword
	AritOp  compiler.AritOp
	CmpOp   compiler.CmpOp
	LogOp   compiler.LogOp

	Str string // Str text, or Var/Access name.
	Num int

	Lstr []Token // Lstr: alternating Str tokens and expression-token runs, in source order.

	AccessIndex []Token // Access: the tokens between the access brackets.

	CompleteCall compiler.ValueFuncID

	BracketPurpose BracketPurpose
	BracketKind    BracketKind
}

func newTok(kind Kind, line int) Token { return Token{Kind: kind, Line: line} }
