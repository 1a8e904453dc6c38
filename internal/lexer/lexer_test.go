package lexer_test

import (
	"testing"

	"github.com/theeyeofcthulhu/least/internal/compiler"
	"github.com/theeyeofcthulhu/least/internal/diagnostic"
	"github.com/theeyeofcthulhu/least/internal/lexer"
)

func kinds(toks []lexer.Token) []lexer.Kind {
	ks := make([]lexer.Kind, len(toks))
	for i, t := range toks {
		ks[i] = t.Kind
	}
	return ks
}

func assertKinds(t *testing.T, toks []lexer.Token, want ...lexer.Kind) {
	t.Helper()
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestLex_SimpleStatement(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "exit 1")

	assertKinds(t, toks, lexer.Key, lexer.Num, lexer.Eol)
	if toks[0].Keyword != compiler.KeyExit {
		t.Fatalf("Keyword = %v, want KeyExit", toks[0].Keyword)
	}
	if toks[1].Num != 1 {
		t.Fatalf("Num = %d, want 1", toks[1].Num)
	}
}

func TestLex_ArithmeticTokensInSourceOrder(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "set a a + 3 * 4")

	assertKinds(t, toks,
		lexer.Key, lexer.Var, lexer.Var, lexer.Arit, lexer.Num, lexer.Arit, lexer.Num, lexer.Eol)
	if toks[3].AritOp != compiler.Add {
		t.Fatalf("AritOp = %v, want Add", toks[3].AritOp)
	}
	if toks[5].AritOp != compiler.Mul {
		t.Fatalf("AritOp = %v, want Mul", toks[5].AritOp)
	}
}

func TestLex_TwoCharSymbolsPreferredOverOneChar(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "if a >= 1")

	assertKinds(t, toks, lexer.Key, lexer.Var, lexer.Cmp, lexer.Num, lexer.Eol)
	if toks[2].CmpOp != compiler.GreaterOrEqual {
		t.Fatalf("CmpOp = %v, want GreaterOrEqual", toks[2].CmpOp)
	}
}

func TestLex_EveryLineEmitsExactlyOneEol(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "exit 1\n\nexit 2")

	var eols, lines []int
	for i, tok := range toks {
		if tok.Kind == lexer.Eol {
			eols = append(eols, i)
			lines = append(lines, tok.Line)
		}
	}
	if len(eols) != 3 {
		t.Fatalf("got %d Eol tokens, want 3 (one per line, including the blank one): %v", len(eols), lines)
	}
	if lines[0] != 0 || lines[1] != 1 || lines[2] != 2 {
		t.Fatalf("Eol line numbers = %v, want [0 1 2]", lines)
	}
}

func TestLex_AccessConsolidation(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "exit arr{1+2}")

	assertKinds(t, toks, lexer.Key, lexer.Access, lexer.Eol)

	access := toks[1]
	if access.Str != "arr" {
		t.Fatalf("Access name = %q, want arr", access.Str)
	}
	assertKinds(t, access.AccessIndex, lexer.Num, lexer.Arit, lexer.Num)
}

func TestLex_CompleteCallConsolidation(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "set a -> time")

	assertKinds(t, toks, lexer.Key, lexer.Var, lexer.CompleteCall, lexer.Eol)
	if toks[2].CompleteCall != compiler.VFuncTime {
		t.Fatalf("CompleteCall = %v, want VFuncTime", toks[2].CompleteCall)
	}
}

func TestLex_PlainStringProducesLstrWithSingleStrFragment(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, `print "hi"`)

	assertKinds(t, toks, lexer.Key, lexer.Lstr, lexer.Eol)
	assertKinds(t, toks[1].Lstr, lexer.Str)
	if toks[1].Lstr[0].Str != "hi" {
		t.Fatalf("Lstr fragment = %q, want hi", toks[1].Lstr[0].Str)
	}
}

func TestLex_InterpolatedStringAlternatesStrAndExpr(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, `print "x=[a+1]!"`)

	assertKinds(t, toks, lexer.Key, lexer.Lstr, lexer.Eol)

	lstr := toks[1].Lstr
	assertKinds(t, lstr, lexer.Str, lexer.Var, lexer.Arit, lexer.Num, lexer.Str)
	if lstr[0].Str != "x=" || lstr[4].Str != "!" {
		t.Fatalf("fragments = %q / %q, want \"x=\" / \"!\"", lstr[0].Str, lstr[4].Str)
	}
}

func TestLex_EscapeSequencesExpandToBytes(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, `print "a\nb"`)

	frag := toks[1].Lstr[0].Str
	if frag != "a\nb" {
		t.Fatalf("fragment = %q, want %q", frag, "a\nb")
	}
}

func TestLex_CharLiteralEscape(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, `exit '\n'`)

	assertKinds(t, toks, lexer.Key, lexer.Num, lexer.Eol)
	if toks[1].Num != '\n' {
		t.Fatalf("Num = %d, want %d", toks[1].Num, '\n')
	}
}

func TestLex_UnterminatedStringIsFatal(t *testing.T) {
	ctx := compiler.New("t.least", nil)

	var err error
	func() {
		defer diagnostic.Recover(&err)
		lexer.Lex(ctx, `print "oops`)
	}()

	if err == nil {
		t.Fatal("expected a fatal error")
	}
	if err.Error() != "Compiler Error! t.least:1 unterminated string literal" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestLex_InvalidVariableNameIsFatal(t *testing.T) {
	ctx := compiler.New("t.least", nil)

	var err error
	func() {
		defer diagnostic.Recover(&err)
		lexer.Lex(ctx, "exit 1abc")
	}()

	if err == nil {
		t.Fatal("expected a fatal error for a digit-leading identifier")
	}
}
