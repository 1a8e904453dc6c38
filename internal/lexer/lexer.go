package lexer

import (
	"strconv"
	"strings"

	"github.com/theeyeofcthulhu/least/internal/compiler"
)

// singleSymbols are the one-character operators and brackets recognized directly. symbolChars
// additionally includes the characters that only ever appear as the first or second half of a
// two-character symbol (=, !, &, |) -- these still terminate a bare identifier run even though
// they are never themselves single-character tokens.
const singleSymbols = "+-*/%<>;()[]{}"
const symbolChars = singleSymbols + "=!&|"

var multiSymbols = map[string]bool{
	"==": true, "!=": true, "<=": true, ">=": true,
	"&&": true, "||": true, "->": true,
}

// escapeBytes maps an escape specifier to its expanded byte, shared between string and
// character literals. Each key is listed once -- see DESIGN.md for why: explicit keys over a
// table that could silently let one escape shadow another.
var escapeBytes = map[byte]byte{
	'n':  '\n',
	't':  '\t',
	'\\': '\\',
	'"':  '"',
	'\'': '\'',
	'[':  '[',
	']':  ']',
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordEnding(c byte) bool {
	return isSpace(c) || strings.IndexByte(symbolChars, c) >= 0
}

// Lex tokenizes source, reporting lexical errors against ctx.Err; strings are interned later,
// by the parser. It panics with a *diagnostic.Fatal on any lex error; callers recover at the
// compiler's top-level boundary (see internal/diagnostic).
func Lex(ctx *compiler.Context, source string) []Token {
	var toks []Token
	for lineNo, line := range strings.Split(source, "\n") {
		toks = append(toks, lexLine(ctx, line, lineNo)...)
	}
	return consolidate(ctx, toks)
}

// lexLine extracts every word on one line, terminated by a single Eol -- every input line
// boundary emits exactly one Eol, even for empty lines.
func lexLine(ctx *compiler.Context, line string, lineNo int) []Token {
	var toks []Token
	i := 0
	for i < len(line) {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i >= len(line) {
			break
		}

		switch line[i] {
		case '"':
			tok, next := lexLstr(ctx, line, i, lineNo)
			toks = append(toks, tok)
			i = next
		case '\'':
			tok, next := lexChar(ctx, line, i, lineNo)
			toks = append(toks, tok)
			i = next
		default:
			word, next, symbol := nextWord(line, i)
			toks = append(toks, classify(ctx, word, lineNo, symbol))
			i = next
		}
	}
	toks = append(toks, newTok(Eol, lineNo))
	return toks
}

// nextWord splits off the next word: a known two-character symbol, else a known
// one-character symbol, else a run up to the next word-ending character.
func nextWord(line string, i int) (word string, next int, symbol bool) {
	if i+2 <= len(line) && multiSymbols[line[i:i+2]] {
		return line[i : i+2], i + 2, true
	}
	if strings.IndexByte(singleSymbols, line[i]) >= 0 {
		return line[i : i+1], i + 1, true
	}

	j := i
	for j < len(line) && !isWordEnding(line[j]) {
		j++
	}
	if j == i {
		// line[i] is a word-ending character that is neither a known single nor a known
		// double symbol (e.g. a lone '='); classify reports it as invalid.
		j++
	}
	return line[i:j], j, false
}

// classify turns one word into its Token: a keyword, operator, literal, or identifier.
func classify(ctx *compiler.Context, word string, lineNo int, symbol bool) Token {
	if !symbol {
		if isDigit(word[0]) {
			return Token{Kind: Num, Line: lineNo, Num: parseNumber(ctx, word, lineNo)}
		}
		if kw, ok := compiler.Keywords[word]; ok {
			return Token{Kind: Key, Line: lineNo, Keyword: kw}
		}
		checkVarName(ctx, word, lineNo)
		return Token{Kind: Var, Line: lineNo, Str: word}
	}

	if op, ok := compiler.CmpOps[word]; ok {
		return Token{Kind: Cmp, Line: lineNo, CmpOp: op}
	}
	if op, ok := compiler.AritOps[word]; ok {
		return Token{Kind: Arit, Line: lineNo, AritOp: op}
	}
	if op, ok := compiler.LogOps[word]; ok {
		return Token{Kind: Log, Line: lineNo, LogOp: op}
	}

	switch word {
	case ";":
		return Token{Kind: Sep, Line: lineNo}
	case "->":
		return Token{Kind: Call, Line: lineNo}
	case "(":
		return Token{Kind: Bracket, Line: lineNo, BracketPurpose: Grouping, BracketKind: Open}
	case ")":
		return Token{Kind: Bracket, Line: lineNo, BracketPurpose: Grouping, BracketKind: Close}
	case "{":
		return Token{Kind: Bracket, Line: lineNo, BracketPurpose: AccessBracket, BracketKind: Open}
	case "}":
		return Token{Kind: Bracket, Line: lineNo, BracketPurpose: AccessBracket, BracketKind: Close}
	case "[":
		return Token{Kind: Bracket, Line: lineNo, BracketPurpose: Grouping, BracketKind: Open}
	case "]":
		return Token{Kind: Bracket, Line: lineNo, BracketPurpose: Grouping, BracketKind: Close}
	}

	ctx.Err.SetLine(lineNo + 1)
	ctx.Err.Errorf("unrecognized symbol: %q", word)
	panic("unreachable")
}

func parseNumber(ctx *compiler.Context, word string, lineNo int) int {
	n, err := strconv.ParseInt(word, 0, 64)
	if err != nil {
		ctx.Err.SetLine(lineNo + 1)
		ctx.Err.Errorf("malformed number literal: %q", word)
	}
	return int(n)
}

func checkVarName(ctx *compiler.Context, name string, lineNo int) {
	ctx.Err.SetLine(lineNo + 1)
	ctx.Err.OnFalse(isAlpha(name[0]), "variables must begin with a letter: %q", name)
	for i := 1; i < len(name); i++ {
		c := name[i]
		ctx.Err.OnFalse(isAlpha(c) || isDigit(c) || c == '_',
			"invalid character %q in variable name: %q", c, name)
	}
}

// lexChar parses a character literal 'c' or '\e' starting at line[i]=='\'', returning a Num
// token holding the byte value.
func lexChar(ctx *compiler.Context, line string, i int, lineNo int) (Token, int) {
	j := i + 1
	var b byte

	ctx.Err.SetLine(lineNo + 1)
	ctx.Err.OnFalse(j < len(line), "unterminated character literal")

	if line[j] == '\\' {
		ctx.Err.OnFalse(j+1 < len(line), "unterminated escape sequence in character literal")
		esc, ok := escapeBytes[line[j+1]]
		ctx.Err.OnFalse(ok, "invalid escape sequence: \\%c", line[j+1])
		b = esc
		j += 2
	} else {
		b = line[j]
		j++
	}

	ctx.Err.OnFalse(j < len(line) && line[j] == '\'', "unterminated character literal")
	j++

	return Token{Kind: Num, Line: lineNo, Num: int(b)}, j
}

// lexLstr parses an interpolated string literal starting at line[i]=='"'. Escaped characters
// expand directly to their byte value; '[' ... ']' substitutions are recursively lexed via
// lexSub. The result alternates Str fragment tokens and the flat token runs produced by each
// substitution, in source order.
func lexLstr(ctx *compiler.Context, line string, i int, lineNo int) (Token, int) {
	j := i + 1
	var format []Token
	var sb strings.Builder

	flush := func() {
		if sb.Len() > 0 {
			format = append(format, Token{Kind: Str, Line: lineNo, Str: sb.String()})
			sb.Reset()
		}
	}

	for {
		ctx.Err.SetLine(lineNo + 1)
		ctx.Err.OnFalse(j < len(line), "unterminated string literal")

		switch line[j] {
		case '"':
			flush()
			return Token{Kind: Lstr, Line: lineNo, Lstr: format}, j + 1

		case '\\':
			ctx.Err.OnFalse(j+1 < len(line), "unterminated escape sequence in string literal")
			esc, ok := escapeBytes[line[j+1]]
			ctx.Err.OnFalse(ok, "invalid escape sequence: \\%c", line[j+1])
			sb.WriteByte(esc)
			j += 2

		case '[':
			flush()
			start := j + 1
			k := start
			for {
				ctx.Err.OnFalse(k < len(line), "unbalanced '[' in string literal")
				ctx.Err.OnFalse(line[k] != '[', "nested '[' in string substitution")
				if line[k] == ']' {
					break
				}
				k++
			}
			format = append(format, lexSub(ctx, line[start:k], lineNo)...)
			j = k + 1

		case ']':
			ctx.Err.Errorf("unmatched ']' in string literal")

		default:
			sb.WriteByte(line[j])
			j++
		}
	}
}

// lexSub re-lexes the contents of a "[...]" string substitution as a standalone line and
// validates that the result is a single expression of variables, numbers, operators, or
// accesses.
func lexSub(ctx *compiler.Context, text string, lineNo int) []Token {
	toks := lexLine(ctx, text, lineNo)
	if len(toks) > 0 && toks[len(toks)-1].Kind == Eol {
		toks = toks[:len(toks)-1]
	}
	toks = consolidate(ctx, toks)

	ctx.Err.SetLine(lineNo + 1)
	for _, t := range toks {
		switch t.Kind {
		case Num, Var, Arit, Access, Bracket:
		default:
			ctx.Err.Errorf("invalid token of kind %s in string substitution", t.Kind)
		}
	}
	return toks
}

// consolidate implements consolidation pass: Var+Bracket(Access,Open) fuses
// with its matching Bracket(Access,Close) into a single Access token, and Call fuses with a
// following value-returning Key into CompleteCall. It recurses into each access's index
// tokens so nesting (an access inside an access index) is handled to any depth in one walk.
func consolidate(ctx *compiler.Context, toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	i := 0
	for i < len(toks) {
		t := toks[i]

		if t.Kind == Var && i+1 < len(toks) && toks[i+1].Kind == Bracket &&
			toks[i+1].BracketPurpose == AccessBracket && toks[i+1].BracketKind == Open {

			depth := 1
			j := i + 2
			for j < len(toks) {
				if toks[j].Kind == Bracket && toks[j].BracketPurpose == AccessBracket {
					if toks[j].BracketKind == Open {
						depth++
					} else {
						depth--
						if depth == 0 {
							break
						}
					}
				}
				j++
			}
			ctx.Err.SetLine(t.Line + 1)
			ctx.Err.OnFalse(depth == 0, "unbalanced access brackets for %q", t.Str)

			inner := consolidate(ctx, toks[i+2:j])
			out = append(out, Token{Kind: Access, Line: t.Line, Str: t.Str, AccessIndex: inner})
			i = j + 1
			continue
		}

		if t.Kind == Call && i+1 < len(toks) && toks[i+1].Kind == Key {
			if vf, ok := compiler.KeyValueFuncs[toks[i+1].Keyword]; ok {
				out = append(out, Token{Kind: CompleteCall, Line: t.Line, CompleteCall: vf})
				i += 2
				continue
			}
		}

		out = append(out, t)
		i++
	}
	return out
}
