package ast

import (
	"github.com/theeyeofcthulhu/least/internal/compiler"
	"github.com/theeyeofcthulhu/least/internal/lexer"
)

// firstBodyID is the floor every Body.BodyID is assigned from
// ("all Body nodes in one AST have distinct body_id values >= 1024").
const firstBodyID = 1024

// blockEntry is one open block on blk_stk: the If or While node itself, plus the current_if
// value in effect just before this block was opened, restored on "end" (// dispatch table entry for Key(end): "if the new top is an If, restore current_if").
type blockEntry struct {
	node          *Node
	savedCurrentIf *Node
}

type parser struct {
	ctx  *compiler.Context
	toks []lexer.Token
	pos  int

	root       *Node
	current    *Node // the Body new statements are appended to.
	blkStk     []blockEntry
	currentIf  *Node
	nextBodyID int
}

// Parse walks toks left to right building the AST.3, interning variables and
// strings into ctx along the way. It panics with a *diagnostic.Fatal on any parse error.
func Parse(ctx *compiler.Context, toks []lexer.Token) *Node {
	p := &parser{ctx: ctx, toks: toks, nextBodyID: firstBodyID}
	p.root = p.newBody(nil)
	p.current = p.root

	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]
		ctx.Err.SetLine(tok.Line + 1)

		switch tok.Kind {
		case lexer.Eol, lexer.Sep:
			p.pos++
		case lexer.Key:
			p.parseKey(tok)
		default:
			ctx.Err.Errorf("invalid instruction")
		}
	}

	ctx.Err.OnFalse(len(p.blkStk) == 0, "unresolved block(s) at end of file")
	return p.root
}

func (p *parser) newBody(parent *Node) *Node {
	id := p.nextBodyID
	p.nextBodyID++
	return &Node{Kind: KBody, BodyID: id, Parent: parent}
}

// restOfLine returns the tokens from p.pos up to (excluding) the line's Eol, advancing p.pos
// past the Eol.
func (p *parser) restOfLine() []lexer.Token {
	start := p.pos
	for p.pos < len(p.toks) && p.toks[p.pos].Kind != lexer.Eol {
		p.pos++
	}
	end := p.pos
	p.ctx.Err.OnFalse(p.pos < len(p.toks), "unterminated line")
	p.pos++ // consume Eol
	return p.toks[start:end]
}

func (p *parser) parseKey(tok lexer.Token) {
	switch tok.Keyword {
	case compiler.KeyIf:
		p.pos++
		cond := parseCondition(p.ctx, p.restOfLine())
		body := p.newBody(p.current)
		node := &Node{Kind: KIf, Line: tok.Line, Condition: cond, Block: body}
		p.current.Children = append(p.current.Children, node)
		p.blkStk = append(p.blkStk, blockEntry{node: node, savedCurrentIf: p.currentIf})
		p.currentIf = node
		p.current = body

	case compiler.KeyElif:
		p.ctx.Err.OnFalse(p.currentIf != nil, "'elif' without a matching 'if'")
		p.pos++
		cond := parseCondition(p.ctx, p.restOfLine())
		top := p.blkStk[len(p.blkStk)-1].node
		body := p.newBody(top.Block.Parent)
		node := &Node{Kind: KIf, Line: tok.Line, Condition: cond, Block: body, IsElif: true}
		p.currentIf.Elif = node
		p.currentIf = node
		p.current = body

	case compiler.KeyElse:
		p.ctx.Err.OnFalse(p.currentIf != nil, "'else' without a matching 'if'")
		p.pos++
		rest := p.restOfLine()
		p.ctx.Err.OnFalse(len(rest) == 0, "'else' takes no condition")
		top := p.blkStk[len(p.blkStk)-1].node
		body := p.newBody(top.Block.Parent)
		node := &Node{Kind: KElse, Line: tok.Line, Block: body}
		p.currentIf.Elif = node
		p.currentIf = nil
		p.current = body

	case compiler.KeyWhile:
		p.pos++
		cond := parseCondition(p.ctx, p.restOfLine())
		body := p.newBody(p.current)
		node := &Node{Kind: KWhile, Line: tok.Line, Condition: cond, Block: body}
		p.current.Children = append(p.current.Children, node)
		p.blkStk = append(p.blkStk, blockEntry{node: node, savedCurrentIf: p.currentIf})
		p.current = body

	case compiler.KeyEnd:
		p.ctx.Err.OnFalse(len(p.blkStk) > 0, "'end' without a matching block")
		p.pos++
		entry := p.blkStk[len(p.blkStk)-1]
		p.blkStk = p.blkStk[:len(p.blkStk)-1]
		p.current = entry.node.Block.Parent
		p.currentIf = nil
		if len(p.blkStk) > 0 {
			top := p.blkStk[len(p.blkStk)-1].node
			if top.Kind == KIf {
				p.currentIf = entry.savedCurrentIf
			}
		}

	case compiler.KeyDouble:
		p.pos++
		p.restOfLine()
		p.ctx.CheckDouble(0)
		p.ctx.Err.Errorf("double: not implemented")

	default:
		fid, ok := compiler.KeyFuncs[tok.Keyword]
		p.ctx.Err.OnFalse(ok, "invalid instruction")
		node := p.parseFunc(fid, tok)
		p.current.Children = append(p.current.Children, node)
	}
}

// parseFunc parses a statement-level keyword function's arguments, terminated by Eol
// ("Key(other callable)" dispatch row). Arguments are separated by Sep, or by whitespace alone
// where an operand follows a complete expression: "set a a + 3 * 4" has the arguments a and
// a + 3 * 4.
func (p *parser) parseFunc(fid compiler.FuncID, tok lexer.Token) *Node {
	p.pos++ // consume the keyword

	var args []*Node
	for {
		p.ctx.Err.OnFalse(p.pos < len(p.toks), "unterminated function call")
		t := p.toks[p.pos]

		switch t.Kind {
		case lexer.Eol:
			p.pos++
			goto done
		case lexer.Sep:
			p.pos++
		case lexer.Lstr:
			args = append(args, buildLstr(p.ctx, t))
			p.pos++
			if p.pos < len(p.toks) {
				nt := p.toks[p.pos]
				p.ctx.Err.OnFalse(nt.Kind == lexer.Sep || nt.Kind == lexer.Eol,
					"excess tokens after string argument")
			}
		default:
			// an expression is an operand followed by any number of operator/operand pairs.
			end := p.pos + 1
			for end+1 < len(p.toks) && p.toks[end].Kind == lexer.Arit &&
				p.toks[end+1].Kind != lexer.Sep && p.toks[end+1].Kind != lexer.Eol {
				end += 2
			}
			args = append(args, parseAritExpr(p.ctx, p.toks[p.pos:end]))
			p.pos = end
		}
	}
done:

	if fid == compiler.FuncPutchar {
		p.ctx.RequiredLibs[compiler.LibPutchar] = true
	}
	return &Node{Kind: KFunc, Line: tok.Line, FuncID: fid, Args: args}
}

func buildLstr(ctx *compiler.Context, tok lexer.Token) *Node {
	var format []*Node
	toks := tok.Lstr

	i := 0
	for i < len(toks) {
		if toks[i].Kind == lexer.Str {
			format = append(format, &Node{Kind: KStr, Line: toks[i].Line, StrID: ctx.CheckStr(toks[i].Str)})
			i++
			continue
		}
		j := i
		for j < len(toks) && toks[j].Kind != lexer.Str {
			j++
		}
		format = append(format, parseAritExpr(ctx, toks[i:j]))
		i = j
	}

	return &Node{Kind: KLstr, Line: tok.Line, Format: format}
}

// parseCondition splits toks on top-level Log tokens, left-associative, building Log nodes
// over per-side comparisons: a proper boolean AST lowered with fall-through targets (see
// codegen), rather than a flattened &&/|| token sequence, while keeping the same
// jump-opposite convention.
func parseCondition(ctx *compiler.Context, toks []lexer.Token) *Node {
	var parts [][]lexer.Token
	var ops []compiler.LogOp

	start := 0
	for i, t := range toks {
		if t.Kind == lexer.Log {
			parts = append(parts, toks[start:i])
			ops = append(ops, t.LogOp)
			start = i + 1
		}
	}
	parts = append(parts, toks[start:])

	node := parseComparison(ctx, parts[0])
	for i, op := range ops {
		rhs := parseComparison(ctx, parts[i+1])
		node = &Node{Kind: KLog, Line: node.Line, Left: node, Right: rhs, LogOp: op}
	}
	return node
}

// parseComparison implements "Condition parsing": at most one comparison
// operator; absent, the expression is wrapped as Cmp(left, nil, CmpNone).
func parseComparison(ctx *compiler.Context, toks []lexer.Token) *Node {
	cmpIdx := -1
	for i, t := range toks {
		if t.Kind == lexer.Cmp {
			ctx.Err.SetLine(t.Line + 1)
			ctx.Err.OnFalse(cmpIdx == -1, "a condition may contain at most one comparison operator")
			cmpIdx = i
		}
	}

	if cmpIdx == -1 {
		left := parseAritExpr(ctx, toks)
		return &Node{Kind: KCmp, Line: left.Line, Left: left, CmpOp: compiler.CmpNone}
	}

	left := parseAritExpr(ctx, toks[:cmpIdx])
	right := parseAritExpr(ctx, toks[cmpIdx+1:])
	return &Node{Kind: KCmp, Line: left.Line, Left: left, Right: right, CmpOp: toks[cmpIdx].CmpOp}
}

// parseAritExpr implements two-pass precedence algorithm: a first pass
// collapses every run of * / % into left-associative Arit subtrees in place, then a second
// pass folds the remaining + - left-associatively over what's left.
func parseAritExpr(ctx *compiler.Context, toks []lexer.Token) *Node {
	ctx.Err.OnFalse(len(toks) > 0, "expected an expression")
	if len(toks) == 1 {
		return buildOperand(ctx, toks[0])
	}
	ctx.Err.OnFalse(len(toks)%2 == 1, "malformed arithmetic expression: missing operand")

	type slot struct {
		node *Node
		op   compiler.AritOp
	}

	var mid []slot
	cur := buildOperand(ctx, toks[0])

	i := 1
	for i < len(toks) {
		opTok := toks[i]
		ctx.Err.SetLine(opTok.Line + 1)
		ctx.Err.OnFalse(opTok.Kind == lexer.Arit, "expected an operator, got %s", opTok.Kind)
		ctx.Err.OnFalse(i+1 < len(toks), "malformed arithmetic expression: trailing operator %s", opTok.AritOp)

		rhs := buildOperand(ctx, toks[i+1])

		if opTok.AritOp.HasPrecedence() {
			cur = &Node{Kind: KArit, Line: opTok.Line, Left: cur, Right: rhs, AritOp: opTok.AritOp}
		} else {
			mid = append(mid, slot{node: cur}, slot{op: opTok.AritOp})
			cur = rhs
		}
		i += 2
	}
	mid = append(mid, slot{node: cur})

	result := mid[0].node
	for i := 1; i < len(mid); i += 2 {
		result = &Node{Kind: KArit, Line: result.Line, Left: result, Right: mid[i+1].node, AritOp: mid[i].op}
	}
	return result
}

func buildOperand(ctx *compiler.Context, tok lexer.Token) *Node {
	switch tok.Kind {
	case lexer.Num:
		return &Node{Kind: KConst, Line: tok.Line, ConstVal: tok.Num}
	case lexer.Var:
		return &Node{Kind: KVar, Line: tok.Line, VarID: ctx.CheckVar(tok.Str)}
	case lexer.Access:
		return &Node{
			Kind:  KAccess,
			Line:  tok.Line,
			VarID: ctx.CheckArray(tok.Str),
			Index: parseAritExpr(ctx, tok.AccessIndex),
		}
	case lexer.CompleteCall:
		return &Node{Kind: KVFunc, Line: tok.Line, VFuncID: tok.CompleteCall, ReturnType: compiler.TypeInt}
	default:
		ctx.Err.SetLine(tok.Line + 1)
		ctx.Err.Errorf("expected a number, variable, access, or value-function call, got %s", tok.Kind)
		panic("unreachable")
	}
}
