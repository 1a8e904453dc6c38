package codegen

import (
	"fmt"

	"github.com/theeyeofcthulhu/least/internal/ast"
	"github.com/theeyeofcthulhu/least/internal/compiler"
)

func endLabel(bodyID int) string   { return fmt.Sprintf(".end%d", bodyID) }
func entryLabel(bodyID int) string { return fmt.Sprintf(".entry%d", bodyID) }

type loopLabels struct {
	continueLabel string
	breakLabel    string
}

// lowerer threads the accumulated instruction list and loop context through the recursive AST
// walk. It also hands out unique labels for the short-circuit `||` branches
// the Log redesign introduces -- the lowering table only covers Cmp directly, so
// this extends the same "opposite jump" convention to a second condition kind.
type lowerer struct {
	ctx     *compiler.Context
	ins     []Instruction
	loops   []loopLabels
	tmpSeq  int
}

// Lower builds the full instruction list for a compiled program: the `_start` prologue (stack
// frame setup only if any variable was declared), the lowered body, and the fixed `exit(0)`
// epilogue.
func Lower(ctx *compiler.Context, root *ast.Node) []Instruction {
	l := &lowerer{ctx: ctx}

	l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: "_start", Global: true})))

	if ctx.StackSize > 0 {
		l.emit(inst2(OpMov, regOp(RBP), regOp(RSP)))
		l.emit(inst2(OpSub, regOp(RSP), immOp(int32(ctx.StackSize*8))))
	}

	l.lowerBody(root)

	l.emit(inst2(OpMov, regOp(RAX), immOp(60)))
	l.emit(inst2(OpXor, regOp(RDI), regOp(RDI)))
	l.emit(inst0(OpSyscall))

	return l.ins
}

func (l *lowerer) emit(in Instruction) { l.ins = append(l.ins, in) }

func (l *lowerer) tmpLabel(prefix string) string {
	l.tmpSeq++
	return fmt.Sprintf(".%s%d", prefix, l.tmpSeq)
}

func (l *lowerer) lowerBody(body *ast.Node) {
	for _, child := range body.Children {
		l.lowerStmt(child)
	}
}

func (l *lowerer) lowerStmt(n *ast.Node) {
	l.ctx.Err.SetLine(n.Line + 1)

	switch n.Kind {
	case ast.KIf:
		l.lowerIfChain(n, realEndBodyID(n))
	case ast.KWhile:
		l.lowerWhile(n)
	case ast.KFunc:
		l.lowerFunc(n)
	default:
		l.ctx.Err.Errorf("internal error: unexpected statement node %s", n.Kind)
	}
}

// realEndBodyID walks an If's elif/else chain to the last alternative, whose body id every
// branch jumps to on completion.
func realEndBodyID(n *ast.Node) int {
	cur := n
	for cur.Elif != nil {
		cur = cur.Elif
	}
	return cur.Block.BodyID
}

func (l *lowerer) lowerIfChain(n *ast.Node, realEnd int) {
	if n.Kind == ast.KElse {
		l.lowerBody(n.Block)
		l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: endLabel(n.Block.BodyID)})))
		return
	}

	l.lowerCondition(n.Condition, n.Block.BodyID)
	l.lowerBody(n.Block)

	if n.Elif != nil {
		l.emit(inst1(OpJmp, symOp(endLabel(realEnd))))
		l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: endLabel(n.Block.BodyID)})))
		l.lowerIfChain(n.Elif, realEnd)
	} else {
		l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: endLabel(n.Block.BodyID)})))
	}
}

func (l *lowerer) lowerWhile(n *ast.Node) {
	entry := entryLabel(n.Block.BodyID)
	end := endLabel(n.Block.BodyID)

	l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: entry})))
	l.lowerCondition(n.Condition, n.Block.BodyID)

	l.loops = append(l.loops, loopLabels{continueLabel: entry, breakLabel: end})
	l.lowerBody(n.Block)
	l.loops = l.loops[:len(l.loops)-1]

	l.emit(inst1(OpJmp, symOp(entry)))
	l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: end})))
}

// lowerCondition lowers a Cmp or Log node so that execution falls through to the following
// body iff the condition holds, and jumps to .end<enclosingBodyID> otherwise. Log's `&&`
// shares the same end target on both sides; `||` needs a private label to short-circuit
// into the body once the left side is already true.
func (l *lowerer) lowerCondition(cond *ast.Node, enclosingBodyID int) {
	switch cond.Kind {
	case ast.KCmp:
		l.lowerCmp(cond, enclosingBodyID)
	case ast.KLog:
		switch cond.LogOp {
		case compiler.And:
			l.lowerCondition(cond.Left, enclosingBodyID)
			l.lowerCondition(cond.Right, enclosingBodyID)
		case compiler.Or:
			rightCheck := l.tmpLabel("or")
			bodyLabel := l.tmpLabel("or")
			l.lowerConditionTo(cond.Left, rightCheck)
			l.emit(inst1(OpJmp, symOp(bodyLabel)))
			l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: rightCheck})))
			l.lowerCondition(cond.Right, enclosingBodyID)
			l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: bodyLabel})))
		}
	default:
		l.ctx.Err.Errorf("internal error: unexpected condition node %s", cond.Kind)
	}
}

// lowerConditionTo is lowerCondition generalized over an explicit failure target, used by `||`
// to route the left side's failure into the right side's check instead of straight to .end.
func (l *lowerer) lowerConditionTo(cond *ast.Node, failTarget string) {
	switch cond.Kind {
	case ast.KCmp:
		l.lowerCmpTo(cond, failTarget)
	case ast.KLog:
		switch cond.LogOp {
		case compiler.And:
			l.lowerConditionTo(cond.Left, failTarget)
			l.lowerConditionTo(cond.Right, failTarget)
		case compiler.Or:
			rightCheck := l.tmpLabel("or")
			bodyLabel := l.tmpLabel("or")
			l.lowerConditionTo(cond.Left, rightCheck)
			l.emit(inst1(OpJmp, symOp(bodyLabel)))
			l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: rightCheck})))
			l.lowerConditionTo(cond.Right, failTarget)
			l.emit(inst1(OpLabel, labelOp(LabelInfo{Name: bodyLabel})))
		}
	}
}

func (l *lowerer) lowerCmp(n *ast.Node, enclosingBodyID int) {
	l.lowerCmpTo(n, endLabel(enclosingBodyID))
}

// lowerCmpTo computes left into r8, right (if any) into r9, and jumps to failTarget on the
// opposite of the written comparison. A null right operand compares against
// the immediate 1, with the opposite of `je`.
func (l *lowerer) lowerCmpTo(n *ast.Node, failTarget string) {
	l.lowerValueInto(n.Left, R8)

	op := n.CmpOp
	if op == compiler.CmpNone {
		l.emit(inst2(OpCmp, regOp(R8), immOp(1)))
		op = compiler.Equal
	} else {
		l.lowerValueInto(n.Right, R9)
		l.emit(inst2(OpCmp, regOp(R8), regOp(R9)))
	}

	l.emit(inst1(jumpOp(op.Opposite()), symOp(failTarget)))
}

func jumpOp(op compiler.CmpOp) Op {
	switch op {
	case compiler.Equal:
		return OpJe
	case compiler.NotEqual:
		return OpJne
	case compiler.Less:
		return OpJl
	case compiler.LessOrEqual:
		return OpJle
	case compiler.Greater:
		return OpJg
	case compiler.GreaterOrEqual:
		return OpJge
	default:
		return OpJne
	}
}

func (l *lowerer) lowerFunc(n *ast.Node) {
	switch n.FuncID {
	case compiler.FuncExit:
		l.emit(inst2(OpMov, regOp(RAX), immOp(60)))
		l.lowerValueInto(n.Args[0], RDI)
		l.emit(inst0(OpSyscall))

	case compiler.FuncInt:
		l.lowerValueToMemory(n.Args[1], l.varMem(n.Args[0].VarID))

	case compiler.FuncStr:
		// the string literal itself lives in .rodata; Func(str v lstr) only needs to record
		// that v is defined -- the semantic pass already did the bookkeeping.

	case compiler.FuncArray:
		// array declares its backing store on the stack; nothing to initialize.

	case compiler.FuncSet:
		l.lowerValueToMemory(n.Args[1], l.operandMem(n.Args[0]))

	case compiler.FuncAdd, compiler.FuncSub:
		l.lowerAddSub(n)

	case compiler.FuncPrint:
		l.lowerPrint(n.Args[0])

	case compiler.FuncPutchar:
		l.lowerValueInto(n.Args[0], RAX)
		l.emit(inst1(OpCall, symOp("putchar")))

	case compiler.FuncRead:
		l.lowerRead(n.Args[0])

	case compiler.FuncBreak:
		l.ctx.Err.OnFalse(len(l.loops) > 0, "'break' outside a loop")
		l.emit(inst1(OpJmp, symOp(l.loops[len(l.loops)-1].breakLabel)))

	case compiler.FuncContinue:
		l.ctx.Err.OnFalse(len(l.loops) > 0, "'continue' outside a loop")
		l.emit(inst1(OpJmp, symOp(l.loops[len(l.loops)-1].continueLabel)))

	default:
		l.ctx.Err.Errorf("internal error: unhandled function %s", n.FuncID)
	}
}

func (l *lowerer) lowerAddSub(n *ast.Node) {
	op := OpAdd
	if n.FuncID == compiler.FuncSub {
		op = OpSub
	}
	dst := l.operandMem(n.Args[0])
	val := n.Args[1]

	if val.Kind == ast.KConst {
		l.emit(inst2(op, dst, immOp(int32(val.ConstVal))))
		return
	}
	l.lowerValueInto(val, R8)
	l.emit(inst2(op, dst, regOp(R8)))
}

func (l *lowerer) lowerPrint(lstr *ast.Node) {
	for _, seg := range lstr.Format {
		if seg.Kind == ast.KStr {
			strLen := len(l.ctx.Strings[seg.StrID])
			l.emit(inst2(OpMov, regOp(RAX), immOp(1)))
			l.emit(inst2(OpMov, regOp(RDI), immOp(1)))
			l.emit(inst2(OpMov, regOp(RSI), strOp(seg.StrID)))
			l.emit(inst2(OpMov, regOp(RDX), immOp(int32(strLen))))
			l.emit(inst0(OpSyscall))
			continue
		}

		l.lowerValueInto(seg, RAX)
		l.ctx.RequiredLibs[compiler.LibUprint] = true
		l.emit(inst1(OpCall, symOp("uprint")))
	}
}

// lowerRead emits the 3-arg read(2) syscall writing into v's stack slot. The buffer size is
// fixed at 256 bytes; this compiler does not model a separate runtime length slot for strings
// beyond the single stack word assigned at declaration (a simplification recorded in
// DESIGN.md: the source's "length slot" tracks a runtime byte count this core doesn't need,
// since Func(str)'s only other consumer, print, always walks to the read syscall's return
// value territory the original captures -- out of scope here per the narrow type model).
func (l *lowerer) lowerRead(arg *ast.Node) {
	const bufSize = 256
	addr := l.addressInto(R10, l.varMem(arg.VarID))

	l.emit(inst2(OpXor, regOp(RAX), regOp(RAX)))
	l.emit(inst2(OpXor, regOp(RDI), regOp(RDI)))
	l.emit(inst2(OpMov, regOp(RSI), regOp(addr)))
	l.emit(inst2(OpMov, regOp(RDX), immOp(bufSize)))
	l.emit(inst0(OpSyscall))
}

// addressInto computes mem's effective address into scratch and returns scratch, using only
// mov/sub; used by read's syscall argument and dynamic array
// indexing.
func (l *lowerer) addressInto(scratch Register, mem Operand) Register {
	l.emit(inst2(OpMov, regOp(scratch), regOp(RBP)))
	if mem.Mem.Disp != 0 {
		l.emit(inst2(OpSub, regOp(scratch), immOp(-mem.Mem.Disp)))
	}
	return scratch
}

func (l *lowerer) varMem(varID int) Operand {
	v := l.ctx.Var(varID)
	return memOp(RBP, -int32(v.StackOffset*8))
}

// operandMem resolves a Var or Access node to its memory operand: `v` at stack offset o
// becomes `[rbp - o*8]`; `v{i}` with constant i becomes `[rbp - (o-i)*8]`; a non-constant
// index is computed into a scratch register instead.
func (l *lowerer) operandMem(n *ast.Node) Operand {
	v := l.ctx.Var(n.VarID)

	if n.Kind == ast.KVar {
		return memOp(RBP, -int32(v.StackOffset*8))
	}

	if n.Index.Kind == ast.KConst {
		disp := -int32((v.StackOffset - n.Index.ConstVal) * 8)
		return memOp(RBP, disp)
	}

	l.lowerValueInto(n.Index, R9)
	l.emit(inst2(OpMov, regOp(RAX), regOp(R9)))
	l.emit(inst2(OpMov, regOp(RCX), immOp(8)))
	l.emit(inst0(OpMul))
	l.emit(inst2(OpMov, regOp(R10), regOp(RBP)))
	l.emit(inst2(OpSub, regOp(R10), immOp(int32(v.StackOffset*8))))
	l.emit(inst2(OpAdd, regOp(R10), regOp(RAX)))
	return memOp(R10, 0)
}

// lowerValueInto computes n's value into target. Arit recurses through lowerArit to a
// register; every other node kind is a leaf loaded with a single mov.
func (l *lowerer) lowerValueInto(n *ast.Node, target Register) {
	switch n.Kind {
	case ast.KArit:
		l.lowerArit(n, target)
	case ast.KConst:
		l.emit(inst2(OpMov, regOp(target), immOp(int32(n.ConstVal))))
	case ast.KVar:
		l.emit(inst2(OpMov, regOp(target), l.varMem(n.VarID)))
	case ast.KAccess:
		l.emit(inst2(OpMov, regOp(target), l.operandMem(n)))
	case ast.KVFunc:
		l.lowerVFunc(n, target)
	default:
		l.ctx.Err.Errorf("internal error: unexpected value node %s", n.Kind)
	}
}

func (l *lowerer) lowerVFunc(n *ast.Node, target Register) {
	switch n.VFuncID {
	case compiler.VFuncTime:
		l.emit(inst2(OpMov, regOp(RAX), immOp(201))) // SYS_time
		l.emit(inst2(OpXor, regOp(RDI), regOp(RDI)))
		l.emit(inst0(OpSyscall))
	case compiler.VFuncGetuid:
		l.emit(inst2(OpMov, regOp(RAX), immOp(102))) // SYS_getuid
		l.emit(inst0(OpSyscall))
	default:
		l.ctx.Err.Errorf("internal error: unhandled value function %s", n.VFuncID)
	}
	if target != RAX {
		l.emit(inst2(OpMov, regOp(target), regOp(RAX)))
	}
}

// lowerValueToMemory stores n's value into dst. A constant writes directly with the
// immediate-to-memory form; everything else is computed into r8 first.4.1's
// Func(set) rule ("if src is Arit lower into r8 ... else direct mov").
func (l *lowerer) lowerValueToMemory(n *ast.Node, dst Operand) {
	if n.Kind == ast.KConst {
		l.emit(inst2(OpMov, dst, immOp(int32(n.ConstVal))))
		return
	}
	l.lowerValueInto(n, R8)
	l.emit(inst2(OpMov, dst, regOp(R8)))
}

// lowerArit lowers an arithmetic expression into target, using rax/rcx as its fixed working
// registers. When the right operand is itself an Arit, rax is preserved with
// push/pop across its recursive evaluation since that recursion also uses rax.
func (l *lowerer) lowerArit(n *ast.Node, target Register) {
	l.lowerValueInto(n.Left, RAX)

	if n.Right.Kind == ast.KArit {
		l.emit(inst1(OpPush, regOp(RAX)))
		l.lowerArit(n.Right, RAX)
		l.emit(inst2(OpMov, regOp(RCX), regOp(RAX)))
		l.emit(inst1(OpPop, regOp(RAX)))
	} else {
		l.lowerValueInto(n.Right, RCX)
	}

	switch n.AritOp {
	case compiler.Add:
		l.emit(inst2(OpAdd, regOp(RAX), regOp(RCX)))
	case compiler.Sub:
		l.emit(inst2(OpSub, regOp(RAX), regOp(RCX)))
	case compiler.Mul:
		l.emit(inst0(OpMul))
	case compiler.Div, compiler.Mod:
		l.emit(inst2(OpXor, regOp(RDX), regOp(RDX)))
		l.emit(inst0(OpDiv))
		if n.AritOp == compiler.Mod {
			if target != RDX {
				l.emit(inst2(OpMov, regOp(target), regOp(RDX)))
			}
			return
		}
	}

	if target != RAX {
		l.emit(inst2(OpMov, regOp(target), regOp(RAX)))
	}
}
