package codegen_test

import (
	"strings"
	"testing"

	"github.com/theeyeofcthulhu/least/internal/ast"
	"github.com/theeyeofcthulhu/least/internal/codegen"
	"github.com/theeyeofcthulhu/least/internal/compiler"
	"github.com/theeyeofcthulhu/least/internal/lexer"
)

func lower(t *testing.T, source string) []codegen.Instruction {
	t.Helper()
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, source)
	root := ast.Parse(ctx, toks)
	ast.Check(ctx, root)
	return codegen.Lower(ctx, root)
}

func opsOf(ins []codegen.Instruction) []codegen.Op {
	ops := make([]codegen.Op, len(ins))
	for i, in := range ins {
		ops[i] = in.Op
	}
	return ops
}

func containsOpSeq(ops, want []codegen.Op) bool {
	if len(want) > len(ops) {
		return false
	}
	for i := 0; i+len(want) <= len(ops); i++ {
		match := true
		for j, w := range want {
			if ops[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestLower_ExitConstant(t *testing.T) {
	ins := lower(t, "exit 42\n")
	ops := opsOf(ins)

	want := []codegen.Op{codegen.OpMov, codegen.OpMov, codegen.OpSyscall}
	if !containsOpSeq(ops, want) {
		t.Fatalf("ops = %v, want a mov/mov/syscall sequence for exit", ops)
	}

	// the epilogue's forced exit(0) (mov rax, 60; xor rdi, rdi; syscall) must follow the user's own exit.
	last3 := ops[len(ops)-3:]
	if !containsOpSeq(last3, []codegen.Op{codegen.OpMov, codegen.OpXor, codegen.OpSyscall}) {
		t.Fatalf("epilogue ops = %v, want mov/xor/syscall", last3)
	}
}

func TestLower_NoStackFrameWithoutVariables(t *testing.T) {
	ins := lower(t, "exit 0\n")
	for _, in := range ins {
		if in.Op == codegen.OpSub && in.Op1.Kind == codegen.OReg && in.Op1.Reg == codegen.RSP {
			t.Fatalf("stack frame allocated despite no declared variables: %+v", in)
		}
	}
}

func TestLower_IntDeclarationAllocatesStackFrame(t *testing.T) {
	ins := lower(t, "int a 2\nexit a\n")

	foundFrame := false
	for _, in := range ins {
		if in.Op == codegen.OpSub && in.Op1.Kind == codegen.OReg && in.Op1.Reg == codegen.RSP {
			foundFrame = true
			if in.Op2.Kind != codegen.OImm || in.Op2.Imm != 8 {
				t.Fatalf("expected a sub rsp, 8 frame for one int, got %+v", in)
			}
		}
	}
	if !foundFrame {
		t.Fatal("expected a stack frame to be allocated for a declared variable")
	}
}

func TestLower_SetArithmeticUsesFixedRegisters(t *testing.T) {
	ins := lower(t, "int a 2\nset a a + 3 * 4\nexit a\n")

	// a + (3*4): left into rax, right recurses (mul uses rax/rcx too) so rax is
	// preserved around it with push/pop.
	var sawPush, sawPop, sawMul, sawAdd bool
	for _, in := range ins {
		switch in.Op {
		case codegen.OpPush:
			sawPush = true
		case codegen.OpPop:
			sawPop = true
		case codegen.OpMul:
			sawMul = true
		case codegen.OpAdd:
			if in.Op1.Kind == codegen.OReg && in.Op1.Reg == codegen.RAX {
				sawAdd = true
			}
		}
	}
	if !sawPush || !sawPop {
		t.Fatalf("expected rax to be saved/restored around the nested multiply")
	}
	if !sawMul {
		t.Fatal("expected a mul instruction for the nested 3*4")
	}
	if !sawAdd {
		t.Fatal("expected the outer add to target rax")
	}
}

func TestLower_IfConditionJumpsOnOppositeComparison(t *testing.T) {
	ins := lower(t, "int a 1\nif a == 1\nexit 1\nend\n")

	var sawCmp bool
	var sawJne bool
	for i, in := range ins {
		if in.Op == codegen.OpCmp {
			sawCmp = true
			// Equal's opposite is jne, and it must be the instruction right after the cmp.
			if i+1 >= len(ins) || ins[i+1].Op != codegen.OpJne {
				t.Fatalf("expected jne immediately after cmp, got %+v", ins[i+1])
			}
			sawJne = true
		}
	}
	if !sawCmp || !sawJne {
		t.Fatal("expected a cmp/jne pair lowering the if condition")
	}
}

func TestLower_WhileLoopsBackToEntry(t *testing.T) {
	ins := lower(t, "int i 0\nwhile i < 10\nadd i 1\nend\n")

	var entryLabel string
	for _, in := range ins {
		if in.Op == codegen.OpLabel && strings.HasPrefix(in.Op1.Label.Name, ".entry") {
			entryLabel = in.Op1.Label.Name
			break
		}
	}
	if entryLabel == "" {
		t.Fatal("expected a loop entry label")
	}

	lastJmp := -1
	for i, in := range ins {
		if in.Op == codegen.OpJmp {
			lastJmp = i
		}
	}
	if lastJmp == -1 {
		t.Fatal("expected a jmp back to the loop entry")
	}
	if ins[lastJmp].Op1.Sym != entryLabel {
		t.Fatalf("last jmp targets %q, want the loop entry %q", ins[lastJmp].Op1.Sym, entryLabel)
	}
}

func TestLower_BreakOutsideLoopIsFatal(t *testing.T) {
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, "break\n")
	root := ast.Parse(ctx, toks)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a fatal panic for break outside a loop")
		}
	}()
	codegen.Lower(ctx, root)
}

func TestLower_LogicalOrBuildsTwoTempLabels(t *testing.T) {
	ins := lower(t, "int a 1\nint b 2\nif a == 1 || b == 2\nexit 1\nend\n")

	labelCount := 0
	for _, in := range ins {
		if in.Op == codegen.OpLabel {
			labelCount++
		}
	}
	// at minimum: the or's two temp labels plus the enclosing if's end label.
	if labelCount < 3 {
		t.Fatalf("expected at least 3 labels for an || condition, got %d", labelCount)
	}
}

func TestLower_ArrayAccessWithConstantIndexIsDirectMemoryOperand(t *testing.T) {
	ins := lower(t, "array a 4\nexit a{1}\n")

	for _, in := range ins {
		if in.Op == codegen.OpMov && in.Op2.Kind == codegen.OMem && in.Op2.Mem.Base == codegen.RBP {
			return
		}
		if in.Op == codegen.OpMov && in.Op1.Kind == codegen.OReg && in.Op1.Reg == codegen.RDI && in.Op2.Kind == codegen.OMem {
			return
		}
	}
	t.Fatal("expected a direct memory operand for a constant array index, with no dynamic address computation")
}

func TestLower_ReadComputesBufferAddress(t *testing.T) {
	ins := lower(t, "str s \"\"\nread s\n")

	var sawRbpSource bool
	for _, in := range ins {
		if in.Op == codegen.OpMov && in.Op2.Kind == codegen.OReg && in.Op2.Reg == codegen.RBP {
			sawRbpSource = true
		}
	}
	if !sawRbpSource {
		t.Fatal("expected read to compute its buffer address from rbp")
	}
}
