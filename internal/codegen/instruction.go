// Package codegen lowers a least AST into a fixed x86-64 instruction list and encodes that
// list into machine code, relocation records, and label positions.
package codegen

// Op is an instruction mnemonic. The set is fixed and small: no optimization pass ever
// combines or eliminates ops.
type Op int

const (
	OpMov Op = iota
	OpSyscall
	OpLabel
	OpCall
	OpJmp
	OpJe
	OpJne
	OpJl
	OpJle
	OpJg
	OpJge
	OpAdd
	OpSub
	OpDiv
	OpMul
	OpCmp
	OpXor
	OpPush
	OpPop
)

func (o Op) String() string {
	switch o {
	case OpMov:
		return "mov"
	case OpSyscall:
		return "syscall"
	case OpLabel:
		return "label"
	case OpCall:
		return "call"
	case OpJmp:
		return "jmp"
	case OpJe:
		return "je"
	case OpJne:
		return "jne"
	case OpJl:
		return "jl"
	case OpJle:
		return "jle"
	case OpJg:
		return "jg"
	case OpJge:
		return "jge"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpDiv:
		return "div"
	case OpMul:
		return "mul"
	case OpCmp:
		return "cmp"
	case OpXor:
		return "xor"
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	default:
		return "?"
	}
}

// Register is a 4-bit x86-64 general-purpose register encoding. r8-r15 require a REX prefix
//; the fixed register scheme uses rax/rcx/rdx for Arit, r8/r9 for Cmp operands (r8 also
// for values being stored), and r10 as the scratch register for computed addresses.
type Register uint8

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

func (r Register) String() string {
	names := [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	if int(r) < len(names) {
		return names[r]
	}
	return "?"
}

// extended reports whether r needs REX.B/REX.R/REX.X to encode (r8-r15).
func (r Register) extended() bool { return r >= R8 }

// field is the 3-bit encoding used in ModR/M and opcode+reg forms: the top bit (REX.B/R) is
// carried separately in the REX prefix.
func (r Register) field() uint8 { return uint8(r) & 0x7 }

// OperandKind tags the variant held by an Operand.
type OperandKind int

const (
	ONone OperandKind = iota
	OReg
	OImm
	OStr
	OSym
	OLabel
	OMem
)

// MemoryOperand addresses `[base + disp]`. Variables and constant-index array elements are
// relative to rbp, with disp a signed word*8 byte offset; an array element with a computed
// index is addressed as [r10 + 0].
type MemoryOperand struct {
	Base Register
	Disp int32
}

// LabelInfo names a label: either defined in this file (Global for _start, local otherwise)
// or declared extern (Global implied, position left unresolved until relocation).
type LabelInfo struct {
	Name   string
	Global bool
	Extern bool
}

// Operand is the flat tagged variant over instruction operand.
type Operand struct {
	Kind  OperandKind
	Reg   Register
	Imm   int32
	StrID int
	Sym   string
	Label LabelInfo
	Mem   MemoryOperand
}

func regOp(r Register) Operand        { return Operand{Kind: OReg, Reg: r} }
func immOp(i int32) Operand           { return Operand{Kind: OImm, Imm: i} }
func strOp(id int) Operand            { return Operand{Kind: OStr, StrID: id} }
func symOp(name string) Operand       { return Operand{Kind: OSym, Sym: name} }
func memOp(base Register, disp int32) Operand {
	return Operand{Kind: OMem, Mem: MemoryOperand{Base: base, Disp: disp}}
}
func labelOp(l LabelInfo) Operand { return Operand{Kind: OLabel, Label: l} }

// Instruction is one {op, op1, op2} triple. A label pseudo-instruction carries
// its LabelInfo in Op1 and encodes to zero bytes.
type Instruction struct {
	Op  Op
	Op1 Operand
	Op2 Operand
}

func inst0(op Op) Instruction                    { return Instruction{Op: op} }
func inst1(op Op, a Operand) Instruction         { return Instruction{Op: op, Op1: a} }
func inst2(op Op, a, b Operand) Instruction      { return Instruction{Op: op, Op1: a, Op2: b} }

// RelaTargetKind distinguishes the two kinds of relocation this compiler emits: a string
// load against .rodata, or a call/jump against an in-file or extern symbol.
type RelaTargetKind int

const (
	RelaString RelaTargetKind = iota // references the .rodata section symbol.
	RelaSymbol                       // references a named in-file label or extern symbol.
)

// RelaEntry is one entry the encoder defers to the ELF writer's .rela.text: an {offset,
// target, addend} triple, generalized to cover both a fixed .rodata section symbol and a
// named call/jmp symbol.
type RelaEntry struct {
	Offset     int
	Kind       RelaTargetKind
	StrID      int
	Symbol     string
	Addend     int32
	PCRelative bool // true for R_X86_64_PC32 (call/jmp/jCC); false for R_X86_64_32 (string mov).
}

// Label is a resolved label position, returned alongside the encoded bytes.
type Label struct {
	LabelInfo
	Position int
}
