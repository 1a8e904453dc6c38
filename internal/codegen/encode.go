package codegen

import "fmt"

// modRMMode is the two-bit addressing mode field of a ModR/M byte.
type modRMMode uint8

const (
	modDisp0 modRMMode = 0b00
	modDisp8 modRMMode = 0b01
	modDisp32 modRMMode = 0b10
	modReg   modRMMode = 0b11
)

// modRM packs {mode, regOpField, rm} into one byte: (mode<<6) | (regOpField<<3) | rm, with
// [rbp] + disp0 rewritten to disp8/0 since that encoding is reserved for RIP-relative
// addressing on x86-64.
type modRM struct {
	mode       modRMMode
	regOpField uint8
	rm         Register
	disp       int32
}

func newModRM(rm Register, disp int32) modRM {
	mode := modDisp8
	if disp < -128 || disp > 127 {
		mode = modDisp32
	}
	if rm == RBP && disp == 0 {
		mode = modDisp8
	}
	return modRM{mode: mode, rm: rm, disp: disp}
}

func (m modRM) value() byte {
	return byte(m.mode)<<6 | (m.regOpField&0x7)<<3 | m.rm.field()
}

// rex builds a REX prefix byte (0100WRXB) when any operand register needs bit 3 (r8-r15).
// Returns nil when no extension is needed; an encoder should never emit a byte it doesn't need.
func rex(w bool, regField, rmField Register) []byte {
	var b byte
	if w {
		b |= 0x08
	}
	if regField.extended() {
		b |= 0x04
	}
	if rmField.extended() {
		b |= 0x01
	}
	if b == 0 && !w {
		return nil
	}
	return []byte{0x40 | b}
}

func leImm32(i int32) []byte {
	u := uint32(i)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

// Encoded is one instruction's machine code plus any relocations and label it produced.
type Encoded struct {
	Bytes []byte
	Relas []RelaEntry
	Label *Label
}

// Encode walks ins in order, assigning each instruction its byte offset and producing the
// flat .text bytes, the full relocation list (offsets relative to the start of .text), and
// every label's resolved position, threading a running address through the loop.
func Encode(ins []Instruction) (text []byte, relas []RelaEntry, labels []Label, err error) {
	addr := 0
	for _, in := range ins {
		enc, encErr := encodeOne(in)
		if encErr != nil {
			return nil, nil, nil, fmt.Errorf("codegen: encoding %s: %w", in.Op, encErr)
		}

		for i := range enc.Relas {
			enc.Relas[i].Offset += addr
		}
		relas = append(relas, enc.Relas...)

		if enc.Label != nil {
			enc.Label.Position = addr
			labels = append(labels, *enc.Label)
		}

		text = append(text, enc.Bytes...)
		addr += len(enc.Bytes)
	}
	return text, relas, labels, nil
}

func isModRM(k OperandKind) bool { return k == OReg || k == OMem }

func operandModRM(o Operand) modRM {
	if o.Kind == OReg {
		return modRM{mode: modReg, rm: o.Reg}
	}
	return newModRM(o.Mem.Base, o.Mem.Disp)
}

func appendModRM(buf []byte, m modRM) []byte {
	buf = append(buf, m.value())
	switch m.mode {
	case modDisp8:
		buf = append(buf, byte(m.disp))
	case modDisp32:
		buf = append(buf, leImm32(m.disp)...)
	}
	return buf
}

// twoBytePrefixedOps carries the `0x0F <opcode>` ops: the conditional jumps.
var twoBytePrefixedOps = map[Op]byte{
	OpJe:  0x84,
	OpJne: 0x85,
	OpJl:  0x8c,
	OpJle: 0x8e,
	OpJg:  0x8f,
	OpJge: 0x8d,
}

// modrmModifier is the /digit extension for the 0x81 opcode group, extended with add's /0
// since an immediate add into a memory destination needs a group-81 form too.
var modrmModifier = map[Op]uint8{
	OpAdd: 0,
	OpSub: 5,
	OpCmp: 7,
}

// rmRegOpcodes is {reg<-rm opcode, rm<-reg opcode} for ops with both directions. cmp's plain
// register form (`cmp r8, r9`) is the standard x86-64 0x39/0x3b pair, filled in alongside the
// immediate (0x81 /7) form below. add/sub's register-register forms are the same standard
// encodings, added alongside their immediate/group-81 forms.
var rmRegOpcodes = map[Op][2]byte{
	OpMov: {0x8b, 0x89},
	OpXor: {0x33, 0x31},
	OpCmp: {0x3b, 0x39},
	OpAdd: {0x03, 0x01},
	OpSub: {0x2b, 0x29},
}

func encodeOne(in Instruction) (Encoded, error) {
	switch in.Op {
	case OpLabel:
		l := in.Op1.Label
		return Encoded{Label: &Label{LabelInfo: l}}, nil

	case OpSyscall:
		return Encoded{Bytes: []byte{0x0f, 0x05}}, nil

	case OpPush:
		return Encoded{Bytes: append(rex(false, 0, in.Op1.Reg), 0x50+in.Op1.Reg.field())}, nil
	case OpPop:
		return Encoded{Bytes: append(rex(false, 0, in.Op1.Reg), 0x58+in.Op1.Reg.field())}, nil

	case OpCall, OpJmp:
		opcode := byte(0xe8)
		if in.Op == OpJmp {
			opcode = 0xe9
		}
		return Encoded{
			Bytes: append([]byte{opcode}, leImm32(0)...),
			Relas: []RelaEntry{{Offset: 1, Kind: RelaSymbol, Symbol: in.Op1.Sym, Addend: -4, PCRelative: true}},
		}, nil

	case OpJe, OpJne, OpJl, OpJle, OpJg, OpJge:
		b := twoBytePrefixedOps[in.Op]
		return Encoded{
			Bytes: append([]byte{0x0f, b}, leImm32(0)...),
			Relas: []RelaEntry{{Offset: 2, Kind: RelaSymbol, Symbol: in.Op1.Sym, Addend: -4, PCRelative: true}},
		}, nil

	case OpMov:
		return encodeMov(in)

	case OpAdd, OpSub, OpCmp:
		if in.Op2.Kind == OImm {
			return encodeGroup81(in)
		}
		return encodeRegRM(in)

	case OpXor:
		return encodeRegRM(in)

	case OpDiv, OpMul:
		// div rcx / mul rcx: opcode 0xF7, ModRM with reg_op_field 6 (div) or 4 (mul), rm=rcx.
		field := uint8(4)
		if in.Op == OpDiv {
			field = 6
		}
		m := modRM{mode: modReg, regOpField: field, rm: RCX}
		buf := append(rex(false, 0, RCX), 0xf7)
		buf = appendModRM(buf, m)
		return Encoded{Bytes: buf}, nil

	default:
		return Encoded{}, fmt.Errorf("unencodable op %s", in.Op)
	}
}

func encodeMov(in Instruction) (Encoded, error) {
	// mov r, imm32 / mov r, string_id: register encoded directly in the opcode byte.
	if in.Op1.Kind == OReg && (in.Op2.Kind == OImm || in.Op2.Kind == OStr) {
		buf := append(rex(false, 0, in.Op1.Reg), 0xb8+in.Op1.Reg.field())
		var relas []RelaEntry
		if in.Op2.Kind == OStr {
			relas = append(relas, RelaEntry{Offset: len(buf), Kind: RelaString, StrID: in.Op2.StrID})
			buf = append(buf, leImm32(0)...)
		} else {
			buf = append(buf, leImm32(in.Op2.Imm)...)
		}
		return Encoded{Bytes: buf, Relas: relas}, nil
	}

	if isModRM(in.Op1.Kind) && in.Op2.Kind == OImm {
		m := operandModRM(in.Op1)
		buf := append(rex(false, 0, m.rm), 0xc7)
		buf = appendModRM(buf, m)
		buf = append(buf, leImm32(in.Op2.Imm)...)
		return Encoded{Bytes: buf}, nil
	}

	return encodeRegRM(in)
}

// encodeRegRM handles the `op rm, reg` / `op reg, rm` forms shared by mov, xor, and the
// non-immediate forms of add, sub and cmp -- ported from instruction.cpp's is_modrm/op_rrm_rmr_map branch.
func encodeRegRM(in Instruction) (Encoded, error) {
	opcodes, ok := rmRegOpcodes[in.Op]
	if !ok {
		return Encoded{}, fmt.Errorf("no reg/rm opcode for %s", in.Op)
	}

	if isModRM(in.Op1.Kind) && in.Op2.Kind == OReg {
		m := operandModRM(in.Op1)
		m.regOpField = in.Op2.Reg.field()
		buf := append(rex(false, in.Op2.Reg, m.rm), opcodes[1])
		buf = appendModRM(buf, m)
		return Encoded{Bytes: buf}, nil
	}
	if in.Op1.Kind == OReg && isModRM(in.Op2.Kind) {
		m := operandModRM(in.Op2)
		m.regOpField = in.Op1.Reg.field()
		buf := append(rex(false, in.Op1.Reg, m.rm), opcodes[0])
		buf = appendModRM(buf, m)
		return Encoded{Bytes: buf}, nil
	}
	return Encoded{}, fmt.Errorf("%s: unrecognized operand combination", in.Op)
}

func encodeGroup81(in Instruction) (Encoded, error) {
	if !isModRM(in.Op1.Kind) || in.Op2.Kind != OImm {
		return Encoded{}, fmt.Errorf("%s: expected rm, imm32", in.Op)
	}
	m := operandModRM(in.Op1)
	m.regOpField = modrmModifier[in.Op]
	buf := append(rex(false, 0, m.rm), 0x81)
	buf = appendModRM(buf, m)
	buf = append(buf, leImm32(in.Op2.Imm)...)
	return Encoded{Bytes: buf}, nil
}
