package codegen

import (
	"bytes"
	"testing"
)

func encodeSingle(t *testing.T, in Instruction) Encoded {
	t.Helper()
	enc, err := encodeOne(in)
	if err != nil {
		t.Fatalf("encodeOne: %v", err)
	}
	return enc
}

func TestEncode_MovRegImm32(t *testing.T) {
	enc := encodeSingle(t, inst2(OpMov, regOp(RAX), immOp(60)))
	want := []byte{0xb8, 60, 0, 0, 0}
	if !bytes.Equal(enc.Bytes, want) {
		t.Fatalf("got % x, want % x", enc.Bytes, want)
	}
}

func TestEncode_MovRegImm32_ExtendedRegisterGetsREX(t *testing.T) {
	enc := encodeSingle(t, inst2(OpMov, regOp(R8), immOp(1)))
	if len(enc.Bytes) != 6 || enc.Bytes[0] != 0x41 || enc.Bytes[1] != 0xb8 {
		t.Fatalf("got % x, want a REX.B prefix then 0xb8", enc.Bytes)
	}
}

func TestEncode_MovStringRelocates(t *testing.T) {
	enc := encodeSingle(t, inst2(OpMov, regOp(RSI), strOp(3)))
	if len(enc.Relas) != 1 {
		t.Fatalf("expected 1 rela entry, got %d", len(enc.Relas))
	}
	r := enc.Relas[0]
	if r.Kind != RelaString || r.StrID != 3 || r.Offset != 1 {
		t.Fatalf("got %+v, want {RelaString, StrID:3, Offset:1}", r)
	}
}

func TestEncode_MovMemImm32_RbpDisp0RewrittenToDisp8(t *testing.T) {
	enc := encodeSingle(t, inst2(OpMov, memOp(RBP, 0), immOp(5)))
	// 0xc7 opcode, modrm (mode=disp8=01, reg=0, rm=rbp=101 -> 0x45), disp8=0, imm32.
	want := []byte{0xc7, 0x45, 0x00, 5, 0, 0, 0}
	if !bytes.Equal(enc.Bytes, want) {
		t.Fatalf("got % x, want % x", enc.Bytes, want)
	}
}

func TestEncode_Syscall(t *testing.T) {
	enc := encodeSingle(t, inst0(OpSyscall))
	if !bytes.Equal(enc.Bytes, []byte{0x0f, 0x05}) {
		t.Fatalf("got % x", enc.Bytes)
	}
}

func TestEncode_JmpAndJeProduceRelocations(t *testing.T) {
	jmp := encodeSingle(t, inst1(OpJmp, symOp(".end1024")))
	if jmp.Bytes[0] != 0xe9 || len(jmp.Relas) != 1 || jmp.Relas[0].Offset != 1 {
		t.Fatalf("jmp encoding wrong: % x, relas %+v", jmp.Bytes, jmp.Relas)
	}
	if !jmp.Relas[0].PCRelative || jmp.Relas[0].Addend != -4 {
		t.Fatalf("jmp rela should be PC-relative with addend -4: %+v", jmp.Relas[0])
	}

	je := encodeSingle(t, inst1(OpJe, symOp(".end1024")))
	if je.Bytes[0] != 0x0f || je.Bytes[1] != 0x84 || len(je.Relas) != 1 || je.Relas[0].Offset != 2 {
		t.Fatalf("je encoding wrong: % x, relas %+v", je.Bytes, je.Relas)
	}
}

func TestEncode_CmpRegReg(t *testing.T) {
	enc := encodeSingle(t, inst2(OpCmp, regOp(R8), regOp(R9)))
	// REX.R (reg field r9 extended) | REX.B (rm field r8 extended) = 0x40|0x04|0x01 = 0x45
	if enc.Bytes[0] != 0x45 || enc.Bytes[1] != 0x39 {
		t.Fatalf("got % x, want REX.RB + 0x39", enc.Bytes)
	}
}

func TestEncode_SubGroup81Immediate(t *testing.T) {
	enc := encodeSingle(t, inst2(OpSub, regOp(RSP), immOp(16)))
	want := []byte{0x81, 0xec, 16, 0, 0, 0} // modrm: mode=reg(11), reg_op=5(sub), rm=rsp(100)
	if !bytes.Equal(enc.Bytes, want) {
		t.Fatalf("got % x, want % x", enc.Bytes, want)
	}
}

func TestEncode_Label_ProducesNoBytesButAPosition(t *testing.T) {
	_, _, labels, err := Encode([]Instruction{
		inst2(OpMov, regOp(RAX), immOp(1)),
		inst1(OpLabel, labelOp(LabelInfo{Name: ".end1024"})),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(labels) != 1 || labels[0].Name != ".end1024" || labels[0].Position != 5 {
		t.Fatalf("got %+v, want one label at position 5", labels)
	}
}

func TestEncode_RelaOffsetsAreRelativeToTextStart(t *testing.T) {
	_, relas, _, err := Encode([]Instruction{
		inst2(OpMov, regOp(RAX), immOp(1)), // 5 bytes
		inst1(OpJmp, symOp("uprint")),      // jmp rela at offset 5+1=6
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(relas) != 1 || relas[0].Offset != 6 {
		t.Fatalf("got %+v, want offset 6", relas)
	}
}
