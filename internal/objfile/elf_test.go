package objfile_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/theeyeofcthulhu/least/internal/ast"
	"github.com/theeyeofcthulhu/least/internal/codegen"
	"github.com/theeyeofcthulhu/least/internal/compiler"
	"github.com/theeyeofcthulhu/least/internal/lexer"
	"github.com/theeyeofcthulhu/least/internal/objfile"
)

// compileToObject runs the full pipeline and returns the written ELF bytes.
func compileToObject(t *testing.T, source string) []byte {
	t.Helper()
	ctx := compiler.New("t.least", nil)
	toks := lexer.Lex(ctx, source)
	root := ast.Parse(ctx, toks)
	ast.Check(ctx, root)
	ins := codegen.Lower(ctx, root)

	text, relas, labels, err := codegen.Encode(ins)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var buf bytes.Buffer
	if err := objfile.Write(&buf, ctx, text, relas, labels); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestWrite_ParsesAsValidELF64Relocatable(t *testing.T) {
	raw := compileToObject(t, `print "hi"`+"\n")

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		t.Fatalf("class = %v, want ELFCLASS64", f.Class)
	}
	if f.Type != elf.ET_REL {
		t.Fatalf("type = %v, want ET_REL", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Fatalf("machine = %v, want EM_X86_64", f.Machine)
	}

	// null, .text, .rodata, .shstrtab, .symtab, .strtab, .rela.text
	if len(f.Sections) != 7 {
		t.Fatalf("section count = %d, want 7", len(f.Sections))
	}

	names := make([]string, len(f.Sections))
	for i, s := range f.Sections {
		names[i] = s.Name
	}
	want := []string{"", ".text", ".rodata", ".shstrtab", ".symtab", ".strtab", ".rela.text"}
	for i, w := range want {
		if names[i] != w {
			t.Fatalf("section[%d] = %q, want %q (all: %v)", i, names[i], w, names)
		}
	}
}

func TestWrite_RodataContainsTheStringLiteral(t *testing.T) {
	raw := compileToObject(t, `print "hi"`+"\n")

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	rodata := f.Section(".rodata")
	if rodata == nil {
		t.Fatal("missing .rodata section")
	}
	data, err := rodata.Data()
	if err != nil {
		t.Fatalf("reading .rodata: %v", err)
	}
	if !bytes.Contains(data, []byte("hi")) {
		t.Fatalf(".rodata = %q, want it to contain \"hi\"", data)
	}
}

func TestWrite_RelaTextHasOneEntryForTheStringLoad(t *testing.T) {
	raw := compileToObject(t, `print "hi"`+"\n")

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	relaSec := f.Section(".rela.text")
	if relaSec == nil {
		t.Fatal("missing .rela.text section")
	}
	relas, err := f.Relocations(relaSec)
	if err != nil {
		t.Fatalf("Relocations: %v", err)
	}
	if len(relas) != 1 {
		t.Fatalf("rela count = %d, want 1 (one string load)", len(relas))
	}
}

func TestWrite_SymtabHasStartAndExternSymbolForCall(t *testing.T) {
	raw := compileToObject(t, "putchar 65\n")

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}

	var sawStart, sawPutchar bool
	for _, s := range syms {
		switch s.Name {
		case "_start":
			sawStart = true
		case "putchar":
			sawPutchar = true
			if s.Section != elf.SHN_UNDEF {
				t.Fatalf("putchar symbol should be SHN_UNDEF (extern), got section %v", s.Section)
			}
		}
	}
	if !sawStart {
		t.Fatal("expected a _start symbol")
	}
	if !sawPutchar {
		t.Fatal("expected an extern putchar symbol for the call relocation")
	}
}

func TestWrite_SectionOffsetsAre16ByteAligned(t *testing.T) {
	raw := compileToObject(t, `print "hi"`+"\n")

	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	for _, s := range f.Sections {
		if s.Offset%16 != 0 {
			t.Fatalf("section %q offset %d is not 16-byte aligned", s.Name, s.Offset)
		}
	}
}
