package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/theeyeofcthulhu/least/internal/codegen"
	"github.com/theeyeofcthulhu/least/internal/compiler"
)

type elf64Header struct {
	Ident     [eiNIdent]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf64SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	Entsize   uint64
}

type elf64Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

type elf64Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// WriteFile compiles ctx/text/relas/labels into an ELF64 relocatable object at path, fsyncing
// before close so the bytes are durable even if the process is killed immediately after.
func WriteFile(path string, ctx *compiler.Context, text []byte, relas []codegen.RelaEntry, labels []codegen.Label) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("objfile: %w", err)
	}
	defer f.Close()

	if err := Write(f, ctx, text, relas, labels); err != nil {
		return err
	}

	if err := unix.Fsync(int(f.Fd())); err != nil {
		return fmt.Errorf("objfile: fsync %s: %w", path, err)
	}
	return nil
}

// Write assembles the full ELF64 relocatable object -- header, section table, .text,
// .rodata, .shstrtab, .symtab, .strtab, .rela.text -- and writes it to w.
func Write(w io.Writer, ctx *compiler.Context, text []byte, relas []codegen.RelaEntry, labels []codegen.Label) error {
	rodataOffsets := make([]int, len(ctx.Strings))
	var rodata []byte
	for i, s := range ctx.Strings {
		rodataOffsets[i] = len(rodata)
		rodata = append(rodata, s...)
	}

	startPos := 0
	type localLabel struct {
		name string
		pos  int
	}
	var localLabels []localLabel
	localSet := map[string]bool{}
	for _, l := range labels {
		if l.Name == "_start" {
			startPos = l.Position
			continue
		}
		localLabels = append(localLabels, localLabel{l.Name, l.Position})
		localSet[l.Name] = true
	}

	var externs []string
	seen := map[string]bool{"_start": true}
	for _, r := range relas {
		if r.Kind == codegen.RelaSymbol && !localSet[r.Symbol] && !seen[r.Symbol] {
			seen[r.Symbol] = true
			externs = append(externs, r.Symbol)
		}
	}

	// strtab + symtab are built in lockstep: every symbol name is interned into strtab as it
	// is appended to symtab, mirroring elf.cpp's str_tab/sym_tab pair but tracking offsets
	// directly instead of re-searching the buffer for each name.
	strtab := []byte{0}
	addStr := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}

	var symtab []elf64Sym
	symIndex := map[string]int{}

	symtab = append(symtab, elf64Sym{}) // null symbol

	// FILE symbol name is a fixed literal; this object format doesn't track an input path.
	symtab = append(symtab, elf64Sym{Name: addStr("elf.cpp"), Info: sym(stbLocal, sttFile), Shndx: shnAbs})

	symtab = append(symtab, elf64Sym{Info: sym(stbLocal, sttSection), Shndx: 1}) // .text
	symtab = append(symtab, elf64Sym{Info: sym(stbLocal, sttSection), Shndx: 2}) // .rodata

	const rodataSymIndex = 3

	for i := range ctx.Strings {
		name := fmt.Sprintf("str%d", i)
		symtab = append(symtab, elf64Sym{
			Name: addStr(name), Info: sym(stbLocal, sttNoType),
			Shndx: 2, Value: uint64(rodataOffsets[i]),
		})
	}

	// One local symbol per in-file label other than _start, whether or not a rela references
	// it, inserted before the local/global cutoff: a call/jmp relocation must reference either
	// an extern or an in-file symbol, so every referenced in-file label needs a symtab entry.
	for _, ll := range localLabels {
		symIndex[ll.name] = len(symtab)
		symtab = append(symtab, elf64Sym{
			Name: addStr(ll.name), Info: sym(stbLocal, sttNoType),
			Shndx: 1, Value: uint64(ll.pos),
		})
	}

	nLocalSymbols := uint32(len(symtab))

	symIndex["_start"] = len(symtab)
	symtab = append(symtab, elf64Sym{
		Name: addStr("_start"), Info: sym(stbGlobal, sttNoType),
		Shndx: 1, Value: uint64(startPos),
	})

	for _, name := range externs {
		symIndex[name] = len(symtab)
		symtab = append(symtab, elf64Sym{Name: addStr(name), Info: sym(stbGlobal, sttNoType), Shndx: shnUndef})
	}

	var relaTab []elf64Rela
	for _, r := range relas {
		switch r.Kind {
		case codegen.RelaString:
			relaTab = append(relaTab, elf64Rela{
				Offset: uint64(r.Offset),
				Info:   elf64RInfo(rodataSymIndex, rX86_64_32),
				Addend: int64(rodataOffsets[r.StrID]) + int64(r.Addend),
			})
		case codegen.RelaSymbol:
			idx, ok := symIndex[r.Symbol]
			if !ok {
				return fmt.Errorf("objfile: relocation references unknown symbol %q", r.Symbol)
			}
			typ := uint32(rX86_64_32)
			if r.PCRelative {
				typ = rX86_64_PC32
			}
			relaTab = append(relaTab, elf64Rela{
				Offset: uint64(r.Offset),
				Info:   elf64RInfo(uint32(idx), typ),
				Addend: int64(r.Addend),
			})
		}
	}

	shstrtab := []byte{0}
	shstrtabOffsets := map[string]uint32{}
	for _, name := range []string{".text", ".rodata", ".shstrtab", ".symtab", ".strtab", ".rela.text"} {
		shstrtabOffsets[name] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
	}

	const shnum = 7
	headerSize := binary.Size(elf64Header{})
	sectionHeaderSize := binary.Size(elf64SectionHeader{})
	symtabSize := len(symtab) * binary.Size(elf64Sym{})
	relaSize := len(relaTab) * binary.Size(elf64Rela{})

	off := roundUpToMultiple(headerSize+sectionHeaderSize*shnum, defaultAlign)
	textOff := off
	off += roundUpToMultiple(len(text), defaultAlign)
	rodataOff := off
	off += roundUpToMultiple(len(rodata), defaultAlign)
	shstrtabOff := off
	off += roundUpToMultiple(len(shstrtab), defaultAlign)
	symtabOff := off
	off += roundUpToMultiple(symtabSize, defaultAlign)
	strtabOff := off
	off += roundUpToMultiple(len(strtab), defaultAlign)
	relaOff := off

	sections := [shnum]elf64SectionHeader{
		{},
		{
			Name: shstrtabOffsets[".text"], Type: shtProgBits, Flags: shfAlloc | shfExecInstr,
			Offset: uint64(textOff), Size: uint64(len(text)), AddrAlign: 16,
		},
		{
			Name: shstrtabOffsets[".rodata"], Type: shtProgBits, Flags: shfAlloc,
			Offset: uint64(rodataOff), Size: uint64(len(rodata)), AddrAlign: 4,
		},
		{
			Name: shstrtabOffsets[".shstrtab"], Type: shtStrTab,
			Offset: uint64(shstrtabOff), Size: uint64(len(shstrtab)), AddrAlign: 1,
		},
		{
			Name: shstrtabOffsets[".symtab"], Type: shtSymTab,
			Offset: uint64(symtabOff), Size: uint64(symtabSize),
			Link: 5, Info: nLocalSymbols, AddrAlign: 8, Entsize: 0x18,
		},
		{
			Name: shstrtabOffsets[".strtab"], Type: shtStrTab,
			Offset: uint64(strtabOff), Size: uint64(len(strtab)), AddrAlign: 1,
		},
		{
			Name: shstrtabOffsets[".rela.text"], Type: shtRela,
			Offset: uint64(relaOff), Size: uint64(relaSize),
			Link: 4, Info: 1, AddrAlign: 8, Entsize: 0x18,
		},
	}

	header := elf64Header{
		Type: etRel, Machine: emX86_64, Version: evCurrent,
		Shoff: uint64(headerSize), Ehsize: uint16(headerSize),
		Shentsize: uint16(sectionHeaderSize), Shnum: shnum, Shstrndx: 3,
	}
	header.Ident[eiMag0] = 0x7f
	header.Ident[eiMag1] = 'E'
	header.Ident[eiMag2] = 'L'
	header.Ident[eiMag3] = 'F'
	header.Ident[eiClass] = elfClass64
	header.Ident[eiData] = elfData2LSB
	header.Ident[eiVersion] = evCurrent
	header.Ident[eiOSABI] = elfOSABISysV
	header.Ident[eiABIVersion] = sysvABIVer

	var buf bytes.Buffer
	le := binary.LittleEndian

	// bytes.Buffer never returns a write error, so binary.Write against it cannot fail either.
	_ = binary.Write(&buf, le, header)
	for _, sh := range sections {
		_ = binary.Write(&buf, le, sh)
	}
	padTo(&buf, headerSize+sectionHeaderSize*shnum, defaultAlign)

	buf.Write(text)
	padTo(&buf, len(text), defaultAlign)

	buf.Write(rodata)
	padTo(&buf, len(rodata), defaultAlign)

	buf.Write(shstrtab)
	padTo(&buf, len(shstrtab), defaultAlign)

	for _, s := range symtab {
		_ = binary.Write(&buf, le, s)
	}
	padTo(&buf, symtabSize, defaultAlign)

	buf.Write(strtab)
	padTo(&buf, len(strtab), defaultAlign)

	for _, r := range relaTab {
		_ = binary.Write(&buf, le, r)
	}
	padTo(&buf, relaSize, defaultAlign)

	_, err := w.Write(buf.Bytes())
	return err
}

func padTo(buf *bytes.Buffer, n, align int) {
	pad := roundUpToMultiple(n, align) - n
	for i := 0; i < pad; i++ {
		buf.WriteByte(0)
	}
}
