// Package objwriter assembles minimal, valid ELF64 AMDGPU relocatable
// shared objects byte-for-byte. It backs two consumers: the Code
// Generator's final step of printing a mutated module to a relocatable
// object the runtime can load, and this module's own tests, which need
// real ELF bytes to exercise elfx and codeobject without a toolchain
// available to produce them.
//
// Nothing reads ELF only to write it back out, so the byte layout here is
// hand-assembled directly from the generic 64-bit ELF object format; see
// DESIGN.md for the standard-library justification.
package objwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// SymbolSpec describes one symbol table entry to emit.
type SymbolSpec struct {
	Name    string
	Value   uint64
	Size    uint64
	Bind    elf.SymBind
	Type    elf.SymType
	Defined bool // false => STT_NOTYPE/SHN_UNDEF, an External symbol
}

// RelocSpec describes one SHT_RELA entry, targeting .text.
type RelocSpec struct {
	Offset uint64
	SymIdx uint32 // 1-based index into Symbols, matching the emitted symbol table order
	Type   uint32
	Addend int64
}

// Options configures the object Build produces.
type Options struct {
	Text []byte
	// Data is emitted immediately after Text, contiguous in the same
	// PT_LOAD segment and virtual address space: Text occupies VA
	// [0, len(Text)) and Data occupies VA [len(Text), len(Text)+len(Data)).
	// A SymbolSpec whose Value falls in the latter range names bytes
	// within Data — the mechanism a kernel descriptor (".kd") symbol uses
	// to carry real descriptor bytes in tests, rather than a bare
	// STT_OBJECT symbol with no backing content.
	Data        []byte
	Symbols     []SymbolSpec
	Relocations []RelocSpec
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24
	relaSize = 24
)

// Build serializes opts into a complete little-endian ELF64 ET_DYN,
// EM_AMDGPU object: one PT_LOAD segment covering .text and .data at vaddr
// 0, a symbol table, an optional relocation section, and the
// section/string tables elf.NewFile needs to parse it back.
func Build(opts Options) []byte {
	var shstrtab stringTable
	shstrtab.add("") // index 0 is always the empty string

	var strtab stringTable
	strtab.add("")

	nameIdx := make([]uint32, len(opts.Symbols))
	for i, s := range opts.Symbols {
		nameIdx[i] = strtab.add(s.Name)
	}

	// Layout: ehdr | phdr | .text | .data | .symtab | .strtab | .rela.text | .shstrtab | shdrs
	textOff := uint64(ehdrSize + phdrSize)
	textOff = align(textOff, 4)
	dataOff := textOff + uint64(len(opts.Text))
	segmentSize := (dataOff - textOff) + uint64(len(opts.Data))
	symtabOff := dataOff + uint64(len(opts.Data))
	symtabOff = align(symtabOff, 8)
	symtabSize := uint64(symSize) * uint64(len(opts.Symbols)+1) // +1 for the null symbol
	strtabOff := symtabOff + symtabSize
	strtabBytes := strtab.bytes()
	relaOff := strtabOff + uint64(len(strtabBytes))
	relaOff = align(relaOff, 8)
	relaSizeTotal := uint64(relaSize) * uint64(len(opts.Relocations))
	shstrtabOff := relaOff + relaSizeTotal

	secNameText := shstrtab.add(".text")
	secNameData := shstrtab.add(".data")
	secNameSymtab := shstrtab.add(".symtab")
	secNameStrtab := shstrtab.add(".strtab")
	secNameRela := shstrtab.add(".rela.text")
	secNameShstrtab := shstrtab.add(".shstrtab")
	shstrtabBytes := shstrtab.bytes()

	shoff := shstrtabOff + uint64(len(shstrtabBytes))
	shoff = align(shoff, 8)

	// Section indices: 0 NULL, 1 .text, [2 .data], symtab, strtab,
	// [rela.text], shstrtab (always last).
	nextIdx := uint32(2)
	if len(opts.Data) > 0 {
		nextIdx++
	}
	symtabIdx := nextIdx
	nextIdx++
	strtabIdx := nextIdx
	nextIdx++
	if len(opts.Relocations) > 0 {
		nextIdx++
	}
	numSections := nextIdx + 1 // + shstrtab

	var buf bytes.Buffer
	le := binary.LittleEndian

	writeEhdr(&buf, le, shoff, uint16(numSections))
	// p_offset == textOff, p_vaddr == 0: VA 0 is the first byte of .text,
	// not the first byte of the file, matching what every symbol's Value
	// (an st_value virtual address) is measured against.
	writePhdr(&buf, le, textOff, segmentSize)

	buf.Write(make([]byte, int(textOff)-buf.Len()))
	buf.Write(opts.Text)

	buf.Write(make([]byte, int(dataOff)-buf.Len()))
	buf.Write(opts.Data)

	buf.Write(make([]byte, int(symtabOff)-buf.Len()))
	writeSymtab(&buf, le, opts.Symbols, nameIdx)

	buf.Write(make([]byte, int(strtabOff)-buf.Len()))
	buf.Write(strtabBytes)

	buf.Write(make([]byte, int(relaOff)-buf.Len()))
	for _, r := range opts.Relocations {
		var entry [relaSize]byte
		le.PutUint64(entry[0:8], r.Offset)
		le.PutUint64(entry[8:16], uint64(r.SymIdx)<<32|uint64(r.Type))
		le.PutUint64(entry[16:24], uint64(r.Addend))
		buf.Write(entry[:])
	}

	buf.Write(make([]byte, int(shstrtabOff)-buf.Len()))
	buf.Write(shstrtabBytes)

	buf.Write(make([]byte, int(shoff)-buf.Len()))

	// Section 0: NULL
	writeShdr(&buf, le, shdr{})
	// Section 1: .text
	writeShdr(&buf, le, shdr{name: secNameText, typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), addr: 0, offset: textOff, size: uint64(len(opts.Text)), addralign: 4})
	if len(opts.Data) > 0 {
		writeShdr(&buf, le, shdr{name: secNameData, typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE), addr: uint64(len(opts.Text)), offset: dataOff, size: uint64(len(opts.Data)), addralign: 8})
	}
	// .symtab
	writeShdr(&buf, le, shdr{name: secNameSymtab, typ: uint32(elf.SHT_SYMTAB), offset: symtabOff, size: symtabSize, link: strtabIdx, info: 1, entsize: symSize, addralign: 8})
	// .strtab
	writeShdr(&buf, le, shdr{name: secNameStrtab, typ: uint32(elf.SHT_STRTAB), offset: strtabOff, size: uint64(len(strtabBytes)), addralign: 1})
	if len(opts.Relocations) > 0 {
		writeShdr(&buf, le, shdr{name: secNameRela, typ: uint32(elf.SHT_RELA), offset: relaOff, size: relaSizeTotal, link: symtabIdx, info: 1, entsize: relaSize, addralign: 8})
	}
	// Last section: .shstrtab
	writeShdr(&buf, le, shdr{name: secNameShstrtab, typ: uint32(elf.SHT_STRTAB), offset: shstrtabOff, size: uint64(len(shstrtabBytes)), addralign: 1})

	return buf.Bytes()
}

func align(v uint64, a uint64) uint64 {
	if rem := v % a; rem != 0 {
		v += a - rem
	}
	return v
}

type stringTable struct {
	buf bytes.Buffer
}

func (s *stringTable) add(str string) uint32 {
	off := uint32(s.buf.Len())
	s.buf.WriteString(str)
	s.buf.WriteByte(0)
	return off
}

func (s *stringTable) bytes() []byte { return s.buf.Bytes() }

func writeEhdr(buf *bytes.Buffer, le binary.ByteOrder, shoff uint64, shnum uint16) {
	var ident [16]byte
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // ELFDATA2LSB
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident[:])

	var rest [48]byte
	le.PutUint16(rest[0:2], uint16(elf.ET_DYN))
	le.PutUint16(rest[2:4], 224) // EM_AMDGPU
	le.PutUint32(rest[4:8], 1)   // e_version
	// e_entry, e_phoff
	le.PutUint64(rest[16:24], uint64(ehdrSize)) // e_phoff, right after ehdr
	le.PutUint64(rest[24:32], shoff)            // e_shoff
	le.PutUint16(rest[36:38], ehdrSize)         // e_ehsize
	le.PutUint16(rest[38:40], phdrSize)         // e_phentsize
	le.PutUint16(rest[40:42], 1)                // e_phnum
	le.PutUint16(rest[42:44], shdrSize)         // e_shentsize
	le.PutUint16(rest[44:46], shnum)            // e_shnum
	shstrndx := shnum - 1
	le.PutUint16(rest[46:48], shstrndx) // e_shstrndx
	buf.Write(rest[:])
}

func writePhdr(buf *bytes.Buffer, le binary.ByteOrder, textOff, segmentSize uint64) {
	var p [phdrSize]byte
	le.PutUint32(p[0:4], uint32(elf.PT_LOAD))
	le.PutUint32(p[4:8], uint32(elf.PF_R|elf.PF_X|elf.PF_W))
	le.PutUint64(p[8:16], textOff) // p_offset: .text starts here
	le.PutUint64(p[16:24], 0)      // p_vaddr: .text starts at VA 0
	le.PutUint64(p[24:32], 0)      // p_paddr
	le.PutUint64(p[32:40], segmentSize)
	le.PutUint64(p[40:48], segmentSize)
	le.PutUint64(p[48:56], 0x1000)
	buf.Write(p[:])
}

func writeSymtab(buf *bytes.Buffer, le binary.ByteOrder, syms []SymbolSpec, nameIdx []uint32) {
	var null [symSize]byte
	buf.Write(null[:])
	for i, s := range syms {
		var e [symSize]byte
		le.PutUint32(e[0:4], nameIdx[i])
		info := uint8(s.Bind)<<4 | uint8(s.Type)
		e[4] = info
		shndx := uint16(1)
		if !s.Defined {
			shndx = uint16(elf.SHN_UNDEF)
		}
		le.PutUint16(e[6:8], shndx)
		le.PutUint64(e[8:16], s.Value)
		le.PutUint64(e[16:24], s.Size)
		buf.Write(e[:])
	}
}

type shdr struct {
	name      uint32
	typ       uint32
	flags     uint64
	addr      uint64
	offset    uint64
	size      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
}

func writeShdr(buf *bytes.Buffer, le binary.ByteOrder, s shdr) {
	var e [shdrSize]byte
	le.PutUint32(e[0:4], s.name)
	le.PutUint32(e[4:8], s.typ)
	le.PutUint64(e[8:16], s.flags)
	le.PutUint64(e[16:24], s.addr)
	le.PutUint64(e[24:32], s.offset)
	le.PutUint64(e[32:40], s.size)
	le.PutUint32(e[40:44], s.link)
	le.PutUint32(e[44:48], s.info)
	le.PutUint64(e[48:56], s.addralign)
	le.PutUint64(e[56:64], s.entsize)
	buf.Write(e[:])
}
