// Package elfx provides ELF loading helpers for AMDGPU code objects: opening
// an in-memory or on-disk ELF, translating between virtual and file
// addresses, and enumerating symbols. It backs the Code-Object Cache;
// relocation-section scanning lives alongside it in reloc.go and backs
// the Code Lifter's relocation resolution.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNotELF    = errors.New("elfx: not an ELF file")
	ErrNotAMDGPU = errors.New("elfx: not an AMDGPU code object (EM_AMDGPU)")
	ErrNotShared = errors.New("elfx: not a shared object (ET_DYN)")
	ErrNot64Bit  = errors.New("elfx: not 64-bit ELF")
	ErrNoSymbol  = errors.New("elfx: symbol not found")
	ErrNoSegment = errors.New("elfx: no PT_LOAD segment covers address")
)

// File wraps a debug/elf.File with the AMDGPU-specific conveniences the
// core needs: VA translation, relocation scanning and symbol enumeration.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
}

// Open opens an ELF file on disk and validates it is an AMDGPU code object.
func Open(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}
	return NewFromBytes(raw)
}

// NewFromBytes parses an in-memory ELF, as delivered by the GPU runtime's
// agent-code-object-load callback: the Code-Object Cache copies the
// runtime's buffer before it can be reclaimed and parses it here.
func NewFromBytes(data []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if err := validate(ef); err != nil {
		ef.Close()
		return nil, err
	}
	return &File{ELF: ef, raw: bytes.NewReader(data), size: int64(len(data))}, nil
}

func validate(ef *elf.File) error {
	if ef.Class != elf.ELFCLASS64 {
		return ErrNot64Bit
	}
	if ef.Machine != elf.EM_AMDGPU {
		return ErrNotAMDGPU
	}
	if ef.Type != elf.ET_DYN {
		return ErrNotShared
	}
	return nil
}

// Close releases resources.
func (f *File) Close() error {
	return f.ELF.Close()
}

// FileSize returns the size of the underlying file/buffer.
func (f *File) FileSize() int64 { return f.size }

// Symbol looks up a symbol (dynamic or regular) by exact name.
func (f *File) Symbol(name string) (addr, size uint64, err error) {
	syms, err := f.allSymbols()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, s.Size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

func (f *File) allSymbols() ([]elf.Symbol, error) {
	dyn, derr := f.ELF.DynamicSymbols()
	reg, rerr := f.ELF.Symbols()
	if derr != nil && rerr != nil {
		return nil, fmt.Errorf("elfx: no symbol table: dynamic=%v regular=%v", derr, rerr)
	}
	return append(dyn, reg...), nil
}

// AllSymbols exposes every dynamic and regular symbol, deduplicated by name
// (dynamic symbols take priority, since the runtime resolves global symbols
// through the dynamic symbol table).
func (f *File) AllSymbols() ([]elf.Symbol, error) {
	syms, err := f.allSymbols()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(syms))
	out := make([]elf.Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Name == "" || seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD
// segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Memsz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := f.raw.ReadAt(buf, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}

// ByteOrder returns the ELF byte order.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ELF.ByteOrder
}
