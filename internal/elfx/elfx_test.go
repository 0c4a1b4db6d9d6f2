package elfx

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"luthier/internal/objwriter"
)

func sampleObject() []byte {
	return objwriter.Build(objwriter.Options{
		Text: []byte{0x00, 0x00, 0x80, 0xbf, 0x00, 0x00, 0x80, 0xbf},
		Symbols: []objwriter.SymbolSpec{
			{Name: "vector_add", Value: 0, Size: 8, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: true},
			{Name: "malloc", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Defined: false},
		},
	})
}

func TestOpenValid(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if f.FileSize() == 0 {
		t.Error("file size is 0")
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "notelf")
	if err := os.WriteFile(tmp, []byte("not an ELF file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(tmp)
	if err == nil {
		t.Fatal("expected error for non-ELF file")
	}
}

func TestSymbolLookup(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	va, size, err := f.Symbol("vector_add")
	if err != nil {
		t.Fatal(err)
	}
	if size != 8 {
		t.Errorf("size = %d, want 8", size)
	}
	_ = va
}

func TestSymbolNotFound(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, _, err := f.Symbol("does_not_exist"); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}

func TestAllSymbolsDedupsAcrossTables(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	syms, err := f.AllSymbols()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]int{}
	for _, s := range syms {
		seen[s.Name]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("symbol %q appears %d times, want 1", name, n)
		}
	}
	if _, ok := seen["vector_add"]; !ok {
		t.Error("vector_add missing from AllSymbols")
	}
}

func TestVAToFileOffset(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	va, _, err := f.Symbol("vector_add")
	if err != nil {
		t.Fatal(err)
	}
	off, err := f.VAToFileOffset(va)
	if err != nil {
		t.Fatal(err)
	}
	// The synthetic object's single PT_LOAD segment maps VA 0 to the file
	// offset where .text starts, so the translated offset must point at the
	// symbol's own bytes in the raw file.
	data := sampleObject()
	want := []byte{0x00, 0x00, 0x80, 0xbf, 0x00, 0x00, 0x80, 0xbf}
	if off+uint64(len(want)) > uint64(len(data)) || string(data[off:off+uint64(len(want))]) != string(want) {
		t.Errorf("VA=0x%x FileOff=0x%x does not point at vector_add's bytes", va, off)
	}
}

func TestVAToFileOffsetInvalid(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.VAToFileOffset(0xDEADBEEFDEADBEEF); err == nil {
		t.Fatal("expected error for invalid VA")
	}
}

func TestLoadSegments(t *testing.T) {
	f, err := NewFromBytes(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	segs := f.LoadSegments()
	if len(segs) == 0 {
		t.Fatal("no PT_LOAD segments")
	}
	for _, s := range segs {
		if s.Filesz == 0 && s.Memsz == 0 {
			t.Error("segment with zero size")
		}
	}
}

func FuzzELFOpen(f *testing.F) {
	f.Add(sampleObject())
	f.Add([]byte("not an elf at all"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		ef, err := NewFromBytes(data)
		if err != nil {
			return // expected for malformed input
		}
		ef.FileSize()
		ef.LoadSegments()
		ef.Symbol("vector_add")
		ef.VAToFileOffset(0)
		ef.Close()
	})
}
