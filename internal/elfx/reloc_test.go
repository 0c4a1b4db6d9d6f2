package elfx

import (
	"debug/elf"
	"testing"

	"luthier/internal/objwriter"
)

func TestRelocationsMapByOffset(t *testing.T) {
	data := objwriter.Build(objwriter.Options{
		Text: make([]byte, 16),
		Symbols: []objwriter.SymbolSpec{
			{Name: "g_counter", Bind: elf.STB_GLOBAL, Type: elf.STT_OBJECT, Defined: false},
		},
		Relocations: []objwriter.RelocSpec{
			{Offset: 8, SymIdx: 1, Type: uint32(RelAbs64), Addend: 4},
		},
	})

	f, err := NewFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rels, err := f.Relocations()
	if err != nil {
		t.Fatal(err)
	}
	r, ok := rels[8]
	if !ok {
		t.Fatal("no relocation at offset 8")
	}
	if r.Type != RelAbs64 || r.Addend != 4 {
		t.Errorf("relocation = %+v, want Type=RelAbs64 Addend=4", r)
	}

	sym, err := f.SymbolByIndex(r.SymIdx)
	if err != nil {
		t.Fatal(err)
	}
	if sym.Name != "g_counter" {
		t.Errorf("SymbolByIndex(%d).Name = %q, want g_counter", r.SymIdx, sym.Name)
	}
}

func TestRelocationsEmptyWhenNoRelaSections(t *testing.T) {
	data := objwriter.Build(objwriter.Options{Text: []byte{0, 0, 0, 0}})
	f, err := NewFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rels, err := f.Relocations()
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 0 {
		t.Errorf("len(rels) = %d, want 0", len(rels))
	}
}
