package output

import (
	"os"
	"path/filepath"
	"testing"

	"luthier/internal/disasm"
)

func TestWriteASMWritesUnderNestedName(t *testing.T) {
	dir := t.TempDir()
	insts := []disasm.Inst{{Addr: 0, Text: "s_endpgm"}}
	if err := WriteASM(dir, "vector_add/trace", insts, nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "asm", "vector_add", "trace.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty asm output")
	}
}

func TestWriteObjectAndDOTRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WriteObject(dir, "vector_add", []byte{0x7f, 'E', 'L', 'F'}); err != nil {
		t.Fatal(err)
	}
	if err := WriteDOT(dir, "vector_add", "digraph cfg {}\n"); err != nil {
		t.Fatal(err)
	}

	obj, err := os.ReadFile(filepath.Join(dir, "obj", "vector_add.o"))
	if err != nil || len(obj) != 4 {
		t.Fatalf("obj read = %v, %v", obj, err)
	}
	dot, err := os.ReadFile(filepath.Join(dir, "graphs", "vector_add.dot"))
	if err != nil || string(dot) != "digraph cfg {}\n" {
		t.Fatalf("dot read = %q, %v", dot, err)
	}
}

func TestWriteSymbolsJSON(t *testing.T) {
	dir := t.TempDir()
	syms := []SymbolEntry{{Address: 0x1000, Name: "vector_add", Size: 64}}
	if err := WriteSymbolsJSON(dir, syms); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "symbols.json")); err != nil {
		t.Fatal(err)
	}
}
