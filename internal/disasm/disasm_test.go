package disasm

import (
	"testing"

	"luthier/internal/isa/gcn"
)

func TestDisassembleLinearStream(t *testing.T) {
	data := append(gcn.EncodeSOPP(2, 4), gcn.EncodeSOPP(1, 0)...) // s_branch +4, s_endpgm
	insts := Disassemble(data, Options{})
	if len(insts) != 2 {
		t.Fatalf("len(insts) = %d, want 2", len(insts))
	}
	if insts[0].Addr != 0 || insts[1].Addr != 4 {
		t.Fatalf("addrs = %d, %d, want 0, 4", insts[0].Addr, insts[1].Addr)
	}
	if insts[0].Err != nil {
		t.Fatalf("unexpected decode error: %v", insts[0].Err)
	}
}

func TestDisassembleUnknownWordFallsBackToWord(t *testing.T) {
	data := []byte{0xff, 0xff, 0xff, 0xff} // format bits select an unrecognised format
	insts := Disassemble(data, Options{})
	if len(insts) != 1 {
		t.Fatalf("len(insts) = %d, want 1", len(insts))
	}
	if insts[0].Err == nil {
		t.Fatal("expected a decode error for an unrecognised format")
	}
}

func TestFormatIncludesSymbolComment(t *testing.T) {
	data := gcn.EncodeSOPP(1, 0) // s_endpgm
	insts := Disassemble(data, Options{BaseAddr: 0x1000})
	out := Format(insts, PlaceholderLookup(map[uint64]string{0x1000: "vector_add"}))
	if !contains(out, "vector_add") {
		t.Errorf("Format output missing symbol comment: %q", out)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
