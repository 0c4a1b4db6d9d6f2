package disasm

import (
	"testing"

	"luthier/internal/isa/gcn"
)

// buildIfElse assembles: s_cbranch_vccnz +8 ; s_nop ; s_branch +4 ; s_nop ; s_endpgm
// i.e. a diamond: block0 branches to either block2 (taken) or block1 (fallthrough),
// both converge at block3.
func buildIfElse() []byte {
	var data []byte
	data = append(data, gcn.EncodeSOPP(7, 2)...) // 0: s_cbranch_vccnz, offset=2*4=8 -> target=0+4+8=12
	data = append(data, gcn.EncodeSOPP(0, 0)...) // 4: s_nop (fallthrough arm)
	data = append(data, gcn.EncodeSOPP(2, 1)...) // 8: s_branch, offset=1*4=4 -> target=8+4+4=16
	data = append(data, gcn.EncodeSOPP(0, 0)...) // 12: s_nop (taken target)
	data = append(data, gcn.EncodeSOPP(1, 0)...) // 16: s_endpgm
	return data
}

func TestBuildCFGDiamond(t *testing.T) {
	insts := Disassemble(buildIfElse(), Options{})
	cfg := BuildCFG("kernel", insts)

	if len(cfg.Blocks) == 0 {
		t.Fatal("no blocks produced")
	}

	entry := cfg.Blocks[0]
	if !entry.IsEntry {
		t.Fatal("first block is not marked entry")
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("entry block has %d successors, want 2 (taken+fallthrough)", len(entry.Succs))
	}

	var haveT, haveF bool
	for _, s := range entry.Succs {
		switch s.Cond {
		case "T":
			haveT = true
		case "F":
			haveF = true
		}
	}
	if !haveT || !haveF {
		t.Errorf("entry successors = %+v, want one T and one F edge", entry.Succs)
	}
}

func TestDirectBranchTargetsDedup(t *testing.T) {
	insts := Disassemble(buildIfElse(), Options{})
	targets := DirectBranchTargets(insts)
	if len(targets) != 2 {
		t.Fatalf("len(targets) = %d, want 2 (0xc from cbranch, 0x10 from branch)", len(targets))
	}
	if targets[0] != 12 || targets[1] != 16 {
		t.Errorf("targets = %v, want [12 16]", targets)
	}
}

func TestBuildCFGStraightLine(t *testing.T) {
	data := append(gcn.EncodeSOPP(0, 0), gcn.EncodeSOPP(1, 0)...) // s_nop; s_endpgm
	insts := Disassemble(data, Options{})
	cfg := BuildCFG("k", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("len(Blocks) = %d, want 1 (no branches => single block)", len(cfg.Blocks))
	}
}
