package isa

import "testing"

func TestManagerCachesTargetInfo(t *testing.T) {
	m := NewManager()
	a, err := m.GetTargetInfo("gfx942")
	if err != nil {
		t.Fatalf("GetTargetInfo: %v", err)
	}
	b, err := m.GetTargetInfo("gfx942")
	if err != nil {
		t.Fatalf("GetTargetInfo (second): %v", err)
	}
	if a != b {
		t.Error("expected the same TargetInfo pointer to be returned on repeat lookups")
	}
}

func TestManagerRejectsBadISA(t *testing.T) {
	m := NewManager()
	if _, err := m.GetTargetInfo("not-an-isa"); err == nil {
		t.Fatal("expected an error for an unrecognized ISA identifier")
	}
}

func TestNewTargetMachineOwnedPerCall(t *testing.T) {
	m := NewManager()
	tm1, err := m.NewTargetMachine("gfx1100")
	if err != nil {
		t.Fatalf("NewTargetMachine: %v", err)
	}
	tm2, err := m.NewTargetMachine("gfx1100")
	if err != nil {
		t.Fatalf("NewTargetMachine (second): %v", err)
	}
	if tm1 == tm2 {
		t.Error("expected independent TargetMachine handles per call")
	}
	if tm1.Info != tm2.Info {
		t.Error("expected both handles to share the cached TargetInfo")
	}
}
