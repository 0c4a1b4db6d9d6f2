package instrumentation

import (
	"encoding/binary"
	"testing"

	"luthier/internal/runtimeapi"
)

func TestNewModuleHasUniqueID(t *testing.T) {
	a := NewModule("counters")
	b := NewModule("counters")
	if a.ID == b.ID {
		t.Error("two Modules with the same name got the same compile-unit id")
	}
}

func TestBitcodeRoundTrips(t *testing.T) {
	m := NewModule("counters")
	agent := runtimeapi.AgentID(1)
	m.SetBitcode(agent, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	got, err := m.Bitcode(agent)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
}

func TestBitcodeRawHasNoWrapper(t *testing.T) {
	m := NewModule("counters")
	agent := runtimeapi.AgentID(1)
	m.SetBitcode(agent, []byte{'B', 'C', 0xC0, 0xDE})

	if _, ok := m.BitcodeWrapper(agent); ok {
		t.Error("raw bitcode reported a wrapper header")
	}
}

func TestBitcodeWrapperParsesHeader(t *testing.T) {
	m := NewModule("counters")
	agent := runtimeapi.AgentID(1)

	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:], 0x0B17C0DE)
	binary.LittleEndian.PutUint32(buf[4:], 0)
	binary.LittleEndian.PutUint32(buf[8:], 20)
	binary.LittleEndian.PutUint32(buf[12:], 4)
	binary.LittleEndian.PutUint32(buf[16:], 7)
	m.SetBitcode(agent, buf)

	w, ok := m.BitcodeWrapper(agent)
	if !ok {
		t.Fatal("expected a parsed wrapper header")
	}
	if w.Offset != 20 || w.Size != 4 || w.CPUType != 7 {
		t.Errorf("wrapper = %+v, want Offset=20 Size=4 CPUType=7", w)
	}
}

func TestBitcodeMissingAgent(t *testing.T) {
	m := NewModule("counters")
	if _, err := m.Bitcode(99); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}

func TestVariableBinding(t *testing.T) {
	m := NewModule("counters")
	agent := runtimeapi.AgentID(1)
	m.BindVariable(agent, "g_hit_count", 0x1000)

	addr, err := m.VariableAddr(agent, "g_hit_count")
	if err != nil || addr != 0x1000 {
		t.Fatalf("VariableAddr = %v, %v, want 0x1000, nil", addr, err)
	}
}

func TestHookShadowResolution(t *testing.T) {
	m := NewModule("counters")
	agent := runtimeapi.AgentID(1)
	m.RegisterHookShadow(agent, 0xABCD, "increment_counter")

	name, ok := m.DeviceFunctionForShadow(agent, 0xABCD)
	if !ok || name != "increment_counter" {
		t.Fatalf("DeviceFunctionForShadow = %q, %v, want increment_counter, true", name, ok)
	}
	if _, ok := m.DeviceFunctionForShadow(agent, 0xFFFF); ok {
		t.Error("resolved an unregistered shadow pointer")
	}
}
