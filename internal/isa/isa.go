// Package isa is the Target Manager: a lazy, process-wide map from GPU ISA
// identifier to the backend description bundle the rest of the core needs
// to disassemble, lift and print code for that ISA. The real compiler
// backend (MC disassembler, register allocator, asm printer) is an
// out-of-scope black-box service; this package only models the seam the
// core needs from it — register classes, opcode metadata, and a
// per-consumer target-machine handle.
package isa

import (
	"regexp"
	"sync"

	"luthier/internal/luthiererr"
)

// ID identifies a GPU instruction set architecture by its LLVM-style target
// name, e.g. "gfx90a" or "gfx1100".
type ID string

var idPattern = regexp.MustCompile(`^gfx[0-9]{2,4}[a-z]?$`)

// RegClass names a register class an operand or intrinsic argument can
// belong to.
type RegClass int

const (
	SGPR32 RegClass = iota
	SGPR64
	VGPR32
	VGPR64
)

func (c RegClass) String() string {
	switch c {
	case SGPR32:
		return "SGPR32"
	case SGPR64:
		return "SGPR64"
	case VGPR32:
		return "VGPR32"
	case VGPR64:
		return "VGPR64"
	default:
		return "unknown"
	}
}

// RegisterInfo describes the physical register file of one ISA generation.
type RegisterInfo struct {
	NumSGPRs   int
	NumVGPRs   int
	ScalarBits int
	VectorBits int
}

// TargetInfo bundles everything the Target Manager constructs once per ISA:
// the ISA ID and its register info; it carries no subtarget feature flags.
// Instruction decode and
// analysis live in the gcn package, which is ISA-generation-agnostic in
// this core; TargetInfo is the seam a future per-generation opcode table
// would hang off.
type TargetInfo struct {
	ID  ID
	Reg RegisterInfo
}

// TargetMachine is a fresh, consumer-owned handle configured for one
// kernel's ISA, constructed by the Target Manager's NewTargetMachine:
// these are owned by their consumer, not shared back through the Manager.
type TargetMachine struct {
	Info *TargetInfo
}

// Manager is the Target Manager singleton: a lazy map from ISA to the
// backend description bundle for that ISA.
type Manager struct {
	mu      sync.Mutex
	targets map[ID]*TargetInfo
}

// NewManager constructs an empty Target Manager. Callers are expected to
// hold exactly one Manager for the process lifetime.
func NewManager() *Manager {
	return &Manager{targets: map[ID]*TargetInfo{}}
}

// GetTargetInfo returns the backend description bundle for id, constructing
// it on first request. Fails with a TargetError if id cannot be translated
// into a supported ISA.
func (m *Manager) GetTargetInfo(id ID) (*TargetInfo, error) {
	if !idPattern.MatchString(string(id)) {
		return nil, luthiererr.New(luthiererr.TargetError, "unrecognized ISA identifier %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ti, ok := m.targets[id]; ok {
		return ti, nil
	}

	ti := &TargetInfo{
		ID:  id,
		Reg: defaultRegisterInfo(),
	}
	m.targets[id] = ti
	return ti, nil
}

// NewTargetMachine mints a fresh target-machine handle for id, owned by the
// caller. Multiple calls for the same ISA return independent handles that
// share the same (cached) TargetInfo.
func (m *Manager) NewTargetMachine(id ID) (*TargetMachine, error) {
	ti, err := m.GetTargetInfo(id)
	if err != nil {
		return nil, err
	}
	return &TargetMachine{Info: ti}, nil
}

// defaultRegisterInfo describes the register file shared by every supported
// GCN/RDNA generation closely enough for lifting and instrumentation
// purposes; per-generation differences (wave64 vs wave32 VGPR counts) are
// out of scope for this core.
func defaultRegisterInfo() RegisterInfo {
	return RegisterInfo{
		NumSGPRs:   102,
		NumVGPRs:   256,
		ScalarBits: 32,
		VectorBits: 32,
	}
}
