// Package instrumentation is the user-facing half of the pipeline: a
// Module bundles the per-agent bitcode an instrumentation author supplies
// plus the bookkeeping the Code Generator needs to resolve
// it (variable addresses, hook-shadow-pointer names), and a Task is the
// ordered, deferred mutation plan that materializes against a Lifted
// Representation only when the Code Generator runs it.
package instrumentation

import (
	"sync"

	"github.com/google/uuid"

	"luthier/internal/bytestream"
	"luthier/internal/luthiererr"
	"luthier/internal/runtimeapi"
)

// bitcodeWrapperMagic is the LLVM bitcode wrapper header's magic number.
// A bitcode buffer offline-compiled tooling hands over either starts with
// this wrapper (embedding the raw module at an offset, alongside a target
// CPU type) or is raw bitcode starting directly with 'BC' 0xC0 0xDE; only
// the former carries a parseable header.
const bitcodeWrapperMagic = 0x0B17C0DE

// WrapperInfo is the parsed LLVM bitcode wrapper header: where the raw
// bitcode module starts within the buffer, how long it is, and which CPU
// type it was compiled for.
type WrapperInfo struct {
	Version uint32
	Offset  uint32
	Size    uint32
	CPUType uint32
}

// Module is one compiled instrumentation unit: a named set of per-agent
// device-function bitcode buffers an instrumentation author builds offline
// and hands to the core, identified by a random compile-unit id minted by
// NewModule, so two Modules with the same name can be told apart within a
// process; the id is not stable across process runs.
type Module struct {
	ID   uuid.UUID
	Name string

	mu            sync.RWMutex
	bitcode       map[runtimeapi.AgentID][]byte
	wrapper       map[runtimeapi.AgentID]*WrapperInfo
	variableAddrs map[runtimeapi.AgentID]map[string]runtimeapi.DeviceAddr
	shadowToDevFn map[runtimeapi.AgentID]map[uintptr]string
}

// NewModule constructs an empty Module with a freshly minted compile-unit
// id.
func NewModule(name string) *Module {
	return &Module{
		ID:            uuid.New(),
		Name:          name,
		bitcode:       make(map[runtimeapi.AgentID][]byte),
		wrapper:       make(map[runtimeapi.AgentID]*WrapperInfo),
		variableAddrs: make(map[runtimeapi.AgentID]map[string]runtimeapi.DeviceAddr),
		shadowToDevFn: make(map[runtimeapi.AgentID]map[uintptr]string),
	}
}

// SetBitcode registers the compiled device bitcode for agent. If bitcode
// starts with the LLVM bitcode wrapper header, its fields are parsed
// eagerly and made available through BitcodeWrapper; raw (unwrapped)
// bitcode is stored as-is with no wrapper info.
func (m *Module) SetBitcode(agent runtimeapi.AgentID, bitcode []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(bitcode))
	copy(cp, bitcode)
	m.bitcode[agent] = cp
	m.wrapper[agent] = parseBitcodeWrapper(cp)
}

// BitcodeWrapper returns the parsed wrapper header for agent's bitcode, if
// it had one.
func (m *Module) BitcodeWrapper(agent runtimeapi.AgentID) (*WrapperInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wrapper[agent]
	return w, ok && w != nil
}

func parseBitcodeWrapper(data []byte) *WrapperInfo {
	r := bytestream.New(data)
	magic, err := r.ReadUint32()
	if err != nil || magic != bitcodeWrapperMagic {
		return nil
	}
	version, err := r.ReadUint32()
	if err != nil {
		return nil
	}
	offset, err := r.ReadUint32()
	if err != nil {
		return nil
	}
	size, err := r.ReadUint32()
	if err != nil {
		return nil
	}
	cpuType, err := r.ReadUint32()
	if err != nil {
		return nil
	}
	return &WrapperInfo{Version: version, Offset: offset, Size: size, CPUType: cpuType}
}

// Bitcode returns the bitcode registered for agent.
func (m *Module) Bitcode(agent runtimeapi.AgentID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bitcode[agent]
	if !ok {
		return nil, luthiererr.New(luthiererr.CacheMiss, "instrumentation: no bitcode registered for module %q on agent %d", m.Name, agent)
	}
	return b, nil
}

// BindVariable records the device address an instrumentation variable
// resolved to on agent, once the runtime has loaded the Module and the
// Code Lifter has resolved its externs.
func (m *Module) BindVariable(agent runtimeapi.AgentID, name string, addr runtimeapi.DeviceAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.variableAddrs[agent] == nil {
		m.variableAddrs[agent] = make(map[string]runtimeapi.DeviceAddr)
	}
	m.variableAddrs[agent][name] = addr
}

// VariableAddr looks up a previously bound instrumentation variable.
func (m *Module) VariableAddr(agent runtimeapi.AgentID, name string) (runtimeapi.DeviceAddr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.variableAddrs[agent][name]
	if !ok {
		return 0, luthiererr.New(luthiererr.CacheMiss, "instrumentation: variable %q not bound on agent %d", name, agent)
	}
	return addr, nil
}

// RegisterHookShadow records the host-side shadow pointer the runtime uses
// to identify a device-function registration, mapping it back to the
// device function's name (per agent) so later lookups from the runtime's
// function-register callback can resolve to the Module's own bitcode
// symbol.
func (m *Module) RegisterHookShadow(agent runtimeapi.AgentID, shadow uintptr, deviceFnName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shadowToDevFn[agent] == nil {
		m.shadowToDevFn[agent] = make(map[uintptr]string)
	}
	m.shadowToDevFn[agent][shadow] = deviceFnName
}

// DeviceFunctionForShadow resolves a host shadow pointer back to its
// device-function name.
func (m *Module) DeviceFunctionForShadow(agent runtimeapi.AgentID, shadow uintptr) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.shadowToDevFn[agent][shadow]
	return name, ok
}
