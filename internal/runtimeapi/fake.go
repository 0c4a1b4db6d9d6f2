package runtimeapi

import (
	"bytes"
	"debug/elf"
	"fmt"
	"sync"
)

// Fake is an in-memory stand-in for the GPU runtime, used by this module's
// own tests and by cmd/luthier's demo commands. It keeps loaded ELF bytes
// and device-memory contents in plain Go maps and never touches real
// hardware. Loading a well-formed object auto-resolves its defined global
// function symbols the way a real loader would; GetSymbolAddress still
// requires DefineExternalVariable for anything else (an instrumentation
// module's own variables, or a placeholder payload that isn't real ELF).
type Fake struct {
	mu sync.Mutex

	nextExec  ExecutableID
	nextLCO   LoadedCodeObjectID
	execAgent map[ExecutableID]AgentID
	execAlive map[ExecutableID]bool
	lcoExec   map[LoadedCodeObjectID]ExecutableID
	lcoElf    map[LoadedCodeObjectID][]byte
	lcoBase   map[LoadedCodeObjectID]DeviceAddr
	symbols   map[ExecutableID]map[string]DeviceAddr
	deviceMem map[DeviceAddr][]byte

	callbacks LoaderCallbacks
}

// NewFake returns an empty Fake runtime.
func NewFake() *Fake {
	return &Fake{
		execAgent: map[ExecutableID]AgentID{},
		execAlive: map[ExecutableID]bool{},
		lcoExec:   map[LoadedCodeObjectID]ExecutableID{},
		lcoElf:    map[LoadedCodeObjectID][]byte{},
		lcoBase:   map[LoadedCodeObjectID]DeviceAddr{},
		symbols:   map[ExecutableID]map[string]DeviceAddr{},
		deviceMem: map[DeviceAddr][]byte{},
	}
}

// SetCallbacks installs the loader callbacks the fake invokes on lifecycle
// events, mirroring LoaderCallbacks.
func (f *Fake) SetCallbacks(cb LoaderCallbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = cb
}

// CoreAPI returns a CoreAPITable backed by this fake.
func (f *Fake) CoreAPI() CoreAPITable {
	return CoreAPITable{
		CreateExecutable:       f.createExecutable,
		DefineExternalVariable: f.defineExternalVariable,
		LoadCodeObject:         f.loadCodeObject,
		FreezeExecutable:       f.freezeExecutable,
		DestroyExecutable:      f.destroyExecutable,
		GetSymbolAddress:       f.getSymbolAddress,
	}
}

// LoaderAPI returns a LoaderAPITable backed by this fake.
func (f *Fake) LoaderAPI() LoaderAPITable {
	return LoaderAPITable{
		ReadDeviceMemory: f.readDeviceMemory,
		LoadDelta:        f.loadDelta,
		LoadBase:         f.loadBase,
	}
}

func (f *Fake) createExecutable(agent AgentID) (ExecutableID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextExec++
	id := f.nextExec
	f.execAgent[id] = agent
	f.execAlive[id] = true
	f.symbols[id] = map[string]DeviceAddr{}
	return id, nil
}

func (f *Fake) defineExternalVariable(exec ExecutableID, name string, addr DeviceAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.execAlive[exec] {
		return fmt.Errorf("runtimeapi: executable %d not alive", exec)
	}
	f.symbols[exec][name] = addr
	return nil
}

// LoadCodeObjectAt loads elf bytes at a caller-chosen device base, so tests
// can control addresses deterministically.
func (f *Fake) LoadCodeObjectAt(exec ExecutableID, agent AgentID, elf []byte, base DeviceAddr) (LoadedCodeObjectID, error) {
	f.mu.Lock()
	if !f.execAlive[exec] {
		f.mu.Unlock()
		return 0, fmt.Errorf("runtimeapi: executable %d not alive", exec)
	}
	f.nextLCO++
	id := f.nextLCO
	cp := make([]byte, len(elf))
	copy(cp, elf)
	f.lcoExec[id] = exec
	f.lcoElf[id] = cp
	f.lcoBase[id] = base
	f.deviceMem[base] = cp
	for name, addr := range definedFunctionSymbols(cp, base) {
		f.symbols[exec][name] = addr
	}
	cb := f.callbacks.OnCodeObjectLoad
	f.mu.Unlock()
	if cb != nil {
		cb(agent, exec, id, cp)
	}
	return id, nil
}

func (f *Fake) loadCodeObject(exec ExecutableID, agent AgentID, elf []byte) (LoadedCodeObjectID, error) {
	f.mu.Lock()
	base := DeviceAddr(0x10000 * uint64(f.nextLCO+1))
	f.mu.Unlock()
	return f.LoadCodeObjectAt(exec, agent, elf, base)
}

func (f *Fake) freezeExecutable(exec ExecutableID) error {
	f.mu.Lock()
	alive := f.execAlive[exec]
	cb := f.callbacks.OnExecutableFreeze
	f.mu.Unlock()
	if !alive {
		return fmt.Errorf("runtimeapi: executable %d not alive", exec)
	}
	if cb != nil {
		cb(exec)
	}
	return nil
}

func (f *Fake) destroyExecutable(exec ExecutableID) error {
	f.mu.Lock()
	if !f.execAlive[exec] {
		f.mu.Unlock()
		return fmt.Errorf("runtimeapi: executable %d not alive", exec)
	}
	f.execAlive[exec] = false
	cb := f.callbacks.OnExecutableDestroy
	f.mu.Unlock()
	if cb != nil {
		cb(exec)
	}
	return nil
}

func (f *Fake) getSymbolAddress(exec ExecutableID, name string) (DeviceAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.symbols[exec][name]
	if !ok {
		return 0, fmt.Errorf("runtimeapi: symbol %q not found in executable %d", name, exec)
	}
	return addr, nil
}

func (f *Fake) readDeviceMemory(addr DeviceAddr, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for base, data := range f.deviceMem {
		if addr >= base && uint64(addr-base)+uint64(size) <= uint64(len(data)) {
			off := uint64(addr - base)
			out := make([]byte, size)
			copy(out, data[off:off+uint64(size)])
			return out, nil
		}
	}
	return nil, fmt.Errorf("runtimeapi: no mapping covers device address 0x%x", addr)
}

func (f *Fake) loadDelta(lco LoadedCodeObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.lcoBase[lco]
	if !ok {
		return 0, fmt.Errorf("runtimeapi: unknown LCO %d", lco)
	}
	return int64(base), nil
}

func (f *Fake) loadBase(lco LoadedCodeObjectID) (DeviceAddr, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.lcoBase[lco]
	if !ok {
		return 0, 0, fmt.Errorf("runtimeapi: unknown LCO %d", lco)
	}
	return base, uint64(len(f.lcoElf[lco])), nil
}

// definedFunctionSymbols extracts every globally-bound, defined STT_FUNC
// symbol from a loaded object and offsets it by base, mirroring how a real
// loader resolves a kernel's own entry point without the caller having to
// define it as an external variable first. A payload that does not parse
// as ELF (a unit test feeding in opaque placeholder bytes, say) yields no
// symbols rather than an error, since a failed load never reaches this
// point in the real loader either.
func definedFunctionSymbols(data []byte, base DeviceAddr) map[string]DeviceAddr {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	defer ef.Close()

	out := map[string]DeviceAddr{}
	for _, set := range [][]elf.Symbol{symbolsOrNil(ef.Symbols), symbolsOrNil(ef.DynamicSymbols)} {
		for _, s := range set {
			if s.Name == "" || s.Section == elf.SHN_UNDEF {
				continue
			}
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}
			if elf.ST_BIND(s.Info) != elf.STB_GLOBAL && elf.ST_BIND(s.Info) != elf.STB_WEAK {
				continue
			}
			out[s.Name] = base + DeviceAddr(s.Value)
		}
	}
	return out
}

func symbolsOrNil(fn func() ([]elf.Symbol, error)) []elf.Symbol {
	syms, err := fn()
	if err != nil {
		return nil
	}
	return syms
}
