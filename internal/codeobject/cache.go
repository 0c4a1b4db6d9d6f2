// Package codeobject is the Code-Object Cache: it owns the
// association between a runtime-loaded code object (an LCO), the ELF bytes
// the runtime handed over at load time, and the symbols parsed out of it.
// Entries are invalidated when the owning executable is destroyed.
package codeobject

import (
	"debug/elf"
	"encoding/binary"
	"sync"

	"luthier/internal/elfx"
	"luthier/internal/luthiererr"
	"luthier/internal/runtimeapi"
	"luthier/internal/symbol"
)

// kdSize is the size in bytes of an AMDGPU kernel descriptor (the ".kd"
// symbol's backing data), a fixed 64-byte little-endian struct regardless of
// target GFX version.
const kdSize = 64

// LCO is a cached Loaded Code Object: the parsed ELF plus the runtime
// identifiers it was loaded under, and the symbols classified out of it
// (populated lazily, on first request).
type LCO struct {
	ID         runtimeapi.LoadedCodeObjectID
	Executable runtimeapi.ExecutableID
	Agent      runtimeapi.AgentID
	ELF        *elfx.File

	mu      sync.Mutex
	symbols []symbol.Symbol
	byName  map[string]symbol.Symbol
}

// Cache is the process-wide singleton mapping LCO identifiers to their
// parsed code object. Unlike the Code Lifter's caches, lookups here are
// cheap ELF-already-parsed reads, so no request-coalescing is needed; the
// mutex only guards the map itself.
type Cache struct {
	mu      sync.Mutex
	entries map[runtimeapi.LoadedCodeObjectID]*LCO
}

// NewCache constructs an empty Code-Object Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[runtimeapi.LoadedCodeObjectID]*LCO)}
}

// Register parses elfData and stores it under id, called from the runtime's
// agent-code-object-load callback: on load the runtime hands the core a
// copy of the ELF bytes, and the core must not retain the runtime's own
// buffer. elfData is copied before parsing, so the caller may reuse or
// release its backing array once Register returns.
func (c *Cache) Register(id runtimeapi.LoadedCodeObjectID, exec runtimeapi.ExecutableID, agent runtimeapi.AgentID, elfData []byte) (*LCO, error) {
	f, err := elfx.NewFromBytes(append([]byte(nil), elfData...))
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.DecodeError, err, "codeobject: parsing LCO %d", id)
	}
	lco := &LCO{ID: id, Executable: exec, Agent: agent, ELF: f}

	c.mu.Lock()
	c.entries[id] = lco
	c.mu.Unlock()
	return lco, nil
}

// IsCached reports whether id has a registered entry.
func (c *Cache) IsCached(id runtimeapi.LoadedCodeObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Get returns the cached LCO for id.
func (c *Cache) Get(id runtimeapi.LoadedCodeObjectID) (*LCO, error) {
	c.mu.Lock()
	lco, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return nil, luthiererr.New(luthiererr.CacheMiss, "codeobject: no LCO cached for id %d", id)
	}
	return lco, nil
}

// GetObjectFile is a convenience accessor returning the LCO's parsed ELF
// file directly.
func (c *Cache) GetObjectFile(id runtimeapi.LoadedCodeObjectID) (*elfx.File, error) {
	lco, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return lco.ELF, nil
}

// InvalidateExecutable drops every LCO belonging to exec, called from
// runtimeapi.LoaderCallbacks.OnExecutableDestroy — once the runtime
// destroys an executable every LCO it owned is no longer valid to read.
func (c *Cache) InvalidateExecutable(exec runtimeapi.ExecutableID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, lco := range c.entries {
		if lco.Executable == exec {
			lco.ELF.Close()
			delete(c.entries, id)
		}
	}
}

// Symbols returns every symbol classified out of the LCO, populating the
// cache on first call.
func (l *LCO) Symbols() ([]symbol.Symbol, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.symbols != nil {
		return l.symbols, nil
	}
	syms, err := classify(l.ID, l.ELF)
	if err != nil {
		return nil, err
	}
	l.symbols = syms
	l.byName = make(map[string]symbol.Symbol, len(syms))
	for _, s := range syms {
		l.byName[symbol.Of(s).Name] = s
	}
	return l.symbols, nil
}

// SymbolByName looks up a single classified symbol by exact name.
func (l *LCO) SymbolByName(name string) (symbol.Symbol, error) {
	if _, err := l.Symbols(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.byName[name]
	if !ok {
		return nil, luthiererr.New(luthiererr.CacheMiss, "codeobject: no symbol named %q in LCO %d", name, l.ID)
	}
	return s, nil
}

// ByKind filters Symbols() to a single variant kind.
func (l *LCO) ByKind(kind symbol.Kind) ([]symbol.Symbol, error) {
	all, err := l.Symbols()
	if err != nil {
		return nil, err
	}
	var out []symbol.Symbol
	for _, s := range all {
		if s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out, nil
}

// classify walks an ELF's symbol table and sorts every entry into its
// Symbol variant: a STT_FUNC symbol carrying a matching "<name>.kd" kernel
// descriptor is a Kernel, an otherwise-defined STT_FUNC is a
// DeviceFunction, an STT_OBJECT is a Variable, and anything undefined is
// External.
func classify(lco runtimeapi.LoadedCodeObjectID, f *elfx.File) ([]symbol.Symbol, error) {
	all, err := f.AllSymbols()
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.DecodeError, err, "codeobject: enumerating symbols")
	}

	byName := make(map[string]int, len(all))
	for i, s := range all {
		byName[s.Name] = i
	}

	out := make([]symbol.Symbol, 0, len(all))
	for _, es := range all {
		switch {
		case symbol.IsExternal(es):
			out = append(out, symbol.NewExternal(lco, es))
		case isKernelDescriptor(es.Name):
			continue // folded into its kernel's Symbol below
		case isFunction(es):
			if descIdx, ok := byName[es.Name+".kd"]; ok {
				md, err := parseKernelDescriptor(f, all[descIdx])
				if err != nil {
					return nil, luthiererr.Wrap(luthiererr.DecodeError, err, "codeobject: parsing kernel descriptor for %q", es.Name)
				}
				out = append(out, symbol.NewKernel(lco, es, all[descIdx], md))
			} else {
				out = append(out, symbol.NewDeviceFunction(lco, es))
			}
		default:
			out = append(out, symbol.NewVariable(lco, es))
		}
	}
	return out, nil
}

func isKernelDescriptor(name string) bool {
	return len(name) > 3 && name[len(name)-3:] == ".kd"
}

func isFunction(es elf.Symbol) bool {
	return elf.ST_TYPE(es.Info) == elf.STT_FUNC
}

// parseKernelDescriptor reads desc's 64-byte kernel descriptor out of f at
// its symbol address and decodes the subset of fields the core plans
// instrumentation around: the two fixed segment sizes, the granulated
// VGPR/SGPR counts packed into compute_pgm_rsrc1, and an argument count
// approximated from the kernarg segment size (see DESIGN.md: no kernarg
// metadata note section is parsed, so NumArgs is kernargSize/8 rounded down,
// treating every argument as pointer/i64-sized).
func parseKernelDescriptor(f *elfx.File, desc elf.Symbol) (symbol.Metadata, error) {
	raw, err := f.ReadBytesAtVA(desc.Value, kdSize)
	if err != nil {
		return symbol.Metadata{}, err
	}
	le := binary.LittleEndian
	groupSize := le.Uint32(raw[0:4])
	privateSize := le.Uint32(raw[4:8])
	kernargSize := le.Uint32(raw[8:12])
	rsrc1 := le.Uint32(raw[48:52])

	// compute_pgm_rsrc1: bits [5:0] granulated VGPR count, bits [9:6]
	// granulated SGPR count. Granule sizes below match the wavefront32
	// convention every other part of this package assumes (internal/isa).
	vgprGranules := rsrc1 & 0x3f
	sgprGranules := (rsrc1 >> 6) & 0xf

	return symbol.Metadata{
		PrivateSegmentFixedSize: privateSize,
		GroupSegmentFixedSize:   groupSize,
		NumVGPRs:                uint16((vgprGranules + 1) * 4),
		NumSGPRs:                uint16((sgprGranules + 1) * 8),
		NumArgs:                 kernargSize / 8,
	}, nil
}
