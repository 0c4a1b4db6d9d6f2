// Package lifter is the Code Lifter: it disassembles a kernel or device
// function's machine code, recovers its control-flow graph, resolves
// relocations against the Relocation Map to symbolize memory references and
// call targets, and builds the mutable Lifted Representation the Code
// Generator later clones and mutates. Lifting is cached and coalesced per
// (LCO, symbol name), so a given function is lifted at most once
// concurrently.
package lifter

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"luthier/internal/codeobject"
	"luthier/internal/disasm"
	"luthier/internal/elfx"
	"luthier/internal/isa/gcn"
	"luthier/internal/luthiererr"
	"luthier/internal/mir"
	"luthier/internal/symbol"
)

// CodeLifter is the process-wide singleton owning the lifted-function
// cache. Construct one per process via New and share it; it is safe for
// concurrent use.
type CodeLifter struct {
	log *logrus.Logger

	mu    sync.Mutex
	cache map[string]*mir.Function
	group singleflight.Group
}

// New constructs a CodeLifter. A nil logger installs a logrus.Logger with
// output discarded, keeping the injected logger field always non-nil.
func New(log *logrus.Logger) *CodeLifter {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &CodeLifter{log: log, cache: make(map[string]*mir.Function)}
}

func cacheKey(lco *codeobject.LCO, name string) string {
	return fmt.Sprintf("%d:%s", lco.ID, name)
}

// Lift returns the Lifted Representation for the named function within
// lco, disassembling and building its CFG on first request and caching the
// result thereafter. Concurrent calls for the same (lco, name) coalesce
// onto a single disassembly pass via singleflight.
func (c *CodeLifter) Lift(lco *codeobject.LCO, name string) (*mir.Function, error) {
	key := cacheKey(lco, name)

	c.mu.Lock()
	if fn, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return fn, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		fn, err := c.liftUncached(lco, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = fn
		c.mu.Unlock()
		return fn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mir.Function), nil
}

// IsLifted reports whether name has already been lifted and cached within
// lco, without triggering a lift.
func (c *CodeLifter) IsLifted(lco *codeobject.LCO, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[cacheKey(lco, name)]
	return ok
}

// Clone returns a private, mutable copy of the cached Lifted
// Representation for (lco, name), lifting it first if necessary. The Code
// Generator mutates the clone, never the cached original.
func (c *CodeLifter) Clone(lco *codeobject.LCO, name string) (*mir.Function, error) {
	fn, err := c.Lift(lco, name)
	if err != nil {
		return nil, err
	}
	return fn.Clone(), nil
}

// LiftModule lifts entry (normally a kernel) and every DeviceFunction
// transitively reachable from it through a resolved call target, plus every
// module-scope Variable any of those functions references, and returns the
// whole thing as one mir.Module — the shape the Code Generator needs to
// materialize hooks and virtualize register access across a kernel and its
// callees, not just a single function in isolation.
func (c *CodeLifter) LiftModule(lco *codeobject.LCO, entry string) (*mir.Module, error) {
	fn, err := c.Lift(lco, entry)
	if err != nil {
		return nil, err
	}

	mod := &mir.Module{LCO: lco.ID}
	visitedFn := map[string]bool{entry: true}
	visitedVar := map[string]bool{}
	queue := []*mir.Function{fn}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		mod.Functions = append(mod.Functions, cur)

		for _, name := range callTargets(cur) {
			sym, err := lco.SymbolByName(name)
			if err != nil {
				continue // unresolved within this LCO; leave symbolic for the Loader/runtime to bind
			}
			switch s := sym.(type) {
			case *symbol.DeviceFunction:
				if visitedFn[s.Name] {
					continue
				}
				visitedFn[s.Name] = true
				callee, err := c.Lift(lco, s.Name)
				if err != nil {
					return nil, luthiererr.Wrap(luthiererr.LiftError, err, "lifter: lifting reachable device function %q", s.Name)
				}
				queue = append(queue, callee)
			}
		}
		for _, name := range referencedSymbols(cur) {
			if visitedVar[name] {
				continue
			}
			sym, err := lco.SymbolByName(name)
			if err != nil {
				continue
			}
			if v, ok := symbol.As[*symbol.Variable](sym); ok {
				visitedVar[name] = true
				mod.Variables = append(mod.Variables, &mir.Variable{Name: v.Name, Size: v.Size})
			}
		}
	}
	return mod, nil
}

// callTargets returns the resolved symbol name of every call instruction in
// fn: an "s_call_b64" MI whose first Src operand names a symbol, the same
// shape internal/lrgraph.callTarget and the Code Generator's lowered hook
// calls already produce, so native calls and hook calls are call-graph
// visible through one convention.
func callTargets(fn *mir.Function) []string {
	var out []string
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if inst.Op.Mnemonic != "s_call_b64" {
				continue
			}
			for _, src := range inst.Src {
				if src.Kind == mir.OperandSymbol {
					out = append(out, src.Sym)
				}
			}
		}
	}
	return out
}

// referencedSymbols returns every symbol name any instruction in fn
// operates on, call targets included, as a candidate set to resolve against
// the LCO's Variable symbols.
func referencedSymbols(fn *mir.Function) []string {
	var out []string
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			for _, ops := range [][]mir.Operand{inst.Dst, inst.Src} {
				for _, op := range ops {
					if op.Kind == mir.OperandSymbol {
						out = append(out, op.Sym)
					}
				}
			}
		}
	}
	return out
}

func (c *CodeLifter) liftUncached(lco *codeobject.LCO, name string) (*mir.Function, error) {
	sym, err := lco.SymbolByName(name)
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.LiftError, err, "lifter: resolving symbol %q", name)
	}

	var isKernel bool
	var va, size uint64
	switch s := sym.(type) {
	case *symbol.Kernel:
		isKernel = true
		va, size = s.ELFSym.Value, s.ELFSym.Size
	case *symbol.DeviceFunction:
		va, size = s.ELFSym.Value, s.ELFSym.Size
	default:
		return nil, luthiererr.New(luthiererr.LiftError, "lifter: %q is a %s, not a kernel or device function", name, sym.Kind())
	}
	if size == 0 {
		return nil, luthiererr.New(luthiererr.LiftError, "lifter: symbol %q has zero size, cannot disassemble", name)
	}

	code, err := lco.ELF.ReadBytesAtVA(va, int(size))
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.LiftError, err, "lifter: reading code for %q", name)
	}

	c.log.WithFields(logrus.Fields{"symbol": name, "size": size}).Debug("lifting function")

	insts := disasm.Disassemble(code, disasm.Options{BaseAddr: va})
	for _, in := range insts {
		if in.Err != nil {
			return nil, luthiererr.Wrap(luthiererr.DecodeError, in.Err, "lifter: decoding %q at 0x%x", name, in.Addr)
		}
	}
	cfg := disasm.BuildCFG(name, insts)

	relocs, err := lco.ELF.Relocations()
	if err != nil {
		return nil, luthiererr.Wrap(luthiererr.LiftError, err, "lifter: reading relocations for %q", name)
	}

	fn := mir.NewFunction(name, isKernel)
	blocks := make([]*mir.BasicBlock, len(cfg.Blocks))
	for i, bb := range cfg.Blocks {
		label := fmt.Sprintf("%s.bb%d", name, i)
		blocks[i] = &mir.BasicBlock{Label: label, StartAddr: insts[bb.Start].Addr}
		for idx := bb.Start; idx < bb.End; idx++ {
			rec := &insts[idx]
			mi := gcnToMIR(fn, rec, lco.ELF, relocs)
			fn.BindRecord(mi, rec)
			blocks[i].Instructions = append(blocks[i].Instructions, mi)
		}
	}
	for i, bb := range cfg.Blocks {
		for _, s := range bb.Succs {
			blocks[i].Succs = append(blocks[i].Succs, blocks[s.BlockID])
			blocks[s.BlockID].Preds = append(blocks[s.BlockID].Preds, blocks[i])
		}
	}
	fn.Blocks = blocks
	if len(blocks) > 0 {
		fn.Entry = blocks[0]
	}
	return fn, nil
}

// gcnToMIR translates one decoded instruction record into a MIR
// instruction, consulting relocs to symbolize whichever operand a
// relocation entry targets instead of leaving it a raw immediate or branch
// offset: a direct branch whose own address carries a relocation is an
// unresolved call to another function (the target isn't computable from the
// SOPP offset field alone, since the linker hasn't fixed it up as an
// intra-function jump), and a literal-capable source word carrying a
// relocation is a symbol address load.
func gcnToMIR(fn *mir.Function, rec *disasm.Inst, f *elfx.File, relocs map[uint64]elfx.Relocation) *mir.Instruction {
	in := rec.Decoded

	if in.IsBranch() && !in.IsIndirectBranch() {
		if rel, ok := relocs[rec.Addr]; ok {
			if sym, ok := symbolicOperand(f, rel); ok {
				return fn.NewInstruction(mir.Opcode{Mnemonic: "s_call_b64"}, nil, []mir.Operand{sym})
			}
		}
	}

	op := mir.Opcode{Mnemonic: in.Mnemonic}
	var dst []mir.Operand
	if in.Format != gcn.FormatSOPP {
		dst = []mir.Operand{gcnOperandToMIR(in.Dst)}
	}
	src := make([]mir.Operand, len(in.Src))
	literalWordAddr := rec.Addr + 4
	for i, s := range in.Src {
		if s.Kind == gcn.OperandLiteral {
			if rel, ok := relocs[literalWordAddr]; ok {
				if sym, ok := symbolicOperand(f, rel); ok {
					src[i] = sym
					continue
				}
			}
		}
		src[i] = gcnOperandToMIR(s)
	}
	return fn.NewInstruction(op, dst, src)
}

// symbolicOperand resolves rel's symbol index into a named MIR operand,
// folding in a non-zero addend as a "name+0xN" suffix.
func symbolicOperand(f *elfx.File, rel elfx.Relocation) (mir.Operand, bool) {
	es, err := f.SymbolByIndex(rel.SymIdx)
	if err != nil || es.Name == "" {
		return mir.Operand{}, false
	}
	name := es.Name
	if rel.Addend != 0 {
		name = fmt.Sprintf("%s+0x%x", name, rel.Addend)
	}
	return mir.Operand{Kind: mir.OperandSymbol, Sym: name}, true
}

func gcnOperandToMIR(op gcn.Operand) mir.Operand {
	switch op.Kind {
	case gcn.OperandImm, gcn.OperandLiteral:
		return mir.Operand{Kind: mir.OperandImm, Imm: op.Value}
	case gcn.OperandSGPR:
		return mir.Operand{Kind: mir.OperandPhysReg, Phys: mir.PhysReg{Class: mir.ClassScalar32, Index: op.Value}}
	default: // gcn.OperandVGPR
		return mir.Operand{Kind: mir.OperandPhysReg, Phys: mir.PhysReg{Class: mir.ClassVector32, Index: op.Value}}
	}
}
