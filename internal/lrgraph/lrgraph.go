// Package lrgraph renders a Lifted Representation's call structure and
// per-function control-flow graphs using github.com/zboralski/lattice for
// graph building and layout. The nodes are kernels and device functions
// and the edges are hook calls instrumentation introduced (or native calls
// already present in the lifted code), rather than a disassembler's
// resolved branch-link targets.
package lrgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"luthier/internal/mir"
)

// BuildCallGraph constructs a lattice.Graph from a set of lifted or
// mutated functions: one node per function, one edge per resolved call
// instruction (native calls the lifter preserved, or hook calls the Code
// Generator's intrinsic lowering printed).
func BuildCallGraph(funcs []*mir.Function) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, bb := range f.Blocks {
			for _, inst := range bb.Instructions {
				callee := callTarget(inst)
				if callee == "" {
					continue
				}
				g.Edges = append(g.Edges, lattice.Edge{Caller: f.Name, Callee: callee})
			}
		}
	}
	g.Dedup()
	return g
}

// BuildCFG constructs a lattice.CFGGraph from a set of functions, one
// lattice.FuncCFG per function, converted directly from the Lifted
// Representation's own basic blocks and successor edges rather than
// re-deriving a CFG from raw instructions the way the disassembler-backed
// equivalent would.
func BuildCFG(funcs []*mir.Function) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		cg.Funcs = append(cg.Funcs, convertFuncCFG(f))
	}
	return cg
}

// BuildFuncCFG builds a single function's lattice.FuncCFG along with its
// block count, for callers that want to filter out trivial (single-block,
// no-call) functions before rendering.
func BuildFuncCFG(f *mir.Function) (*lattice.FuncCFG, int) {
	lcfg := convertFuncCFG(f)
	return lcfg, len(f.Blocks)
}

func convertFuncCFG(f *mir.Function) *lattice.FuncCFG {
	idxOf := make(map[*mir.BasicBlock]int, len(f.Blocks))
	for i, bb := range f.Blocks {
		idxOf[bb] = i
	}

	lcfg := &lattice.FuncCFG{Name: f.Name}
	for i, bb := range f.Blocks {
		lb := &lattice.BasicBlock{
			ID:    i,
			Start: 0,
			End:   len(bb.Instructions),
			Term:  len(bb.Succs) == 0,
		}
		for _, s := range bb.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: idxOf[s]})
		}
		for idx, inst := range bb.Instructions {
			callee := callTarget(inst)
			if callee == "" {
				continue
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: callee})
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// callTarget reports the symbol a call-shaped instruction targets, or ""
// if inst is not a call. Lowered hook calls (mnemonic "s_call_b64",
// internal/codegen/intrinsics.go) carry their target as a symbol operand;
// an unresolved call prints its raw address instead of an empty string so
// the graph still shows a node for it.
func callTarget(inst *mir.Instruction) string {
	if inst.Op.Mnemonic != "s_call_b64" {
		return ""
	}
	for _, op := range inst.Src {
		if op.Kind == mir.OperandSymbol {
			return op.Sym
		}
	}
	for _, op := range inst.Src {
		if op.Kind == mir.OperandImm {
			return fmt.Sprintf("0x%x", op.Imm)
		}
	}
	return "unresolved_call"
}
