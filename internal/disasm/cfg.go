package disasm

import "sort"

// BasicBlock represents a sequence of instructions with a single entry
// point, by index range into the owning FuncCFG.Insts.
type BasicBlock struct {
	ID      int
	Start   int
	End     int
	Succs   []Succ
	IsEntry bool
	IsTerm  bool
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough
}

// FuncCFG is a per-function control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// DirectBranchTargets returns the sorted, de-duplicated set of addresses
// targeted by a direct branch anywhere in insts (a target outside insts'
// address range is included as computed, not filtered out), needed before
// basic blocks can be carved: every address a branch can land on must
// start its own block,
// independent of whether that address also happens to be a leader for
// other reasons.
func DirectBranchTargets(insts []Inst) []uint64 {
	seen := map[uint64]bool{}
	var out []uint64
	for _, inst := range insts {
		if inst.Err != nil || !inst.Decoded.IsBranch() {
			continue
		}
		ok, target := gcnEvaluateBranch(inst)
		if !ok || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BuildCFG constructs a control flow graph from a function's instruction
// stream, following a three-pass shape generalized to GCN branches:
//  1. find block leaders: index 0, branch targets, instructions after a
//     branch;
//  2. partition instructions into blocks by leaders;
//  3. compute successor edges from each block's last instruction.
func BuildCFG(name string, insts []Inst) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name}
	}

	funcStart := insts[0].Addr
	lastInst := insts[len(insts)-1]
	funcEnd := lastInst.Addr + uint64(len(lastInst.Raw))

	addrToIdx := make(map[uint64]int, len(insts))
	for i, inst := range insts {
		addrToIdx[inst.Addr] = i
	}

	leaders := map[int]bool{0: true}
	for i, inst := range insts {
		if inst.Err != nil || !inst.Decoded.IsBranch() {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		ok, target := gcnEvaluateBranch(inst)
		if ok && target >= funcStart && target < funcEnd {
			if idx, found := addrToIdx[target]; found {
				leaders[idx] = true
			}
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{ID: i, Start: start, End: end, IsEntry: start == 0}
		leaderToBlock[start] = i
	}

	for i := range blocks {
		blk := &blocks[i]
		if blk.End <= blk.Start {
			continue
		}
		tail := insts[blk.End-1]
		if tail.Err != nil || !tail.Decoded.IsBranch() {
			if nextBlk, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: nextBlk})
			}
			continue
		}

		if isIndirectBranch(tail.Decoded) {
			blk.IsTerm = true
			continue
		}

		ok, target := gcnEvaluateBranch(tail)
		targetBlockID := -1
		if ok && target >= funcStart && target < funcEnd {
			if idx, found := addrToIdx[target]; found {
				if bid, found := leaderToBlock[idx]; found {
					targetBlockID = bid
				}
			}
		}

		if isConditionalBranch(tail.Decoded) {
			if targetBlockID >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: targetBlockID, Cond: "T"})
			}
			if nextBlk, found := leaderToBlock[blk.End]; found {
				blk.Succs = append(blk.Succs, Succ{BlockID: nextBlk, Cond: "F"})
			}
		} else {
			if targetBlockID >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: targetBlockID})
			} else {
				blk.IsTerm = true
			}
		}
	}

	return FuncCFG{Name: name, Blocks: blocks, Insts: insts}
}
