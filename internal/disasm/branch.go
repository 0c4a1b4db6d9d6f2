package disasm

import "luthier/internal/isa/gcn"

// gcnEvaluateBranch adapts gcn.EvaluateBranch to a decoded Inst, using the
// instruction's own address and encoded size as pc/size.
func gcnEvaluateBranch(inst Inst) (bool, uint64) {
	return gcn.EvaluateBranch(inst.Decoded, inst.Addr, uint64(len(inst.Raw)))
}

func isIndirectBranch(in gcn.Inst) bool { return in.IsIndirectBranch() }

func isConditionalBranch(in gcn.Inst) bool { return in.IsConditionalBranch() }
