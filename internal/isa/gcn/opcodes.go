package gcn

// SOPP opcodes (scalar program-control instructions).
const (
	opSNop            = 0
	opSEndpgm         = 1
	opSBranch         = 2
	opSCbranchSCC0    = 4
	opSCbranchSCC1    = 5
	opSCbranchVCCZ    = 6
	opSCbranchVCCNZ   = 7
	opSCbranchExecZ   = 8
	opSCbranchExecNZ  = 9
	opSWaitcnt        = 12
	opSBarrier        = 13
)

// SOP1 opcodes referenced directly (indirect-branch detection needs to name
// this one explicitly).
const opSSetpcB64 = 2

type soppInfo struct {
	name     string
	isBranch bool
}

var soppTable = map[uint32]soppInfo{
	opSNop:           {"s_nop", false},
	opSEndpgm:        {"s_endpgm", false},
	opSBranch:        {"s_branch", true},
	opSCbranchSCC0:   {"s_cbranch_scc0", true},
	opSCbranchSCC1:   {"s_cbranch_scc1", true},
	opSCbranchVCCZ:   {"s_cbranch_vccz", true},
	opSCbranchVCCNZ:  {"s_cbranch_vccnz", true},
	opSCbranchExecZ:  {"s_cbranch_execz", true},
	opSCbranchExecNZ: {"s_cbranch_execnz", true},
	opSWaitcnt:       {"s_waitcnt", false},
	opSBarrier:       {"s_barrier", false},
}

func sopp(opcode uint32) soppInfo {
	if info, ok := soppTable[opcode]; ok {
		return info
	}
	return soppInfo{name: "s_unknown"}
}

var sopkNames = map[uint32]string{
	0: "s_movk_i32",
	1: "s_cmovk_i32",
	2: "s_cmpk_eq_i32",
	3: "s_addk_i32",
}

func sopkName(opcode uint32) string {
	if n, ok := sopkNames[opcode]; ok {
		return n
	}
	return "s_unknown_k"
}

var sop1Names = map[uint32]string{
	0:          "s_mov_b32",
	1:          "s_not_b32",
	opSSetpcB64: "s_setpc_b64",
	3:          "s_mov_b64",
}

var sop2Names = map[uint32]string{
	0: "s_add_u32",
	1: "s_sub_u32",
	2: "s_and_b32",
	3: "s_or_b32",
	4: "s_lshl_b32",
}

var sopcNames = map[uint32]string{
	0: "s_cmp_eq_i32",
	1: "s_cmp_lg_i32",
	2: "s_cmp_eq_u32",
}

var vop1Names = map[uint32]string{
	0: "v_mov_b32",
	1: "v_not_b32",
	2: "v_cvt_f32_i32",
}

var vop2Names = map[uint32]string{
	0: "v_add_f32",
	1: "v_sub_f32",
	2: "v_mul_f32",
}

var vop3Names = map[uint32]string{
	0: "v_mad_f32",
	1: "v_fma_f32",
}

var smemNames = map[uint32]string{
	0: "s_load_dword",
	1: "s_load_dwordx2",
	2: "s_store_dword",
}

var flatNames = map[uint32]string{
	0: "flat_load_dword",
	1: "flat_store_dword",
	2: "global_load_dword",
	3: "global_store_dword",
}

func mnemonicFor(f Format, opcode uint32) string {
	var table map[uint32]string
	switch f {
	case FormatSOP1:
		table = sop1Names
	case FormatSOP2:
		table = sop2Names
	case FormatSOPC:
		table = sopcNames
	case FormatVOP1:
		table = vop1Names
	case FormatVOP2:
		table = vop2Names
	case FormatVOP3:
		table = vop3Names
	case FormatSMEM:
		table = smemNames
	case FormatFlat:
		table = flatNames
	}
	if name, ok := table[opcode]; ok {
		return name
	}
	return "unknown_op"
}
