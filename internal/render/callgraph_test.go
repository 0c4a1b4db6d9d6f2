package render

import (
	"strings"
	"testing"

	"github.com/zboralski/lattice"
)

func TestCallgraphDOTMarksUnresolvedEdgesDashed(t *testing.T) {
	g := &lattice.Graph{
		Nodes: []string{"vector_add"},
		Edges: []lattice.Edge{{Caller: "vector_add", Callee: unresolvedCallee}},
	}
	dot := CallgraphDOT(g, "vector_add", NASA, 0)
	if !strings.Contains(dot, `style="dashed"`) {
		t.Errorf("expected a dashed edge for an unresolved call, got:\n%s", dot)
	}
	if !strings.Contains(dot, "shape=plaintext") {
		t.Error("unresolved callee should render as an external plaintext node")
	}
}

func TestCallgraphDOTRendersHookEdgeToExternalNode(t *testing.T) {
	g := &lattice.Graph{
		Nodes: []string{"vector_add"},
		Edges: []lattice.Edge{{Caller: "vector_add", Callee: "trace_entry"}},
	}
	dot := CallgraphDOT(g, "", NASA, 0)
	if !strings.Contains(dot, dotID("trace_entry")) {
		t.Error("external callee node not rendered")
	}
}

func TestComputeStatsCountsUnresolved(t *testing.T) {
	g := &lattice.Graph{
		Nodes: []string{"a", "b"},
		Edges: []lattice.Edge{
			{Caller: "a", Callee: "b"},
			{Caller: "a", Callee: unresolvedCallee},
		},
	}
	stats := ComputeStats(g)
	if stats.TotalEdges != 2 || stats.Unresolved != 1 {
		t.Errorf("stats = %+v, want TotalEdges=2 Unresolved=1", stats)
	}
}
