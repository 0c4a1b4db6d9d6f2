package render

import (
	"fmt"
	"strings"

	"github.com/zboralski/lattice"
)

// unresolvedCallee is the placeholder lrgraph.callTarget uses for an
// indirect call whose target cannot be named.
const unresolvedCallee = "unresolved_call"

// CallgraphDOT renders a lattice.Graph (internal/lrgraph.BuildCallGraph's
// output) as DOT. Nodes reachable only as callees (device functions and
// hook targets with no lifted body of their own) are drawn as external
// plaintext nodes; edges into an unresolved call site are dashed.
// maxNodes limits the number of known-function nodes rendered (0 = all).
func CallgraphDOT(g *lattice.Graph, title string, t Theme, maxNodes int) string {
	funcSet := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		funcSet[n] = true
	}

	nodes := g.Nodes
	if maxNodes > 0 && len(nodes) > maxNodes {
		nodes = nodes[:maxNodes]
		funcSet = make(map[string]bool, len(nodes))
		for _, n := range nodes {
			funcSet[n] = true
		}
	}

	externalNodes := make(map[string]bool)
	for _, e := range g.Edges {
		if !funcSet[e.Caller] {
			continue
		}
		if !funcSet[e.Callee] {
			externalNodes[e.Callee] = true
		}
	}

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, n := range nodes {
		fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(n), truncLabel(n, 60))
	}
	b.WriteByte('\n')

	for name := range externalNodes {
		label := truncLabel(name, 50)
		fill := t.StubFill
		if name == unresolvedCallee {
			fill = "none"
		}
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=%q, fontcolor=%q, fontsize=8];\n",
			dotID(name), label, fill, t.ExternalText)
	}
	b.WriteByte('\n')

	for _, e := range g.Edges {
		if !funcSet[e.Caller] {
			continue
		}
		color, style := t.EdgeDirect, "solid"
		if e.Callee == unresolvedCallee {
			color, style = t.EdgeUnresolved, "dashed"
		} else if !funcSet[e.Callee] {
			color, style = t.EdgeHook, "solid"
		}
		fmt.Fprintf(&b, "  %s -> %s [color=%q, style=%q];\n", dotID(e.Caller), dotID(e.Callee), color, style)
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats summarizes a lattice.Graph for a text report.
type CallgraphStats struct {
	TotalFunctions int
	TotalEdges     int
	Unresolved     int
	TopCallers     []NameCount
	TopCallees     []NameCount
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes call-graph statistics from a lattice.Graph.
func ComputeStats(g *lattice.Graph) CallgraphStats {
	stats := CallgraphStats{TotalFunctions: len(g.Nodes), TotalEdges: len(g.Edges)}

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range g.Edges {
		callerCount[e.Caller]++
		calleeCount[e.Callee]++
		if e.Callee == unresolvedCallee {
			stats.Unresolved++
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Count > entries[i].Count {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
