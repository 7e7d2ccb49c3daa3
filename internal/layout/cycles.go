package layout

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// CycleDiagnostics reports self-loops and strongly connected components
// among top-level nodes. Layering still succeeds on such input; the
// diagnostics only flag that layers inside a cycle are order dependent.
func CycleDiagnostics(topLevel []topology.Node, edges []topology.Edge) []Diagnostic {
	ids := make(map[string]int64, len(topLevel))
	names := make([]string, len(topLevel))
	g := simple.NewDirectedGraph()
	for i, n := range topLevel {
		ids[n.ID] = int64(i)
		names[i] = n.ID
		g.AddNode(simple.Node(i))
	}

	var diags []Diagnostic
	selfLooped := make(map[string]bool)
	for _, e := range edges {
		from, okFrom := ids[e.Source]
		to, okTo := ids[e.Target]
		if !okFrom || !okTo {
			continue
		}
		if from == to {
			if !selfLooped[e.Source] {
				selfLooped[e.Source] = true
				diags = append(diags, Diagnostic{
					Code:    DiagSelfLoop,
					NodeID:  e.Source,
					Message: fmt.Sprintf("edge %s is a self-loop and does not affect layering", e.Key()),
				})
			}
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
	}

	var cycles [][]int64
	for _, comp := range topo.TarjanSCC(g) {
		if len(comp) < 2 {
			continue
		}
		cycles = append(cycles, sortedIDs(comp))
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })

	for _, c := range cycles {
		members := make([]string, len(c))
		for i, id := range c {
			members[i] = names[id]
		}
		diags = append(diags, Diagnostic{
			Code:    DiagLayerCycle,
			NodeID:  members[0],
			NodeIDs: members,
			Message: fmt.Sprintf("nodes %s form a cycle; their layers follow input order", strings.Join(members, ", ")),
		})
	}
	return diags
}

func sortedIDs(nodes []graph.Node) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
