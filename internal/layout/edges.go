package layout

import (
	"fmt"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// FilterEdges drops every edge that duplicates a direct parent-child
// relation among positioned, in either direction. Nesting already shows
// containment. All other edges, including ones that leave a container,
// are kept in input order.
func FilterEdges(edges []topology.Edge, positioned []LayoutNode) []topology.Edge {
	parentOf := make(map[string]string, len(positioned))
	for _, n := range positioned {
		if n.ParentID != "" {
			parentOf[n.ID] = n.ParentID
		}
	}

	out := make([]topology.Edge, 0, len(edges))
	for _, e := range edges {
		if p, ok := parentOf[e.Target]; ok && p == e.Source {
			continue
		}
		if p, ok := parentOf[e.Source]; ok && p == e.Target {
			continue
		}
		out = append(out, e)
	}
	return out
}

// PruneDangling drops edges whose source or target is not among positioned,
// typically because the validator removed it.
func PruneDangling(edges []topology.Edge, positioned []LayoutNode) ([]topology.Edge, []Diagnostic) {
	present := make(map[string]bool, len(positioned))
	for _, n := range positioned {
		present[n.ID] = true
	}

	var diags []Diagnostic
	out := make([]topology.Edge, 0, len(edges))
	for _, e := range edges {
		if present[e.Source] && present[e.Target] {
			out = append(out, e)
			continue
		}
		missing := e.Source
		if present[e.Source] {
			missing = e.Target
		}
		diags = append(diags, Diagnostic{
			Code:    DiagDanglingEdge,
			NodeID:  missing,
			NodeIDs: []string{e.Source, e.Target},
			Message: fmt.Sprintf("edge %s dropped: node %q is not in the layout", e.Key(), missing),
		})
	}
	return out, diags
}
