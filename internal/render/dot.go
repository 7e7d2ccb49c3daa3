package render

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/multi"
)

type attrs map[string]string

func (a attrs) Attributes() []encoding.Attribute {
	out := make([]encoding.Attribute, 0, len(a))
	for _, k := range sortedKeys(a) {
		out = append(out, encoding.Attribute{Key: k, Value: a[k]})
	}
	return out
}

func sortedKeys(a attrs) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type dotGraph struct {
	*multi.DirectedGraph
	graphAttrs, nodeAttrs, edgeAttrs attrs
}

func (g *dotGraph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return g.graphAttrs, g.nodeAttrs, g.edgeAttrs
}

type dotNode struct {
	id   int64
	name string
	attrs
}

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return n.name }

type dotLine struct {
	multi.Line
	attrs
}

// DOT renders g as a Graphviz digraph. Containment is drawn as dashed
// edges from parent to child; connectors keep their direction, and causal
// connectors are drawn red.
func DOT(g Graph) ([]byte, error) {
	dg := &dotGraph{
		DirectedGraph: multi.NewDirectedGraph(),
		graphAttrs:    attrs{"rankdir": "TB", "splines": "true", "fontname": "Helvetica"},
		nodeAttrs:     attrs{"shape": "box", "style": "rounded,filled", "fontname": "Helvetica", "fontcolor": "white"},
		edgeAttrs:     attrs{"fontname": "Helvetica", "fontsize": "10"},
	}

	nodes := make(map[string]dotNode, len(g.Nodes))
	for i, n := range g.Nodes {
		a := attrs{
			"label":     n.Data.Label,
			"color":     n.Style.BorderColor,
			"fillcolor": n.Style.Background,
		}
		if n.Type == NodeTypeGroup {
			a["shape"] = "box3d"
		}
		if n.Data.IsRootCause {
			a["penwidth"] = "3"
		}
		dn := dotNode{id: int64(i), name: n.ID, attrs: a}
		nodes[n.ID] = dn
		dg.AddNode(dn)
	}

	for _, n := range g.Nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := nodes[n.ParentID]
		if !ok {
			continue
		}
		l := dg.NewLine(parent, nodes[n.ID]).(multi.Line)
		dg.SetLine(dotLine{Line: l, attrs: attrs{"style": "dashed", "arrowhead": "none", "color": "gray"}})
	}

	for _, e := range g.Edges {
		from, okFrom := nodes[e.Source]
		to, okTo := nodes[e.Target]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("render: edge %s references unknown node", e.ID)
		}
		a := attrs{"color": e.Style.Stroke}
		if e.Label != "" {
			a["label"] = e.Label
		}
		if e.Animated {
			a["style"] = "bold"
		}
		l := dg.NewLine(from, to).(multi.Line)
		dg.SetLine(dotLine{Line: l, attrs: a})
	}

	name := fmt.Sprintf("topology_v%d", g.Version)
	b, err := dot.MarshalMulti(dg, name, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("render: marshal dot: %w", err)
	}
	return b, nil
}
