package layout

import "github.com/Arvo-AI/aurora-sub002/internal/topology"

// AssignLayers computes a layer for every top-level node using longest-path
// layering: layer(n) = max(layer(p)+1) over n's predecessors, with roots
// (no incoming edges) at layer 0.
//
// Only edges between top-level nodes count. Self-loops are ignored. A
// depth-first walk from the roots, in input order, defines the traversal;
// edges that close a cycle on that walk are ignored so the relaxation
// terminates. Nodes the walk never reaches stay at layer 0. Layers inside a
// cycle depend on input order and carry no meaning beyond that.
func AssignLayers(topLevel []topology.Node, edges []topology.Edge) map[string]int {
	layers := make(map[string]int, len(topLevel))
	top := make(map[string]bool, len(topLevel))
	for _, n := range topLevel {
		top[n.ID] = true
		layers[n.ID] = 0
	}

	outgoing := make(map[string][]string)
	inDegree := make(map[string]int)
	for _, e := range edges {
		if e.IsSelfLoop() || !top[e.Source] || !top[e.Target] {
			continue
		}
		outgoing[e.Source] = append(outgoing[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var roots []string
	for _, n := range topLevel {
		if inDegree[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
	}

	// Walk from the roots and keep every edge that is not a back edge.
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(topLevel))
	kept := make(map[string][]string)
	keptIn := make(map[string]int)

	type frame struct {
		id   string
		next int
	}
	for _, root := range roots {
		if colour[root] != white {
			continue
		}
		colour[root] = grey
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			last := len(stack) - 1
			src := stack[last].id
			succ := outgoing[src]
			if stack[last].next >= len(succ) {
				colour[src] = black
				stack = stack[:last]
				continue
			}
			target := succ[stack[last].next]
			stack[last].next++
			switch colour[target] {
			case grey:
				continue
			case white:
				colour[target] = grey
				stack = append(stack, frame{id: target})
			}
			kept[src] = append(kept[src], target)
			keptIn[target]++
		}
	}

	// Kahn relaxation over the acyclic edge set.
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range kept[cur] {
			if l := layers[cur] + 1; l > layers[next] {
				layers[next] = l
			}
			keptIn[next]--
			if keptIn[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return layers
}

// PositionNodes assigns positions to validated nodes. Top-level nodes are
// placed by layer: each layer is laid out left to right in input order and
// centred on x=0, and y = layer * LayerHeight. Children are stacked inside
// their parent's frame in input order. Groups must come from GroupDimensions.
func PositionNodes(valid []topology.Node, edges []topology.Edge, groups map[string]Dimensions, opts Options) []LayoutNode {
	opts = opts.normalize()
	idx := topology.NewIndex(valid, edges)
	positioned, _ := positionNodes(idx, edges, groups, opts)
	return positioned
}

func positionNodes(idx *topology.Index, edges []topology.Edge, groups map[string]Dimensions, opts Options) ([]LayoutNode, map[string]int) {
	nodes := idx.Nodes()

	var topLevel []topology.Node
	for _, n := range nodes {
		if !n.IsChild() {
			topLevel = append(topLevel, n)
		}
	}
	layers := AssignLayers(topLevel, edges)

	width := func(id string) float64 {
		if d, ok := groups[id]; ok {
			return d.Width
		}
		return opts.NodeWidth
	}

	maxLayer := 0
	for _, l := range layers {
		if l > maxLayer {
			maxLayer = l
		}
	}
	buckets := make([][]string, maxLayer+1)
	for _, n := range topLevel {
		l := layers[n.ID]
		buckets[l] = append(buckets[l], n.ID)
	}

	positions := make(map[string]Position, len(nodes))
	for l, ids := range buckets {
		total := LayerWidth(ids, width, opts)
		x := -total / 2
		y := float64(l) * opts.LayerHeight()
		for _, id := range ids {
			positions[id] = Position{X: x, Y: y}
			x += width(id) + opts.HorizontalSpacing
		}
	}

	for _, n := range nodes {
		if !n.IsChild() {
			continue
		}
		i := idx.SiblingIndex(n.ID)
		positions[n.ID] = Position{
			X: opts.GroupPadding,
			Y: opts.GroupPadding + float64(i)*opts.ChildStride(),
		}
		// Children inherit the layer of their top-level container.
		anc := idx.Ancestors(n.ID)
		if len(anc) > 0 {
			layers[n.ID] = layers[anc[len(anc)-1].ID]
		}
	}

	out := make([]LayoutNode, 0, len(nodes))
	for _, n := range nodes {
		ln := LayoutNode{
			ID:       n.ID,
			Position: positions[n.ID],
			ParentID: n.ParentID,
			Layer:    layers[n.ID],
		}
		if d, ok := groups[n.ID]; ok {
			dim := d
			ln.IsGroup = true
			ln.Dimensions = &dim
		}
		out = append(out, ln)
	}
	return out, layers
}

// LayerWidth is the sum of node widths in a layer plus the spacing between
// neighbours.
func LayerWidth(ids []string, width func(string) float64, opts Options) float64 {
	if len(ids) == 0 {
		return 0
	}
	total := opts.HorizontalSpacing * float64(len(ids)-1)
	for _, id := range ids {
		total += width(id)
	}
	return total
}
