package topology

// ---------------------------------------------------------------------------
// IndexStats
// ---------------------------------------------------------------------------

// IndexStats summarises the contents of a topology index.
type IndexStats struct {
	TotalNodes   int            `json:"totalNodes"`
	TotalEdges   int            `json:"totalEdges"`
	Groups       int            `json:"groups"`
	NodesByType  map[string]int `json:"nodesByType"`
	EdgesByType  map[string]int `json:"edgesByType"`
	StatusCounts map[string]int `json:"statusCounts"`
}

// ---------------------------------------------------------------------------
// Index
// ---------------------------------------------------------------------------

// Index is a lookup structure over one node/edge set. It is built once and
// never mutated afterwards, so concurrent readers need no locking.
//
// Node and edge order always follows the input order.
type Index struct {
	order    []string
	nodes    map[string]Node     // id → node
	children map[string][]string // parent_id → []child_ids
	edges    []Edge
}

// NewIndex indexes nodes and edges. When ids repeat, the first occurrence
// wins. Edges are kept as given for Stats, including ones whose endpoints
// are not in nodes.
func NewIndex(nodes []Node, edges []Edge) *Index {
	idx := &Index{
		order:    make([]string, 0, len(nodes)),
		nodes:    make(map[string]Node, len(nodes)),
		children: make(map[string][]string),
		edges:    edges,
	}
	for _, n := range nodes {
		if _, dup := idx.nodes[n.ID]; dup {
			continue
		}
		idx.nodes[n.ID] = n
		idx.order = append(idx.order, n.ID)
		if n.ParentID != "" {
			idx.children[n.ParentID] = append(idx.children[n.ParentID], n.ID)
		}
	}
	return idx
}

// Nodes returns every indexed node in input order.
func (x *Index) Nodes() []Node {
	out := make([]Node, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.nodes[id])
	}
	return out
}

// ChildCount returns the number of direct children of parentID.
func (x *Index) ChildCount(parentID string) int {
	return len(x.children[parentID])
}

// IsParent reports whether any node names id as its parent.
func (x *Index) IsParent(id string) bool {
	return len(x.children[id]) > 0
}

// SiblingIndex returns the position of id among its parent's children, or
// -1 for top-level and unknown nodes.
func (x *Index) SiblingIndex(id string) int {
	n, ok := x.nodes[id]
	if !ok || n.ParentID == "" {
		return -1
	}
	for i, cid := range x.children[n.ParentID] {
		if cid == id {
			return i
		}
	}
	return -1
}

// Ancestors walks the containment chain upward from id, nearest first.
// The walk stops at the first missing parent or repeated id.
func (x *Index) Ancestors(id string) []Node {
	var result []Node
	seen := map[string]bool{id: true}
	cur, ok := x.nodes[id]
	for ok && cur.ParentID != "" && !seen[cur.ParentID] {
		seen[cur.ParentID] = true
		cur, ok = x.nodes[cur.ParentID]
		if ok {
			result = append(result, cur)
		}
	}
	return result
}

// Stats summarises the index.
func (x *Index) Stats() IndexStats {
	st := IndexStats{
		TotalNodes:   len(x.nodes),
		TotalEdges:   len(x.edges),
		NodesByType:  make(map[string]int),
		EdgesByType:  make(map[string]int),
		StatusCounts: make(map[string]int),
	}
	for _, n := range x.nodes {
		st.NodesByType[n.Type]++
		st.StatusCounts[string(n.Status)]++
		if x.IsParent(n.ID) {
			st.Groups++
		}
	}
	for _, e := range x.edges {
		t := string(e.Type)
		if t == "" {
			t = "default"
		}
		st.EdgesByType[t]++
	}
	return st
}
