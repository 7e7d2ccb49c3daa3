// Package render converts layout results into the node/edge model consumed
// by the incident console's flow-diagram canvas, plus DOT and terminal
// table views of the same graph.
package render

import (
	"fmt"
	"sort"

	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// ---------------------------------------------------------------------------
// Render model
// ---------------------------------------------------------------------------

// State tells the client which view to show.
type State string

const (
	StateReady State = "ready"
	StateEmpty State = "empty"
	StateError State = "error"
)

const (
	NodeTypeGroup = "group"
	NodeTypeInfra = "infra"

	HandleSource = "bottom"
	HandleTarget = "top"

	EdgeTypeSmoothStep = "smoothstep"
	MarkerArrowClosed  = "arrowclosed"
	ExtentParent       = "parent"
)

// Graph is everything the canvas needs to draw one snapshot.
type Graph struct {
	Version     int64               `json:"version"`
	State       State               `json:"state"`
	Nodes       []FlowNode          `json:"nodes"`
	Edges       []FlowEdge          `json:"edges"`
	Viewport    Viewport            `json:"viewport"`
	RootCauseID string              `json:"rootCauseId,omitempty"`
	Diagnostics []layout.Diagnostic `json:"diagnostics,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// FlowNode is one canvas node. Children carry a position relative to their
// parent and are confined to it.
type FlowNode struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Position  layout.Position `json:"position"`
	ParentID  string          `json:"parentId,omitempty"`
	Extent    string          `json:"extent,omitempty"`
	Draggable bool            `json:"draggable"`
	Style     NodeStyle       `json:"style"`
	Data      NodeData        `json:"data"`
}

// NodeStyle is the inline style applied to a node.
type NodeStyle struct {
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	BorderColor string  `json:"borderColor"`
	BorderWidth int     `json:"borderWidth"`
	Background  string  `json:"background"`
	BoxShadow   string  `json:"boxShadow,omitempty"`
}

// NodeData is the payload handed to the node component.
type NodeData struct {
	Label       string              `json:"label"`
	Kind        string              `json:"kind"`
	Status      topology.NodeStatus `json:"status"`
	IsRootCause bool                `json:"isRootCause"`
	IsAffected  bool                `json:"isAffected"`
	Layer       int                 `json:"layer"`
	ChildCount  int                 `json:"childCount,omitempty"`
}

// FlowEdge is one canvas connector. Edges leave a node at the bottom handle
// and enter at the top handle.
type FlowEdge struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	SourceHandle string    `json:"sourceHandle"`
	TargetHandle string    `json:"targetHandle"`
	Label        string    `json:"label,omitempty"`
	Type         string    `json:"type"`
	Animated     bool      `json:"animated"`
	MarkerEnd    Marker    `json:"markerEnd"`
	Style        EdgeStyle `json:"style"`
}

// Marker is an edge arrowhead.
type Marker struct {
	Type  string `json:"type"`
	Color string `json:"color,omitempty"`
}

// EdgeStyle is the inline style applied to an edge.
type EdgeStyle struct {
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
}

const (
	strokeCausal  = "#ef4444"
	strokeDefault = "#64748b"
)

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// Build maps a snapshot and its layout onto the canvas model. Parents are
// always emitted before their children.
func Build(snap *topology.Snapshot, res *layout.Result, opts layout.Options) Graph {
	if snap == nil {
		snap = &topology.Snapshot{}
	}
	g := Graph{
		Version:     res.Version,
		State:       StateReady,
		Nodes:       []FlowNode{},
		Edges:       []FlowEdge{},
		RootCauseID: snap.RootCauseID,
		Diagnostics: res.Diagnostics,
	}
	if res.Empty {
		g.State = StateEmpty
		return g
	}

	byID := make(map[string]topology.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if _, dup := byID[n.ID]; !dup {
			byID[n.ID] = n
		}
	}
	childCount := make(map[string]int)
	for _, ln := range res.Nodes {
		if ln.ParentID != "" {
			childCount[ln.ParentID]++
		}
	}

	for _, ln := range orderParentsFirst(res.Nodes) {
		src := byID[ln.ID]
		g.Nodes = append(g.Nodes, flowNode(snap, src, ln, childCount[ln.ID], opts))
	}

	seen := make(map[string]int)
	for _, e := range res.Edges {
		key := e.Key()
		id := fmt.Sprintf("e-%s-%s", e.Source, e.Target)
		if n := seen[key]; n > 0 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		seen[key]++
		g.Edges = append(g.Edges, flowEdge(id, e))
	}

	g.Viewport = NewViewport(g.Nodes)
	return g
}

// Failed builds the graph a client shows when a snapshot could not be
// loaded or laid out.
func Failed(version int64, err error) Graph {
	return Graph{
		Version: version,
		State:   StateError,
		Nodes:   []FlowNode{},
		Edges:   []FlowEdge{},
		Error:   err.Error(),
	}
}

func flowNode(snap *topology.Snapshot, src topology.Node, ln layout.LayoutNode, children int, opts layout.Options) FlowNode {
	colors := src.Status.Colors()
	fn := FlowNode{
		ID:        ln.ID,
		Type:      NodeTypeInfra,
		Position:  ln.Position,
		ParentID:  ln.ParentID,
		Draggable: true,
		Style: NodeStyle{
			Width:       opts.NodeWidth,
			Height:      opts.NodeHeight,
			BorderColor: colors.Border,
			BorderWidth: 2,
			Background:  colors.Background,
			BoxShadow:   "0 0 12px " + colors.Glow,
		},
		Data: NodeData{
			Label:       src.DisplayLabel(),
			Kind:        src.Type,
			Status:      src.Status,
			IsRootCause: snap.IsRootCause(ln.ID),
			IsAffected:  snap.IsAffected(ln.ID),
			Layer:       ln.Layer,
			ChildCount:  children,
		},
	}
	if ln.ParentID != "" {
		fn.Extent = ExtentParent
		fn.Style.Height = opts.ChildHeight
	}
	if ln.IsGroup && ln.Dimensions != nil {
		fn.Type = NodeTypeGroup
		fn.Style.Width = ln.Dimensions.Width
		fn.Style.Height = ln.Dimensions.Height
	}
	switch {
	case fn.Data.IsRootCause:
		fn.Style.BorderWidth = 4
		fn.Style.BorderColor = topology.StatusFailed.Colors().Border
		fn.Style.BoxShadow = "0 0 24px " + topology.StatusFailed.Colors().Glow
	case fn.Data.IsAffected:
		fn.Style.BorderWidth = 3
	}
	return fn
}

func flowEdge(id string, e topology.Edge) FlowEdge {
	fe := FlowEdge{
		ID:           id,
		Source:       e.Source,
		Target:       e.Target,
		SourceHandle: HandleSource,
		TargetHandle: HandleTarget,
		Label:        e.Label,
		Type:         EdgeTypeSmoothStep,
		Animated:     e.IsCausal(),
		MarkerEnd:    Marker{Type: MarkerArrowClosed, Color: strokeDefault},
		Style:        EdgeStyle{Stroke: strokeDefault, StrokeWidth: 1.5},
	}
	if fe.Animated {
		fe.MarkerEnd.Color = strokeCausal
		fe.Style = EdgeStyle{Stroke: strokeCausal, StrokeWidth: 2}
	}
	return fe
}

// orderParentsFirst sorts by nesting depth, keeping input order within the
// same depth.
func orderParentsFirst(nodes []layout.LayoutNode) []layout.LayoutNode {
	parent := make(map[string]string, len(nodes))
	for _, n := range nodes {
		parent[n.ID] = n.ParentID
	}
	depth := func(id string) int {
		d := 0
		seen := map[string]bool{id: true}
		for p := parent[id]; p != "" && !seen[p]; p = parent[p] {
			seen[p] = true
			d++
		}
		return d
	}

	out := append([]layout.LayoutNode(nil), nodes...)
	depths := make(map[string]int, len(out))
	for _, n := range out {
		depths[n.ID] = depth(n.ID)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return depths[out[i].ID] < depths[out[j].ID]
	})
	return out
}
