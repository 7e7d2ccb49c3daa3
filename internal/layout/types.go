// Package layout turns a topology snapshot into positioned nodes: container
// sizing, longest-path layering of top-level nodes, per-layer centring and
// child stacking inside containers. Everything here is synchronous and
// deterministic; the same snapshot always yields the same result.
package layout

import "github.com/Arvo-AI/aurora-sub002/internal/topology"

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options holds the geometry constants used by the engine. All values are
// in drawing units.
type Options struct {
	GroupWidth        float64 `json:"groupWidth" yaml:"groupWidth"`
	NodeWidth         float64 `json:"nodeWidth" yaml:"nodeWidth"`
	NodeHeight        float64 `json:"nodeHeight" yaml:"nodeHeight"`
	HeaderHeight      float64 `json:"headerHeight" yaml:"headerHeight"`
	ChildHeight       float64 `json:"childHeight" yaml:"childHeight"`
	ChildSpacing      float64 `json:"childSpacing" yaml:"childSpacing"`
	BottomPadding     float64 `json:"bottomPadding" yaml:"bottomPadding"`
	MinGroupHeight    float64 `json:"minGroupHeight" yaml:"minGroupHeight"`
	GroupPadding      float64 `json:"groupPadding" yaml:"groupPadding"`
	HorizontalSpacing float64 `json:"horizontalSpacing" yaml:"horizontalSpacing"`
	VerticalSpacing   float64 `json:"verticalSpacing" yaml:"verticalSpacing"`
}

// DefaultOptions returns the standard geometry.
func DefaultOptions() Options {
	return Options{
		GroupWidth:        250,
		NodeWidth:         200,
		NodeHeight:        100,
		HeaderHeight:      40,
		ChildHeight:       100,
		ChildSpacing:      30,
		BottomPadding:     40,
		MinGroupHeight:    200,
		GroupPadding:      40,
		HorizontalSpacing: 200,
		VerticalSpacing:   150,
	}
}

// normalize replaces zero or negative fields with their defaults.
func (o Options) normalize() Options {
	d := DefaultOptions()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&o.GroupWidth, d.GroupWidth)
	fill(&o.NodeWidth, d.NodeWidth)
	fill(&o.NodeHeight, d.NodeHeight)
	fill(&o.HeaderHeight, d.HeaderHeight)
	fill(&o.ChildHeight, d.ChildHeight)
	fill(&o.ChildSpacing, d.ChildSpacing)
	fill(&o.BottomPadding, d.BottomPadding)
	fill(&o.MinGroupHeight, d.MinGroupHeight)
	fill(&o.GroupPadding, d.GroupPadding)
	fill(&o.HorizontalSpacing, d.HorizontalSpacing)
	fill(&o.VerticalSpacing, d.VerticalSpacing)
	return o
}

// LayerHeight is the vertical distance between consecutive layers.
func (o Options) LayerHeight() float64 {
	return o.NodeHeight + o.VerticalSpacing
}

// ChildStride is the vertical distance between stacked siblings.
func (o Options) ChildStride() float64 {
	return o.ChildHeight + o.ChildSpacing
}

// ---------------------------------------------------------------------------
// Geometry
// ---------------------------------------------------------------------------

// Position is a top-left coordinate. Children are relative to their
// parent's frame, top-level nodes are absolute.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dimensions is the rendered size of a container node.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LayoutNode is a positioned node. It is derived fresh for every snapshot
// and never persisted.
type LayoutNode struct {
	ID         string      `json:"id"`
	Position   Position    `json:"position"`
	ParentID   string      `json:"parentId,omitempty"`
	IsGroup    bool        `json:"isGroup"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Layer      int         `json:"layer"`
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// DiagnosticCode classifies a non-fatal problem found while laying out.
type DiagnosticCode string

const (
	DiagInvalidParent DiagnosticCode = "invalid_parent"
	DiagParentCycle   DiagnosticCode = "parent_cycle"
	DiagDuplicateNode DiagnosticCode = "duplicate_node"
	DiagDanglingEdge  DiagnosticCode = "dangling_edge"
	DiagSelfLoop      DiagnosticCode = "self_loop"
	DiagLayerCycle    DiagnosticCode = "layer_cycle"
)

// Diagnostic describes something the engine recovered from. Diagnostics
// never abort a layout.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	NodeID  string         `json:"nodeId,omitempty"`
	NodeIDs []string       `json:"nodeIds,omitempty"`
	Message string         `json:"message"`
}

// ---------------------------------------------------------------------------
// Result
// ---------------------------------------------------------------------------

// Result is the complete output of one layout run.
type Result struct {
	Version     int64                 `json:"version"`
	Nodes       []LayoutNode          `json:"nodes"`
	Edges       []topology.Edge       `json:"edges"`
	Groups      map[string]Dimensions `json:"groups"`
	Layers      map[string]int        `json:"layers"`
	Diagnostics []Diagnostic          `json:"diagnostics,omitempty"`
	Empty       bool                  `json:"empty"`
}

// Node returns the positioned node with the given id.
func (r *Result) Node(id string) (LayoutNode, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return LayoutNode{}, false
}
