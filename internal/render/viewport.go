package render

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Arvo-AI/aurora-sub002/internal/layout"
)

// Fit defaults sent to clients with every graph.
const (
	DefaultFitPadding  = 0.2
	DefaultSettleDelay = 100 * time.Millisecond
)

// Bounds is an absolute bounding box.
type Bounds struct {
	MinX   float64 `json:"minX"`
	MinY   float64 `json:"minY"`
	MaxX   float64 `json:"maxX"`
	MaxY   float64 `json:"maxY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FitView tells the client how to re-centre once a new graph arrives. The
// client waits SettleDelayMs so node dimensions are measured before fitting.
type FitView struct {
	Bounds        Bounds  `json:"bounds"`
	Padding       float64 `json:"padding"`
	SettleDelayMs int64   `json:"settleDelayMs"`
}

// Viewport describes the drawing extent of a graph.
type Viewport struct {
	Bounds Bounds  `json:"bounds"`
	Fit    FitView `json:"fitView"`
}

// NewViewport computes the absolute bounds of nodes, which must be ordered
// parents first.
func NewViewport(nodes []FlowNode) Viewport {
	b := absoluteBounds(nodes)
	return Viewport{
		Bounds: b,
		Fit: FitView{
			Bounds:        b,
			Padding:       DefaultFitPadding,
			SettleDelayMs: DefaultSettleDelay.Milliseconds(),
		},
	}
}

// AbsolutePositions resolves every node's position into the canvas frame.
func AbsolutePositions(nodes []FlowNode) map[string]layout.Position {
	abs := make(map[string]layout.Position, len(nodes))
	for _, n := range nodes {
		p := n.Position
		if parent, ok := abs[n.ParentID]; ok && n.ParentID != "" {
			p.X += parent.X
			p.Y += parent.Y
		}
		abs[n.ID] = p
	}
	return abs
}

func absoluteBounds(nodes []FlowNode) Bounds {
	if len(nodes) == 0 {
		return Bounds{}
	}
	abs := AbsolutePositions(nodes)
	b := Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, n := range nodes {
		p := abs[n.ID]
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X+n.Style.Width)
		b.MaxY = math.Max(b.MaxY, p.Y+n.Style.Height)
	}
	b.Width = b.MaxX - b.MinX
	b.Height = b.MaxY - b.MinY
	return b
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

// ErrUnknownNode is returned when a drag refers to a node not in the view.
var ErrUnknownNode = errors.New("render: unknown node")

// View is one client's copy of a graph plus the positions that client has
// dragged nodes to. Overrides live only in the view and are never fed back
// into layout. A new snapshot discards them.
type View struct {
	mu        sync.Mutex
	graph     Graph
	overrides map[string]layout.Position
}

// NewView wraps g.
func NewView(g Graph) *View {
	return &View{graph: g, overrides: make(map[string]layout.Position)}
}

// Move records a drag of node id to pos, in the node's own frame.
func (v *View) Move(id string, pos layout.Position) error {
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) {
		return fmt.Errorf("render: invalid position for %q", id)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, n := range v.graph.Nodes {
		if n.ID == id {
			v.overrides[id] = pos
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownNode, id)
}

// Replace swaps in a freshly computed graph and drops all overrides.
func (v *View) Replace(g Graph) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graph = g
	v.overrides = make(map[string]layout.Position)
}

// Advance replaces the graph like Replace, but only with a newer version.
// An empty view accepts any graph. It reports whether g was taken.
func (v *View) Advance(g Graph) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.graph.State != StateEmpty && g.Version <= v.graph.Version {
		return false
	}
	v.graph = g
	v.overrides = make(map[string]layout.Position)
	return true
}

// Reset drops all overrides, restoring computed positions.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrides = make(map[string]layout.Position)
}

// Overrides returns the number of dragged nodes.
func (v *View) Overrides() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.overrides)
}

// Graph returns a copy of the graph with drag overrides applied.
func (v *View) Graph() Graph {
	v.mu.Lock()
	defer v.mu.Unlock()
	g := v.graph
	g.Nodes = make([]FlowNode, len(v.graph.Nodes))
	copy(g.Nodes, v.graph.Nodes)
	for i, n := range g.Nodes {
		if p, ok := v.overrides[n.ID]; ok {
			g.Nodes[i].Position = p
		}
	}
	return g
}
