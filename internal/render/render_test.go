package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

func incident() *topology.Snapshot {
	return &topology.Snapshot{
		Version: 4,
		Nodes: []topology.Node{
			{ID: "pod-1", Type: "pod", Label: "checkout-1", Status: topology.StatusFailed, ParentID: "deploy"},
			{ID: "deploy", Type: "deployment", Label: "checkout", Status: topology.StatusDegraded},
			{ID: "db", Type: "database", Label: "orders", Status: topology.StatusFailed},
			{ID: "alert", Type: "alert", Status: topology.StatusInvestigating},
		},
		Edges: []topology.Edge{
			{Source: "db", Target: "deploy", Type: topology.EdgeTypeCausation, Label: "timeouts"},
			{Source: "deploy", Target: "pod-1"},
			{Source: "pod-1", Target: "alert"},
			{Source: "pod-1", Target: "alert"},
		},
		RootCauseID: "db",
		AffectedIDs: []string{"deploy", "pod-1"},
	}
}

func build(t *testing.T, snap *topology.Snapshot) Graph {
	t.Helper()
	opts := layout.DefaultOptions()
	res, err := layout.NewEngine(opts, nil, nil).Compute(context.Background(), snap)
	require.NoError(t, err)
	return Build(snap, res, opts)
}

func findNode(g Graph, id string) (FlowNode, int) {
	for i, n := range g.Nodes {
		if n.ID == id {
			return n, i
		}
	}
	return FlowNode{}, -1
}

func TestBuildOrdersParentsFirst(t *testing.T) {
	g := build(t, incident())
	require.Equal(t, StateReady, g.State)

	_, parentAt := findNode(g, "deploy")
	_, childAt := findNode(g, "pod-1")
	require.NotEqual(t, -1, parentAt)
	assert.Less(t, parentAt, childAt)
}

func TestBuildNodeStyling(t *testing.T) {
	g := build(t, incident())

	deploy, _ := findNode(g, "deploy")
	assert.Equal(t, NodeTypeGroup, deploy.Type)
	assert.Equal(t, 250.0, deploy.Style.Width)
	assert.Equal(t, 200.0, deploy.Style.Height)
	assert.True(t, deploy.Data.IsAffected)
	assert.Equal(t, 3, deploy.Style.BorderWidth)
	assert.Equal(t, 1, deploy.Data.ChildCount)

	pod, _ := findNode(g, "pod-1")
	assert.Equal(t, NodeTypeInfra, pod.Type)
	assert.Equal(t, ExtentParent, pod.Extent)
	assert.Equal(t, "deploy", pod.ParentID)
	assert.Equal(t, layout.Position{X: 40, Y: 40}, pod.Position)
	assert.Equal(t, topology.StatusFailed.Colors().Border, pod.Style.BorderColor)

	db, _ := findNode(g, "db")
	assert.True(t, db.Data.IsRootCause)
	assert.Equal(t, 4, db.Style.BorderWidth)

	alert, _ := findNode(g, "alert")
	assert.Equal(t, "alert", alert.Data.Label, "label falls back to id")
}

func TestBuildEdges(t *testing.T) {
	g := build(t, incident())

	// deploy->pod-1 is containment and is not drawn.
	require.Len(t, g.Edges, 3)
	causal := g.Edges[0]
	assert.Equal(t, "e-db-deploy", causal.ID)
	assert.True(t, causal.Animated)
	assert.Equal(t, HandleSource, causal.SourceHandle)
	assert.Equal(t, HandleTarget, causal.TargetHandle)
	assert.Equal(t, MarkerArrowClosed, causal.MarkerEnd.Type)
	assert.Equal(t, "timeouts", causal.Label)

	assert.False(t, g.Edges[1].Animated)
	assert.Equal(t, "e-pod-1-alert", g.Edges[1].ID)
	assert.Equal(t, "e-pod-1-alert-1", g.Edges[2].ID)
}

func TestBuildEmpty(t *testing.T) {
	g := build(t, &topology.Snapshot{Version: 9})
	assert.Equal(t, StateEmpty, g.State)
	assert.Empty(t, g.Nodes)
	assert.Equal(t, int64(9), g.Version)
}

func TestFailed(t *testing.T) {
	g := Failed(3, errors.New("stream closed"))
	assert.Equal(t, StateError, g.State)
	assert.Equal(t, "stream closed", g.Error)
}

func TestViewportCoversAllNodes(t *testing.T) {
	g := build(t, incident())
	vp := g.Viewport

	assert.Equal(t, DefaultFitPadding, vp.Fit.Padding)
	assert.Equal(t, int64(100), vp.Fit.SettleDelayMs)
	assert.InDelta(t, vp.Bounds.MaxX-vp.Bounds.MinX, vp.Bounds.Width, 1e-9)

	abs := AbsolutePositions(g.Nodes)
	for _, n := range g.Nodes {
		p := abs[n.ID]
		assert.True(t, p.X >= vp.Bounds.MinX && p.X <= vp.Bounds.MaxX, n.ID)
		assert.True(t, p.Y >= vp.Bounds.MinY && p.Y <= vp.Bounds.MaxY, n.ID)
	}

	deploy := abs["deploy"]
	pod := abs["pod-1"]
	assert.Equal(t, deploy.X+40, pod.X)
	assert.Equal(t, deploy.Y+40, pod.Y)
}

func TestViewDragOverridesAreDiscardedOnReplace(t *testing.T) {
	g := build(t, incident())
	v := NewView(g)

	require.NoError(t, v.Move("db", layout.Position{X: 999, Y: -5}))
	assert.ErrorIs(t, v.Move("nope", layout.Position{}), ErrUnknownNode)
	assert.Equal(t, 1, v.Overrides())

	moved, _ := findNode(v.Graph(), "db")
	assert.Equal(t, layout.Position{X: 999, Y: -5}, moved.Position)

	original, _ := findNode(g, "db")
	assert.NotEqual(t, moved.Position, original.Position, "overrides never leak into the source graph")

	v.Replace(build(t, incident()))
	assert.Equal(t, 0, v.Overrides())
	fresh, _ := findNode(v.Graph(), "db")
	assert.Equal(t, original.Position, fresh.Position)
}

func TestViewAdvanceKeepsNewestGraph(t *testing.T) {
	v := NewView(Graph{State: StateEmpty})
	older := incident()
	older.Version = 3

	assert.True(t, v.Advance(build(t, incident())), "empty view takes any graph")
	require.NoError(t, v.Move("db", layout.Position{X: 1, Y: 1}))

	assert.False(t, v.Advance(build(t, older)))
	assert.False(t, v.Advance(build(t, incident())), "same version is not newer")
	assert.Equal(t, int64(4), v.Graph().Version)
	assert.Equal(t, 1, v.Overrides(), "rejected graph leaves drags alone")

	newer := incident()
	newer.Version = 5
	assert.True(t, v.Advance(build(t, newer)))
	assert.Equal(t, int64(5), v.Graph().Version)
	assert.Equal(t, 0, v.Overrides())
}

func TestDOT(t *testing.T) {
	out, err := DOT(build(t, incident()))
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "digraph"))
	assert.Contains(t, s, "topology_v4")
	assert.Contains(t, s, "pod-1")
	assert.Contains(t, s, "dashed")
	assert.Contains(t, s, "box3d")
}

func TestTable(t *testing.T) {
	out := Table(build(t, incident()))
	for _, id := range []string{"deploy", "pod-1", "db", "alert", "root-cause"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, Table(build(t, &topology.Snapshot{})), "empty")
}
