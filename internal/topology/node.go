package topology

import "strings"

// ---------------------------------------------------------------------------
// Node status
// ---------------------------------------------------------------------------

// NodeStatus is the health state reported for an infrastructure node.
type NodeStatus string

const (
	StatusHealthy       NodeStatus = "healthy"
	StatusDegraded      NodeStatus = "degraded"
	StatusFailed        NodeStatus = "failed"
	StatusInvestigating NodeStatus = "investigating"
	StatusUnknown       NodeStatus = "unknown"
)

// ParseStatus maps a free-form status string onto the closed NodeStatus set.
// Anything unrecognised becomes StatusUnknown.
func ParseStatus(s string) NodeStatus {
	switch NodeStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusHealthy:
		return StatusHealthy
	case StatusDegraded:
		return StatusDegraded
	case StatusFailed:
		return StatusFailed
	case StatusInvestigating:
		return StatusInvestigating
	default:
		return StatusUnknown
	}
}

// StatusColors is the fixed colour triple used to draw a node.
type StatusColors struct {
	Border     string `json:"border"`
	Background string `json:"background"`
	Glow       string `json:"glow"`
}

var statusColors = map[NodeStatus]StatusColors{
	StatusHealthy:       {Border: "#22c55e", Background: "#052e16", Glow: "rgba(34,197,94,0.35)"},
	StatusDegraded:      {Border: "#eab308", Background: "#422006", Glow: "rgba(234,179,8,0.35)"},
	StatusFailed:        {Border: "#ef4444", Background: "#450a0a", Glow: "rgba(239,68,68,0.45)"},
	StatusInvestigating: {Border: "#3b82f6", Background: "#172554", Glow: "rgba(59,130,246,0.35)"},
	StatusUnknown:       {Border: "#6b7280", Background: "#111827", Glow: "rgba(107,114,128,0.25)"},
}

// Colors returns the render colours for the status. Unknown values fall
// back to the StatusUnknown palette.
func (s NodeStatus) Colors() StatusColors {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[StatusUnknown]
}

// UnmarshalText normalises the wire value so decoded snapshots only ever
// carry known statuses.
func (s *NodeStatus) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Node is one infrastructure entity in an incident topology: a service,
// pod, database, alert, or a container (deployment, cluster) that nests
// other nodes through ParentID.
type Node struct {
	ID       string     `json:"id" yaml:"id"`
	Type     string     `json:"type" yaml:"type"`
	Label    string     `json:"label" yaml:"label"`
	Status   NodeStatus `json:"status" yaml:"status"`
	ParentID string     `json:"parentId,omitempty" yaml:"parentId,omitempty"`
}

// IsChild reports whether the node is nested inside another node.
func (n Node) IsChild() bool {
	return n.ParentID != ""
}

// DisplayLabel returns Label, or the ID when no label was supplied.
func (n Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
