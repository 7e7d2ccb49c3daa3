package topology

// EdgeType classifies a connector between two nodes. Only EdgeTypeCausation
// changes how an edge is drawn; every other value is a static connector.
type EdgeType string

const (
	EdgeTypeCausation  EdgeType = "causation"
	EdgeTypeDependency EdgeType = "dependency"
	EdgeTypeNetwork    EdgeType = "network"
)

// Edge is a directed relationship from Source to Target.
type Edge struct {
	Source string   `json:"source" yaml:"source"`
	Target string   `json:"target" yaml:"target"`
	Label  string   `json:"label,omitempty" yaml:"label,omitempty"`
	Type   EdgeType `json:"type,omitempty" yaml:"type,omitempty"`
}

// IsCausal reports whether the edge expresses a causal relationship.
func (e Edge) IsCausal() bool {
	return e.Type == EdgeTypeCausation
}

// IsSelfLoop reports whether the edge starts and ends at the same node.
func (e Edge) IsSelfLoop() bool {
	return e.Source == e.Target
}

// Key identifies the ordered endpoint pair.
func (e Edge) Key() string {
	return e.Source + "->" + e.Target
}
