package topology

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names a snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrInvalidSnapshot is wrapped by every structural problem Check reports.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is a complete, versioned description of an incident's topology.
// A newer snapshot replaces an older one wholesale. RootCauseID and
// AffectedIDs only drive highlighting.
type Snapshot struct {
	Version     int64    `json:"version" yaml:"version"`
	Nodes       []Node   `json:"nodes" yaml:"nodes"`
	Edges       []Edge   `json:"edges" yaml:"edges"`
	RootCauseID string   `json:"rootCauseId,omitempty" yaml:"rootCauseId,omitempty"`
	AffectedIDs []string `json:"affectedIds,omitempty" yaml:"affectedIds,omitempty"`
}

// IsEmpty reports whether the snapshot has nothing to draw.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Nodes) == 0
}

// IsRootCause reports whether id is the highlighted root cause.
func (s *Snapshot) IsRootCause(id string) bool {
	return s.RootCauseID != "" && s.RootCauseID == id
}

// IsAffected reports whether id is in the affected overlay.
func (s *Snapshot) IsAffected(id string) bool {
	for _, a := range s.AffectedIDs {
		if a == id {
			return true
		}
	}
	return false
}

// Check performs structural validation. Dangling parent references are not
// structural errors; the layout validator drops those nodes instead.
func (s *Snapshot) Check() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if s.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalidSnapshot, s.Version)
	}
	for i, n := range s.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidSnapshot, i)
		}
	}
	for i, e := range s.Edges {
		if e.Source == "" || e.Target == "" {
			return fmt.Errorf("%w: edge %d is missing an endpoint", ErrInvalidSnapshot, i)
		}
	}
	return nil
}

// Decode reads a snapshot in the given format.
func Decode(r io.Reader, format Format) (*Snapshot, error) {
	var snap Snapshot
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("topology: decode yaml: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("topology: decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("topology: unknown format %q", format)
	}
	return &snap, nil
}

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeFile opens path and decodes it according to its extension.
func DecodeFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topology: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f, FormatFromPath(path))
}
