package layout

import (
	"fmt"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

const (
	stateUnresolved = iota
	stateOnPath
	stateValid
	stateInvalid
)

// ValidateNodes returns the nodes whose containment chain resolves to a
// top-level node within the same input set, in input order.
//
// A node is dropped when its parent does not exist, when its parent was
// itself dropped, or when its parent chain loops back on itself. Repeated
// ids keep their first occurrence. Every dropped node yields one diagnostic.
func ValidateNodes(nodes []topology.Node) ([]topology.Node, []Diagnostic) {
	var diags []Diagnostic

	byID := make(map[string]topology.Node, len(nodes))
	unique := make([]topology.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			diags = append(diags, Diagnostic{
				Code:    DiagDuplicateNode,
				NodeID:  n.ID,
				Message: fmt.Sprintf("node %q appears more than once; keeping the first occurrence", n.ID),
			})
			continue
		}
		byID[n.ID] = n
		unique = append(unique, n)
	}

	state := make(map[string]int, len(unique))
	reasons := make(map[string]Diagnostic)

	for _, n := range unique {
		if state[n.ID] != stateUnresolved {
			continue
		}

		var path []string
		cur := n.ID
		verdict := stateValid
		for {
			if st := state[cur]; st == stateValid || st == stateInvalid {
				verdict = st
				if st == stateInvalid {
					markDropped(path, byID, reasons)
				}
				break
			} else if st == stateOnPath {
				verdict = stateInvalid
				start := indexOf(path, cur)
				cycle := append([]string(nil), path[start:]...)
				for _, id := range cycle {
					reasons[id] = Diagnostic{
						Code:    DiagParentCycle,
						NodeID:  id,
						NodeIDs: cycle,
						Message: fmt.Sprintf("node %q is part of a containment cycle", id),
					}
				}
				markDropped(path[:start], byID, reasons)
				break
			}

			state[cur] = stateOnPath
			path = append(path, cur)

			parent := byID[cur].ParentID
			if parent == "" {
				break
			}
			if _, ok := byID[parent]; !ok {
				verdict = stateInvalid
				reasons[cur] = Diagnostic{
					Code:    DiagInvalidParent,
					NodeID:  cur,
					Message: fmt.Sprintf("node %q references missing parent %q", cur, parent),
				}
				markDropped(path[:len(path)-1], byID, reasons)
				break
			}
			cur = parent
		}

		for _, id := range path {
			state[id] = verdict
		}
	}

	valid := make([]topology.Node, 0, len(unique))
	for _, n := range unique {
		if state[n.ID] == stateValid {
			valid = append(valid, n)
			continue
		}
		diags = append(diags, reasons[n.ID])
	}
	return valid, diags
}

// markDropped records an invalid_parent diagnostic for every path member
// that does not already carry one. Each of them is dropped because an
// ancestor was.
func markDropped(path []string, byID map[string]topology.Node, reasons map[string]Diagnostic) {
	for _, id := range path {
		if _, ok := reasons[id]; ok {
			continue
		}
		reasons[id] = Diagnostic{
			Code:    DiagInvalidParent,
			NodeID:  id,
			Message: fmt.Sprintf("node %q dropped because its parent %q was dropped", id, byID[id].ParentID),
		}
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
