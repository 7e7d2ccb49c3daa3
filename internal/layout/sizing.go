package layout

import (
	"math"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// GroupHeight returns the container height needed to stack childCount
// children, floored at MinGroupHeight.
func GroupHeight(childCount int, opts Options) float64 {
	opts = opts.normalize()
	n := float64(childCount)
	gaps := math.Max(0, n-1)
	h := opts.HeaderHeight + n*opts.ChildHeight + gaps*opts.ChildSpacing + opts.BottomPadding
	return math.Max(opts.MinGroupHeight, h)
}

// GroupDimensions returns the size of every node that at least one other
// node names as its parent. valid is expected to be validator output.
func GroupDimensions(valid []topology.Node, opts Options) map[string]Dimensions {
	return groupDimensions(topology.NewIndex(valid, nil), opts.normalize())
}

// groupDimensions sizes each group by its direct child count only. A nested
// group keeps its own size and is not fitted into its parent's child slot.
func groupDimensions(idx *topology.Index, opts Options) map[string]Dimensions {
	groups := make(map[string]Dimensions)
	for _, n := range idx.Nodes() {
		if !idx.IsParent(n.ID) {
			continue
		}
		groups[n.ID] = Dimensions{
			Width:  opts.GroupWidth,
			Height: GroupHeight(idx.ChildCount(n.ID), opts),
		}
	}
	return groups
}
