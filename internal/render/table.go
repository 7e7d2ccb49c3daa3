package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

var (
	purple = lipgloss.Color("99")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")

	statusStyles = map[topology.NodeStatus]lipgloss.Style{
		topology.StatusHealthy:       lipgloss.NewStyle().Foreground(lipgloss.Color("76")),
		topology.StatusDegraded:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		topology.StatusFailed:        lipgloss.NewStyle().Foreground(lipgloss.Color("204")),
		topology.StatusInvestigating: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
	}
)

// Table renders the positioned nodes of g as a terminal table with rounded
// borders, parents first.
func Table(g Graph) string {
	if g.State != StateReady {
		return lipgloss.NewStyle().Foreground(dim).Render(fmt.Sprintf("topology v%d: %s", g.Version, g.State))
	}

	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	rows := make([][]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		status := string(n.Data.Status)
		if st, ok := statusStyles[n.Data.Status]; ok {
			status = st.Render(status)
		}
		rows = append(rows, []string{
			n.ID,
			n.Type,
			n.Data.Kind,
			status,
			fmt.Sprintf("%d", n.Data.Layer),
			fmt.Sprintf("%.0f,%.0f", n.Position.X, n.Position.Y),
			fmt.Sprintf("%.0fx%.0f", n.Style.Width, n.Style.Height),
			n.ParentID,
			flags(n),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers("ID", "TYPE", "KIND", "STATUS", "LAYER", "POS", "SIZE", "PARENT", "FLAGS").
		Rows(rows...)

	return t.String()
}

func flags(n FlowNode) string {
	var f []string
	if n.Data.IsRootCause {
		f = append(f, "root-cause")
	}
	if n.Data.IsAffected {
		f = append(f, "affected")
	}
	return strings.Join(f, ",")
}
