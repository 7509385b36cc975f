package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/internal/graph"
	"github.com/thebtf/constellation/pkg/models"
)

// maxClustersShown limits the cluster listing of the report.
const maxClustersShown = 10

// Theme holds the color scheme for report output.
type Theme struct {
	Heading lipgloss.Color
	Success lipgloss.Color
	Miss    lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Heading: lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Miss:    lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) headingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Heading).Bold(true)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) missStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Miss)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) verdict(would bool) string {
	if would {
		return t.successStyle().Render("would cluster")
	}
	return t.missStyle().Render("below threshold")
}

func renderReport(w io.Writer, t Theme, report *graph.Report, m *cluster.Manager) {
	fmt.Fprintln(w, t.headingStyle().Render(fmt.Sprintf("Similarity analysis of %d nodes (threshold %.2f)",
		report.NodeCount, report.Threshold)))

	if len(report.Sample) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, t.headingStyle().Render("Pairwise sample"))
		for _, p := range report.Sample {
			fmt.Fprintf(w, "  %d-%d  %.3f  %s\n", p.A.Index, p.B.Index, p.Score, t.verdict(p.WouldCluster))
			fmt.Fprintf(w, "    keywords %d: [%s]\n", p.A.Index, strings.Join(p.A.Keywords, ", "))
			fmt.Fprintf(w, "    keywords %d: [%s]\n", p.B.Index, strings.Join(p.B.Keywords, ", "))
			fmt.Fprintf(w, "    categories: %s vs %s\n", p.A.Category, p.B.Category)
		}
	}

	if len(report.Categories) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, t.headingStyle().Render("Categories"))
		for _, c := range report.Categories {
			fmt.Fprintf(w, "  %-24s %d\n", c.Category, c.Count)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, t.headingStyle().Render("Best pair"))
	if report.BestPair == nil {
		fmt.Fprintln(w, t.hintStyle().Render("  fewer than two nodes"))
	} else {
		p := report.BestPair
		fmt.Fprintf(w, "  %s <-> %s  %.3f  %s\n", p.A.ID, p.B.ID, p.Score, t.verdict(p.WouldCluster))
		fmt.Fprintf(w, "    %s\n    %s\n", p.A.Preview, p.B.Preview)
	}

	stats := report.Stats
	fmt.Fprintln(w)
	fmt.Fprintln(w, t.headingStyle().Render("Similarity graph"))
	fmt.Fprintf(w, "  edges %d  avg degree %.2f  max degree %d  isolated %d\n",
		stats.EdgeCount, stats.AvgDegree, stats.MaxDegree, stats.Isolated)

	renderClusters(w, t, m)

	if !report.WouldCluster() && report.NodeCount > 1 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, t.hintStyle().Render("No pair reaches the threshold; every node stays a singleton."))
	}
}

func renderClusters(w io.Writer, t Theme, m *cluster.Manager) {
	clusters := m.AllClusters()

	multi := make([]models.Cluster, 0, len(clusters))
	for _, c := range clusters {
		if c.Size() > 1 {
			multi = append(multi, c)
		}
	}
	sort.SliceStable(multi, func(i, j int) bool {
		return multi[i].Size() > multi[j].Size()
	})

	fmt.Fprintln(w)
	fmt.Fprintln(w, t.headingStyle().Render(fmt.Sprintf("Clusters: %d total, %d with more than one node",
		len(clusters), len(multi))))

	for i, c := range multi {
		if i == maxClustersShown {
			fmt.Fprintln(w, t.hintStyle().Render(fmt.Sprintf("  ... %d more", len(multi)-maxClustersShown)))
			break
		}
		fmt.Fprintf(w, "  %s (%d)\n", c.ID, c.Size())
		for _, id := range c.Members {
			preview := ""
			if n, ok := m.Node(id); ok {
				preview = n.Preview(50)
			}
			fmt.Fprintf(w, "    %-20s %s\n", id, preview)
		}
	}
}
