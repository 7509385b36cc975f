package cli

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/internal/graph"
	"github.com/thebtf/constellation/internal/ingest"
	"github.com/thebtf/constellation/pkg/models"
	"github.com/thebtf/constellation/pkg/similarity"
)

// analysis is the JSON form of the analyze output.
type analysis struct {
	Report   *graph.Report    `json:"report"`
	Clusters []models.Cluster `json:"clusters"`
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <export.json|dir>",
		Short: "Explain how an export clusters",
		Long: `Replay an export and report why its nodes do or do not cluster.

The report shows pairwise scores for the first --sample nodes, the category
distribution, the best-scoring pair and the resulting clusters.

Examples:
  constellation analyze firestore-extract.json
  constellation analyze --threshold 0.3 --sample 8 exports/
  constellation analyze --json firestore-extract.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			loader := ingest.NewLoader(cfg.Collection)
			loader.SetRedaction(cfg.RedactSecrets)
			nodes, err := loader.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load export: %w", err)
			}
			log.Debug().Int("nodes", len(nodes)).Str("path", args[0]).Msg("Export loaded")

			scorer := similarity.NewScorer(cfg.Weights)
			report, err := graph.Analyze(ctx, nodes, scorer, graph.AnalyzeOptions{
				Threshold:  cfg.Threshold,
				SampleSize: cfg.SampleSize,
			})
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			m, err := cluster.NewManager(cfg.ClusterConfig(),
				cluster.WithScorer(scorer),
				cluster.WithLogger(log.Logger),
			)
			if err != nil {
				return fmt.Errorf("create cluster manager: %w", err)
			}
			if _, err := replay(ctx, m, nodes); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(analysis{Report: report, Clusters: m.AllClusters()})
			}

			renderReport(out, defaultTheme, report, m)
			return nil
		},
	}

	cmd.Flags().IntP("sample", "s", graph.DefaultSampleSize, "number of leading nodes to compare pairwise")
	cmd.Flags().String("collection", ingest.DefaultCollection, "export collection to read")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}
