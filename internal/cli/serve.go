package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/internal/config"
	"github.com/thebtf/constellation/internal/events"
	"github.com/thebtf/constellation/internal/ingest"
	"github.com/thebtf/constellation/internal/server"
	"github.com/thebtf/constellation/pkg/models"
)

func newServeCommand(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve <export.json|dir>",
		Short: "Serve clusters over HTTP",
		Long: `Replay an export into a cluster manager and serve it over HTTP.

Routes:
  GET  /health                   liveness and counts
  GET  /api/clusters             current partition
  GET  /api/nodes/{id}/cluster   cluster of one node
  GET  /api/similarity?a=&b=     score of two nodes with signal breakdown
  GET  /api/edges?min_score=     scored links for renderers
  POST /api/nodes                insert a node or an array of nodes
  GET  /api/events               assignment stream (Server-Sent Events)

With --watch, new export files written to the directory are inserted as
they appear.

Examples:
  constellation serve firestore-extract.json
  constellation serve --watch --listen :7878 exports/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg, a.version, args[0], watch)
		},
	}

	cmd.Flags().StringP("listen", "l", config.DefaultListenAddr, "listen address")
	cmd.Flags().String("collection", ingest.DefaultCollection, "export collection to read")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch the export directory for new files")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, version, path string, watch bool) error {
	if watch {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat export: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("--watch needs a directory, %s is a file", path)
		}
	}

	loader := ingest.NewLoader(cfg.Collection)
	loader.SetRedaction(cfg.RedactSecrets)
	nodes, err := loader.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("load export: %w", err)
	}

	broadcaster := events.NewBroadcaster()
	m, err := cluster.NewManager(cfg.ClusterConfig(),
		cluster.WithListener(broadcaster),
		cluster.WithLogger(log.Logger),
		cluster.WithMeterProvider(otel.GetMeterProvider()),
	)
	if err != nil {
		return fmt.Errorf("create cluster manager: %w", err)
	}

	if _, err := replay(ctx, m, nodes); err != nil {
		return err
	}

	srv := server.New(m, broadcaster, version,
		server.WithInsertRateLimit(cfg.InsertRate, cfg.InsertBurst),
		server.WithRedaction(cfg.RedactSecrets),
	)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx, cfg.ListenAddr)
	})

	if watch {
		w := ingest.NewWatcher(path, loader, func(ctx context.Context, fresh []*models.Node) error {
			_, err := replay(ctx, m, fresh)
			return err
		})
		for _, n := range nodes {
			w.MarkSeen(n.ID)
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	log.Info().
		Str("addr", cfg.ListenAddr).
		Bool("watch", watch).
		Bool("pruning", m.PruningActive()).
		Msg("Constellation serving")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Constellation stopped")
	return nil
}
