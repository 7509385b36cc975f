package cli

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/pkg/models"
)

// replay inserts nodes in order. Nodes the manager rejects are logged and
// skipped so one bad record does not abort a whole export.
func replay(ctx context.Context, m *cluster.Manager, nodes []*models.Node) (int, error) {
	inserted, merges := 0, 0
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		a, err := m.Insert(n)
		if err != nil {
			if errors.Is(err, cluster.ErrDuplicateNode) {
				log.Debug().Str("node", n.ID).Msg("Skipping already inserted node")
			} else {
				log.Warn().Err(err).Msg("Skipping node")
			}
			continue
		}
		inserted++
		if a.Merged() {
			merges++
		}
	}

	snap := m.Snapshot()
	log.Info().
		Int("inserted", inserted).
		Int("skipped", len(nodes)-inserted).
		Int("merges", merges).
		Int("nodes", snap.NodeCount()).
		Int("clusters", snap.ClusterCount()).
		Msg("Replay complete")

	return inserted, nil
}
