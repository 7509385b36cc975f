package cluster

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/thebtf/constellation/internal/cluster"

// instruments holds the manager's OpenTelemetry counters. With no meter
// provider installed by the host, the global provider is a no-op.
type instruments struct {
	inserts     metric.Int64Counter
	merges      metric.Int64Counter
	comparisons metric.Int64Counter
	pruned      metric.Int64Counter
	clusterSize metric.Int64Histogram
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	inserts, err := meter.Int64Counter("constellation.cluster.inserts",
		metric.WithDescription("Nodes inserted into the cluster manager"))
	if err != nil {
		return nil, err
	}
	merges, err := meter.Int64Counter("constellation.cluster.merges",
		metric.WithDescription("Insertions that bridged previously distinct clusters"))
	if err != nil {
		return nil, err
	}
	comparisons, err := meter.Int64Counter("constellation.cluster.comparisons",
		metric.WithDescription("Pairwise similarity scores computed"))
	if err != nil {
		return nil, err
	}
	pruned, err := meter.Int64Counter("constellation.cluster.pruned_comparisons",
		metric.WithDescription("Pairwise comparisons skipped by keyword pruning"))
	if err != nil {
		return nil, err
	}
	clusterSize, err := meter.Int64Histogram("constellation.cluster.size",
		metric.WithDescription("Size of the cluster a node landed in"))
	if err != nil {
		return nil, err
	}

	return &instruments{
		inserts:     inserts,
		merges:      merges,
		comparisons: comparisons,
		pruned:      pruned,
		clusterSize: clusterSize,
	}, nil
}

func (i *instruments) recordInsert(compared, skipped int, merged bool, size int, pruning bool) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("pruning", pruning))

	i.inserts.Add(ctx, 1, attrs)
	i.comparisons.Add(ctx, int64(compared), attrs)
	if skipped > 0 {
		i.pruned.Add(ctx, int64(skipped))
	}
	if merged {
		i.merges.Add(ctx, 1)
	}
	i.clusterSize.Record(ctx, int64(size))
}
