package fleet

import "context"

// Aggregator derives fleet-level views from the store. Views are
// recomputed from current store state on every call; nothing is cached,
// so a read taken after a write always reflects that write.
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summary returns the per-device fleet projection.
func (a *Aggregator) Summary(ctx context.Context) ([]SummaryRow, error) {
	return a.store.FleetSummary(ctx)
}

// Statistics returns fleet-wide aggregate statistics.
func (a *Aggregator) Statistics(ctx context.Context) (*FleetStats, error) {
	return a.store.FleetStats(ctx)
}

// Snapshot bundles the summary and statistics into the state package
// pushed to a newly attached observer.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	locations, err := a.store.FleetSummary(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.store.FleetStats(ctx)
	if err != nil {
		return nil, err
	}
	if locations == nil {
		locations = []SummaryRow{}
	}
	return &Snapshot{Locations: locations, Statistics: stats}, nil
}
