package fleet

import (
	"context"
	"testing"
	"time"
)

func TestAggregator_Snapshot_Empty(t *testing.T) {
	store := tempDB(t)
	agg := NewAggregator(store)

	snap, err := agg.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Locations == nil {
		t.Error("Locations = nil, want empty slice")
	}
	if len(snap.Locations) != 0 {
		t.Errorf("len(Locations) = %d, want 0", len(snap.Locations))
	}
	if snap.Statistics == nil {
		t.Fatal("Statistics = nil")
	}
	if snap.Statistics.TotalDetections != 0 {
		t.Errorf("TotalDetections = %d, want 0", snap.Statistics.TotalDetections)
	}
}

func TestAggregator_Snapshot_ReflectsWrites(t *testing.T) {
	store := tempDB(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	saveReport(t, store, "trap-1", 5, fptr(19.5), time.Now().UTC())

	snap, err := agg.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Locations) != 1 || snap.Locations[0].DeviceID != "trap-1" {
		t.Errorf("Locations = %+v, want trap-1", snap.Locations)
	}
	if snap.Statistics.TotalDetections != 1 {
		t.Errorf("TotalDetections = %d, want 1", snap.Statistics.TotalDetections)
	}

	// No caching: the next snapshot sees the next write.
	saveReport(t, store, "trap-2", 1, nil, time.Now().UTC())
	snap2, err := agg.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap2.Locations) != 2 {
		t.Errorf("len(Locations) after second report = %d, want 2", len(snap2.Locations))
	}
}
