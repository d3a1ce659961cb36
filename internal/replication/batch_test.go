package replication

import (
	"strings"
	"testing"

	"profileserver/internal/wire"
)

func TestPackBatchesSplitsOnBudget(t *testing.T) {
	big := strings.Repeat("x", 400)
	items := make([]wire.NeighborhoodUpdateItem, 5)
	for i := range items {
		items[i] = wire.NeighborhoodUpdateItem{Op: wire.NeighborhoodOpAdd, IdentityID: "id", SetExtraData: true, ExtraData: big}
	}

	batches := packBatches(items, 1000)
	if len(batches) < 2 {
		t.Fatalf("expected items to split across multiple batches, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != len(items) {
		t.Fatalf("expected every item to be packed exactly once, got %d of %d", total, len(items))
	}
}

func TestPackBatchesEmpty(t *testing.T) {
	if batches := packBatches(nil, 1000); batches != nil {
		t.Fatalf("expected nil for no items, got %v", batches)
	}
}

func TestPackBatchesSingleOversizedItemGetsOwnBatch(t *testing.T) {
	items := []wire.NeighborhoodUpdateItem{
		{Op: wire.NeighborhoodOpAdd, IdentityID: "id", SetExtraData: true, ExtraData: strings.Repeat("x", 10000)},
	}
	batches := packBatches(items, 100)
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected the oversized item to still get its own single-item batch, got %v", batches)
	}
}
