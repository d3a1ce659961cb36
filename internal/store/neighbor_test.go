package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestApplyNeighborIdentityBatchRollsBackWholeBatch pins the atomicity
// property internal/replication's applyStaged relies on: a batch with
// a failing item past index 0 must leave every earlier item in that
// same batch untouched, not partially committed.
func TestApplyNeighborIdentityBatchRollsBackWholeBatch(t *testing.T) {
	ctx := context.Background()
	pub := []byte("0123456789abcdef0123456789abcdef")
	neighborID := "neighbor-atomic"

	_, err := testStore.GetOrCreateNeighbor(ctx, neighborID)
	require.NoError(t, err)

	items := []NeighborIdentityBatchItem{
		{
			Op:         "Add",
			IdentityID: "atomic-a",
			NeighborID: neighborID,
			Apply: func(row *NeighborIdentity) error {
				row.PublicKey = pub
				row.Name = "Alice"
				return nil
			},
		},
		{
			Op:         "Change",
			IdentityID: "does-not-exist",
			NeighborID: neighborID,
			Apply: func(row *NeighborIdentity) error {
				row.Name = "Never"
				return nil
			},
		},
	}

	failedAt, err := testStore.ApplyNeighborIdentityBatch(ctx, items)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, failedAt)

	_, err = testStore.GetNeighborIdentity(ctx, "atomic-a", neighborID)
	require.ErrorIs(t, err, ErrNotFound, "the Add before the failing item must not have committed")
}
