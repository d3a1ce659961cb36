package replication

import "profileserver/internal/wire"

// envelopeOverheadBytes is a conservative estimate of the JSON
// scaffolding wrapping a batch's items (the message id, kind,
// conversation flag, and the items array's own brackets/commas), kept
// as a fixed margin on top of wire.SafetyMargin rather than computed
// exactly, since the wire package treats the true envelope shape as
// an internal detail.
const envelopeOverheadBytes = 256

// packBatches splits items into batches whose marshaled size stays
// under maxBytes, packing greedily in order. A single item that alone
// exceeds the budget still gets its own one-item batch rather than
// being dropped; the frame writer is the final authority on the cap
// and will reject it there.
func packBatches(items []wire.NeighborhoodUpdateItem, maxBytes int) [][]wire.NeighborhoodUpdateItem {
	if len(items) == 0 {
		return nil
	}
	budget := maxBytes - envelopeOverheadBytes
	if budget < 0 {
		budget = 0
	}

	var batches [][]wire.NeighborhoodUpdateItem
	var current []wire.NeighborhoodUpdateItem
	currentSize := 0

	for _, item := range items {
		size := itemSize(item)
		if len(current) > 0 && currentSize+size > budget {
			batches = append(batches, current)
			current = nil
			currentSize = 0
		}
		current = append(current, item)
		currentSize += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func itemSize(item wire.NeighborhoodUpdateItem) int {
	return len(item.IdentityID) + len(item.PublicKey) + len(item.Name) + len(item.Type) +
		len(item.ExtraData) + len(item.ImageData) + len(item.ThumbnailData) + 128
}
