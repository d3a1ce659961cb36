package replication

import (
	"testing"

	"profileserver/internal/blobstore"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return &Handlers{Blobs: blobs}
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

func TestValidateAndStageStopsAtFirstInvalidItem(t *testing.T) {
	h := newTestHandlers(t)
	items := []wire.NeighborhoodUpdateItem{
		{Op: wire.NeighborhoodOpChange, IdentityID: "ok-1", SetName: true, Name: "Alice"},
		{Op: wire.NeighborhoodOpChange, IdentityID: "bad", SetLocation: true, Lat: 500},
		{Op: wire.NeighborhoodOpChange, IdentityID: "never-reached", SetName: true, Name: "Never"},
	}

	staged, _, _, field, failIndex := h.validateAndStage(items)

	if len(staged) != 1 {
		t.Fatalf("expected exactly the leading valid item staged, got %d", len(staged))
	}
	if failIndex != 1 || field != "location" {
		t.Fatalf("expected failure at index 1 on location, got index=%d field=%q", failIndex, field)
	}
}

func TestValidateAndStageWritesImagesAndTracksRefresh(t *testing.T) {
	h := newTestHandlers(t)
	items := []wire.NeighborhoodUpdateItem{
		{Op: wire.NeighborhoodOpChange, IdentityID: "id-1", SetImage: true, ImageData: pngBytes, Refresh: true},
	}

	staged, allIDs, refreshNeeded, _, failIndex := h.validateAndStage(items)

	if failIndex != -1 {
		t.Fatalf("expected no validation failure, got index %d", failIndex)
	}
	if !refreshNeeded {
		t.Fatalf("expected the Refresh tag to be observed")
	}
	if len(staged) != 1 || staged[0].imageID == "" {
		t.Fatalf("expected the image to be staged with an id, got %+v", staged)
	}
	if len(allIDs) != 1 || !h.Blobs.Exists(allIDs[0]) {
		t.Fatalf("expected the staged image to exist on disk")
	}
}

func TestValidateAndStageRejectsBadImageData(t *testing.T) {
	h := newTestHandlers(t)
	items := []wire.NeighborhoodUpdateItem{
		{Op: wire.NeighborhoodOpChange, IdentityID: "id-1", SetImage: true, ImageData: []byte("not an image")},
	}
	_, _, _, field, failIndex := h.validateAndStage(items)
	if failIndex != 0 || field != "image" {
		t.Fatalf("expected image rejection at index 0, got index=%d field=%q", failIndex, field)
	}
}

// applyErrorField and staged0Op are the two pieces of §4.8's
// "{index}.{op}.{field}" detail-string convention that a batch apply
// failure has to reassemble, since ApplyNeighborIdentityBatch only
// hands back a bare index and a sentinel error.
func TestApplyErrorFieldNamesTheOffendingField(t *testing.T) {
	cases := []struct {
		op   string
		err  error
		want string
	}{
		{"add", store.ErrAlreadyExists, "identityPublicKey"},
		{"change", store.ErrNotFound, "identityNetworkId"},
		{"delete", store.ErrNotFound, "identityNetworkId"},
	}
	for _, c := range cases {
		if got := applyErrorField(c.op, c.err); got != c.want {
			t.Fatalf("applyErrorField(%q, %v) = %q, want %q", c.op, c.err, got, c.want)
		}
	}
}

func TestStaged0OpNamesEachOperation(t *testing.T) {
	items := []wire.NeighborhoodUpdateItem{
		{Op: wire.NeighborhoodOpAdd},
		{Op: wire.NeighborhoodOpChange},
		{Op: wire.NeighborhoodOpDelete},
	}
	if got := staged0Op(items, 0); got != "add" {
		t.Fatalf("expected add, got %q", got)
	}
	if got := staged0Op(items, 1); got != "change" {
		t.Fatalf("expected change, got %q", got)
	}
	if got := staged0Op(items, 2); got != "delete" {
		t.Fatalf("expected delete, got %q", got)
	}
}
