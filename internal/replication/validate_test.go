package replication

import (
	"crypto/ed25519"
	"testing"

	"profileserver/internal/wire"
)

func TestValidateItemAcceptsWellFormedAdd(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	item := wire.NeighborhoodUpdateItem{
		Op: wire.NeighborhoodOpAdd, IdentityID: "abc", PublicKey: pub,
		SetName: true, Name: "Alice",
	}
	if _, ok := validateItem(item); !ok {
		t.Fatalf("expected a well-formed Add item to validate")
	}
}

func TestValidateItemRejectsShortPublicKeyOnAdd(t *testing.T) {
	item := wire.NeighborhoodUpdateItem{Op: wire.NeighborhoodOpAdd, IdentityID: "abc", PublicKey: []byte{1, 2, 3}}
	field, ok := validateItem(item)
	if ok || field != "identityPublicKey" {
		t.Fatalf("expected identityPublicKey rejection, got field=%q ok=%v", field, ok)
	}
}

func TestValidateItemRejectsBadLocation(t *testing.T) {
	item := wire.NeighborhoodUpdateItem{Op: wire.NeighborhoodOpChange, IdentityID: "abc", SetLocation: true, Lat: 200, Lon: 0}
	if _, ok := validateItem(item); ok {
		t.Fatalf("expected out-of-range latitude to be rejected")
	}
}

func TestValidateItemRejectsUnknownOp(t *testing.T) {
	item := wire.NeighborhoodUpdateItem{Op: "Bogus", IdentityID: "abc"}
	if _, ok := validateItem(item); ok {
		t.Fatalf("expected an unknown op to be rejected")
	}
}

func TestValidImageAcceptsPNGAndJPEGMagic(t *testing.T) {
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, 1, 2, 3)
	jpeg := append([]byte{0xFF, 0xD8, 0xFF}, 1, 2, 3)
	if !validImage(png) {
		t.Fatalf("expected PNG magic to validate")
	}
	if !validImage(jpeg) {
		t.Fatalf("expected JPEG magic to validate")
	}
	if validImage([]byte("not an image")) {
		t.Fatalf("expected non-image data to be rejected")
	}
}
