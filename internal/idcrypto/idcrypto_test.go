package idcrypto

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestDeriveIdentityIDMatchesSHA256(t *testing.T) {
	pub, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	id := DeriveIdentityID(pub)
	again := DeriveIdentityID(pub)
	if id != again {
		t.Fatalf("identity id derivation is not deterministic")
	}
	if id != IdentityID(sha256.Sum256(pub)) {
		t.Fatalf("identity id is not SHA-256 of the public key")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	msg := []byte("start-conversation-challenge")
	sig := Sign(priv, msg)
	if !Verify(pub, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(pub, append(msg, 'x'), sig) {
		t.Fatalf("expected tampered message to fail verification")
	}
}

func TestVerifyRejectsBadSizes(t *testing.T) {
	if Verify(nil, []byte("x"), []byte("y")) {
		t.Fatalf("expected verify to reject empty key")
	}
}

func TestParseIdentityIDRoundTrip(t *testing.T) {
	pub, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	id := DeriveIdentityID(pub)
	parsed, err := ParseIdentityID(id.String())
	if err != nil {
		t.Fatalf("parse identity id: %v", err)
	}
	if !bytes.Equal(id[:], parsed[:]) {
		t.Fatalf("round-tripped identity id mismatch")
	}
}

func TestNewChallengeIsRandomAndSized(t *testing.T) {
	a, err := NewChallenge()
	if err != nil {
		t.Fatalf("new challenge: %v", err)
	}
	b, err := NewChallenge()
	if err != nil {
		t.Fatalf("new challenge: %v", err)
	}
	if len(a) != ChallengeSize || len(b) != ChallengeSize {
		t.Fatalf("expected %d-byte challenges", ChallengeSize)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("expected two random challenges to differ")
	}
}
