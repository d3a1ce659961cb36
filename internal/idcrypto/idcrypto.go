// Package idcrypto implements the crypto primitives the protocol
// engine needs: Ed25519 keypairs and signatures, SHA-256 identity-id
// derivation, and random challenge generation. It mirrors the
// generate/sign/verify/save/load shape of a key-management helper
// package elsewhere in this codebase, but built directly on Ed25519
// and SHA-256 rather than an RSA-PSS suite.
package idcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// ChallengeSize is the length in bytes of a StartConversation
	// challenge nonce.
	ChallengeSize = 32
)

// IdentityID is the SHA-256 digest of an Ed25519 public key, the
// primary address used everywhere on the wire.
type IdentityID [sha256.Size]byte

// DeriveIdentityID computes identity_id = SHA-256(public_key).
func DeriveIdentityID(pub ed25519.PublicKey) IdentityID {
	return IdentityID(sha256.Sum256(pub))
}

func (id IdentityID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseIdentityID decodes a hex-encoded identity id.
func ParseIdentityID(s string) (IdentityID, error) {
	var id IdentityID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "idcrypto: bad identity id hex")
	}
	if len(b) != len(id) {
		return id, errors.Errorf("idcrypto: identity id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// GenerateKeypair produces a fresh Ed25519 keypair for this server's
// TLS-adjacent identity (the server's own long-term signing key, used
// to sign StartConversation and Hello-style handshake responses).
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "idcrypto: generate keypair")
	}
	return pub, priv, nil
}

// Sign signs digest (any message bytes -- Ed25519 hashes internally,
// so no pre-hash step is required or wanted here) with priv.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify checks an Ed25519 signature over msg.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// NewChallenge returns a fresh random 32-byte nonce.
func NewChallenge() ([]byte, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "idcrypto: read random challenge")
	}
	return buf, nil
}

// NewToken returns fresh random bytes of length n, used for the
// 128-bit relay tokens upstream (n=16).
func NewToken(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "idcrypto: read random token")
	}
	return buf, nil
}

// SaveKeypair persists the server's own long-term identity keypair to
// disk as hex files.
func SaveKeypair(dir string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	if len(pub) == 0 || len(priv) == 0 {
		return errors.New("idcrypto: empty key")
	}
	if err := os.WriteFile(filepath.Join(dir, "pub.hex"), []byte(hex.EncodeToString(pub)), 0600); err != nil {
		return errors.Wrap(err, "idcrypto: write pub.hex")
	}
	if err := os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(priv)), 0600); err != nil {
		return errors.Wrap(err, "idcrypto: write priv.hex")
	}
	return nil
}

// LoadKeypair loads a keypair previously written by SaveKeypair.
func LoadKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pubHex, err := os.ReadFile(filepath.Join(dir, "pub.hex"))
	if err != nil {
		return nil, nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return nil, nil, err
	}
	pub, err := hex.DecodeString(string(pubHex))
	if err != nil {
		return nil, nil, errors.Wrap(err, "idcrypto: bad pub.hex")
	}
	priv, err := hex.DecodeString(string(privHex))
	if err != nil {
		return nil, nil, errors.Wrap(err, "idcrypto: bad priv.hex")
	}
	return ed25519.PublicKey(pub), ed25519.PrivateKey(priv), nil
}
