// Package blobstore persists profile and thumbnail image payloads as
// files named by an opaque id, following the same
// os.WriteFile/os.ReadFile-with-hex-name idiom used elsewhere in this
// module for keypair persistence (internal/idcrypto's
// SaveKeypair/LoadKeypair), generalized from a fixed pub.hex/priv.hex
// pair to an open set of ids.
package blobstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store writes and reads immutable blob files under one directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "blobstore: mkdir")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id)
}

// Write allocates a fresh id, writes data under it, and returns the
// id. The caller must write the blob before committing the database
// row that references it, so a crash between the two leaves an
// orphaned file rather than a row pointing at nothing.
func (s *Store) Write(ctx context.Context, data []byte) (string, error) {
	id := uuid.NewString()
	if err := os.WriteFile(s.path(id), data, 0o600); err != nil {
		return "", errors.Wrap(err, "blobstore: write")
	}
	return id, nil
}

// Read returns the blob payload for id. A missing blob (or an empty
// id) is reported as os.ErrNotExist itself, unwrapped, so callers can
// treat it the same as "never had an image" rather than a hard failure.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrap(err, "blobstore: read")
	}
	return data, nil
}

// Unlink removes a blob file. Callers use it for blobs no committed
// row references: a displaced image after its replacement has
// committed, or a freshly written blob whose transaction failed or
// whose staged item was not applied. A missing file is not an error.
// A crash between commit and this call leaks a file, never a row
// pointing at nothing.
func (s *Store) Unlink(id string) error {
	if id == "" {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "blobstore: unlink")
	}
	return nil
}

// Exists reports whether a blob is present for id.
func (s *Store) Exists(id string) bool {
	if id == "" {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}
