// Package wire implements the length-prefixed message framing and the
// request/response envelope shared by every listening endpoint. The
// actual body serialization format is deliberately simple (JSON) since
// the wire serialization library itself is treated as an external
// concern; only the framing and envelope shape are part of the core.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"profileserver/internal/obslog"
)

const (
	// MaxFrameSize is the hard cap enforced before allocating a
	// payload buffer, shared by every reader and by the replication
	// batcher when packing snapshot updates.
	MaxFrameSize = 1 << 20

	// SafetyMargin is subtracted from MaxFrameSize by callers that
	// pack variable-length batches (see internal/replication) so a
	// batch never lands exactly on the cap.
	SafetyMargin = 32
)

var (
	ErrEmptyPayload  = errors.New("wire: empty payload")
	ErrPayloadTooBig = errors.New("wire: payload exceeds frame cap")
	ErrShortWrite    = errors.New("wire: short write")
)

// EncodeFrame prepends a 4-byte big-endian length to payload. Payloads
// landing inside SafetyMargin of MaxFrameSize are still accepted, but
// logged: the replication batcher sizes its batches against that same
// margin, so a frame this close to the cap means its size estimate
// (internal/replication's itemSize) is running tighter than expected
// and is worth watching for drift.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrPayloadTooBig
	}
	if len(payload) > MaxFrameSize-SafetyMargin {
		obslog.Tracef("wire: frame size %d within safety margin of cap %d", len(payload), MaxFrameSize)
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// ReadFrame enforces the size cap on the length prefix before
// allocating the payload buffer, so an attacker cannot force an
// oversized allocation by lying about the length.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return nil, errors.Errorf("wire: invalid frame size %d", n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame serializes and writes a single frame atomically with
// respect to partial writes: it retries until the whole frame is on
// the wire or an error occurs.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrShortWrite
		}
		total += n
	}
	return nil
}
