package replication

import (
	"bytes"
	"crypto/ed25519"
	"unicode/utf8"

	"profileserver/internal/wire"
)

const (
	maxNameBytes      = 64
	maxExtraDataBytes = 4096
	maxImageBytes     = 512 * 1024
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// validateItem checks the bounds Pass 1 requires of every item before
// any of it reaches the database or disk. field names the failing
// field in the "{index}.{op}.{field}" shape the caller wraps around
// it.
func validateItem(item wire.NeighborhoodUpdateItem) (field string, ok bool) {
	if item.Op != wire.NeighborhoodOpAdd && item.Op != wire.NeighborhoodOpChange &&
		item.Op != wire.NeighborhoodOpDelete && item.Op != wire.NeighborhoodOpRefresh {
		return "op", false
	}
	if item.Op == wire.NeighborhoodOpAdd && len(item.PublicKey) != ed25519.PublicKeySize {
		return "identityPublicKey", false
	}
	if item.SetName && (len(item.Name) == 0 || len(item.Name) > maxNameBytes || !utf8.ValidString(item.Name)) {
		return "name", false
	}
	if item.SetExtraData && (len(item.ExtraData) > maxExtraDataBytes || !utf8.ValidString(item.ExtraData)) {
		return "extraData", false
	}
	if item.SetLocation && !validLocation(item.Lat, item.Lon) {
		return "location", false
	}
	if item.SetImage && !validImage(item.ImageData) {
		return "image", false
	}
	if item.SetThumbnail && !validImage(item.ThumbnailData) {
		return "thumbnail", false
	}
	return "", true
}

func validLocation(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func validImage(data []byte) bool {
	if len(data) == 0 || len(data) > maxImageBytes {
		return false
	}
	return bytes.HasPrefix(data, pngMagic) || bytes.HasPrefix(data, jpegMagic)
}
