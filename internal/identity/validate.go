package identity

import (
	"bytes"
	"unicode/utf8"
)

const (
	maxNameBytes      = 64
	maxExtraDataBytes = 4096
	maxImageBytes     = 512 * 1024
	maxAppServiceName = 32
	maxAppServices    = 32
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

func validName(name string) bool {
	return len(name) > 0 && len(name) <= maxNameBytes && utf8.ValidString(name)
}

func validExtraData(extra string) bool {
	return len(extra) <= maxExtraDataBytes && utf8.ValidString(extra)
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
