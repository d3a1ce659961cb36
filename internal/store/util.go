package store

import (
	"encoding/hex"
	"time"
)

// nowFunc is a seam tests can override; production code always calls
// through it rather than time.Now directly wherever card validity is
// judged.
var nowFunc = time.Now

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
