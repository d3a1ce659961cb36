package search

import (
	"math"
	"strings"
)

const (
	maxResponseWithImages    = 100
	maxResponseWithoutImages = 1000
	maxTotalWithImages       = 1000
	maxTotalWithoutImages    = 10000

	batchFloor = 1000
)

// checkLimits validates the max_total/max_response bound pair against
// the response-shape-dependent ceilings.
func checkLimits(maxResponse, maxTotal int, includeImages bool) (field string, ok bool) {
	if maxResponse < 1 {
		return "maxResponseRecordCount", false
	}
	if maxResponse > maxTotal {
		return "maxResponseRecordCount", false
	}
	responseCeil := maxResponseWithoutImages
	totalCeil := maxTotalWithoutImages
	if includeImages {
		responseCeil = maxResponseWithImages
		totalCeil = maxTotalWithImages
	}
	if maxResponse > responseCeil {
		return "maxResponseRecordCount", false
	}
	if maxTotal > totalCeil {
		return "maxTotalRecordCount", false
	}
	return "", true
}

// batchSize is max(1000, 10 * remaining), the query pacing rule for
// how many candidate rows to pull per repository round trip.
func batchSize(remaining int) int {
	b := 10 * remaining
	if b < batchFloor {
		return batchFloor
	}
	return b
}

// likePattern converts the wire's '*'/'?' glob syntax into a SQL LIKE
// pattern, escaping any literal '%'/'_'/'\' the caller supplied so
// they aren't misread as wildcards.
func likePattern(glob string) string {
	if glob == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// boundingBox returns a rectangle guaranteed to contain every point
// within radiusMeters of (lat, lon), used as a cheap SQL-level
// prefilter before the exact haversine check.
func boundingBox(lat, lon, radiusMeters float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := (radiusMeters / earthRadiusMeters) * (180 / math.Pi)
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := (radiusMeters / (earthRadiusMeters * cosLat)) * (180 / math.Pi)
	return lat - dLat, lat + dLat, lon - dLon, lon + dLon
}
