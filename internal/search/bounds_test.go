package search

import "testing"

func TestCheckLimitsWithImages(t *testing.T) {
	if _, ok := checkLimits(100, 1000, true); !ok {
		t.Fatalf("expected 100/1000 with images to be valid")
	}
	if _, ok := checkLimits(101, 1000, true); ok {
		t.Fatalf("expected 101 response records with images to exceed the 100 ceiling")
	}
	if _, ok := checkLimits(100, 1001, true); ok {
		t.Fatalf("expected 1001 total records with images to exceed the 1000 ceiling")
	}
}

func TestCheckLimitsWithoutImages(t *testing.T) {
	if _, ok := checkLimits(1000, 10000, false); !ok {
		t.Fatalf("expected 1000/10000 without images to be valid")
	}
	if _, ok := checkLimits(1001, 10000, false); ok {
		t.Fatalf("expected 1001 response records without images to exceed the 1000 ceiling")
	}
}

func TestCheckLimitsResponseExceedsTotal(t *testing.T) {
	if _, ok := checkLimits(200, 100, false); ok {
		t.Fatalf("expected max_response > max_total to be rejected")
	}
}

func TestCheckLimitsZeroResponse(t *testing.T) {
	if _, ok := checkLimits(0, 100, false); ok {
		t.Fatalf("expected max_response of 0 to be rejected")
	}
}

func TestBatchSizeFloor(t *testing.T) {
	if got := batchSize(5); got != 1000 {
		t.Fatalf("expected floor of 1000, got %d", got)
	}
	if got := batchSize(500); got != 5000 {
		t.Fatalf("expected 10x remaining, got %d", got)
	}
}

func TestLikePatternEscapesAndTranslates(t *testing.T) {
	if got := likePattern("Ali*"); got != "Ali%" {
		t.Fatalf("expected Ali%%, got %q", got)
	}
	if got := likePattern("A?B"); got != "A_B" {
		t.Fatalf("expected A_B, got %q", got)
	}
	if got := likePattern("100%_off"); got != `100\%\_off` {
		t.Fatalf("expected escaped literal percent/underscore, got %q", got)
	}
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	minLat, maxLat, minLon, maxLon := boundingBox(50, 14, 100000)
	if minLat >= 50 || maxLat <= 50 || minLon >= 14 || maxLon <= 14 {
		t.Fatalf("expected bbox to straddle the center point, got (%f,%f,%f,%f)", minLat, maxLat, minLon, maxLon)
	}
}
