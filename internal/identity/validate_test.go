package identity

import "testing"

func TestValidName(t *testing.T) {
	if validName("") {
		t.Fatalf("empty name should be invalid")
	}
	if !validName("Alice") {
		t.Fatalf("expected Alice to be valid")
	}
	long := make([]byte, maxNameBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	if validName(string(long)) {
		t.Fatalf("expected over-length name to be invalid")
	}
}

func TestValidLocation(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{91, 0, false},
		{0, 181, false},
	}
	for _, c := range cases {
		if got := validLocation(c.lat, c.lon); got != c.want {
			t.Fatalf("validLocation(%v,%v) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}

func TestValidImageMagic(t *testing.T) {
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, []byte("rest")...)
	jpeg := append([]byte{0xFF, 0xD8, 0xFF}, []byte("rest")...)
	if !validImage(png) {
		t.Fatalf("expected PNG magic to be valid")
	}
	if !validImage(jpeg) {
		t.Fatalf("expected JPEG magic to be valid")
	}
	if validImage([]byte("not an image")) {
		t.Fatalf("expected garbage to be invalid")
	}
	if validImage(nil) {
		t.Fatalf("expected empty image to be invalid")
	}
}
