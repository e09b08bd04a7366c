package version

import (
	"errors"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"1.1", "1.1b1", "1.2.1a1", "1.2.1b1", "1.2.1", "0.0.0", "2.10.3"}
	for _, s := range cases {
		v, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		v2, err := Parse(v.Canonical())
		if err != nil {
			t.Fatalf("Parse(canonical %q): %v", v.Canonical(), err)
		}
		if !v.Equal(v2) {
			t.Fatalf("round trip mismatch: %+v != %+v", v, v2)
		}
	}
}

func TestParseRejectsBadDotCount(t *testing.T) {
	for _, s := range []string{"1", "1.1.1.1"} {
		if _, err := Parse(s); !errors.Is(err, ErrParseVersion) {
			t.Fatalf("Parse(%q): expected ErrParseVersion, got %v", s, err)
		}
	}
}

func TestOrdering(t *testing.T) {
	less := func(a, b string) {
		t.Helper()
		va, err := Parse(a)
		if err != nil {
			t.Fatalf("Parse(%q): %v", a, err)
		}
		vb, err := Parse(b)
		if err != nil {
			t.Fatalf("Parse(%q): %v", b, err)
		}
		if !va.Less(vb) {
			t.Fatalf("expected %q < %q", a, b)
		}
	}
	less("1.1b1", "1.1")
	less("1.2.1a1", "1.2.1a2")
	less("1.2.1a2", "1.2.1b1")
	less("1.2.1b1", "1.2.1")
}

func TestArchiveExtensionStripped(t *testing.T) {
	v, err := Parse("1.2.3.tar.gz")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v.String() != "1.2.3" {
		t.Fatalf("got %q", v.String())
	}
}
