package bsdiff

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		old, new []byte
	}{
		{"identical", []byte("the quick brown fox jumps over the lazy dog, repeated many times to give bsdiff something to chew on"), []byte("the quick brown fox jumps over the lazy dog, repeated many times to give bsdiff something to chew on")},
		{"small-edit", bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 20), append(append([]byte{}, bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 10)...), bytes.Repeat([]byte("QRSTUVWXYZ012345"), 10)...)},
		{"empty-old", nil, []byte("brand new content with no source material at all")},
		{"empty-new", []byte("some old content"), nil},
		{"insertion", []byte("headertail"), []byte("headerMIDDLEtail")},
		{"truncation", bytes.Repeat([]byte("xyzzy-"), 50), bytes.Repeat([]byte("xyzzy-"), 10)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			patch, err := Diff(c.old, c.new)
			if err != nil {
				t.Fatalf("Diff: %v", err)
			}
			got, err := Apply(c.old, patch)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !bytes.Equal(got, c.new) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(c.new))
			}
		})
	}
}

func TestDiffApplyRandomBinary(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	old := make([]byte, 4096)
	r.Read(old)
	new := append([]byte{}, old...)
	// Mutate a contiguous region to simulate a localized binary edit.
	for i := 1000; i < 1200; i++ {
		new[i] ^= 0xFF
	}
	new = append(new, []byte("appended tail bytes")...)

	patch, err := Diff(old, new)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	got, err := Apply(old, patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(got, new) {
		t.Fatalf("round trip mismatch")
	}
}

func TestApplyRejectsBadMagic(t *testing.T) {
	_, err := Apply([]byte("source"), bytes.Repeat([]byte{0}, 40))
	if !errors.Is(err, ErrPatchCorrupt) {
		t.Fatalf("expected ErrPatchCorrupt, got %v", err)
	}
}

func TestApplyRejectsTruncatedHeader(t *testing.T) {
	_, err := Apply([]byte("source"), []byte("short"))
	if !errors.Is(err, ErrPatchCorrupt) {
		t.Fatalf("expected ErrPatchCorrupt, got %v", err)
	}
}

func TestApplyRejectsSourceUnderrun(t *testing.T) {
	patch, err := Diff([]byte("a source long enough to produce a real copy region, padded padded padded"), []byte("a source long enough to produce a real copy region, padded padded padded plus extra"))
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if _, err := Apply(nil, patch); !errors.Is(err, ErrPatchCorrupt) {
		t.Fatalf("expected ErrPatchCorrupt for empty source, got %v", err)
	}
}

func TestIntegerCodecRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 255, -255, 1 << 40, -(1 << 40)} {
		var b [8]byte
		putInt64(b[:], v)
		if got := getInt64(b[:]); got != v {
			t.Fatalf("putInt64/getInt64(%d): got %d", v, got)
		}
	}
}
