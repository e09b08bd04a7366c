package applier

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/etnz/selfupdate/internal/bsdiff"
	"github.com/etnz/selfupdate/internal/digest"
)

func mustDiff(t *testing.T, old, new []byte) Patch {
	t.Helper()
	p, err := bsdiff.Diff(old, new)
	if err != nil {
		t.Fatalf("bsdiff.Diff: %v", err)
	}
	return Patch{Name: "patch", Bytes: p}
}

func TestApplyChain(t *testing.T) {
	v0 := bytes.Repeat([]byte("installed binary contents, padded for realistic match material "), 10)
	v1 := append(append([]byte{}, v0...), []byte("point release one")...)
	v2 := append(append([]byte{}, v1...), []byte("point release two")...)

	patches := []Patch{mustDiff(t, v0, v1), mustDiff(t, v1, v2)}

	got, err := Apply(v0, digest.Bytes(v0), patches, digest.Bytes(v2))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(got, v2) {
		t.Fatal("chained apply did not reproduce the final version")
	}
}

func TestApplyRejectsInstalledMismatch(t *testing.T) {
	v0 := []byte("installed")
	_, err := Apply(v0, digest.Bytes([]byte("something else")), nil, digest.Bytes(v0))
	if err != ErrInstalledMismatch {
		t.Fatalf("expected ErrInstalledMismatch, got %v", err)
	}
}

func TestApplyRejectsFinalHashMismatch(t *testing.T) {
	v0 := bytes.Repeat([]byte("installed binary contents, padded for realistic match material "), 10)
	v1 := append(append([]byte{}, v0...), []byte("a change")...)
	patches := []Patch{mustDiff(t, v0, v1)}

	_, err := Apply(v0, digest.Bytes(v0), patches, digest.Bytes([]byte("wrong target")))
	if err != ErrFinalHashMismatch {
		t.Fatalf("expected ErrFinalHashMismatch, got %v", err)
	}
}

func TestStageWritesDestFile(t *testing.T) {
	v0 := bytes.Repeat([]byte("installed binary contents, padded for realistic match material "), 10)
	v1 := append(append([]byte{}, v0...), []byte("a change")...)
	patches := []Patch{mustDiff(t, v0, v1)}

	dir := t.TempDir()
	dest, err := Stage(v0, digest.Bytes(v0), patches, digest.Bytes(v1), dir, "app-mac-0.1.1.tar.gz")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading staged file: %v", err)
	}
	if !bytes.Equal(got, v1) {
		t.Fatal("staged file does not match expected contents")
	}
	if filepath.Base(dest) != "app-mac-0.1.1.tar.gz" {
		t.Fatalf("unexpected staged filename: %s", dest)
	}
}
