package signer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/etnz/selfupdate/internal/keystore"
	"github.com/etnz/selfupdate/internal/manifest"
)

func TestSignRefusesFewerThanTwoKeys(t *testing.T) {
	m := manifest.New()
	if err := Sign(m, nil); err != ErrTooFewKeys {
		t.Fatalf("expected ErrTooFewKeys, got %v", err)
	}
}

func TestWriteDistributionIsGzippedJSON(t *testing.T) {
	dir := t.TempDir()
	ks, err := keystore.Open(filepath.Join(dir, "keys.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	keys, err := ks.MintKeys(2)
	if err != nil {
		t.Fatalf("MintKeys: %v", err)
	}

	m := manifest.New()
	m.SetEntry("app", "1.0.0", "mac", manifest.Entry{Filename: "app-mac-1.0.0.tar.gz", FileHash: "h"})
	if err := Sign(m, keys); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(m.Sigs) != 2 {
		t.Fatalf("expected 2 sigs, got %d", len(m.Sigs))
	}

	var buf bytes.Buffer
	if err := WriteDistribution(m, &buf); err != nil {
		t.Fatalf("WriteDistribution: %v", err)
	}
	zr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	var decoded manifest.Manifest
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decoding distribution manifest: %v", err)
	}
	if len(decoded.Sigs) != 2 {
		t.Fatalf("distribution copy lost sigs: %d", len(decoded.Sigs))
	}

	var legacyBuf bytes.Buffer
	if err := WriteLegacy(m, &legacyBuf); err != nil {
		t.Fatalf("WriteLegacy: %v", err)
	}
	var legacy struct {
		Sig string `json:"sig"`
	}
	if err := json.Unmarshal(legacyBuf.Bytes(), &legacy); err != nil {
		t.Fatalf("decoding legacy manifest: %v", err)
	}
	if legacy.Sig != m.Sigs[0] {
		t.Fatalf("legacy sig does not match first key's signature")
	}
}
