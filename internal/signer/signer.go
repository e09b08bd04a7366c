// Package signer produces multi-key signatures
// over the manifest's canonical payload, plus the two distribution
// artifacts (a gzip-compressed multi-signature file and an uncompressed
// single-signature legacy companion).
package signer

import (
	"compress/gzip"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/etnz/selfupdate/internal/keystore"
	"github.com/etnz/selfupdate/internal/manifest"
)

// ErrTooFewKeys mirrors keystore.ErrTooFewSigningKeys: a signer set must
// carry at least 2 keys.
var ErrTooFewKeys = fmt.Errorf("signer: need at least 2 keys to sign")

// Sign replaces m.Sigs with one base64 Ed25519 signature per key, in the
// given order (oldest first), over the canonical payload.
func Sign(m *manifest.Manifest, keys []keystore.Record) error {
	if len(keys) < 2 {
		return ErrTooFewKeys
	}
	payload, err := m.Canonical()
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	sigs := make([]string, 0, len(keys))
	for _, k := range keys {
		sig := ed25519.Sign(k.Private, payload)
		sigs = append(sigs, base64.StdEncoding.EncodeToString(sig))
	}
	m.Sigs = sigs
	return nil
}

// legacyManifest is the single-signature companion document: identical
// updates/latest subtrees, but one "sig" scalar instead of "sigs". Kept
// for one more release cycle while old clients remain in the field.
type legacyManifest struct {
	Updates map[string]map[string]map[string]manifest.Entry `json:"updates"`
	Latest  map[string]map[string]string                    `json:"latest"`
	Sig     string                                          `json:"sig"`
}

// WriteDistribution gzip-compresses the full signed manifest (including
// sigs) to w: the primary distribution artifact.
func WriteDistribution(m *manifest.Manifest, w io.Writer) error {
	body, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	gz := gzip.NewWriter(w)
	if _, err := gz.Write(body); err != nil {
		gz.Close()
		return fmt.Errorf("signer: writing gzip body: %w", err)
	}
	return gz.Close()
}

// WriteLegacy writes the uncompressed, single-signature companion file,
// using the first (oldest) key's signature. Both distribution copies carry
// an identical signed payload.
func WriteLegacy(m *manifest.Manifest, w io.Writer) error {
	if len(m.Sigs) == 0 {
		return fmt.Errorf("signer: manifest has no signatures yet")
	}
	legacy := legacyManifest{Updates: m.Updates, Latest: m.Latest, Sig: m.Sigs[0]}
	if err := json.NewEncoder(w).Encode(legacy); err != nil {
		return fmt.Errorf("signer: writing legacy manifest: %w", err)
	}
	return nil
}
