// Package verifier decides manifest acceptance under key rotation. A
// manifest is accepted iff any trusted public key verifies any emitted
// signature over the canonical payload, so a client bundling an older key
// list still accepts manifests signed by an overlapping newer key set.
package verifier

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/etnz/selfupdate/internal/manifest"
)

// ErrSignatureInvalid reports that no trusted key verified any signature.
var ErrSignatureInvalid = fmt.Errorf("signature-invalid")

// Verify returns nil iff at least one key in trusted verifies at least one
// signature in m.Sigs against the canonical payload, and ErrSignatureInvalid
// otherwise.
func Verify(m *manifest.Manifest, trusted []ed25519.PublicKey) error {
	if len(trusted) == 0 || len(m.Sigs) == 0 {
		return ErrSignatureInvalid
	}
	payload, err := m.Canonical()
	if err != nil {
		return fmt.Errorf("verifier: %w", err)
	}
	for _, sigB64 := range m.Sigs {
		sig, err := base64.StdEncoding.DecodeString(sigB64)
		if err != nil {
			continue
		}
		for _, pub := range trusted {
			if ed25519.Verify(pub, payload, sig) {
				return nil
			}
		}
	}
	return ErrSignatureInvalid
}
