// Package applier folds an ordered patch
// chain over an installed binary's bytes, with a verified precondition on
// the installed hash and a verified postcondition on the final hash.
package applier

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/etnz/selfupdate/internal/bsdiff"
	"github.com/etnz/selfupdate/internal/digest"
)

// ErrInstalledMismatch reports that the bytes on disk do not match the
// hash recorded for the installed version.
var ErrInstalledMismatch = fmt.Errorf("installed-mismatch")

// ErrFinalHashMismatch reports that the chain applied cleanly but the
// result does not match the target hash.
var ErrFinalHashMismatch = fmt.Errorf("final-hash-mismatch")

// Patch is one link of the chain: raw bsdiff patch bytes and the patch's
// name, which identifies the failing link in Apply's errors.
type Patch struct {
	Name  string
	Bytes []byte
}

// Apply folds installed through patches in order, verifying installed
// against installedHash before the first step and the fold's result
// against finalHash after the last. It returns the final bytes only;
// writing them to the update staging directory is left to the caller
// (Stage does this in one call).
func Apply(installed []byte, installedHash string, patches []Patch, finalHash string) ([]byte, error) {
	if digest.Bytes(installed) != installedHash {
		return nil, ErrInstalledMismatch
	}

	b := installed
	for i, p := range patches {
		next, err := bsdiff.Apply(b, p.Bytes)
		if err != nil {
			return nil, fmt.Errorf("applier: applying patch %d (%s): %w", i, p.Name, err)
		}
		b = next
	}

	if digest.Bytes(b) != finalHash {
		return nil, ErrFinalHashMismatch
	}
	return b, nil
}

// Stage applies the chain and writes the result to stagingDir under
// destFilename, the manifest-provided name for the target version.
func Stage(installed []byte, installedHash string, patches []Patch, finalHash, stagingDir, destFilename string) (string, error) {
	b, err := Apply(installed, installedHash, patches, finalHash)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(stagingDir, destFilename)
	if err := os.WriteFile(dest, b, 0o644); err != nil {
		return "", fmt.Errorf("applier: writing staged file %s: %w", dest, err)
	}
	return dest, nil
}
