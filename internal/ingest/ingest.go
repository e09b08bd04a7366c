// Package ingest implements the developer-side ingestor: scanning an inbox
// of application archives, classifying each entry, hashing it, and
// registering accepted packages into the version manifest, bumping the
// per-platform "latest" pointer when warranted.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/etnz/selfupdate/internal/digest"
	"github.com/etnz/selfupdate/internal/manifest"
	"github.com/etnz/selfupdate/internal/version"
)

// Rejection reasons. The set is closed; a rejected package carries exactly
// one of these.
const (
	ReasonUnsupportedArchive = "unsupported archive"
	ReasonMalformedVersion   = "malformed version"
	ReasonMalformedPlatform  = "malformed platform"
	ReasonIgnoredDotfile     = "ignored (dotfile)"
)

// platformRe matches the closed platform-tag set: a 2-letter OS code, a
// 1-letter arch code, and an optional "64" width suffix (mac, win, nix,
// nix64, ...).
var platformRe = regexp.MustCompile(`^[mnw][ai][cnx](64)?$`)

// Package is one classified inbox entry.
type Package struct {
	Name     string
	Version  string
	Platform string
	Filename string
	Hash     string
	Status   bool
	Reason   string
}

// Scan reads every entry of inboxDir (non-recursively) and classifies it.
// Directories are skipped. A nil Listener is replaced with a no-op.
func Scan(inboxDir string, l Listener) ([]Package, error) {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	entries, err := os.ReadDir(inboxDir)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading inbox %s: %w", inboxDir, err)
	}

	var pkgs []Package
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pkg := classify(entry.Name())
		if pkg.Status {
			hash, err := digest.File(filepath.Join(inboxDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("ingest: hashing %s: %w", entry.Name(), err)
			}
			pkg.Hash = hash
			l(EventPackageAccepted{Name: pkg.Name, Version: pkg.Version, Platform: pkg.Platform, Filename: pkg.Filename})
		} else {
			l(EventPackageRejected{Filename: pkg.Filename, Reason: pkg.Reason})
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// classify parses filename against "<name>-<platform>-<version>.<ext>" and
// returns a Package with Status=false and a Reason if classification fails
// at any step. It never errors: rejection is a value, matching the
// ingestor invariant that a bad entry must not abort the scan.
func classify(filename string) Package {
	if strings.HasPrefix(filename, ".") {
		return Package{Filename: filename, Reason: ReasonIgnoredDotfile}
	}

	lower := strings.ToLower(filename)
	var base string
	switch {
	case strings.HasSuffix(lower, ".tar.gz"):
		base = filename[:len(filename)-len(".tar.gz")]
	case strings.HasSuffix(lower, ".zip"):
		base = filename[:len(filename)-len(".zip")]
	default:
		return Package{Filename: filename, Reason: ReasonUnsupportedArchive}
	}

	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return Package{Filename: filename, Reason: ReasonMalformedPlatform}
	}
	versionStr := parts[len(parts)-1]
	platform := parts[len(parts)-2]
	name := strings.Join(parts[:len(parts)-2], "-")

	if !platformRe.MatchString(platform) {
		return Package{Filename: filename, Reason: ReasonMalformedPlatform}
	}
	v, err := version.Parse(versionStr)
	if err != nil {
		return Package{Filename: filename, Reason: ReasonMalformedVersion}
	}

	return Package{
		Name:     name,
		Version:  v.String(),
		Platform: platform,
		Filename: filename,
		Status:   true,
	}
}

// Register writes every accepted package into m and advances
// latest[name][platform] whenever the package's version exceeds the prior
// latest. It returns the subset of pkgs that were newly registered
// (Status==true); callers use this list to drive patch-job enqueuing
// without re-scanning.
func Register(m *manifest.Manifest, pkgs []Package, l Listener) []Package {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	var registered []Package
	for _, pkg := range pkgs {
		if !pkg.Status {
			continue
		}
		m.SetEntry(pkg.Name, pkg.Version, pkg.Platform, manifest.Entry{
			Filename: pkg.Filename,
			FileHash: pkg.Hash,
		})

		newVersion, err := version.Parse(pkg.Version)
		if err != nil {
			continue // unreachable: pkg.Version was already validated by classify
		}
		prior, ok := m.GetLatest(pkg.Name, pkg.Platform)
		if !ok {
			m.SetLatest(pkg.Name, pkg.Platform, pkg.Version)
			l(EventLatestAdvanced{Name: pkg.Name, Platform: pkg.Platform, To: pkg.Version})
		} else if priorVersion, err := version.Parse(prior); err == nil && newVersion.Greater(priorVersion) {
			m.SetLatest(pkg.Name, pkg.Platform, pkg.Version)
			l(EventLatestAdvanced{Name: pkg.Name, Platform: pkg.Platform, From: prior, To: pkg.Version})
		}
		registered = append(registered, pkg)
	}
	return registered
}

// MoveToArchive relocates every accepted package from inboxDir into
// filesDir, the active archive store that future ingestion cycles diff
// against. A package is immutable once hashed, so this is a plain rename,
// never a rewrite.
func MoveToArchive(inboxDir, filesDir string, pkgs []Package) error {
	for _, pkg := range pkgs {
		if !pkg.Status {
			continue
		}
		src := filepath.Join(inboxDir, pkg.Filename)
		dst := filepath.Join(filesDir, pkg.Filename)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("ingest: archiving %s: %w", pkg.Filename, err)
		}
	}
	return nil
}
