// Package manifest is the canonical data model of the update document: the
// nested updates/latest/sigs structure, its sorted-key signing payload, and
// the star-path accessor used by clients to query a single field without
// ever panicking on a missing segment.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Delimiter splits a star-path into segments, e.g.
// "updates*app*1.2.0*mac*file_hash".
const Delimiter = "*"

// Entry is one (name, version, platform) leaf of the updates tree.
type Entry struct {
	Filename  string `json:"filename"`
	FileHash  string `json:"file_hash"`
	PatchName string `json:"patch_name,omitempty"`
	PatchHash string `json:"patch_hash,omitempty"`
}

// Manifest is the full signed document: releases, per-platform latest
// pointers, and the signature list.
type Manifest struct {
	// Updates maps name -> version -> platform -> Entry.
	Updates map[string]map[string]map[string]Entry `json:"updates"`
	// Latest maps name -> platform -> version string.
	Latest map[string]map[string]string `json:"latest"`
	// Sigs holds one base64 Ed25519 signature per non-revoked signing key,
	// oldest key first. Stripped from the canonical signing payload.
	Sigs []string `json:"sigs"`
}

// New returns an empty, ready-to-populate Manifest.
func New() *Manifest {
	return &Manifest{
		Updates: make(map[string]map[string]map[string]Entry),
		Latest:  make(map[string]map[string]string),
	}
}

// SetEntry records (or overwrites) the update entry for name/version/platform.
func (m *Manifest) SetEntry(name, version, platform string, e Entry) {
	if m.Updates == nil {
		m.Updates = make(map[string]map[string]map[string]Entry)
	}
	byVersion, ok := m.Updates[name]
	if !ok {
		byVersion = make(map[string]map[string]Entry)
		m.Updates[name] = byVersion
	}
	byPlatform, ok := byVersion[version]
	if !ok {
		byPlatform = make(map[string]Entry)
		byVersion[version] = byPlatform
	}
	byPlatform[platform] = e
}

// GetEntry returns the update entry for name/version/platform.
func (m *Manifest) GetEntry(name, version, platform string) (Entry, bool) {
	byVersion, ok := m.Updates[name]
	if !ok {
		return Entry{}, false
	}
	byPlatform, ok := byVersion[version]
	if !ok {
		return Entry{}, false
	}
	e, ok := byPlatform[platform]
	return e, ok
}

// SetLatest records the highest known version for name/platform.
func (m *Manifest) SetLatest(name, platform, version string) {
	if m.Latest == nil {
		m.Latest = make(map[string]map[string]string)
	}
	byPlatform, ok := m.Latest[name]
	if !ok {
		byPlatform = make(map[string]string)
		m.Latest[name] = byPlatform
	}
	byPlatform[platform] = version
}

// GetLatest returns the highest known version string for name/platform.
func (m *Manifest) GetLatest(name, platform string) (string, bool) {
	byPlatform, ok := m.Latest[name]
	if !ok {
		return "", false
	}
	v, ok := byPlatform[platform]
	return v, ok
}

// Versions returns every version string recorded for name/platform, in no
// particular order; callers sort via internal/version.
func (m *Manifest) Versions(name, platform string) []string {
	byVersion, ok := m.Updates[name]
	if !ok {
		return nil
	}
	var out []string
	for v, byPlatform := range byVersion {
		if _, ok := byPlatform[platform]; ok {
			out = append(out, v)
		}
	}
	return out
}

// canonicalView is the payload that gets signed: updates and latest, with
// sigs always absent.
type canonicalView struct {
	Updates map[string]map[string]map[string]Entry `json:"updates"`
	Latest  map[string]map[string]string           `json:"latest"`
}

// Canonical renders the sorted-key JSON encoding of the manifest with sigs
// removed, the byte-stable signing payload. encoding/json sorts map keys,
// so any two manifests built from the same data serialize identically
// regardless of map insertion order.
func (m *Manifest) Canonical() ([]byte, error) {
	view := canonicalView{Updates: m.Updates, Latest: m.Latest}
	b, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding canonical form: %w", err)
	}
	return b, nil
}

// Marshal renders the full manifest, including sigs, as JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding: %w", err)
	}
	return b, nil
}

// Unmarshal parses the full manifest, including sigs, from JSON.
func Unmarshal(data []byte) (*Manifest, error) {
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: decoding: %w", err)
	}
	return m, nil
}

// Get resolves a star-path against the manifest, e.g.
// "updates*app*1.2.0*mac*file_hash" or "latest*app*mac". A missing segment
// at any level returns ("", false), never a panic.
func (m *Manifest) Get(path string) (string, bool) {
	segments := strings.Split(path, Delimiter)
	if len(segments) == 0 {
		return "", false
	}
	switch segments[0] {
	case "updates":
		return m.getUpdatesPath(segments[1:])
	case "latest":
		return m.getLatestPath(segments[1:])
	default:
		return "", false
	}
}

func (m *Manifest) getUpdatesPath(seg []string) (string, bool) {
	if len(seg) != 4 {
		return "", false
	}
	name, version, platform, field := seg[0], seg[1], seg[2], seg[3]
	e, ok := m.GetEntry(name, version, platform)
	if !ok {
		return "", false
	}
	switch field {
	case "filename":
		return e.Filename, e.Filename != ""
	case "file_hash":
		return e.FileHash, e.FileHash != ""
	case "patch_name":
		return e.PatchName, e.PatchName != ""
	case "patch_hash":
		return e.PatchHash, e.PatchHash != ""
	default:
		return "", false
	}
}

func (m *Manifest) getLatestPath(seg []string) (string, bool) {
	if len(seg) != 2 {
		return "", false
	}
	return m.GetLatest(seg[0], seg[1])
}
