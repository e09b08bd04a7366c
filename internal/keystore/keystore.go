// Package keystore is the persistent, append-only signing-keypair store.
// Records are dense-indexed, monotonically growing, and revocation is
// sticky: a revoked record never becomes active again. Each keypair is
// persisted ASCII-armored, carrying a bare Ed25519 blob rather than a full
// PGP entity.
package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

const (
	blockTypePublic  = "SELFUPDATE ED25519 PUBLIC KEY"
	blockTypePrivate = "SELFUPDATE ED25519 PRIVATE KEY"

	// KeyTypeEd25519 is the only key type this store currently mints.
	KeyTypeEd25519 = "ed25519"
)

// ErrTooFewSigningKeys is returned when fewer than two non-revoked keys are
// available to build a signer set.
var ErrTooFewSigningKeys = fmt.Errorf("keystore: fewer than 2 non-revoked keys available")

// Record is one keypair entry. Index is dense and monotonic, assigned at
// insertion; it is the sole ordering key.
type Record struct {
	Index     int
	CreatedAt time.Time
	Public    ed25519.PublicKey
	Private   ed25519.PrivateKey
	Revoked   bool
	KeyType   string
}

// envelope is the on-disk JSON shape: keys are armored rather than raw
// base64, so the file can be inspected and its blocks copied around with
// ordinary text tooling.
type envelope struct {
	Index        int       `json:"index"`
	CreatedAt    time.Time `json:"created_at"`
	PublicArmor  string    `json:"public_armor"`
	PrivateArmor string    `json:"private_armor"`
	Revoked      bool      `json:"revoked"`
	KeyType      string    `json:"key_type"`
}

// legacyRecord is the flat, unarmored format this store migrates from on
// first load.
type legacyRecord struct {
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at"`
	Public    []byte    `json:"public"`
	Private   []byte    `json:"private"`
	Revoked   bool      `json:"revoked"`
	KeyType   string    `json:"key_type"`
}

// KeyStore is a single append-only collection of keypair records, persisted
// at path. Concurrent readers are safe; writers serialize through a single
// exclusive acquisition (sync.RWMutex), released on every exit path.
type KeyStore struct {
	path string

	mu      sync.RWMutex
	records []Record
}

// Open loads the store at path, migrating a legacy "<path>.legacy" flat-JSON
// file on first load if the armored store does not yet exist. A missing
// path (and missing legacy path) is not an error: Open returns an empty
// store ready to accept its first keys.
func Open(path string) (*KeyStore, error) {
	ks := &KeyStore{path: path}
	if err := ks.load(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *KeyStore) load() error {
	data, err := os.ReadFile(ks.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("keystore: reading %s: %w", ks.path, err)
		}
		return ks.loadLegacy()
	}

	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return fmt.Errorf("keystore: decoding %s: %w", ks.path, err)
	}
	records := make([]Record, 0, len(envs))
	for _, e := range envs {
		pub, err := armorDecode(e.PublicArmor)
		if err != nil {
			return fmt.Errorf("keystore: decoding public key %d: %w", e.Index, err)
		}
		var priv []byte
		if e.PrivateArmor != "" {
			priv, err = armorDecode(e.PrivateArmor)
			if err != nil {
				return fmt.Errorf("keystore: decoding private key %d: %w", e.Index, err)
			}
		}
		records = append(records, Record{
			Index:     e.Index,
			CreatedAt: e.CreatedAt,
			Public:    ed25519.PublicKey(pub),
			Private:   ed25519.PrivateKey(priv),
			Revoked:   e.Revoked,
			KeyType:   e.KeyType,
		})
	}
	ks.records = records
	return nil
}

// loadLegacy is the one-shot migration path: if a flat "<path>.legacy" file
// exists, its records are adopted verbatim (same index, same revoked
// status) and immediately re-saved in the armored format.
func (ks *KeyStore) loadLegacy() error {
	legacyPath := ks.path + ".legacy"
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("keystore: reading legacy store %s: %w", legacyPath, err)
	}
	var legacy []legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("keystore: decoding legacy store %s: %w", legacyPath, err)
	}
	records := make([]Record, 0, len(legacy))
	for _, l := range legacy {
		records = append(records, Record{
			Index:     l.Index,
			CreatedAt: l.CreatedAt,
			Public:    ed25519.PublicKey(l.Public),
			Private:   ed25519.PrivateKey(l.Private),
			Revoked:   l.Revoked,
			KeyType:   l.KeyType,
		})
	}
	ks.records = records
	return ks.saveLocked()
}

// Add inserts a new keypair record with a fresh dense index and persists
// the store.
func (ks *KeyStore) Add(public ed25519.PublicKey, private ed25519.PrivateKey, keyType string) (Record, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	rec := Record{
		Index:     len(ks.records) + 1,
		CreatedAt: time.Now().UTC(),
		Public:    public,
		Private:   private,
		KeyType:   keyType,
	}
	ks.records = append(ks.records, rec)
	if err := ks.saveLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// MintKeys generates n fresh Ed25519 keypairs and adds them.
func (ks *KeyStore) MintKeys(n int) ([]Record, error) {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("keystore: generating key: %w", err)
		}
		rec, err := ks.Add(pub, priv, KeyTypeEd25519)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListPublic returns public keys in index-ascending order, optionally
// filtered to non-revoked.
func (ks *KeyStore) ListPublic(nonRevokedOnly bool) []ed25519.PublicKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	var out []ed25519.PublicKey
	for _, r := range ks.sortedLocked() {
		if nonRevokedOnly && r.Revoked {
			continue
		}
		out = append(out, r.Public)
	}
	return out
}

// ListPrivate returns full records in index-ascending order, optionally
// filtered to non-revoked.
func (ks *KeyStore) ListPrivate(nonRevokedOnly bool) []Record {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	var out []Record
	for _, r := range ks.sortedLocked() {
		if nonRevokedOnly && r.Revoked {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SigningKeys returns the non-revoked private keys, refusing to produce a
// set smaller than 2. After a revoke leaves only one active key, the
// caller must mint replacements before signing.
func (ks *KeyStore) SigningKeys() ([]Record, error) {
	keys := ks.ListPrivate(true)
	if len(keys) < 2 {
		return nil, ErrTooFewSigningKeys
	}
	return keys, nil
}

// Revoke marks the n oldest non-revoked records revoked and persists the
// change. Revocation is sticky: once revoked, a record never becomes
// active again.
func (ks *KeyStore) Revoke(n int) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	revoked := 0
	for _, idx := range ks.sortIndexLocked() {
		if revoked == n {
			break
		}
		if !ks.records[idx].Revoked {
			ks.records[idx].Revoked = true
			revoked++
		}
	}
	if revoked < n {
		return fmt.Errorf("keystore: only %d non-revoked keys available, cannot revoke %d", revoked, n)
	}
	return ks.saveLocked()
}

// LastRevoked returns the most recently revoked record (the revoked record
// with the greatest index). The second return value is false if no record
// is revoked.
func (ks *KeyStore) LastRevoked() (Record, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var best Record
	found := false
	for _, r := range ks.records {
		if !r.Revoked {
			continue
		}
		if !found || r.Index > best.Index {
			best = r
			found = true
		}
	}
	return best, found
}

// sortedLocked returns records ordered by ascending index. Caller must hold
// ks.mu (read or write).
func (ks *KeyStore) sortedLocked() []Record {
	out := make([]Record, len(ks.records))
	copy(out, ks.records)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// sortIndexLocked returns the positions into ks.records in ascending-index
// order. Caller must hold ks.mu for writing.
func (ks *KeyStore) sortIndexLocked() []int {
	idx := make([]int, len(ks.records))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return ks.records[idx[a]].Index < ks.records[idx[b]].Index })
	return idx
}

// saveLocked persists the store. Caller must hold ks.mu for writing.
func (ks *KeyStore) saveLocked() error {
	if ks.path == "" {
		return nil
	}
	envs := make([]envelope, 0, len(ks.records))
	for _, r := range ks.records {
		pubArmor, err := armorEncode(blockTypePublic, r.Public)
		if err != nil {
			return fmt.Errorf("keystore: armoring public key %d: %w", r.Index, err)
		}
		var privArmor string
		if len(r.Private) > 0 {
			privArmor, err = armorEncode(blockTypePrivate, r.Private)
			if err != nil {
				return fmt.Errorf("keystore: armoring private key %d: %w", r.Index, err)
			}
		}
		envs = append(envs, envelope{
			Index:        r.Index,
			CreatedAt:    r.CreatedAt,
			PublicArmor:  pubArmor,
			PrivateArmor: privArmor,
			Revoked:      r.Revoked,
			KeyType:      r.KeyType,
		})
	}

	data, err := json.MarshalIndent(envs, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: encoding: %w", err)
	}

	dir := filepath.Dir(ks.path)
	tmp, err := os.CreateTemp(dir, ".keystore-*.tmp")
	if err != nil {
		return fmt.Errorf("keystore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, ks.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: renaming into place: %w", err)
	}
	return nil
}

func armorEncode(blockType string, raw []byte) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, blockType, nil)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func armorDecode(encoded string) ([]byte, error) {
	block, err := armor.Decode(bytes.NewReader([]byte(encoded)))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(block.Body)
}
