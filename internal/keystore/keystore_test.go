package keystore

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMintListRevoke(t *testing.T) {
	dir := t.TempDir()
	ks, err := Open(filepath.Join(dir, "keys.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := ks.MintKeys(3); err != nil {
		t.Fatalf("MintKeys: %v", err)
	}

	pub := ks.ListPublic(false)
	if len(pub) != 3 {
		t.Fatalf("expected 3 public keys, got %d", len(pub))
	}

	signing, err := ks.SigningKeys()
	if err != nil {
		t.Fatalf("SigningKeys: %v", err)
	}
	if len(signing) != 3 {
		t.Fatalf("expected 3 signing keys, got %d", len(signing))
	}

	// Revoking n then minting n leaves the non-revoked count unchanged.
	if err := ks.Revoke(1); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := ks.MintKeys(1); err != nil {
		t.Fatalf("MintKeys: %v", err)
	}
	nonRevoked := ks.ListPrivate(true)
	if len(nonRevoked) != 3 {
		t.Fatalf("expected 3 non-revoked keys after revoke+mint, got %d", len(nonRevoked))
	}

	last, ok := ks.LastRevoked()
	if !ok {
		t.Fatalf("expected a revoked key")
	}
	if last.Index != 1 {
		t.Fatalf("expected oldest key (index 1) revoked first, got index %d", last.Index)
	}
}

func TestSigningKeysRefusesFewerThanTwo(t *testing.T) {
	dir := t.TempDir()
	ks, err := Open(filepath.Join(dir, "keys.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ks.MintKeys(1); err != nil {
		t.Fatalf("MintKeys: %v", err)
	}
	if _, err := ks.SigningKeys(); err != ErrTooFewSigningKeys {
		t.Fatalf("expected ErrTooFewSigningKeys, got %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	ks, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	minted, err := ks.MintKeys(2)
	if err != nil {
		t.Fatalf("MintKeys: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.ListPrivate(false)
	if len(got) != 2 {
		t.Fatalf("expected 2 keys after reopen, got %d", len(got))
	}
	for i, r := range got {
		if !r.Public.Equal(minted[i].Public) {
			t.Fatalf("public key %d did not round-trip", i)
		}
	}
}

func TestLegacyMigration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	legacyPath := path + ".legacy"

	seed, err := Open(filepath.Join(dir, "seed.json"))
	if err != nil {
		t.Fatalf("Open seed store: %v", err)
	}
	if _, err := seed.MintKeys(2); err != nil {
		t.Fatalf("MintKeys: %v", err)
	}

	legacyRecords := make([]legacyRecord, 0, 2)
	for _, r := range seed.ListPrivate(false) {
		legacyRecords = append(legacyRecords, legacyRecord{
			Index:     r.Index,
			CreatedAt: r.CreatedAt,
			Public:    []byte(r.Public),
			Private:   []byte(r.Private),
			Revoked:   r.Revoked,
			KeyType:   r.KeyType,
		})
	}
	data, err := json.Marshal(legacyRecords)
	if err != nil {
		t.Fatalf("marshal legacy: %v", err)
	}
	if err := os.WriteFile(legacyPath, data, 0o644); err != nil {
		t.Fatalf("writing legacy store: %v", err)
	}

	ks, err := Open(path)
	if err != nil {
		t.Fatalf("Open (migrating): %v", err)
	}
	migrated := ks.ListPrivate(false)
	if len(migrated) != 2 {
		t.Fatalf("expected 2 migrated keys, got %d", len(migrated))
	}
	for i, r := range migrated {
		if !r.Public.Equal(ed25519.PublicKey(legacyRecords[i].Public)) {
			t.Fatalf("migrated public key %d does not match legacy record", i)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the armored store to be written after migration: %v", err)
	}
}
