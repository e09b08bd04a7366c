// Command supctl is the developer-side CLI for the self-update pipeline:
// ingest new archives, build the patches between them, sign the manifest,
// manage the signing keystore, and spot-check a signed manifest offline.
// One hand-rolled flag.FlagSet per subcommand, no CLI framework.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/etnz/selfupdate/internal/devconfig"
	"github.com/etnz/selfupdate/internal/ingest"
	"github.com/etnz/selfupdate/internal/keystore"
	"github.com/etnz/selfupdate/internal/manifest"
	"github.com/etnz/selfupdate/internal/patchbuild"
	"github.com/etnz/selfupdate/internal/signer"
	"github.com/etnz/selfupdate/internal/verifier"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "build":
		runBuild(os.Args[2:])
	case "sign":
		runSign(os.Args[2:])
	case "keys":
		runKeys(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: supctl <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest   Scan the inbox, classify and register new archives")
	fmt.Println("  build    Generate patches for archives registered since the last build")
	fmt.Println("  sign     Sign the manifest and write the distribution artifacts")
	fmt.Println("  keys     Mint, list, and revoke signing keys")
	fmt.Println("  verify   Check a distributed manifest against a set of trusted keys")
}

// pending.json is the handoff file between "ingest" and "build": the set
// of newly registered packages plus the "latest" snapshot each one should
// be diffed against, captured before ingest advanced any latest pointer.
type pendingState struct {
	Packages    []ingest.Package  `json:"packages"`
	PriorLatest map[string]string `json:"prior_latest"`
}

func pendingPath(cfg *devconfig.Config) string {
	return filepath.Join(cfg.ArchiveDir, ".pending.json")
}

func loadConfig(fs *flag.FlagSet, args []string) *devconfig.Config {
	var configPath string
	fs.StringVar(&configPath, "config", "supctl.yaml", "Path to the developer pipeline config")
	fs.Parse(args)

	cfg, err := devconfig.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	return cfg
}

func loadOrNewManifest(path string) *manifest.Manifest {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.New()
		}
		log.Fatalf("reading manifest %s: %v", path, err)
	}
	m, err := manifest.Unmarshal(data)
	if err != nil {
		log.Fatalf("parsing manifest %s: %v", path, err)
	}
	return m
}

func saveManifest(path string, m *manifest.Manifest) {
	data, err := m.Marshal()
	if err != nil {
		log.Fatalf("encoding manifest: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("writing manifest %s: %v", path, err)
	}
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	listener := func(e fmt.Stringer) { fmt.Println(e.String()) }

	pkgs, err := ingest.Scan(cfg.InboxDir, ingest.Listener(listener))
	if err != nil {
		log.Fatalf("scanning inbox: %v", err)
	}

	m := loadOrNewManifest(cfg.ManifestPath)
	prior := patchbuild.SnapshotLatest(m, pkgs)
	registered := ingest.Register(m, pkgs, ingest.Listener(listener))

	if err := ingest.MoveToArchive(cfg.InboxDir, cfg.ArchiveDir, registered); err != nil {
		log.Fatalf("archiving accepted packages: %v", err)
	}
	saveManifest(cfg.ManifestPath, m)

	state := pendingState{Packages: registered, PriorLatest: prior}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Fatalf("encoding pending state: %v", err)
	}
	if err := os.WriteFile(pendingPath(cfg), data, 0o644); err != nil {
		log.Fatalf("writing pending state: %v", err)
	}

	fmt.Printf("ingested %d package(s), %d registered\n", len(pkgs), len(registered))
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	var workers int
	fs.IntVar(&workers, "workers", 0, "Worker pool size (0 = 2*NumCPU)")
	cfg := loadConfig(fs, args)

	data, err := os.ReadFile(pendingPath(cfg))
	if err != nil {
		log.Fatalf("reading pending state (run \"ingest\" first): %v", err)
	}
	var state pendingState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Fatalf("parsing pending state: %v", err)
	}

	m := loadOrNewManifest(cfg.ManifestPath)
	listener := func(e fmt.Stringer) { fmt.Println(e.String()) }

	jobs := patchbuild.PlanJobs(m, state.Packages, state.PriorLatest, cfg.ArchiveDir, patchbuild.Listener(listener))
	counter := patchbuild.NewCounter(cfg.BootstrapPatchNumber)
	counter.SeedFromManifest(m)
	results := patchbuild.Build(m, jobs, cfg.ArchiveDir, cfg.DeployDir, workers, counter, patchbuild.Listener(listener))

	saveManifest(cfg.ManifestPath, m)
	os.Remove(pendingPath(cfg))

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	fmt.Printf("built %d patch(es), %d failed\n", len(results)-failed, failed)
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	var legacyPath string
	fs.StringVar(&legacyPath, "legacy-out", "", "Where to write the single-signature legacy companion (default <manifest>.legacy.json)")
	cfg := loadConfig(fs, args)

	ks, err := keystore.Open(cfg.KeystorePath)
	if err != nil {
		log.Fatalf("opening keystore %s: %v", cfg.KeystorePath, err)
	}
	keys, err := ks.SigningKeys()
	if err != nil {
		log.Fatalf("selecting signing keys: %v (mint at least 2 non-revoked keys first)", err)
	}

	m := loadOrNewManifest(cfg.ManifestPath)
	if err := signer.Sign(m, keys); err != nil {
		log.Fatalf("signing manifest: %v", err)
	}
	saveManifest(cfg.ManifestPath, m)

	distPath := cfg.ManifestPath + ".gz"
	out, err := os.Create(distPath)
	if err != nil {
		log.Fatalf("creating %s: %v", distPath, err)
	}
	if err := signer.WriteDistribution(m, out); err != nil {
		out.Close()
		log.Fatalf("writing distribution manifest: %v", err)
	}
	out.Close()

	if legacyPath == "" {
		legacyPath = cfg.ManifestPath + ".legacy.json"
	}
	legacyOut, err := os.Create(legacyPath)
	if err != nil {
		log.Fatalf("creating %s: %v", legacyPath, err)
	}
	if err := signer.WriteLegacy(m, legacyOut); err != nil {
		legacyOut.Close()
		log.Fatalf("writing legacy manifest: %v", err)
	}
	legacyOut.Close()

	fmt.Printf("signed manifest with %d key(s), wrote %s\n", len(keys), distPath)
}

func runKeys(args []string) {
	if len(args) == 0 {
		log.Fatal("usage: supctl keys <mint|list|revoke> [flags]")
	}
	switch args[0] {
	case "mint":
		runKeysMint(args[1:])
	case "list":
		runKeysList(args[1:])
	case "revoke":
		runKeysRevoke(args[1:])
	default:
		log.Fatalf("unknown keys subcommand %q", args[0])
	}
}

func runKeysMint(args []string) {
	fs := flag.NewFlagSet("keys mint", flag.ExitOnError)
	var n int
	fs.IntVar(&n, "n", 2, "Number of keypairs to mint")
	cfg := loadConfig(fs, args)

	ks, err := keystore.Open(cfg.KeystorePath)
	if err != nil {
		log.Fatalf("opening keystore: %v", err)
	}
	minted, err := ks.MintKeys(n)
	if err != nil {
		log.Fatalf("minting keys: %v", err)
	}
	for _, rec := range minted {
		fmt.Printf("minted key #%d (%s)\n", rec.Index, rec.KeyType)
	}
}

func runKeysList(args []string) {
	fs := flag.NewFlagSet("keys list", flag.ExitOnError)
	var all bool
	fs.BoolVar(&all, "all", false, "Include revoked keys")
	cfg := loadConfig(fs, args)

	ks, err := keystore.Open(cfg.KeystorePath)
	if err != nil {
		log.Fatalf("opening keystore: %v", err)
	}
	for _, rec := range ks.ListPrivate(!all) {
		status := "active"
		if rec.Revoked {
			status = "revoked"
		}
		fmt.Printf("#%-3d %-8s created=%s\n", rec.Index, status, rec.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
}

func runKeysRevoke(args []string) {
	fs := flag.NewFlagSet("keys revoke", flag.ExitOnError)
	var n int
	fs.IntVar(&n, "n", 1, "Number of oldest non-revoked keys to revoke")
	cfg := loadConfig(fs, args)

	ks, err := keystore.Open(cfg.KeystorePath)
	if err != nil {
		log.Fatalf("opening keystore: %v", err)
	}
	if err := ks.Revoke(n); err != nil {
		log.Fatalf("revoking keys: %v", err)
	}
	fmt.Printf("revoked %d key(s)\n", n)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var manifestPath string
	fs.StringVar(&manifestPath, "manifest", "", "Path to a signed manifest.json")
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "Path to a keystore to draw trusted public keys from")
	fs.Parse(args)

	if manifestPath == "" || keystorePath == "" {
		log.Fatal("both --manifest and --keystore are required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("reading %s: %v", manifestPath, err)
	}
	m, err := manifest.Unmarshal(data)
	if err != nil {
		log.Fatalf("parsing %s: %v", manifestPath, err)
	}

	ks, err := keystore.Open(keystorePath)
	if err != nil {
		log.Fatalf("opening keystore: %v", err)
	}
	trusted := ks.ListPublic(true)

	if err := verifier.Verify(m, trusted); err != nil {
		log.Fatalf("manifest rejected: %v", err)
	}
	fmt.Println("manifest signature OK")
}
