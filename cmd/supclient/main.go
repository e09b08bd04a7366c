// Command supclient is a demo client binary exercising internal/updater's
// state machine end-to-end: it loads an installed-version fingerprint file
// written by a frozen application, checks a manifest mirror list, and
// drives the check -> download -> extract -> swap sequence.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/etnz/selfupdate/internal/fetch"
	"github.com/etnz/selfupdate/internal/updater"
)

// arrayFlags collects a repeated flag into an ordered slice.
type arrayFlags []string

func (a *arrayFlags) String() string     { return strings.Join(*a, ", ") }
func (a *arrayFlags) Set(v string) error { *a = append(*a, v); return nil }

// instanceFile is the on-disk record a frozen application writes about
// itself: the installed version, the path to its currently staged
// archive, and that archive's recorded hash.
type instanceFile struct {
	Version string `json:"version"`
	Path    string `json:"path"`
	Hash    string `json:"hash"`
}

func main() {
	var name, platform, dataDir, liveExecPath, instancePath string
	var manifestMirrors, archiveMirrorBases, trustedKeyFlags arrayFlags
	var patchesEnabled, tlsInsecure bool

	flag.StringVar(&name, "name", "", "Application name")
	flag.StringVar(&platform, "platform", "", "Platform tag (mac, win, nix, nix64, ...)")
	flag.StringVar(&dataDir, "data-dir", "", "Writable data directory for update staging")
	flag.StringVar(&liveExecPath, "live-exec", "", "Path to the running executable")
	flag.StringVar(&instancePath, "instance", "", "Path to the installed-instance JSON file")
	flag.Var(&manifestMirrors, "manifest-mirror", "Manifest mirror URL (repeatable)")
	flag.Var(&archiveMirrorBases, "archive-mirror", "Archive/patch mirror base URL (repeatable)")
	flag.Var(&trustedKeyFlags, "trusted-key", "Base64 Ed25519 public key (repeatable)")
	flag.BoolVar(&patchesEnabled, "patches", true, "Try the patch chain before falling back to a full download")
	flag.BoolVar(&tlsInsecure, "tls-insecure", false, "Skip TLS certificate verification")
	flag.Parse()

	if name == "" || platform == "" || dataDir == "" || liveExecPath == "" || instancePath == "" {
		log.Fatal("--name, --platform, --data-dir, --live-exec, and --instance are all required")
	}
	if len(manifestMirrors) == 0 {
		log.Fatal("at least one --manifest-mirror is required")
	}
	if len(trustedKeyFlags) == 0 {
		log.Fatal("at least one --trusted-key is required")
	}

	instData, err := os.ReadFile(instancePath)
	if err != nil {
		log.Fatalf("reading instance file %s: %v", instancePath, err)
	}
	var inst instanceFile
	if err := json.Unmarshal(instData, &inst); err != nil {
		log.Fatalf("parsing instance file %s: %v", instancePath, err)
	}

	trusted := make([]ed25519.PublicKey, 0, len(trustedKeyFlags))
	for _, k := range trustedKeyFlags {
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			log.Fatalf("decoding --trusted-key %q: %v", k, err)
		}
		trusted = append(trusted, ed25519.PublicKey(raw))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := updater.Config{
		Name:                  name,
		Platform:              platform,
		ManifestMirrors:       manifestMirrors,
		ArchiveMirrorBases:    archiveMirrorBases,
		DataDir:               dataDir,
		TLSInsecureSkipVerify: tlsInsecure,
		PatchesEnabled:        patchesEnabled,
		TrustedKeys:           trusted,
		Progress: []fetch.ProgressFunc{func(p fetch.Progress) {
			fmt.Fprintf(os.Stderr, "%s: %d/%d bytes\n", p.Status, p.Downloaded, p.Total)
		}},
	}

	result := updater.Run(ctx, cfg, updater.Instance{
		Version: inst.Version,
		Path:    inst.Path,
		Hash:    inst.Hash,
	}, liveExecPath, func(e fmt.Stringer) { fmt.Fprintln(os.Stderr, e.String()) })

	switch result.State {
	case updater.StateReady:
		fmt.Println("already up to date")
	case updater.StateRestarted:
		fmt.Printf("updated to %s, restarted\n", result.TargetVersion)
	default:
		log.Fatalf("update failed: state=%s reason=%s err=%v", result.State, result.FailReason, result.Err)
	}
}
