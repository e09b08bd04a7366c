// Package updater implements the client-side update state machine. It
// loads the manifest through internal/fetch, verifies it through
// internal/verifier, picks between a patch chain and a full download,
// applies the result through internal/applier and internal/archivepolicy,
// and finally swaps the running executable.
package updater

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/etnz/selfupdate/internal/applier"
	"github.com/etnz/selfupdate/internal/archivepolicy"
	"github.com/etnz/selfupdate/internal/digest"
	"github.com/etnz/selfupdate/internal/fetch"
	"github.com/etnz/selfupdate/internal/manifest"
	"github.com/etnz/selfupdate/internal/verifier"
	"github.com/etnz/selfupdate/internal/version"
)

// State is one node of the updater's state machine.
type State int

const (
	StateIdle State = iota
	StateHaveTarget
	StateTryPatch
	StateFullDownload
	StateDownloaded
	StateExtracted
	StateReady
	StateRestarted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHaveTarget:
		return "have-target"
	case StateTryPatch:
		return "try-patch"
	case StateFullDownload:
		return "full-download"
	case StateDownloaded:
		return "downloaded"
	case StateExtracted:
		return "extracted"
	case StateReady:
		return "ready"
	case StateRestarted:
		return "restarted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Failure reason strings surfaced on a terminal Failed state.
const (
	ReasonDownloadAllMirrorsFailed = "download-all-mirrors-failed"
	ReasonSignatureInvalid         = "signature-invalid"
	ReasonHashMismatch             = "hash-mismatch"
	ReasonSwapFailed               = "swap-failed"
	ReasonCancelled                = "cancelled"
	ReasonManifestInvalid          = "manifest-invalid"
	ReasonExtractFailed            = "extract-failed"
)

// Instance describes the application installation the updater is running
// against.
type Instance struct {
	// Version is the currently installed version string.
	Version string
	// Path is the archive file currently staged/installed for Version.
	Path string
	// Hash is the recorded hash for Path's bytes (manifest file_hash).
	Hash string
}

// Config parameterizes one Run.
type Config struct {
	Name                  string
	Platform              string
	ManifestMirrors       []string
	ArchiveMirrorBases    []string
	DataDir               string
	TLSInsecureSkipVerify bool
	PatchesEnabled        bool
	TrustedKeys           []ed25519.PublicKey
	Progress              []fetch.ProgressFunc
	Client                *http.Client

	// Restart performs the final executable swap. If nil, the build's
	// platformRestart (Unix in-process exec or Windows delayed-replace
	// script) is used. Tests inject a stub here to exercise the state
	// machine without actually replacing the test binary.
	Restart func(liveExecPath, stagedExecPath string) error
}

// Result is the outcome of one Run.
type Result struct {
	State         State
	FailReason    string
	TargetVersion string
	StagedPath    string
	ExtractedPath string
	Err           error
}

func stagingDir(dataDir string) string { return filepath.Join(dataDir, "update") }

func buildMirrorURLs(bases []string, filename string) []string {
	urls := make([]string, len(bases))
	for i, b := range bases {
		urls[i] = strings.TrimRight(b, "/") + "/" + filename
	}
	return urls
}

func emit(l Listener, from, to State) {
	l(EventStateChanged{From: from.String(), To: to.String()})
}

// failReason distinguishes a cancelled run from a genuine download failure:
// in-flight transfers surface the cancellation as a fetch error, but the
// terminal reason should still say "cancelled".
func failReason(ctx context.Context, fallback string) string {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return fallback
}

// Run drives the state machine to a terminal state (Ready, Restarted, or
// Failed) and returns the final result.
func Run(ctx context.Context, cfg Config, inst Instance, liveExecPath string, l Listener) Result {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	state := StateIdle

	if ctx.Err() != nil {
		return Result{State: StateFailed, FailReason: ReasonCancelled, Err: ctx.Err()}
	}

	manifestBytes, err := fetch.Fetch(ctx, fetch.Options{
		Mirrors:               cfg.ManifestMirrors,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		Client:                cfg.Client,
		Progress:              cfg.Progress,
	})
	if err != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: failReason(ctx, ReasonDownloadAllMirrorsFailed), Err: err}
	}

	m, err := manifest.Unmarshal(manifestBytes)
	if err != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonManifestInvalid, Err: err}
	}

	// No write happens anywhere below until the signature checks out.
	if err := verifier.Verify(m, cfg.TrustedKeys); err != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonSignatureInvalid, Err: err}
	}

	latestStr, ok := m.GetLatest(cfg.Name, cfg.Platform)
	if !ok {
		emit(l, state, StateReady)
		return Result{State: StateReady}
	}
	installed, err := version.Parse(inst.Version)
	if err != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonManifestInvalid, Err: err}
	}
	latest, err := version.Parse(latestStr)
	if err != nil || !latest.Greater(installed) {
		emit(l, state, StateReady)
		return Result{State: StateReady}
	}

	emit(l, state, StateHaveTarget)
	state = StateHaveTarget

	latestEntry, ok := m.GetEntry(cfg.Name, latestStr, cfg.Platform)
	if !ok {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonManifestInvalid, Err: fmt.Errorf("updater: no manifest entry for %s %s %s", cfg.Name, latestStr, cfg.Platform)}
	}

	var stagedPath string
	canTryPatch := cfg.PatchesEnabled
	if canTryPatch {
		installedBytes, err := os.ReadFile(inst.Path)
		if err != nil || digest.Bytes(installedBytes) != inst.Hash {
			canTryPatch = false
		} else {
			emit(l, state, StateTryPatch)
			state = StateTryPatch
			staged, err := tryPatch(ctx, cfg, m, installedBytes, inst, latestStr, latestEntry, l)
			if err == nil {
				stagedPath = staged
			} else {
				l(EventPatchFallback{Reason: err.Error()})
				emit(l, state, StateFullDownload)
				state = StateFullDownload
			}
		}
	}
	if !canTryPatch && stagedPath == "" {
		emit(l, state, StateFullDownload)
		state = StateFullDownload
	}

	if stagedPath == "" {
		if ctx.Err() != nil {
			emit(l, state, StateFailed)
			return Result{State: StateFailed, FailReason: ReasonCancelled, Err: ctx.Err()}
		}
		dest := filepath.Join(stagingDir(cfg.DataDir), latestEntry.Filename)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			emit(l, state, StateFailed)
			return Result{State: StateFailed, FailReason: ReasonDownloadAllMirrorsFailed, Err: err}
		}
		if err := fetch.FetchToFile(ctx, fetch.Options{
			Mirrors:               buildMirrorURLs(cfg.ArchiveMirrorBases, latestEntry.Filename),
			ExpectedHash:          latestEntry.FileHash,
			TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
			Client:                cfg.Client,
			Progress:              cfg.Progress,
		}, dest); err != nil {
			emit(l, state, StateFailed)
			return Result{State: StateFailed, FailReason: failReason(ctx, ReasonDownloadAllMirrorsFailed), Err: err}
		}
		stagedPath = dest
	}

	emit(l, state, StateDownloaded)
	state = StateDownloaded

	if ctx.Err() != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonCancelled, Err: ctx.Err()}
	}

	extractedRoot, err := archivepolicy.Extract(stagedPath, stagingDir(cfg.DataDir))
	if err != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonExtractFailed, Err: err}
	}
	emit(l, state, StateExtracted)
	state = StateExtracted

	purgeStale(stagingDir(cfg.DataDir), cfg.Name, latestStr, l)

	restart := cfg.Restart
	if restart == nil {
		restart = platformRestart
	}
	stagedExec := archivepolicy.ExecutablePath(extractedRoot, cfg.Name, cfg.Platform)
	if err := restart(liveExecPath, stagedExec); err != nil {
		emit(l, state, StateFailed)
		return Result{State: StateFailed, FailReason: ReasonSwapFailed, Err: err}
	}

	emit(l, state, StateRestarted)
	return Result{State: StateRestarted, TargetVersion: latestStr, StagedPath: stagedPath, ExtractedPath: extractedRoot}
}

// tryPatch builds and applies the patch chain from inst.Version to
// latestVersion. Any failure here is non-fatal to the overall run: the
// caller falls back to a full download.
func tryPatch(ctx context.Context, cfg Config, m *manifest.Manifest, installedBytes []byte, inst Instance, latestVersion string, latestEntry manifest.Entry, l Listener) (string, error) {
	chain, ok := buildChain(m, cfg.Name, cfg.Platform, inst.Version, latestVersion)
	if !ok {
		return "", fmt.Errorf("patch-source-missing")
	}

	var patches []applier.Patch
	for _, e := range chain {
		data, err := fetch.Fetch(ctx, fetch.Options{
			Mirrors:               buildMirrorURLs(cfg.ArchiveMirrorBases, e.PatchName),
			ExpectedHash:          e.PatchHash,
			TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
			Client:                cfg.Client,
			Progress:              cfg.Progress,
		})
		if err != nil {
			return "", fmt.Errorf("patch-corrupt: %w", err)
		}
		patches = append(patches, applier.Patch{Name: e.PatchName, Bytes: data})
	}

	dest := stagingDir(cfg.DataDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("apply-failed: %w", err)
	}
	path, err := applier.Stage(installedBytes, inst.Hash, patches, latestEntry.FileHash, dest, latestEntry.Filename)
	if err != nil {
		return "", fmt.Errorf("apply-failed: %w", err)
	}
	return path, nil
}

// buildChain orders every recorded version strictly greater than
// fromVersion and at most toVersion, ascending, and requires each to carry
// a patch. If any intermediate entry lacks a patch, or the highest
// candidate isn't exactly toVersion, the chain is unusable.
func buildChain(m *manifest.Manifest, name, platform, fromVersion, toVersion string) ([]manifest.Entry, bool) {
	from, err := version.Parse(fromVersion)
	if err != nil {
		return nil, false
	}
	to, err := version.Parse(toVersion)
	if err != nil {
		return nil, false
	}

	type candidate struct {
		v   version.Version
		raw string
	}
	var candidates []candidate
	for _, vs := range m.Versions(name, platform) {
		v, err := version.Parse(vs)
		if err != nil {
			continue
		}
		if v.Greater(from) && v.LessOrEqual(to) {
			candidates = append(candidates, candidate{v: v, raw: vs})
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].v.Less(candidates[j].v) })
	if !candidates[len(candidates)-1].v.Equal(to) {
		return nil, false
	}

	var chain []manifest.Entry
	for _, c := range candidates {
		e, ok := m.GetEntry(name, c.raw, platform)
		if !ok || e.PatchName == "" || e.PatchHash == "" {
			return nil, false
		}
		chain = append(chain, e)
	}
	return chain, true
}

// parseArtifactName splits the "<name>-<platform>-<version>.<ext>" archive
// naming convention, independent of internal/ingest (a developer-side
// package this client-side code does not depend on). The version segment
// is returned as-is, unvalidated; callers decide how to treat garbage.
func parseArtifactName(filename string) (name, versionStr string, ok bool) {
	lower := strings.ToLower(filename)
	var base string
	switch {
	case strings.HasSuffix(lower, ".tar.gz"):
		base = filename[:len(filename)-len(".tar.gz")]
	case strings.HasSuffix(lower, ".zip"):
		base = filename[:len(filename)-len(".zip")]
	default:
		return "", "", false
	}
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return "", "", false
	}
	versionStr = parts[len(parts)-1]
	name = strings.Join(parts[:len(parts)-2], "-")
	return name, versionStr, true
}

// parseOrZero parses s as a version, substituting 0.0.0 on failure. Only
// used while purging: an artifact whose version segment is garbage sorts
// below every real release and gets cleaned up with the rest.
func parseOrZero(s string) version.Version {
	v, err := version.Parse(s)
	if err != nil {
		return version.Zero
	}
	return v
}

// purgeStale removes artifacts under dir whose parsed name matches name
// exactly and whose version is strictly less than installedVersion. A
// version segment that fails to parse counts as 0.0.0; files of a
// different name are left alone regardless of version.
func purgeStale(dir, name, installedVersion string, l Listener) {
	installed := parseOrZero(installedVersion)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, vs, ok := parseArtifactName(entry.Name())
		if !ok || n != name {
			continue
		}
		if !parseOrZero(vs).Less(installed) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err == nil {
			l(EventPurged{Path: path})
		}
	}
}
