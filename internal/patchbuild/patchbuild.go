// Package patchbuild is the developer-side patch builder: it pairs each newly
// ingested package with the file that was "latest" before ingestion,
// running bsdiff jobs on a bounded worker pool, and recording the produced
// patch name/hash back onto the manifest.
package patchbuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/etnz/selfupdate/internal/bsdiff"
	"github.com/etnz/selfupdate/internal/digest"
	"github.com/etnz/selfupdate/internal/ingest"
	"github.com/etnz/selfupdate/internal/manifest"
)

// Job is one diff to perform: transform the bytes at SourcePath into the
// bytes at DestPath.
type Job struct {
	Index         int
	Name          string
	Platform      string
	SourceVersion string
	SourcePath    string
	DestVersion   string
	DestPath      string
}

// Result is the outcome of one Job. Err is nil on success.
type Result struct {
	Job       Job
	PatchName string
	PatchPath string
	PatchHash string
	Err       error
}

func priorLatestKey(name, platform string) string { return name + "\x1f" + platform }

// SnapshotLatest captures latest[name][platform] for every (name, platform)
// touched by pkgs, before ingest.Register is called. The result is the
// "latest before this ingestion" map PlanJobs requires.
func SnapshotLatest(m *manifest.Manifest, pkgs []ingest.Package) map[string]string {
	snap := make(map[string]string)
	seen := make(map[string]bool)
	for _, pkg := range pkgs {
		if !pkg.Status {
			continue
		}
		key := priorLatestKey(pkg.Name, pkg.Platform)
		if seen[key] {
			continue
		}
		seen[key] = true
		if v, ok := m.GetLatest(pkg.Name, pkg.Platform); ok {
			snap[key] = v
		}
	}
	return snap
}

// PlanJobs pairs each registered (already-in-manifest) package with its
// pre-ingestion "latest" file. A package with no prior latest is skipped:
// no diff job is created for it.
func PlanJobs(m *manifest.Manifest, registered []ingest.Package, priorLatest map[string]string, filesDir string, l Listener) []Job {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	var jobs []Job
	for _, pkg := range registered {
		sourceVersion, ok := priorLatest[priorLatestKey(pkg.Name, pkg.Platform)]
		if !ok {
			l(EventPatchSourceMissing{Name: pkg.Name, Platform: pkg.Platform, Version: pkg.Version})
			continue
		}
		sourceEntry, ok := m.GetEntry(pkg.Name, sourceVersion, pkg.Platform)
		if !ok {
			l(EventPatchSourceMissing{Name: pkg.Name, Platform: pkg.Platform, Version: pkg.Version})
			continue
		}
		jobs = append(jobs, Job{
			Index:         len(jobs),
			Name:          pkg.Name,
			Platform:      pkg.Platform,
			SourceVersion: sourceVersion,
			SourcePath:    filepath.Join(filesDir, sourceEntry.Filename),
			DestVersion:   pkg.Version,
			DestPath:      filepath.Join(filesDir, pkg.Filename),
		})
	}
	return jobs
}

// RunPool executes jobs on a worker pool sized to workers (0 means
// 2*runtime.NumCPU()). Each worker writes only to its own
// job's output filename and its own results slot, so no cross-worker
// synchronization is needed beyond the channel, the shared Counter's own
// lock, and the final wait.
func RunPool(jobs []Job, workers int, deployDir string, counter *Counter) []Result {
	if workers <= 0 {
		workers = 2 * runtime.NumCPU()
	}
	results := make([]Result, len(jobs))
	jobCh := make(chan Job)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				results[job.Index] = diffJob(job, deployDir, counter)
			}
		}()
	}
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()
	return results
}

func diffJob(job Job, deployDir string, counter *Counter) Result {
	source, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return Result{Job: job, Err: fmt.Errorf("patchbuild: reading source %s: %w", job.SourcePath, err)}
	}
	dest, err := os.ReadFile(job.DestPath)
	if err != nil {
		return Result{Job: job, Err: fmt.Errorf("patchbuild: reading dest %s: %w", job.DestPath, err)}
	}

	patch, err := bsdiff.Diff(source, dest)
	if err != nil {
		return Result{Job: job, Err: fmt.Errorf("patchbuild: diffing %s/%s: %w", job.Name, job.Platform, err)}
	}

	n := counter.Next(job.Name)
	patchName := fmt.Sprintf("%s-%s-%d", job.Name, job.Platform, n)
	patchPath := filepath.Join(deployDir, patchName)
	if err := os.WriteFile(patchPath, patch, 0o644); err != nil {
		return Result{Job: job, Err: fmt.Errorf("patchbuild: writing %s: %w", patchPath, err)}
	}
	return Result{Job: job, PatchName: patchName, PatchPath: patchPath, PatchHash: digest.Bytes(patch)}
}

// Build runs jobs to completion, records successful patches on m, and
// performs the post-build lifecycle move: the source artifact is removed
// from the active files directory, and the newly built package is copied
// to deploy (it already lives in files for the next cycle).
func Build(m *manifest.Manifest, jobs []Job, filesDir, deployDir string, workers int, counter *Counter, l Listener) []Result {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	results := RunPool(jobs, workers, deployDir, counter)

	for _, r := range results {
		if r.Err != nil {
			l(EventPatchFailed{Name: r.Job.Name, Platform: r.Job.Platform, Error: r.Err.Error()})
			continue
		}

		entry, _ := m.GetEntry(r.Job.Name, r.Job.DestVersion, r.Job.Platform)
		entry.PatchName = r.PatchName
		entry.PatchHash = r.PatchHash
		m.SetEntry(r.Job.Name, r.Job.DestVersion, r.Job.Platform, entry)
		l(EventPatchBuilt{Name: r.Job.Name, Platform: r.Job.Platform, PatchName: r.PatchName, PatchHash: r.PatchHash})

		os.Remove(r.Job.SourcePath)
		deployCopy := filepath.Join(deployDir, filepath.Base(r.Job.DestPath))
		if err := copyFile(r.Job.DestPath, deployCopy); err != nil {
			l(EventPatchFailed{Name: r.Job.Name, Platform: r.Job.Platform, Error: err.Error()})
		}
	}
	return results
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("patchbuild: opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("patchbuild: creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("patchbuild: copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
