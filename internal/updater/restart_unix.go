//go:build !windows

package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// platformRestart performs the Unix swap: the staged
// executable is copied over the live one through a same-directory temp
// file and rename (so the swap never crosses a filesystem boundary, and a
// failed rename can be unwound from a backup), then the current process
// image is replaced in place via exec(2), preserving argv[0].
//
// On success this call never returns: the process image is gone.
func platformRestart(liveExecPath, stagedExecPath string) error {
	if err := swapInPlace(liveExecPath, stagedExecPath); err != nil {
		return err
	}
	return syscall.Exec(liveExecPath, os.Args, os.Environ())
}

// swapInPlace writes the new bytes to a sibling temp file, renames the
// live executable aside, renames the temp file into place, and only then
// discards the backup. Any failure after the first rename restores it.
func swapInPlace(liveExecPath, stagedExecPath string) error {
	data, err := os.ReadFile(stagedExecPath)
	if err != nil {
		return fmt.Errorf("updater: reading staged executable: %w", err)
	}

	dir := filepath.Dir(liveExecPath)
	tmp, err := os.CreateTemp(dir, ".selfupdate-*")
	if err != nil {
		return fmt.Errorf("updater: creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("updater: writing staged executable: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("updater: closing staged executable: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("updater: marking staged executable executable: %w", err)
	}

	backup := liveExecPath + ".bak"
	if err := os.Rename(liveExecPath, backup); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("updater: backing up live executable: %w", err)
	}
	if err := os.Rename(tmpPath, liveExecPath); err != nil {
		os.Rename(backup, liveExecPath)
		return fmt.Errorf("updater: swapping in new executable: %w", err)
	}
	os.Remove(backup)
	return nil
}
