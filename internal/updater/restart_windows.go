//go:build windows

package updater

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// detachedProcessFlags combines DETACHED_PROCESS and
// CREATE_NEW_PROCESS_GROUP so the host script survives this process
// exiting and is not killed alongside it.
const detachedProcessFlags = 0x00000008 | 0x00000200

// platformRestart performs the Windows delayed-replace dance:
// the running .exe cannot be overwritten while it is mapped into memory, so
// the updater writes a small host script into the application directory,
// launches it detached, and returns so the caller can exit immediately.
// The script itself waits for this process to exit, moves the staged
// executable over the live one, relaunches it, and deletes itself.
func platformRestart(liveExecPath, stagedExecPath string) error {
	scriptPath, err := writeHostScript(liveExecPath, stagedExecPath)
	if err != nil {
		return err
	}
	cmd := exec.Command("cmd.exe", "/C", scriptPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: detachedProcessFlags}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("updater: launching delayed-replace script: %w", err)
	}
	return nil
}

// hostScriptTemplate waits ~5 seconds for the parent to exit (ping is the
// traditional cmd.exe sleep substitute, since there is no built-in sleep),
// moves the staged executable over the live one, launches the replaced
// executable, then deletes itself.
const hostScriptTemplate = `@echo off
ping -n 6 127.0.0.1 >nul
move /Y "%s" "%s"
start "" "%s"
del "%%~f0"
`

func writeHostScript(liveExecPath, stagedExecPath string) (string, error) {
	dir := filepath.Dir(liveExecPath)
	scriptPath := filepath.Join(dir, "selfupdate-apply.bat")
	content := fmt.Sprintf(hostScriptTemplate, stagedExecPath, liveExecPath, liveExecPath)
	if err := os.WriteFile(scriptPath, []byte(content), 0o755); err != nil {
		return "", fmt.Errorf("updater: writing delayed-replace script: %w", err)
	}
	return scriptPath, nil
}
