//go:build windows

package mode

import (
	"os"
	"os/exec"
	"syscall"
)

const detachedProcess = 0x00000008

// spawnDetached launches the agent detached from the console so it outlives
// the CLI process.
func spawnDetached(agentPath string) (int, error) {
	cmd := exec.Command(agentPath, "--ephemeral")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// processAlive reports whether pid refers to a live process. FindProcess
// opens a real handle on Windows, so an error means the process is gone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
