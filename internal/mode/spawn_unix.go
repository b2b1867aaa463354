//go:build !windows

package mode

import (
	"os"
	"os/exec"
	"syscall"
)

// spawnDetached launches the agent in its own session so it outlives the CLI
// process and ignores terminal signals.
func spawnDetached(agentPath string) (int, error) {
	cmd := exec.Command(agentPath, "--ephemeral")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// processAlive reports whether pid refers to a live process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
