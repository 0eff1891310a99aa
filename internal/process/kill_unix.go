//go:build !windows

package process

import "syscall"

// KillProcessGroup sends SIGKILL to the process group led by pid, taking
// down the browser and its renderer and GPU helpers with it.
// Non-positive pids are ignored: -0 would target our own group.
func KillProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	// Errors ignored: launcher.Kill runs afterwards on the main process.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
