//go:build darwin

package housekeeping

import "golang.org/x/sys/unix"

// checkPIDAlive sends signal 0 to pid, matching the original's macOS
// branch of check_pid_alive: ESRCH means dead, EPERM means alive but
// owned by another user, nil means alive.
func checkPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
