package crypt

import "golang.org/x/sys/unix"

// lockMemory pins key material so it cannot be swapped to disk. Failure
// is tolerated: unprivileged processes may exceed RLIMIT_MEMLOCK.
func lockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Mlock(b)
}
