//go:build !windows

package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// terminate sends a single SIGTERM to the process group led by pid. The
// group id stays valid after the leader is reaped for as long as any member
// is alive.
func terminate(pid int) error {
	err := unix.Kill(-pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%w: process group %d: %w", ErrProcessGone, pid, err)
	}
	return err
}

// signalName returns the conventional name ("SIGTERM") of a signal number.
func signalName(sig unix.Signal) string {
	if n := unix.SignalName(sig); n != "" {
		return n
	}
	return sig.String()
}
