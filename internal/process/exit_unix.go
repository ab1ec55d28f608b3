//go:build !windows

package process

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func decodeState(ps *os.ProcessState) ExitStatus {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: ps.ExitCode()}
	}
	if ws.Signaled() {
		return ExitStatus{Code: -1, Signal: signalName(unix.Signal(ws.Signal()))}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}
