//go:build windows

package process

import "os"

func decodeState(ps *os.ProcessState) ExitStatus {
	return ExitStatus{Code: ps.ExitCode()}
}
