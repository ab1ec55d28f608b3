//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
)

// terminate has no SIGTERM equivalent on Windows; the process is killed.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessGone, err)
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("%w: %w", ErrProcessGone, err)
		}
		return err
	}
	return nil
}
