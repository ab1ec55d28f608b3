package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrProcessGone is returned by Terminate when no process received the
// signal.
var ErrProcessGone = errors.New("process already exited")

// Handle is one live OS process spawned for a bot. It is owned by the
// process table entry of that bot; Wait must be called exactly once, by the
// exit observer, after it has started reading both output streams.
type Handle struct {
	Name      string
	RunID     string
	PID       int
	StartedAt time.Time

	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	waitOnce sync.Once
	done     chan struct{}
	mu       sync.Mutex
	exit     ExitStatus
}

// Spawn starts the spec's command with its stdout and stderr connected to
// fresh pipes. The write ends belong to the child only, so the read ends hit
// EOF once every process holding them has exited.
func Spawn(spec Spec) (*Handle, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, err
	}
	closeAll(outW, errW)
	return &Handle{
		Name:      spec.Name,
		RunID:     uuid.NewString(),
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		stdout:    outR,
		stderr:    errR,
		done:      make(chan struct{}),
	}, nil
}

// Stdout returns the read end of the child's standard output.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr returns the read end of the child's standard error.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// Wait blocks until the process exits and reaps it. Subsequent calls return
// the recorded status without waiting again.
func (h *Handle) Wait() ExitStatus {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		st := exitStatusOf(h.cmd, err)
		h.mu.Lock()
		h.exit = st
		h.mu.Unlock()
		close(h.done)
	})
	<-h.done
	return h.ExitStatus()
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitStatus returns the recorded exit status; zero until Exited is true.
func (h *Handle) ExitStatus() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

// Terminate sends a single termination signal (SIGTERM to the process group
// on Unix). The group is signalled even after the shell has been reaped, so
// background children it left behind are reached too. It neither waits for
// the exit nor escalates.
func (h *Handle) Terminate() error {
	return terminate(h.PID)
}

// CloseOutput closes the read ends of both pipes, unblocking readers that
// are stuck because a detached grandchild still holds the write ends.
func (h *Handle) CloseOutput() {
	closeAll(h.stdout, h.stderr)
}

func closeAll(fs ...*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}
