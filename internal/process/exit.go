package process

import (
	"errors"
	"os/exec"
	"strconv"
)

// ExitStatus describes how a bot process terminated. Code is meaningful
// only when Signal is empty; a process killed by a signal has no exit code.
type ExitStatus struct {
	Code   int
	Signal string
	// Err is set when waiting failed for a reason other than a non-zero
	// exit (e.g. the process could not be reaped).
	Err error
}

// Signaled reports whether the process was terminated by a signal.
func (e ExitStatus) Signaled() bool { return e.Signal != "" }

// String renders the payload of an EXIT log record:
// "code=0 signal=null" or "code=null signal=SIGTERM".
func (e ExitStatus) String() string {
	code := "null"
	sig := "null"
	if e.Signaled() {
		sig = e.Signal
	} else {
		code = strconv.Itoa(e.Code)
	}
	s := "code=" + code + " signal=" + sig
	if e.Err != nil {
		s += " error=" + strconv.Quote(e.Err.Error())
	}
	return s
}

// Outcome is a low-cardinality label for metrics.
func (e ExitStatus) Outcome() string {
	switch {
	case e.Err != nil:
		return "error"
	case e.Signaled():
		return "signaled"
	case e.Code == 0:
		return "success"
	default:
		return "failed"
	}
}

// exitStatusOf decodes the result of cmd.Wait.
func exitStatusOf(cmd *exec.Cmd, waitErr error) ExitStatus {
	ps := cmd.ProcessState
	if ps == nil {
		if waitErr == nil {
			waitErr = errors.New("process state unavailable")
		}
		return ExitStatus{Code: -1, Err: waitErr}
	}
	st := decodeState(ps)
	var ee *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &ee) {
		st.Err = waitErr
	}
	return st
}
