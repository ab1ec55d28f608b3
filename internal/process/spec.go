package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Spec describes one spawn of a bot's start command.
type Spec struct {
	Name    string   // bot name, used for diagnostics only
	Command string   // shell command line
	WorkDir string   // working directory; must exist
	Env     []string // full environment; nil inherits the supervisor's
}

var errEmptyCommand = errors.New("empty command")

// BuildCommand constructs the *exec.Cmd for the spec. The command line is
// always handed to the platform shell so that multi-word commands such as
// "python main.py" or "node bot.js --token $TOKEN" resolve the way they would
// at a terminal. No sandboxing is applied.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	line := strings.TrimSpace(s.Command)
	if line == "" {
		return nil, errEmptyCommand
	}
	if s.WorkDir != "" {
		fi, err := os.Stat(s.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("working directory %s is not a directory", s.WorkDir)
		}
	}
	cmd := shellCommand(line)
	cmd.Dir = s.WorkDir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}
