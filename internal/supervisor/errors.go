package supervisor

import (
	"errors"
	"fmt"

	"github.com/loykin/botvisor/internal/registry"
	"github.com/loykin/botvisor/internal/table"
)

var (
	ErrBotNotFound    = registry.ErrNotFound
	ErrBotExists      = registry.ErrExists
	ErrAlreadyRunning = table.ErrAlreadyRunning
	ErrNotRunning     = errors.New("bot not running")
	ErrShuttingDown   = errors.New("supervisor is shutting down")
)

// ConfigError reports a bot definition that failed validation.
type ConfigError struct {
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid bot definition %q: %v", e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SpawnError reports that the operating system refused to start the bot:
// missing working directory, missing shell, resource limits.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn bot %q: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SignalError reports that the termination signal could not be delivered.
type SignalError struct {
	Name string
	PID  int
	Err  error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal bot %q (pid %d): %v", e.Name, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }
