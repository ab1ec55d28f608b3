package bot

import (
	"errors"
	"strings"
)

// DefaultCategory is applied when a definition is added without a category.
const DefaultCategory = "custom"

var (
	ErrEmptyName    = errors.New("bot name is required")
	ErrUnsafeName   = errors.New("bot name may only contain [A-Za-z0-9._-] and must not contain '..'")
	ErrEmptyPath    = errors.New("bot path is required")
	ErrEmptyCommand = errors.New("bot startCommand is required")
)

// Definition is the launch configuration of a bot. It is immutable once
// registered; changing it means remove then add.
//
// StartCommand is executed through a command interpreter (/bin/sh -c on
// Unix) with Path as working directory, so it carries the same injection
// exposure as a shell prompt.
type Definition struct {
	Name         string `json:"name"`
	Category     string `json:"type"`
	Path         string `json:"path"`
	StartCommand string `json:"startCommand"`
}

// WithDefaults returns a copy with surrounding whitespace trimmed and the
// default category filled in.
func (d Definition) WithDefaults() Definition {
	d.Name = strings.TrimSpace(d.Name)
	d.Category = strings.TrimSpace(d.Category)
	d.Path = strings.TrimSpace(d.Path)
	d.StartCommand = strings.TrimSpace(d.StartCommand)
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	return d
}

// Validate checks the definition invariants. The name ends up in log file
// names so it is restricted to a filename-safe alphabet.
func (d Definition) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if !IsSafeName(d.Name) {
		return ErrUnsafeName
	}
	if d.Path == "" {
		return ErrEmptyPath
	}
	if d.StartCommand == "" {
		return ErrEmptyCommand
	}
	return nil
}

// IsSafeName reports whether s can be used as a bot name.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func IsSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
