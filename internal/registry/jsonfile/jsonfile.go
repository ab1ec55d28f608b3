// Package jsonfile stores bot definitions in a single JSON object keyed by
// bot name (the bots.json layout).
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/loykin/botvisor/internal/bot"
)

type entry struct {
	Type         string `json:"type"`
	Path         string `json:"path"`
	StartCommand string `json:"startCommand"`
}

// Store reads and writes the registry file. An advisory lock next to the
// file serialises access between processes; saves replace the file
// atomically through a rename.
type Store struct {
	path string
	lock *flock.Flock
	log  *slog.Logger
}

// New returns a store for path, creating the parent directory.
func New(path string, log *slog.Logger) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty registry file path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: p, lock: flock.New(p + ".lock"), log: log}, nil
}

// Path returns the registry file.
func (s *Store) Path() string { return s.path }

// LoadAll reads the file. A missing file is created as "{}". A file that
// cannot be parsed is reported and treated as empty so the daemon still
// comes up; it is overwritten on the next save.
func (s *Store) LoadAll(ctx context.Context) (map[string]bot.Definition, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock registry file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.write(map[string]entry{}); err != nil {
			return nil, err
		}
		return map[string]bot.Definition{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var raw map[string]entry
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Warn("registry file unreadable, starting with no bots", "path", s.path, "error", err)
		return map[string]bot.Definition{}, nil
	}
	out := make(map[string]bot.Definition, len(raw))
	for name, e := range raw {
		out[name] = bot.Definition{Name: name, Category: e.Type, Path: e.Path, StartCommand: e.StartCommand}
	}
	return out, nil
}

// SaveAll replaces the file contents with defs.
func (s *Store) SaveAll(ctx context.Context, defs map[string]bot.Definition) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock registry file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	raw := make(map[string]entry, len(defs))
	for name, d := range defs {
		raw[name] = entry{Type: d.Category, Path: d.Path, StartCommand: d.StartCommand}
	}
	return s.write(raw)
}

func (s *Store) write(raw map[string]entry) error {
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write registry file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}

// Close releases the lock handle.
func (s *Store) Close() error {
	return s.lock.Close()
}
