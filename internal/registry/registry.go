package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loykin/botvisor/internal/bot"
)

var (
	ErrExists   = errors.New("bot already exists")
	ErrNotFound = errors.New("bot not found")
)

// Store persists the complete set of bot definitions. Backends always see
// the whole set so every save is a consistent snapshot.
type Store interface {
	LoadAll(ctx context.Context) (map[string]bot.Definition, error)
	SaveAll(ctx context.Context, defs map[string]bot.Definition) error
	Close() error
}

// Registry is the in-memory view of the stored definitions. Reads are
// served from memory; mutations are written through to the Store and
// rolled back in memory when the write fails.
type Registry struct {
	mu   sync.RWMutex
	st   Store
	defs map[string]bot.Definition
	log  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for load warnings (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// Open loads every definition from st. Stored definitions are kept as they
// were written; entries that fail validation are skipped with a warning and
// are dropped from the store by the next save.
func Open(ctx context.Context, st Store, opts ...Option) (*Registry, error) {
	if st == nil {
		return nil, errors.New("registry store is nil")
	}
	r := &Registry{st: st, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	defs, err := st.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bot definitions: %w", err)
	}
	if defs == nil {
		defs = make(map[string]bot.Definition)
	}
	for name, d := range defs {
		d.Name = name
		if err := d.Validate(); err != nil {
			r.log.Warn("skipping invalid stored bot definition", "bot", name, "error", err)
			delete(defs, name)
			continue
		}
		defs[name] = d
	}
	r.defs = defs
	return r, nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (bot.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []bot.Definition {
	r.mu.RLock()
	out := make([]bot.Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Add validates d, stores it and persists the new set.
func (r *Registry) Add(ctx context.Context, d bot.Definition) (bot.Definition, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return bot.Definition{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.Name]; ok {
		return bot.Definition{}, fmt.Errorf("%w: %s", ErrExists, d.Name)
	}
	r.defs[d.Name] = d
	if err := r.st.SaveAll(ctx, r.snapshot()); err != nil {
		delete(r.defs, d.Name)
		return bot.Definition{}, fmt.Errorf("persist bot definitions: %w", err)
	}
	return d, nil
}

// Remove deletes name and persists the new set.
func (r *Registry) Remove(ctx context.Context, name string) (bot.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[name]
	if !ok {
		return bot.Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.defs, name)
	if err := r.st.SaveAll(ctx, r.snapshot()); err != nil {
		r.defs[name] = d
		return bot.Definition{}, fmt.Errorf("persist bot definitions: %w", err)
	}
	return d, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.st.Close()
}

func (r *Registry) snapshot() map[string]bot.Definition {
	m := make(map[string]bot.Definition, len(r.defs))
	for k, v := range r.defs {
		m[k] = v
	}
	return m
}

// Memory is a Store that keeps definitions in process memory only.
type Memory struct {
	mu   sync.Mutex
	defs map[string]bot.Definition
	// FailSave makes SaveAll return this error when set.
	FailSave error
}

// NewMemory returns a Memory store seeded with defs.
func NewMemory(defs ...bot.Definition) *Memory {
	m := &Memory{defs: make(map[string]bot.Definition)}
	for _, d := range defs {
		m.defs[d.Name] = d
	}
	return m
}

func (m *Memory) LoadAll(context.Context) (map[string]bot.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyDefs(m.defs), nil
}

func (m *Memory) SaveAll(_ context.Context, defs map[string]bot.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.defs = copyDefs(defs)
	return nil
}

func (m *Memory) Close() error { return nil }

func copyDefs(in map[string]bot.Definition) map[string]bot.Definition {
	out := make(map[string]bot.Definition, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
