package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/botvisor/internal/registry"
	bg "github.com/loykin/botvisor/internal/registry/badger"
	"github.com/loykin/botvisor/internal/registry/jsonfile"
	pg "github.com/loykin/botvisor/internal/registry/postgres"
	sq "github.com/loykin/botvisor/internal/registry/sqlite"
)

// Config selects and configures a registry backend.
type Config struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

// Builder creates a store from config.
type Builder func(ctx context.Context, cfg Config, log *slog.Logger) (registry.Store, error)

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func init() {
	Register("json", func(_ context.Context, cfg Config, log *slog.Logger) (registry.Store, error) {
		return jsonfile.New(cfg.Path, log)
	})
	Register("sqlite", func(ctx context.Context, cfg Config, _ *slog.Logger) (registry.Store, error) {
		path := cfg.Path
		if strings.TrimSpace(cfg.DSN) != "" {
			path = strings.TrimPrefix(cfg.DSN, "sqlite://")
		}
		db, err := sq.New(path)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
		return db, nil
	})
	pgBuilder := func(ctx context.Context, cfg Config, _ *slog.Logger) (registry.Store, error) {
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, errors.New("postgres registry requires dsn")
		}
		db, err := pg.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return db, nil
	}
	Register("postgres", pgBuilder)
	Register("postgresql", pgBuilder)
	Register("badger", func(_ context.Context, cfg Config, _ *slog.Logger) (registry.Store, error) {
		return bg.Open(bg.OpenOptions{Path: cfg.Path})
	})
}

// Register adds or replaces the builder for a backend type.
func Register(storeType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[storeType] = b
}

// SupportedTypes returns the registered backend types, sorted.
func SupportedTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New creates the store for cfg. An empty type is inferred from the DSN
// (postgres:// or sqlite://) and otherwise defaults to the JSON file.
func New(ctx context.Context, cfg Config, log *slog.Logger) (registry.Store, error) {
	t := strings.ToLower(strings.TrimSpace(cfg.Type))
	if t == "" {
		t = inferType(cfg.DSN)
	}
	mu.RLock()
	b, ok := builders[t]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported registry type: %s (supported: %v)", t, SupportedTypes())
	}
	return b(ctx, cfg, log)
}

// Open creates the store for cfg and loads it into a Registry.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*registry.Registry, error) {
	st, err := New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	r, err := registry.Open(ctx, st, registry.WithLogger(log))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return r, nil
}

func inferType(dsn string) string {
	ld := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(ld, "sqlite://"):
		return "sqlite"
	default:
		return "json"
	}
}
