package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

type Var map[string]string

// Env composes the environment handed to every spawned bot. It is safe for
// concurrent use: Merge runs on every start while the daemon may still be
// applying configuration.
type Env struct {
	mu    sync.RWMutex
	vars  Var  // global variables (K->V)
	base  Var  // cached base from OS environment
	useOS bool // inherit the daemon's own environment
}

// New returns an Env. With useOS the daemon's environment is the base that
// global variables override; otherwise bots see only the global variables.
func New(useOS bool) *Env {
	return &Env{vars: make(Var), useOS: useOS}
}

// FromOS (re)captures the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitPair(kv); ok {
			base[k] = v
		}
	}
	e.mu.Lock()
	e.base = base
	e.mu.Unlock()
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.mu.Lock()
	e.vars[k] = v
	e.mu.Unlock()
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	e.mu.Lock()
	delete(e.vars, k)
	e.mu.Unlock()
}

// SetPairs applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := splitPair(kv); ok {
			e.Set(k, v)
		}
	}
}

// LoadFiles reads dotenv files in order, later files overriding earlier ones.
func (e *Env) LoadFiles(paths ...string) error {
	for _, p := range paths {
		m, err := godotenv.Read(filepath.Clean(p))
		if err != nil {
			return fmt.Errorf("read env file %s: %w", p, err)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.Set(k, m[k])
		}
	}
	return nil
}

// Vars returns a copy of the global variables.
func (e *Env) Vars() Var {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(Var, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// Merge composes the final environment in "K=V" form, sorted by key:
// the OS base (when enabled), then global variables, then perBot entries.
// ${VAR} references are expanded once against the composed map; unknown
// references are kept verbatim.
func (e *Env) Merge(perBot []string) []string {
	if e.useOS {
		e.mu.RLock()
		cached := e.base != nil
		e.mu.RUnlock()
		if !cached {
			e.FromOS()
		}
	}
	m := make(Var)
	e.mu.RLock()
	if e.useOS {
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	e.mu.RUnlock()
	for _, kv := range perBot {
		if k, v, ok := splitPair(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func splitPair(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
