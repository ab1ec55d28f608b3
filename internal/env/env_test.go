package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedenceAndExpansion(t *testing.T) {
	e := New(false)
	e.SetPairs([]string{"A=1", "B=${A}-x", "=skip", "nope"})
	out := e.Merge([]string{"B=override", "C=${B}/${MISSING}"})
	assert.Equal(t, []string{"A=1", "B=override", "C=override/${MISSING}"}, out)
}

func TestMergeWithOSBase(t *testing.T) {
	t.Setenv("BOTVISOR_ENV_TEST", "from-os")
	e := New(true)
	e.Set("BOTVISOR_GLOBAL", "${BOTVISOR_ENV_TEST}+g")
	out := e.Merge(nil)
	assert.Contains(t, out, "BOTVISOR_ENV_TEST=from-os")
	assert.Contains(t, out, "BOTVISOR_GLOBAL=from-os+g")

	noOS := New(false).Merge(nil)
	assert.Empty(t, noOS)
}

func TestUnset(t *testing.T) {
	e := New(false)
	e.Set("A", "1")
	e.Unset("A")
	assert.Empty(t, e.Vars())
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	require.NoError(t, os.WriteFile(first, []byte("# comment\nTOKEN=abc\nexport MODE=dev\nQUOTED=\"x y\"\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("MODE=prod\n"), 0o600))

	e := New(false)
	require.NoError(t, e.LoadFiles(first, second))
	vars := e.Vars()
	assert.Equal(t, "abc", vars["TOKEN"])
	assert.Equal(t, "prod", vars["MODE"])
	assert.Equal(t, "x y", vars["QUOTED"])

	err := e.LoadFiles(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

// FuzzMerge checks that Merge never panics and always yields K=V pairs with
// non-empty keys.
func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Add("X=${Y", "Y=${X}}")

	f.Fuzz(func(t *testing.T, global, per string) {
		e := New(false)
		e.SetPairs(strings.Split(global, "\n"))
		for _, kv := range e.Merge(strings.Split(per, "\n")) {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
