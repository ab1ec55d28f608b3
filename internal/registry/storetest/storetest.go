// Package storetest holds the behaviour every registry.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises st: empty load, save/load round trip, replacing the set and
// reopening through a Registry.
func Run(t *testing.T, st registry.Store) {
	t.Helper()
	ctx := context.Background()

	defs, err := st.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)

	want := map[string]bot.Definition{
		"alpha": {Name: "alpha", Category: "python", Path: "/srv/alpha", StartCommand: "python main.py"},
		"beta":  {Name: "beta", Category: "custom", Path: "/srv/beta", StartCommand: "./run.sh --port 8080"},
	}
	require.NoError(t, st.SaveAll(ctx, want))
	got, err := st.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	delete(want, "alpha")
	want["gamma"] = bot.Definition{Name: "gamma", Category: "node", Path: "/srv/g", StartCommand: "node index.js"}
	require.NoError(t, st.SaveAll(ctx, want))
	got, err = st.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	r, err := registry.Open(ctx, st)
	require.NoError(t, err)
	_, err = r.Add(ctx, bot.Definition{Name: "delta", Path: "/srv/d", StartCommand: "true"})
	require.NoError(t, err)
	_, err = r.Remove(ctx, "beta")
	require.NoError(t, err)

	got, err = st.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "gamma")
	assert.Equal(t, "custom", got["delta"].Category)

	require.NoError(t, st.SaveAll(ctx, map[string]bot.Definition{}))
	got, err = st.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
