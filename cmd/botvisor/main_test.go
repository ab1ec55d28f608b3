package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "list", "add", "remove", "start", "stop", "logs", "login", "hash-password"} {
		assert.True(t, names[want], want)
	}
	for _, f := range []string{"config", "api-url", "api-timeout", "insecure", "token", "user", "password"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(f), f)
	}
}

func TestHelpMentionsBotvisor(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "botvisor")
}

func TestArgumentValidation(t *testing.T) {
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	root.SetArgs([]string{"start"})
	assert.Error(t, root.Execute(), "start needs a name")

	root.SetArgs([]string{"add", "--name=x"})
	assert.Error(t, root.Execute(), "add needs --path and --command")
}
