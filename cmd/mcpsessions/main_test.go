package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogSchema(t *testing.T) {
	out, err := run(t, "catalog", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"servers"`)
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"servers":[{"id":"a","name":"A","url":"https://a.example/mcp","transport":"sse"}]}`), 0o600))
	out, err := run(t, "catalog", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 servers")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"servers":[{"id":"a","url":"nope","transport":"ws"}]}`), 0o600))
	_, err = run(t, "catalog", "validate", bad)
	assert.Error(t, err)
}

func TestSessionsAgainstMemoryBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")

	out, err := run(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")

	out, err = run(t, "sessions", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 sessions")

	_, err = run(t, "sessions", "clear")
	assert.Error(t, err)
	out, err = run(t, "sessions", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 sessions")
}
