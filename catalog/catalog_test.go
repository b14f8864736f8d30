package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"servers":[
  {"id":"linear","name":"Linear","url":"https://mcp.linear.app/sse","transport":"sse","requiresOauth":true},
  {"id":"docs","name":"Docs","url":"https://docs.example/mcp","transport":"streamable_http"}
]}`

func writeCatalog(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadLookupList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, sample)

	c, err := Load(path)
	require.NoError(t, err)

	s, err := c.Lookup("linear")
	require.NoError(t, err)
	assert.Equal(t, mcpclient.TransportSSE, s.Transport)
	assert.True(t, s.RequiresOAuth)

	_, err = c.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownServer)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Docs", list[0].Name)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"missing id":    `{"servers":[{"url":"https://a.example","transport":"sse"}]}`,
		"duplicate id":  `{"servers":[{"id":"a","url":"https://a.example","transport":"sse"},{"id":"a","url":"https://b.example","transport":"sse"}]}`,
		"bad url":       `{"servers":[{"id":"a","url":"ftp://a.example","transport":"sse"}]}`,
		"bad transport": `{"servers":[{"id":"a","url":"https://a.example","transport":"ws"}]}`,
		"not json":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestReloadKeepsContentsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, sample)
	c, err := Load(path)
	require.NoError(t, err)

	writeCatalog(t, path, `{"servers":[{"id":""}]}`)
	assert.Error(t, c.Reload())
	assert.Len(t, c.List(), 2)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, sample)
	c, err := Load(path, WithReloadDebounce(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeCatalog(t, path, `{"servers":[{"id":"solo","name":"Solo","url":"https://solo.example/mcp","transport":"streamable_http"}]}`)

	require.Eventually(t, func() bool {
		_, err := c.Lookup("solo")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, c.List(), 1)
}

func TestSchema(t *testing.T) {
	raw, err := json.Marshal(Schema())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "object", doc["type"])
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "servers")
}
