// Package catalog holds the set of remote MCP servers users may connect to.
// The catalog is a JSON file that can be edited while the service runs; Watch
// reloads it when it changes on disk.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/invopop/jsonschema"
)

// ErrUnknownServer is returned by Lookup for an id not in the catalog.
var ErrUnknownServer = errors.New("catalog: unknown server")

// Server is one catalog entry.
type Server struct {
	ID            string                  `json:"id" jsonschema:"minLength=1,description=Stable identifier used by clients"`
	Name          string                  `json:"name" jsonschema:"minLength=1,description=Display name"`
	URL           string                  `json:"url" jsonschema:"format=uri,description=MCP endpoint URL"`
	Transport     mcpclient.TransportType `json:"transport" jsonschema:"enum=sse,enum=streamable_http"`
	RequiresOAuth bool                    `json:"requiresOauth,omitempty" jsonschema:"description=Whether the server requires OAuth authorization"`
	Description   string                  `json:"description,omitempty"`
}

// File is the on-disk catalog document.
type File struct {
	Servers []Server `json:"servers"`
}

// Schema returns the JSON Schema of the catalog file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(File))
	s.Title = "MCP server catalog"
	return s
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Servers))
	for i, s := range f.Servers {
		if s.ID == "" {
			return nil, fmt.Errorf("catalog: server %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("catalog: duplicate server id %q", s.ID)
		}
		seen[s.ID] = true
		if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("catalog: server %q has invalid url %q", s.ID, s.URL)
		}
		if !s.Transport.Valid() {
			return nil, fmt.Errorf("catalog: server %q has unsupported transport %q", s.ID, s.Transport)
		}
	}
	return &f, nil
}

// Catalog is a concurrency-safe view of the servers in a catalog file.
type Catalog struct {
	path     string
	log      *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	servers map[string]Server
}

// Option configures a Catalog.
type Option func(*Catalog)

func WithLogger(l *slog.Logger) Option { return func(c *Catalog) { c.log = l } }

// WithReloadDebounce sets how long Watch waits after the last change before
// reloading. Defaults to 250ms.
func WithReloadDebounce(d time.Duration) Option { return func(c *Catalog) { c.debounce = d } }

// New returns an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{log: slog.Default(), debounce: 250 * time.Millisecond, servers: map[string]Server{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the catalog at path. The path is remembered for Reload and
// Watch.
func Load(path string, opts ...Option) (*Catalog, error) {
	c := New(opts...)
	c.path = path
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the catalog contents for servers.
func (c *Catalog) Replace(servers []Server) {
	m := make(map[string]Server, len(servers))
	for _, s := range servers {
		m[s.ID] = s
	}
	c.mu.Lock()
	c.servers = m
	c.mu.Unlock()
}

// Reload re-reads the catalog file. On error the current contents are kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}
	c.Replace(f.Servers)
	return nil
}

// Lookup returns the server with id.
func (c *Catalog) Lookup(id string) (Server, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[id]
	if !ok {
		return Server{}, fmt.Errorf("%w: %q", ErrUnknownServer, id)
	}
	return s, nil
}

// List returns every server ordered by name.
func (c *Catalog) List() []Server {
	c.mu.RLock()
	out := make([]Server, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// The parent directory is watched so that editors replacing the file by
// rename are observed.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return errors.New("catalog: no file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	abs, err := filepath.Abs(c.path)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	db := &debouncer{interval: c.debounce, fire: func() {
		if err := c.Reload(); err != nil {
			c.log.WarnContext(ctx, "catalog.reload.failed", slog.String("path", c.path), slog.String("err", err.Error()))
			return
		}
		c.log.InfoContext(ctx, "catalog.reloaded", slog.String("path", c.path))
	}}
	defer db.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				db.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.DebugContext(ctx, "catalog.watch.error", slog.String("err", err.Error()))
		}
	}
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fire     func()
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interval <= 0 {
		d.fire()
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.fire)
		return
	}
	d.timer.Reset(d.interval)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
