// Package pathconfig stores named log locations: a directory plus the file
// name prefix of the rotating logs inside it.
//
// The catalog is persisted as a JSON object mapping each name to a
// [directory, prefix] pair:
//
//	{"game": ["/var/log/game", "game_"]}
//
// Comments and trailing commas are tolerated when reading.
package pathconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/tidwall/jsonc"

	"github.com/clarabennett2626/logrelay/internal/source"
)

// DefaultFileName is the catalog file name used when none is configured.
const DefaultFileName = "config_log.json"

var (
	ErrUnknownPath  = errors.New("no saved path with that name")
	ErrInvalidEntry = errors.New("path name, directory and prefix must not be empty")
)

// Entry is one saved location.
type Entry struct {
	Name   string
	Dir    string
	Prefix string
}

// Catalog is the in-memory view of the catalog file. It is safe for
// concurrent use.
type Catalog struct {
	path string
	ext  string
	lock *flock.Flock

	mu      sync.RWMutex
	entries map[string]Entry
}

// Load reads the catalog at path, creating an empty one if it does not
// exist yet. ext is the log file extension used by Resolve; empty means
// source.DefaultExtension.
func Load(path, ext string) (*Catalog, error) {
	if ext == "" {
		ext = source.DefaultExtension
	}
	c := &Catalog{
		path:    path,
		ext:     ext,
		lock:    flock.New(path + ".lock"),
		entries: map[string]Entry{},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := c.Save(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	raw := map[string][2]string{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for name, pair := range raw {
		c.entries[name] = Entry{Name: name, Dir: pair[0], Prefix: pair[1]}
	}
	return c, nil
}

// Path returns the file the catalog is persisted to.
func (c *Catalog) Path() string { return c.path }

// Set adds or overwrites an entry. The directory is made absolute.
func (c *Catalog) Set(name, dir, prefix string) (Entry, error) {
	name, dir, prefix = strings.TrimSpace(name), strings.TrimSpace(dir), strings.TrimSpace(prefix)
	if name == "" || dir == "" || prefix == "" {
		return Entry{}, ErrInvalidEntry
	}
	abs, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return Entry{}, fmt.Errorf("resolving %s: %w", dir, err)
	}

	e := Entry{Name: name, Dir: abs, Prefix: prefix}
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	return e, nil
}

// Get returns the entry saved under name.
func (c *Catalog) Get(name string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.TrimSpace(name)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownPath, name)
	}
	return e, nil
}

// Entries returns all entries sorted by name.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports how many entries are saved.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resolve returns the newest log file for the named entry.
func (c *Catalog) Resolve(name string) (string, error) {
	e, err := c.Get(name)
	if err != nil {
		return "", err
	}
	return source.FindLatest(e.Dir, e.Prefix, c.ext)
}

// Save writes the catalog to disk atomically while holding an advisory
// lock on "<path>.lock".
func (c *Catalog) Save() error {
	c.mu.RLock()
	raw := make(map[string][2]string, len(c.entries))
	for name, e := range c.entries {
		raw[name] = [2]string{e.Dir, e.Prefix}
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding path catalog: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("ensure catalog directory: %w", err)
	}
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", c.lock.Path(), err)
	}
	defer func() { _ = c.lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".config_log-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace %s: %w", c.path, err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
