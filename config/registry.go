package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/postrelay"
	"github.com/jpalmerr/postrelay/internal/source"
)

// ErrUnknownSource is returned when a named source is not in the file.
var ErrUnknownSource = errors.New("unknown source")

// FileRegistry is the configuration file acting as the relay's source
// registry. It keeps the document as written, with ${VAR} references intact,
// and only expands values when handing them out. Every mutation is saved
// atomically. Changes made by other processes are picked up on the next read.
type FileRegistry struct {
	path string

	mu      sync.Mutex
	raw     *Config
	modTime time.Time
}

// OpenRegistry loads path, writing [Default] there first if it does not exist.
func OpenRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.raw = Default()
		if err := r.saveLocked(); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		return r, nil
	}

	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the file backing the registry.
func (r *FileRegistry) Path() string { return r.path }

// reload re-reads the file and validates it. The previous document is kept
// on failure.
func (r *FileRegistry) reload() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	raw, err := parseRaw(data)
	if err != nil {
		return err
	}
	if err := raw.clone().expandAndValidate(); err != nil {
		return err
	}
	r.raw = raw
	r.modTime = info.ModTime()
	return nil
}

// refreshLocked reloads when the file changed on disk since it was last read
// or written. A broken edit is ignored until it is fixed.
func (r *FileRegistry) refreshLocked() {
	info, err := os.Stat(r.path)
	if err != nil || info.ModTime().Equal(r.modTime) {
		return
	}
	_ = r.reload()
}

// Config returns the current configuration with environment variables expanded.
func (r *FileRegistry) Config() (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()
	cfg := r.raw.clone()
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// List returns every source in file order.
func (r *FileRegistry) List(_ context.Context) ([]postrelay.Source, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	return BuildSources(cfg), nil
}

// SetLastChecked records t for name. Older timestamps are ignored, so
// last_checked never moves backwards.
func (r *FileRegistry) SetLastChecked(_ context.Context, name string, t time.Time) error {
	return r.update(name, func(s *SourceConfig) bool {
		if !t.After(s.LastChecked) {
			return false
		}
		s.LastChecked = t.UTC()
		return true
	})
}

// Route returns how name is fetched.
func (r *FileRegistry) Route(_ context.Context, name string) (source.Route, error) {
	cfg, err := r.Config()
	if err != nil {
		return source.Route{}, err
	}
	for _, s := range cfg.Sources {
		if s.Name == name {
			return source.Route{Kind: s.EffectiveKind(), URL: s.URL}, nil
		}
	}
	return source.Route{}, fmt.Errorf("%w %q", ErrUnknownSource, name)
}

// Add appends a source. The name must be new.
func (r *FileRegistry) Add(sc SourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()

	sc.Name = strings.TrimSpace(sc.Name)
	for _, s := range r.raw.Sources {
		if s.Name == sc.Name {
			return fmt.Errorf("source %q already exists", sc.Name)
		}
	}

	next := r.raw.clone()
	next.Sources = append(next.Sources, sc)
	if err := next.clone().expandAndValidate(); err != nil {
		return err
	}
	r.raw = next
	return r.saveLocked()
}

// Remove deletes a source.
func (r *FileRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()

	for i, s := range r.raw.Sources {
		if s.Name == name {
			next := r.raw.clone()
			next.Sources = append(next.Sources[:i], next.Sources[i+1:]...)
			r.raw = next
			return r.saveLocked()
		}
	}
	return fmt.Errorf("%w %q", ErrUnknownSource, name)
}

// SetInterval changes the polling interval of name.
func (r *FileRegistry) SetInterval(name string, minutes float64) error {
	if minutes <= 0 {
		return fmt.Errorf("interval must be a positive number of minutes, got %v", minutes)
	}
	return r.update(name, func(s *SourceConfig) bool {
		s.Interval = Minutes(minutes)
		return true
	})
}

// SetWebhook changes the delivery target of name. url may be a ${VAR}
// reference; an empty url unconfigures the source.
func (r *FileRegistry) SetWebhook(name, url string) error {
	return r.update(name, func(s *SourceConfig) bool {
		s.WebhookURL = url
		return true
	})
}

// SetEnabled toggles polling of name.
func (r *FileRegistry) SetEnabled(name string, enabled bool) error {
	return r.update(name, func(s *SourceConfig) bool {
		s.Enabled = &enabled
		return true
	})
}

// update applies fn to a copy of the entry of name. When fn reports a change
// the resulting document is validated and saved.
func (r *FileRegistry) update(name string, fn func(*SourceConfig) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()

	next := r.raw.clone()
	for i := range next.Sources {
		if next.Sources[i].Name != name {
			continue
		}
		if !fn(&next.Sources[i]) {
			return nil
		}
		if err := next.clone().expandAndValidate(); err != nil {
			return err
		}
		r.raw = next
		return r.saveLocked()
	}
	return fmt.Errorf("%w %q", ErrUnknownSource, name)
}

// Save writes the current document.
func (r *FileRegistry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// saveLocked writes to a temporary file in the same directory and renames it
// over the target, so readers never observe a partial document.
func (r *FileRegistry) saveLocked() error {
	data, err := yaml.Marshal(r.raw)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".postrelay-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}

	if info, err := os.Stat(r.path); err == nil {
		r.modTime = info.ModTime()
	}
	return nil
}
