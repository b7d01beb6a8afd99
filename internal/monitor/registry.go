package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/clarabennett2626/logrelay/internal/logging"
	"github.com/clarabennett2626/logrelay/internal/source"
)

var (
	ErrDuplicateName = errors.New("monitor name already exists")
	ErrDuplicatePath = errors.New("monitor path already exists")
	ErrNotFound      = errors.New("monitor not found")
	ErrRunning       = errors.New("monitor is running")
	ErrInvalidName   = errors.New("monitor name is empty")
)

// Registry holds the active monitors in insertion order. Add, Remove, Find
// and List are mutually exclusive.
type Registry struct {
	mu       sync.Mutex
	monitors []*Monitor

	sink   source.Sink
	opts   []Option
	logger *slog.Logger
}

// NewRegistry returns an empty registry whose monitors push to sink and are
// built with opts.
func NewRegistry(sink source.Sink, opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		sink:   sink,
		opts:   opts,
		logger: logging.Component(o.logger, "registry"),
	}
}

// Add creates a Standby monitor. It fails without changing the registry if
// the name or the absolute path is already taken.
func (r *Registry) Add(cfg Config) (*Monitor, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Path, err)
	}
	for _, m := range r.monitors {
		if m.name == cfg.Name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, cfg.Name)
		}
		if m.path == abs {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, abs)
		}
	}

	cfg.Path = abs
	m, err := New(cfg, r.sink, r.opts...)
	if err != nil {
		return nil, err
	}
	r.monitors = append(r.monitors, m)
	r.logger.Info("monitor added", "name", m.name, "path", m.path, "encoding", m.enc)
	return m, nil
}

// Remove deletes a stopped monitor. A running monitor must be stopped
// first; removing it returns ErrRunning.
func (r *Registry) Remove(name string) error {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.monitors {
		if m.name != name {
			continue
		}
		if m.Status() == Running {
			return fmt.Errorf("%w: stop %s before removing it", ErrRunning, name)
		}
		r.monitors = append(r.monitors[:i:i], r.monitors[i+1:]...)
		r.logger.Info("monitor removed", "name", name)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Find returns the monitor with the given name.
func (r *Registry) Find(name string) (*Monitor, error) {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.monitors {
		if m.name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List returns a snapshot of the monitors in insertion order.
func (r *Registry) List() []*Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Monitor, len(r.monitors))
	copy(out, r.monitors)
	return out
}

// StopAll stops every running monitor, waiting for each poller to exit.
func (r *Registry) StopAll() {
	for _, m := range r.List() {
		m.Stop()
	}
}
