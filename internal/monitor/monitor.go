// Package monitor tails log files and feeds their new lines to a sink.
//
// A Monitor owns one file and, while running, one polling goroutine. The
// Registry owns the set of monitors and enforces that names and paths are
// unique.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clarabennett2626/logrelay/internal/logging"
	"github.com/clarabennett2626/logrelay/internal/source"
)

const (
	// DefaultInterval is the pause between two size checks of a file.
	DefaultInterval = 250 * time.Millisecond

	// DefaultLineOffset selects the last line for previews.
	DefaultLineOffset = -1

	previewBytes = 4096
)

// Status is the lifecycle state of a Monitor.
type Status int32

const (
	// Offline is only observed while a Monitor is being constructed.
	Offline Status = iota
	// Standby monitors exist but do not poll.
	Standby
	// Running monitors poll their file.
	Running
)

func (s Status) String() string {
	switch s {
	case Standby:
		return "STANDBY"
	case Running:
		return "RUNNING"
	default:
		return "OFFLINE"
	}
}

// Config identifies the file a Monitor tails and how to decode it.
type Config struct {
	Name     string
	Path     string
	Encoding source.Encoding
	// LineOffset picks the preview line from the end of the file when
	// negative, from the start of the trailing chunk otherwise.
	LineOffset int
}

// Option configures a Monitor.
type Option func(*options)

type options struct {
	interval time.Duration
	logger   *slog.Logger
	notify   bool
}

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger used for lifecycle and read errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotify makes the poller also wake on filesystem write events for the
// file. Polling at the configured interval continues either way.
func WithNotify(enabled bool) Option {
	return func(o *options) { o.notify = enabled }
}

func buildOptions(opts []Option) options {
	o := options{interval: DefaultInterval}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Monitor tails a single file. Its name, path, encoding and line offset are
// fixed at construction; only Start and Stop change its status.
type Monitor struct {
	name       string
	path       string
	enc        source.Encoding
	lineOffset int

	sink     source.Sink
	interval time.Duration
	notify   bool
	logger   *slog.Logger

	status atomic.Int32

	// mu serializes Start and Stop; it is held while Stop joins the poller.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor in Standby. The path is made absolute; the file
// does not have to exist until Start.
func New(cfg Config, sink source.Sink, opts ...Option) (*Monitor, error) {
	if sink == nil {
		return nil, errors.New("monitor requires a sink")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Path, err)
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = source.UTF8
	}
	if _, err := source.ParseEncoding(string(enc)); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	m := &Monitor{
		name:       cfg.Name,
		path:       abs,
		enc:        enc,
		lineOffset: cfg.LineOffset,
		sink:       sink,
		interval:   o.interval,
		notify:     o.notify,
	}
	m.status.Store(int32(Offline))
	m.logger = logging.Component(o.logger, "monitor").With("name", m.name)
	m.status.Store(int32(Standby))
	m.logger.Debug("created", "path", m.path, "encoding", m.enc)
	return m, nil
}

// Name returns the unique name the monitor was registered under.
func (m *Monitor) Name() string { return m.name }

// Path returns the absolute path of the tailed file.
func (m *Monitor) Path() string { return m.path }

// Encoding returns the encoding new bytes are decoded with.
func (m *Monitor) Encoding() source.Encoding { return m.enc }

// LineOffset returns the index Preview uses to pick a line.
func (m *Monitor) LineOffset() int { return m.lineOffset }

// Status reports the current lifecycle state.
func (m *Monitor) Status() Status { return Status(m.status.Load()) }

func (m *Monitor) String() string {
	return fmt.Sprintf("%s - %s", m.name, m.Status())
}

// Start begins polling. It is a no-op on a running Monitor. The file's
// current size, rounded down to a whole code unit, becomes the watermark
// before Start returns, so anything
// appended afterwards is emitted. If the file cannot be inspected the
// failure is logged and returned and the Monitor stays in Standby.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Status() == Running {
		return nil
	}

	// The watcher is in place before the size is read, so every write
	// after the watermark also produces an event.
	var watcher *fsnotify.Watcher
	if m.notify {
		w, err := m.watch()
		if err != nil {
			m.logger.Warn("file events unavailable, polling only", "err", err)
		} else {
			watcher = w
		}
	}

	info, err := os.Stat(m.path)
	if err != nil {
		if watcher != nil {
			watcher.Close()
		}
		m.logger.Error("failed to start", "path", m.path, "err", err)
		return fmt.Errorf("start %s: %w", m.name, err)
	}

	decoder := source.NewLineDecoder(m.enc)
	if head, err := readRange(m.path, 0, 4); err == nil {
		decoder.Sniff(head)
	}
	// A writer may be halfway through a code unit; the torn unit is read
	// again with the rest of its line.
	watermark := decoder.Align(info.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	go m.run(ctx, done, watcher, decoder, watermark)

	m.status.Store(int32(Running))
	m.logger.Info("started", "path", m.path)
	return nil
}

// Stop cancels polling and blocks until the poller has exited, so no read
// or emission happens after it returns. It is a no-op in Standby.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Status() != Running {
		return
	}

	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil

	m.status.Store(int32(Standby))
	m.logger.Info("stopped", "path", m.path)
}

// Communicate hands lines to the sink in order.
func (m *Monitor) Communicate(lines []string) {
	if len(lines) == 0 {
		return
	}
	entries := make([]source.LogEntry, len(lines))
	for i, l := range lines {
		entries[i] = source.LogEntry{Line: l, Source: m.name}
	}
	m.sink.Push(entries...)
}

// Preview returns the line selected by the line offset from the last few
// kilobytes of the file, or "" when the offset is out of range.
func (m *Monitor) Preview() (string, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return "", err
	}
	size := info.Size()

	decoder := source.NewLineDecoder(m.enc)
	if head, err := readRange(m.path, 0, 4); err == nil {
		decoder.Sniff(head)
	}

	start := size - previewBytes
	if start < 0 {
		start = 0
	}
	start -= start % 4
	chunk, err := readRange(m.path, start, size)
	if err != nil {
		return "", err
	}

	lines := decoder.Lines(chunk, start)
	idx := m.lineOffset
	if idx < 0 {
		idx += len(lines)
	}
	if idx < 0 || idx >= len(lines) {
		return "", nil
	}
	return lines[idx], nil
}

// run is the polling loop. watermark is the offset up to which the file
// has been emitted; it only moves forward. run closes watcher on exit.
func (m *Monitor) run(ctx context.Context, done chan<- struct{}, watcher *fsnotify.Watcher, decoder *source.LineDecoder, watermark int64) {
	defer close(done)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != m.path || !event.Has(fsnotify.Write) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
			} else {
				m.logger.Debug("file event error", "err", err)
			}
			continue
		}
		watermark = m.poll(decoder, watermark)
	}
}

// poll runs one detection cycle and returns the new watermark. Growth past
// the watermark is read, decoded and emitted; anything else, including
// truncation, leaves the watermark where it was.
func (m *Monitor) poll(decoder *source.LineDecoder, watermark int64) int64 {
	info, err := os.Stat(m.path)
	if err != nil {
		m.logger.Warn("stat failed", "path", m.path, "err", err)
		return watermark
	}
	size := info.Size()
	if size <= watermark {
		return watermark
	}

	chunk, err := readRange(m.path, watermark, size)
	if err != nil {
		m.logger.Warn("read failed", "path", m.path, "err", err)
		return watermark
	}
	lines, consumed, err := decoder.Split(chunk, watermark)
	if err != nil {
		m.logger.Warn("skipping undecodable chunk", "path", m.path, "offset", watermark, "err", err)
		return watermark
	}

	m.Communicate(lines)
	return watermark + int64(consumed)
}

func (m *Monitor) watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching directory %s: %w", filepath.Dir(m.path), err)
	}
	return watcher, nil
}

// readRange returns bytes [from, to) of the file at path.
func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return buf[:n], nil
}
