package wizard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clarabennett2626/logrelay/internal/logging"
	"github.com/clarabennett2626/logrelay/internal/monitor"
	"github.com/clarabennett2626/logrelay/internal/outqueue"
	"github.com/clarabennett2626/logrelay/internal/pathconfig"
	"github.com/clarabennett2626/logrelay/internal/source"
)

type fixture struct {
	registry *monitor.Registry
	catalog  *pathconfig.Catalog
	logDir   string
	logFile  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	logFile := filepath.Join(logDir, "game_1.txt")
	if err := os.WriteFile(logFile, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := pathconfig.Load(filepath.Join(dir, "config_log.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Set("game", logDir, "game_"); err != nil {
		t.Fatal(err)
	}

	reg := monitor.NewRegistry(outqueue.New(),
		monitor.WithInterval(20*time.Millisecond),
		monitor.WithLogger(logging.Nop()))
	t.Cleanup(reg.StopAll)

	return &fixture{registry: reg, catalog: cat, logDir: logDir, logFile: logFile}
}

func (f *fixture) run(t *testing.T, input string, opts ...Option) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	w := New(f.registry, f.catalog, strings.NewReader(input), &out, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Run(ctx)
	return out.String(), err
}

func TestRun_EOFEndsSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, ""); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestRun_QuitStopsReading(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "quit\nadd\n1\ngame\n1\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(f.registry.List()) != 0 {
		t.Error("commands after quit were executed")
	}
	if strings.Contains(out, "Monitor added") {
		t.Errorf("unexpected output after quit:\n%s", out)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "dance\n\n", WithMaxFailures(0))
	if err != nil {
		t.Fatalf("unknown commands must not count as failures, got %v", err)
	}
	if !strings.Contains(out, "unknown command") {
		t.Errorf("output missing unknown command message:\n%s", out)
	}
}

func TestAdd_QuickStart(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "add\n2\ngame\n1\n")
	if err != nil {
		t.Fatal(err)
	}

	m, err := f.registry.Find("game")
	if err != nil {
		t.Fatalf("monitor not added:\n%s", out)
	}
	if m.Status() != monitor.Running {
		t.Errorf("status = %s, want RUNNING", m.Status())
	}
	if m.Path() != f.logFile {
		t.Errorf("path = %q, want %q", m.Path(), f.logFile)
	}
	if m.Encoding() != source.UTF8 || m.LineOffset() != monitor.DefaultLineOffset {
		t.Errorf("quick add used %s / %d", m.Encoding(), m.LineOffset())
	}
	if !strings.Contains(out, "Monitor added: game - RUNNING") {
		t.Errorf("output missing confirmation:\n%s", out)
	}
}

func TestAdd_CustomRepromptsInvalidInput(t *testing.T) {
	f := newFixture(t)
	input := strings.Join([]string{
		"add",
		"9", "3", // mode
		"raw",
		"x", "1", // path
		"2",        // encoding
		"abc", "0", // line offset
	}, "\n") + "\n"

	out, err := f.run(t, input)
	if err != nil {
		t.Fatal(err)
	}

	m, err := f.registry.Find("raw")
	if err != nil {
		t.Fatalf("monitor not added:\n%s", out)
	}
	if m.Status() != monitor.Standby {
		t.Errorf("status = %s, want STANDBY", m.Status())
	}
	if m.Encoding() != source.UTF16 {
		t.Errorf("encoding = %s, want utf-16", m.Encoding())
	}
	if m.LineOffset() != 0 {
		t.Errorf("line offset = %d, want 0", m.LineOffset())
	}
	if strings.Count(out, "Invalid selection") != 2 {
		t.Errorf("expected two re-prompts for selections:\n%s", out)
	}
	if !strings.Contains(out, "Invalid offset") {
		t.Errorf("expected re-prompt for offset:\n%s", out)
	}
}

func TestAdd_DuplicateNameIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "add\n1\ngame\n1\nadd\n1\ngame\n", WithMaxFailures(0))
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("output missing duplicate message:\n%s", out)
	}
	if n := len(f.registry.List()); n != 1 {
		t.Errorf("registry has %d monitors, want 1", n)
	}
}

func TestAdd_NoSavedPaths(t *testing.T) {
	f := newFixture(t)
	empty, err := pathconfig.Load(filepath.Join(t.TempDir(), "config_log.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	f.catalog = empty

	out, err := f.run(t, "add\n1\ngame\n", WithMaxFailures(0))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no saved paths") {
		t.Errorf("output missing no-paths message:\n%s", out)
	}
}

func TestAdd_NoMatchingLogFile(t *testing.T) {
	f := newFixture(t)
	os.Remove(f.logFile)

	out, err := f.run(t, "add\n1\ngame\n1\n", WithMaxFailures(0))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, source.ErrNoLogFile.Error()) {
		t.Errorf("output missing no-log-file message:\n%s", out)
	}
	if len(f.registry.List()) != 0 {
		t.Error("monitor added without a log file")
	}
}

func TestStartStopRemove(t *testing.T) {
	f := newFixture(t)
	input := strings.Join([]string{
		"add", "1", "game", "1",
		"start", "1",
		"remove", "game",
		"stop", "game",
		"remove", "1",
	}, "\n") + "\n"

	out, err := f.run(t, input, WithMaxFailures(0))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Monitor started: game - RUNNING",
		"stop game before removing it",
		"Monitor stopped: game - STANDBY",
		"Monitor removed: game",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := len(f.registry.List()); n != 0 {
		t.Errorf("registry has %d monitors, want 0", n)
	}
}

func TestSelect_NoMonitors(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "start\nlist\n", WithMaxFailures(0))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "there are no monitors") != 2 {
		t.Errorf("expected no-monitors message twice:\n%s", out)
	}
}

func TestList_ShowsPreview(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "add\n1\ngame\n1\nlist\n")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Preview", "game", "STANDBY", "utf-8", "hello", "6 B"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestPath_SavesCatalog(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	out, err := f.run(t, "path\nsrv\n"+dir+"\nsrv_\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Path saved: srv") {
		t.Errorf("output missing confirmation:\n%s", out)
	}

	reloaded, err := pathconfig.Load(f.catalog.Path(), "")
	if err != nil {
		t.Fatal(err)
	}
	e, err := reloaded.Get("srv")
	if err != nil {
		t.Fatalf("saved path not on disk: %v", err)
	}
	if e.Dir != dir || e.Prefix != "srv_" {
		t.Errorf("entry = %+v", e)
	}
}

func TestRun_TooManyFailures(t *testing.T) {
	f := newFixture(t)

	// Replace the catalog directory with a file so every save fails.
	catDir := filepath.Join(t.TempDir(), "conf")
	cat, err := pathconfig.Load(filepath.Join(catDir, "config_log.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(catDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(catDir, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	f.catalog = cat

	input := strings.Repeat("path\nx\n/tmp\nx_\n", DefaultMaxFailures+2)
	out, err := f.run(t, input)
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("Run returned %v, want ErrTooManyFailures\n%s", err, out)
	}
	if got := strings.Count(out, "ERROR:"); got != DefaultMaxFailures+1 {
		t.Errorf("saw %d errors before exit, want %d", got, DefaultMaxFailures+1)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	w := New(f.registry, f.catalog, pr, io.Discard, WithLogger(logging.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ReaderExitsAfterCancel(t *testing.T) {
	f := newFixture(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	w := New(f.registry, f.catalog, pr, io.Discard, WithLogger(logging.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if _, err := pw.Write([]byte("list\n")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case line, ok := <-w.lines:
		if ok {
			t.Fatalf("reader still delivering %q after Run returned", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine did not exit")
	}
}

func TestStartOrDiscard_RemovesMonitorThatCannotStart(t *testing.T) {
	f := newFixture(t)
	w := New(f.registry, f.catalog, strings.NewReader(""), io.Discard, WithLogger(logging.Nop()))

	m, err := f.registry.Add(monitor.Config{Name: "ghost", Path: filepath.Join(f.logDir, "missing.txt")})
	if err != nil {
		t.Fatal(err)
	}
	err = w.startOrDiscard(m)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("startOrDiscard = %v, want a not-exist error", err)
	}
	if _, err := f.registry.Find("ghost"); err == nil {
		t.Error("monitor that failed to start is still registered")
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want int
		ok   bool
	}{
		{"1", 3, 1, true},
		{"3", 3, 3, true},
		{"0", 3, 0, false},
		{"4", 3, 4, false},
		{"two", 3, 0, false},
		{"", 3, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseChoice(tt.in, tt.n)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseChoice(%q, %d) = %d, %v", tt.in, tt.n, got, ok)
		}
	}
}
