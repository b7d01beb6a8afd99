package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clarabennett2626/logrelay/internal/source"
)

// filledModel returns a ready model of the given size holding n lines and
// following the newest one.
func filledModel(width, height, n int) Model {
	m := NewModel()
	m.width, m.height, m.ready = width, height, true
	for i := range n {
		m.lines = append(m.lines, fmt.Sprintf("line %d", i))
	}
	m.offset = m.maxOffset()
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModelFollowsByDefault(t *testing.T) {
	m := NewModel()
	if !m.autoScroll || len(m.lines) != 0 || m.maxLines != DefaultMaxLines {
		t.Errorf("unexpected zero model: follow=%v lines=%d max=%d", m.autoScroll, len(m.lines), m.maxLines)
	}
}

func TestGeometry(t *testing.T) {
	tests := []struct {
		height, lines     int
		wantVH, wantMaxOf int
	}{
		{24, 0, 21, 0},
		{24, 5, 21, 0},
		{24, 100, 21, 79},
		{2, 10, 1, 9},
	}
	for _, tt := range tests {
		m := filledModel(80, tt.height, tt.lines)
		if vh := m.viewHeight(); vh != tt.wantVH {
			t.Errorf("height %d: viewHeight = %d, want %d", tt.height, vh, tt.wantVH)
		}
		if mo := m.maxOffset(); mo != tt.wantMaxOf {
			t.Errorf("height %d, %d lines: maxOffset = %d, want %d", tt.height, tt.lines, mo, tt.wantMaxOf)
		}
	}
}

func TestScrollKeys(t *testing.T) {
	// 100 lines in a 21 row viewport: offsets run from 0 to 79.
	tests := []struct {
		name       string
		from       int
		key        tea.KeyMsg
		wantOffset int
		wantFollow bool
	}{
		{"down", 0, runeKey("j"), 1, false},
		{"up", 10, runeKey("k"), 9, false},
		{"up clamps at top", 0, runeKey("k"), 0, false},
		{"top", 50, runeKey("g"), 0, false},
		{"bottom", 0, runeKey("G"), 79, true},
		{"page down", 0, tea.KeyMsg{Type: tea.KeyPgDown}, 21, false},
		{"page up", 50, tea.KeyMsg{Type: tea.KeyPgUp}, 29, false},
		{"half page down", 0, runeKey("d"), 10, false},
		{"half page up", 30, runeKey("u"), 20, false},
		{"down onto last line follows", 78, runeKey("j"), 79, true},
		{"page down past end clamps", 70, runeKey("f"), 79, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := filledModel(80, 24, 100)
			m.offset, m.autoScroll = tt.from, false

			m = update(t, m, tt.key)
			if m.offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", m.offset, tt.wantOffset)
			}
			if m.autoScroll != tt.wantFollow {
				t.Errorf("follow = %v, want %v", m.autoScroll, tt.wantFollow)
			}
		})
	}
}

func TestNewLinesWhileFollowing(t *testing.T) {
	m := update(t, filledModel(80, 24, 30), LogMsg{Rendered: "new line"})
	if len(m.lines) != 31 || m.offset != m.maxOffset() {
		t.Errorf("lines=%d offset=%d, want 31 lines at offset %d", len(m.lines), m.offset, m.maxOffset())
	}
}

func TestNewLinesWhileScrolledUp(t *testing.T) {
	m := filledModel(80, 24, 50)
	m.offset, m.autoScroll = 5, false

	m = update(t, m, LogBatchMsg{Lines: []string{"a", "b", "c"}})
	if m.offset != 5 {
		t.Errorf("offset = %d, want 5", m.offset)
	}
	if len(m.lines) != 53 {
		t.Errorf("lines = %d, want 53", len(m.lines))
	}
}

func TestWindowResize(t *testing.T) {
	m := update(t, filledModel(80, 24, 100), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 || m.offset != m.maxOffset() {
		t.Errorf("following model after resize: %dx%d offset %d, want 120x40 offset %d",
			m.width, m.height, m.offset, m.maxOffset())
	}

	m = filledModel(80, 24, 100)
	m.offset, m.autoScroll = 10, false
	if m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40}); m.offset != 10 {
		t.Errorf("scrolled model moved to offset %d after resize, want 10", m.offset)
	}
}

func TestView(t *testing.T) {
	if v := NewModel().View(); v != "Loading..." {
		t.Errorf("unsized View() = %q", v)
	}

	empty := filledModel(80, 24, 0).View()
	if !strings.Contains(empty, "Waiting for the relay") {
		t.Errorf("empty view lacks placeholder:\n%s", empty)
	}

	v := filledModel(80, 24, 5).View()
	for i := range 5 {
		if want := fmt.Sprintf("line %d", i); !strings.Contains(v, want) {
			t.Errorf("View() missing %q", want)
		}
	}
	if got := strings.Count(v, "\n"); got != 22 {
		t.Errorf("View() has %d newlines, want title plus 21 rows", got)
	}
}

func TestErrMsg(t *testing.T) {
	m := update(t, filledModel(80, 24, 0), ErrMsg{Err: fmt.Errorf("test error")})
	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "test error") {
		t.Errorf("lines = %q, want one error line", m.lines)
	}
}

func TestBufferCapDropsOldest(t *testing.T) {
	m := filledModel(80, 24, 0)
	m.maxLines = 3

	m = update(t, m, LogBatchMsg{Lines: []string{"a", "b", "c", "d", "e"}})

	if got := strings.Join(m.lines, ","); got != "c,d,e" {
		t.Errorf("lines = %q, want c,d,e", got)
	}
	if m.dropped != 2 {
		t.Errorf("dropped = %d, want 2", m.dropped)
	}
	if !strings.Contains(m.View(), " 5 ") {
		t.Error("status bar should count dropped lines in the total")
	}
}

func TestBufferCapKeepsScrolledOffsetOnContent(t *testing.T) {
	m := filledModel(80, 5, 0) // viewHeight = 2
	m.maxLines = 4
	m = update(t, m, LogBatchMsg{Lines: []string{"a", "b", "c", "d"}})
	m.autoScroll = false
	m.offset = 1 // showing b, c

	m = update(t, m, LogMsg{Rendered: "e"})

	if m.offset != 0 || m.lines[m.offset] != "b" {
		t.Errorf("offset = %d (%q), want 0 (b)", m.offset, m.lines[m.offset])
	}
}

func TestClosedMsg(t *testing.T) {
	m := NewModelForRelay("127.0.0.1:50006")
	m.width, m.height, m.ready = 120, 10, true

	if v := m.View(); !strings.Contains(v, "127.0.0.1:50006 (connected)") {
		t.Errorf("status bar missing relay state:\n%s", v)
	}

	m = update(t, m, ClosedMsg{})
	if m.connected {
		t.Error("connected should be false after ClosedMsg")
	}
	if v := m.View(); !strings.Contains(v, "(closed)") {
		t.Errorf("status bar should show closed relay:\n%s", v)
	}
}

func TestQuitKey(t *testing.T) {
	m := filledModel(80, 24, 0)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestWaitForLine(t *testing.T) {
	src := source.NewStreamSource(strings.NewReader("hello relay\n"))
	go src.Start(t.Context())

	r := plainRenderer(func(c *RenderConfig) { c.TimestampFormat = TimestampNone })
	cmd := WaitForLine(src, r)

	msg, ok := cmd().(LogMsg)
	if !ok {
		t.Fatalf("expected LogMsg")
	}
	if !strings.Contains(msg.Rendered, "hello relay") {
		t.Errorf("rendered = %q", msg.Rendered)
	}

	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	select {
	case msg := <-done:
		if _, ok := msg.(ClosedMsg); !ok {
			t.Errorf("expected ClosedMsg at end of stream, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for end of stream")
	}
}
