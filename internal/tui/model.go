package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clarabennett2626/logrelay/internal/source"
)

// DefaultMaxLines bounds the scrollback buffer.
const DefaultMaxLines = 10000

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Background(lipgloss.Color("#333333")).
			Bold(true).
			Padding(0, 1)
)

// LogMsg carries a rendered relay line into the TUI.
type LogMsg struct {
	Rendered string
}

// LogBatchMsg carries multiple rendered lines at once.
type LogBatchMsg struct {
	Lines []string
}

// ErrMsg carries a stream error into the TUI.
type ErrMsg struct {
	Err error
}

// ClosedMsg reports that the relay closed the connection.
type ClosedMsg struct{}

// Model is the viewer for one relay connection.
type Model struct {
	width  int
	height int
	ready  bool

	// Log buffer; stores rendered strings for display.
	lines    []string
	maxLines int
	dropped  int

	// Virtual scrolling state.
	offset     int  // index of the first visible line
	autoScroll bool // stick to bottom when new lines arrive

	addr      string
	connected bool
}

// NewModel creates a viewer that is not attached to a relay.
func NewModel() Model {
	return Model{
		autoScroll: true,
		maxLines:   DefaultMaxLines,
	}
}

// NewModelForRelay creates a viewer for a live connection to addr.
func NewModelForRelay(addr string) Model {
	m := NewModel()
	m.addr = addr
	m.connected = true
	return m
}

// viewHeight is the number of rows left for lines once the title and
// status bar are drawn.
func (m Model) viewHeight() int {
	return max(m.height-3, 1)
}

func (m Model) maxOffset() int {
	return max(len(m.lines)-m.viewHeight(), 0)
}

func (m Model) isAtBottom() bool {
	return m.offset >= m.maxOffset()
}

// scrollTo moves the viewport to offset, clamped to the buffer. Following
// resumes whenever the viewport ends up on the newest line.
func (m *Model) scrollTo(offset int) {
	m.offset = min(max(offset, 0), m.maxOffset())
	m.autoScroll = m.isAtBottom()
}

// appendLines adds to the buffer, discarding the oldest lines beyond
// maxLines and keeping a scrolled-up viewport on the same content.
func (m *Model) appendLines(lines ...string) {
	m.lines = append(m.lines, lines...)
	if over := len(m.lines) - m.maxLines; m.maxLines > 0 && over > 0 {
		m.lines = append(m.lines[:0:0], m.lines[over:]...)
		m.dropped += over
		m.offset -= over
	}
	if m.autoScroll {
		m.offset = m.maxOffset()
	}
	m.offset = min(max(m.offset, 0), m.maxOffset())
}

// scrollStep returns how many rows key moves the viewport, given a
// viewport of vh rows.
func scrollStep(key string, vh int) (int, bool) {
	switch key {
	case "j", "down":
		return 1, true
	case "k", "up":
		return -1, true
	case "pgdown", "f", "ctrl+f":
		return vh, true
	case "pgup", "b", "ctrl+b":
		return -vh, true
	case "d", "ctrl+d":
		return vh / 2, true
	case "u", "ctrl+u":
		return -vh / 2, true
	}
	return 0, false
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g", "home":
			m.scrollTo(0)
			m.autoScroll = false
		case "G", "end":
			m.scrollTo(m.maxOffset())
			m.autoScroll = true
		default:
			if step, ok := scrollStep(key, m.viewHeight()); ok {
				m.scrollTo(m.offset + step)
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height, m.ready = msg.Width, msg.Height, true
		if m.autoScroll {
			m.offset = m.maxOffset()
		}
		m.offset = min(max(m.offset, 0), m.maxOffset())

	case LogMsg:
		m.appendLines(msg.Rendered)
	case LogBatchMsg:
		m.appendLines(msg.Lines...)
	case ErrMsg:
		m.appendLines(fmt.Sprintf("ERROR: %v", msg.Err))
	case ClosedMsg:
		m.connected = false
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("logrelay"))
	b.WriteByte('\n')
	m.writeViewport(&b)
	b.WriteString(m.statusBar())
	return b.String()
}

// writeViewport writes exactly viewHeight rows: the visible slice of the
// buffer, or a placeholder while nothing has been relayed.
func (m Model) writeViewport(b *strings.Builder) {
	vh := m.viewHeight()
	rows := make([]string, vh)
	if len(m.lines) == 0 {
		if vh >= 2 {
			rows[vh/2-1] = "  No lines relayed yet."
		}
		rows[vh/2] = "  Waiting for the relay..."
	} else {
		end := min(m.offset+vh, len(m.lines))
		copy(rows, m.lines[max(m.offset, 0):end])
	}
	for _, row := range rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}
}

func (m Model) statusBar() string {
	pos := "bottom"
	if len(m.lines) > 0 && !m.isAtBottom() {
		pct := 0
		if mo := m.maxOffset(); mo > 0 {
			pct = m.offset * 100 / mo
		}
		pos = fmt.Sprintf("%d%%", pct)
	}

	relay := m.addr
	if relay == "" {
		relay = "none"
	}
	state := "connected"
	if !m.connected {
		state = "closed"
	}

	field := func(key, value string) string {
		return statusKeyStyle.Render(key) + statusBarStyle.Render(" "+value+" ")
	}
	left := field("Lines:", fmt.Sprint(len(m.lines)+m.dropped)) +
		field("Relay:", fmt.Sprintf("%s (%s)", relay, state))
	right := field("Pos:", pos)

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return statusBarStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// WaitForLine returns a tea.Cmd that reads one line from src and renders
// it. It yields ClosedMsg once the stream has ended.
func WaitForLine(src *source.StreamSource, r *Renderer) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-src.Lines()
		if !ok {
			return ClosedMsg{}
		}
		return LogMsg{Rendered: r.RenderLine(entry.Line, r.Now())}
	}
}

// ListenForLines forwards every line and error of src to prog from
// background goroutines, followed by ClosedMsg when the stream ends.
func ListenForLines(src *source.StreamSource, r *Renderer, prog *tea.Program) {
	go func() {
		for entry := range src.Lines() {
			prog.Send(LogMsg{Rendered: r.RenderLine(entry.Line, r.Now())})
		}
		prog.Send(LogMsg{Rendered: r.RenderNotice("relay closed the connection")})
		prog.Send(ClosedMsg{})
	}()
	go func() {
		for err := range src.Errors() {
			prog.Send(ErrMsg{Err: err})
		}
	}()
}
