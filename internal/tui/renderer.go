// Package tui provides the terminal viewer for a relay stream.
package tui

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// TimestampFormat controls how receive times are displayed.
type TimestampFormat int

const (
	// TimestampRelative shows "2 minutes ago", "3 hours ago", etc.
	TimestampRelative TimestampFormat = iota
	// TimestampISO shows ISO 8601 format.
	TimestampISO
	// TimestampLocal shows local time format.
	TimestampLocal
	// TimestampNone hides the receive time.
	TimestampNone
)

// Theme represents terminal color theme.
type Theme int

const (
	ThemeDark Theme = iota
	ThemeLight
)

// ANSIMode controls how ANSI escape codes in relayed lines are handled.
type ANSIMode int

const (
	ANSIStrip ANSIMode = iota
	ANSIPassthrough
)

// WrapMode controls how long lines are handled.
type WrapMode int

const (
	WrapTruncate WrapMode = iota
	WrapWrap
)

// RenderConfig holds rendering configuration.
type RenderConfig struct {
	TimestampFormat TimestampFormat
	Theme           Theme
	ANSIMode        ANSIMode
	WrapMode        WrapMode
	TerminalWidth   int
	Now             func() time.Time // for testing; defaults to time.Now
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() RenderConfig {
	return RenderConfig{
		TimestampFormat: TimestampLocal,
		Theme:           ThemeDark,
		ANSIMode:        ANSIStrip,
		WrapMode:        WrapTruncate,
		TerminalWidth:   120,
		Now:             time.Now,
	}
}

// Renderer renders relayed lines as styled terminal output.
type Renderer struct {
	config RenderConfig
	styles themeStyles
}

type themeStyles struct {
	timestamp lipgloss.Style
	message   lipgloss.Style
	notice    lipgloss.Style
	separator lipgloss.Style
}

func darkStyles() themeStyles {
	return themeStyles{
		timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("243")), // dim gray
		message:   lipgloss.NewStyle().Foreground(lipgloss.Color("255")), // white
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("220")), // yellow
		separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // dark gray
	}
}

func lightStyles() themeStyles {
	return themeStyles{
		timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		message:   lipgloss.NewStyle().Foreground(lipgloss.Color("0")),
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("172")),
		separator: lipgloss.NewStyle().Foreground(lipgloss.Color("249")),
	}
}

// NewRenderer creates a new Renderer with the given config.
func NewRenderer(config RenderConfig) *Renderer {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.TerminalWidth <= 0 {
		config.TerminalWidth = 120
	}
	styles := darkStyles()
	if config.Theme == ThemeLight {
		styles = lightStyles()
	}
	return &Renderer{config: config, styles: styles}
}

// Now returns the renderer's clock.
func (r *Renderer) Now() time.Time { return r.config.Now() }

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// RenderLine renders a relayed line received at the given time.
func (r *Renderer) RenderLine(line string, received time.Time) string {
	var parts []string
	if ts := r.formatTimestamp(received); ts != "" {
		parts = append(parts, r.styles.timestamp.Render(ts))
	}
	if r.config.ANSIMode == ANSIStrip {
		line = StripANSI(line)
	}
	parts = append(parts, r.styles.message.Render(line))

	return r.applyWrap(strings.Join(parts, r.styles.separator.Render(" │ ")))
}

// RenderLinePlain renders without styling (for piping/testing visible text).
func (r *Renderer) RenderLinePlain(line string, received time.Time) string {
	if r.config.ANSIMode == ANSIStrip {
		line = StripANSI(line)
	}
	if ts := r.formatTimestamp(received); ts != "" {
		return ts + " │ " + line
	}
	return line
}

// RenderNotice renders a status message from the viewer itself, such as a
// lost connection.
func (r *Renderer) RenderNotice(text string) string {
	return r.applyWrap(r.styles.notice.Render("── " + text + " ──"))
}

func (r *Renderer) formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	switch r.config.TimestampFormat {
	case TimestampRelative:
		return humanize.RelTime(t, r.config.Now(), "ago", "from now")
	case TimestampISO:
		return t.Format(time.RFC3339)
	case TimestampLocal:
		return t.Format("15:04:05")
	case TimestampNone:
		return ""
	default:
		return t.Format(time.RFC3339)
	}
}

func (r *Renderer) applyWrap(line string) string {
	width := r.config.TerminalWidth
	if width <= 0 {
		return line
	}
	switch r.config.WrapMode {
	case WrapWrap:
		return lipgloss.NewStyle().Width(width).Render(line)
	default:
		if lipgloss.Width(line) > width {
			return truncateToWidth(line, width-1) + "…"
		}
		return line
	}
}

// truncateToWidth truncates a string with ANSI codes to fit a visible width.
// Escape sequences are copied through so styling stays balanced.
func truncateToWidth(s string, width int) string {
	visible := 0
	inEscape := false
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\x1b' {
			inEscape = true
			b.WriteByte(c)
			i++
			continue
		}
		if inEscape {
			b.WriteByte(c)
			i++
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				inEscape = false
			}
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		if visible < width {
			b.WriteString(s[i : i+size])
			visible++
		}
		i += size
	}
	return b.String()
}
