// Package wizard implements the interactive command surface used to manage
// monitors and saved paths from a terminal.
package wizard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/clarabennett2626/logrelay/internal/logging"
	"github.com/clarabennett2626/logrelay/internal/monitor"
	"github.com/clarabennett2626/logrelay/internal/pathconfig"
	"github.com/clarabennett2626/logrelay/internal/source"
)

// DefaultMaxFailures is how many unexpected command errors are tolerated
// before a session ends.
const DefaultMaxFailures = 5

// ErrTooManyFailures ends a session after repeated unexpected errors.
var ErrTooManyFailures = errors.New("too many failed commands")

var (
	errUnknownCommand = errors.New("unknown command")
	errNoPaths        = errors.New("there are no saved paths, add one with 'path'")
	errNoMonitors     = errors.New("there are no monitors, add one with 'add'")
)

const commandPrompt = "Command (list, add, remove, start, stop, path, quit)"

// Option configures a Wizard.
type Option func(*Wizard)

// WithLogger sets the logger used to record failed commands.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wizard) { w.logger = l }
}

// WithMaxFailures overrides DefaultMaxFailures.
func WithMaxFailures(n int) Option {
	return func(w *Wizard) {
		if n >= 0 {
			w.maxFailures = n
		}
	}
}

// Wizard reads commands line by line and applies them to a registry and a
// path catalog.
type Wizard struct {
	registry *monitor.Registry
	catalog  *pathconfig.Catalog
	out      io.Writer
	lines    <-chan string
	done     chan struct{}
	stopRead sync.Once

	logger      *slog.Logger
	maxFailures int
	styles      styles
}

type styles struct {
	prompt  lipgloss.Style
	scope   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		prompt:  r.NewStyle().Bold(true),
		scope:   r.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("#50FA7B")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#F1FA8C")),
		failure: r.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color("#6272A4")),
	}
}

// New returns a Wizard reading commands from in and writing prompts and
// results to out. Reading starts immediately in a background goroutine.
func New(registry *monitor.Registry, catalog *pathconfig.Catalog, in io.Reader, out io.Writer, opts ...Option) *Wizard {
	done := make(chan struct{})
	w := &Wizard{
		registry:    registry,
		catalog:     catalog,
		out:         out,
		lines:       scanLines(in, done),
		done:        done,
		maxFailures: DefaultMaxFailures,
		styles:      newStyles(out),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.Component(w.logger, "wizard")
	return w
}

// scanLines feeds lines from in to the returned channel until in ends or
// done is closed.
func scanLines(in io.Reader, done <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return ch
}

// Run processes commands until the input ends, the user quits or ctx is
// cancelled. Mistakes in user input are reported and do not count against
// the session; any other error does, and once more than the allowed number
// have occurred Run returns ErrTooManyFailures. Input is no longer read
// once Run returns, so a Wizard serves a single session.
func (w *Wizard) Run(ctx context.Context) error {
	defer w.stopRead.Do(func() { close(w.done) })

	failures := 0
	for {
		line, err := w.ask(ctx, "main", commandPrompt)
		if err != nil {
			return endOfInput(err)
		}
		cmd := strings.ToLower(strings.TrimSpace(line))
		switch cmd {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		msg, err := w.execute(ctx, cmd)
		switch {
		case err == nil:
			w.println(w.styles.success.Render(msg))
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return endOfInput(err)
		case isUserError(err):
			w.println(w.styles.warn.Render(err.Error()))
		default:
			failures++
			w.logger.Error("command failed", "command", cmd, "failures", failures, "err", err)
			w.println(w.styles.failure.Render("ERROR: " + err.Error()))
			if failures > w.maxFailures {
				w.println(w.styles.failure.Render("Too many errors, exiting"))
				return fmt.Errorf("%w: %d errors", ErrTooManyFailures, failures)
			}
			w.println(w.styles.dim.Render("Retrying..."))
		}
	}
}

func endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (w *Wizard) execute(ctx context.Context, cmd string) (string, error) {
	switch cmd {
	case "list":
		return w.list()
	case "add":
		return w.add(ctx)
	case "remove":
		return w.remove(ctx)
	case "start":
		return w.start(ctx)
	case "stop":
		return w.stop(ctx)
	case "path":
		return w.path(ctx)
	default:
		return "", fmt.Errorf("%w: %q", errUnknownCommand, cmd)
	}
}

// isUserError reports whether err was caused by the input or the current
// configuration rather than by the system.
func isUserError(err error) bool {
	for _, target := range []error{
		errUnknownCommand,
		errNoPaths,
		errNoMonitors,
		monitor.ErrDuplicateName,
		monitor.ErrDuplicatePath,
		monitor.ErrNotFound,
		monitor.ErrRunning,
		monitor.ErrInvalidName,
		pathconfig.ErrUnknownPath,
		pathconfig.ErrInvalidEntry,
		source.ErrNoLogFile,
		source.ErrUnknownEncoding,
		os.ErrNotExist,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (w *Wizard) println(s string) {
	fmt.Fprintln(w.out, s)
}

// ask prints a prompt and returns the next input line.
func (w *Wizard) ask(ctx context.Context, scope, prompt string) (string, error) {
	fmt.Fprintf(w.out, "%s %s: ",
		w.styles.scope.Render("["+scope+"]"),
		w.styles.prompt.Render(prompt))

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-w.lines:
		if !ok {
			fmt.Fprintln(w.out)
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

// choose asks until the answer is a number in [1, n] and returns it.
func (w *Wizard) choose(ctx context.Context, scope, prompt string, n int) (int, error) {
	for {
		answer, err := w.ask(ctx, scope, prompt)
		if err != nil {
			return 0, err
		}
		if i, ok := parseChoice(answer, n); ok {
			return i, nil
		}
		w.println(w.styles.warn.Render(fmt.Sprintf("Invalid selection, enter a number from 1 to %d", n)))
	}
}

func parseChoice(answer string, n int) (int, bool) {
	i, err := strconv.Atoi(answer)
	if err != nil {
		return 0, false
	}
	return i, i >= 1 && i <= n
}
