package wizard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/clarabennett2626/logrelay/internal/monitor"
	"github.com/clarabennett2626/logrelay/internal/pathconfig"
	"github.com/clarabennett2626/logrelay/internal/source"
)

// Add modes, as numbered in the prompt.
const (
	modeQuick = iota + 1
	modeQuickStart
	modeCustom
	modeCustomStart
)

const previewWidth = 48

func (w *Wizard) list() (string, error) {
	monitors := w.registry.List()
	if len(monitors) == 0 {
		return "", errNoMonitors
	}
	w.println(MonitorsTable(monitors))
	return fmt.Sprintf("%d monitor(s) listed", len(monitors)), nil
}

func (w *Wizard) add(ctx context.Context) (string, error) {
	const scope = "add"

	mode, err := w.choose(ctx, scope, "[1] Quick [2] Quick Start [3] Custom [4] Custom Start", 4)
	if err != nil {
		return "", err
	}

	var name string
	for name == "" {
		if name, err = w.ask(ctx, scope, "Monitor name"); err != nil {
			return "", err
		}
	}
	if _, err := w.registry.Find(name); err == nil {
		return "", fmt.Errorf("%w: %s", monitor.ErrDuplicateName, name)
	}

	entries := w.catalog.Entries()
	if len(entries) == 0 {
		return "", errNoPaths
	}
	w.println(PathsTable(entries))
	choice, err := w.choose(ctx, scope, fmt.Sprintf("Select a path (1-%d)", len(entries)), len(entries))
	if err != nil {
		return "", err
	}
	entry := entries[choice-1]

	path, err := w.catalog.Resolve(entry.Name)
	if err != nil {
		return "", err
	}

	cfg := monitor.Config{
		Name:       name,
		Path:       path,
		Encoding:   source.UTF8,
		LineOffset: monitor.DefaultLineOffset,
	}
	if mode == modeCustom || mode == modeCustomStart {
		enc, err := w.choose(ctx, scope, "Encoding: [1] UTF-8 [2] UTF-16 [3] UTF-32", len(source.Encodings))
		if err != nil {
			return "", err
		}
		cfg.Encoding = source.Encodings[enc-1]

		if cfg.LineOffset, err = w.askOffset(ctx, scope); err != nil {
			return "", err
		}
	}

	m, err := w.registry.Add(cfg)
	if err != nil {
		return "", err
	}
	if mode == modeQuickStart || mode == modeCustomStart {
		if err := w.startOrDiscard(m); err != nil {
			return "", err
		}
	}
	return "Monitor added: " + m.String(), nil
}

// startOrDiscard starts a freshly added monitor and takes it back out of
// the registry when it cannot start.
func (w *Wizard) startOrDiscard(m *monitor.Monitor) error {
	err := m.Start()
	if err == nil {
		return nil
	}
	if rmErr := w.registry.Remove(m.Name()); rmErr != nil {
		return errors.Join(err, rmErr)
	}
	return fmt.Errorf("monitor not added: %w", err)
}

func (w *Wizard) askOffset(ctx context.Context, scope string) (int, error) {
	prompt := fmt.Sprintf("Line offset (default %d)", monitor.DefaultLineOffset)
	for {
		answer, err := w.ask(ctx, scope, prompt)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return monitor.DefaultLineOffset, nil
		}
		if n, err := strconv.Atoi(answer); err == nil {
			return n, nil
		}
		w.println(w.styles.warn.Render("Invalid offset, enter a whole number"))
	}
}

func (w *Wizard) remove(ctx context.Context) (string, error) {
	m, err := w.selectMonitor(ctx, "remove")
	if err != nil {
		return "", err
	}
	if err := w.registry.Remove(m.Name()); err != nil {
		return "", err
	}
	return "Monitor removed: " + m.Name(), nil
}

func (w *Wizard) start(ctx context.Context) (string, error) {
	m, err := w.selectMonitor(ctx, "start")
	if err != nil {
		return "", err
	}
	if err := m.Start(); err != nil {
		return "", err
	}
	return "Monitor started: " + m.String(), nil
}

func (w *Wizard) stop(ctx context.Context) (string, error) {
	m, err := w.selectMonitor(ctx, "stop")
	if err != nil {
		return "", err
	}
	m.Stop()
	return "Monitor stopped: " + m.String(), nil
}

// selectMonitor lists the monitors and asks for one by number or name.
func (w *Wizard) selectMonitor(ctx context.Context, scope string) (*monitor.Monitor, error) {
	monitors := w.registry.List()
	if len(monitors) == 0 {
		return nil, errNoMonitors
	}
	for i, m := range monitors {
		w.println(w.styles.dim.Render(fmt.Sprintf("[%d]: %s", i+1, m)))
	}

	prompt := fmt.Sprintf("Select a monitor (1-%d) or name", len(monitors))
	for {
		answer, err := w.ask(ctx, scope, prompt)
		if err != nil {
			return nil, err
		}
		if i, ok := parseChoice(answer, len(monitors)); ok {
			return monitors[i-1], nil
		}
		if m, err := w.registry.Find(answer); err == nil {
			return m, nil
		}
		w.println(w.styles.warn.Render("Invalid selection, enter a listed number or name"))
	}
}

func (w *Wizard) path(ctx context.Context) (string, error) {
	const scope = "path"

	name, err := w.ask(ctx, scope, "Path name")
	if err != nil {
		return "", err
	}
	dir, err := w.ask(ctx, scope, "Folder containing the log files")
	if err != nil {
		return "", err
	}
	prefix, err := w.ask(ctx, scope, "Prefix of the log files")
	if err != nil {
		return "", err
	}

	entry, err := w.catalog.Set(name, dir, prefix)
	if err != nil {
		return "", err
	}
	if err := w.catalog.Save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Path saved: %s - %s - %s", entry.Name, entry.Dir, entry.Prefix), nil
}

// MonitorsTable renders monitors with their status, file size and preview
// line.
func MonitorsTable(monitors []*monitor.Monitor) string {
	rows := make([][]string, 0, len(monitors))
	for i, m := range monitors {
		size, preview := "-", ""
		if info, err := os.Stat(m.Path()); err == nil {
			size = humanize.IBytes(uint64(info.Size()))
			if p, err := m.Preview(); err == nil {
				preview = snip(p)
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			m.Name(),
			m.Status().String(),
			m.Encoding().String(),
			m.Path(),
			size,
			preview,
		})
	}
	return renderTable(
		[]string{"#", "Name", "Status", "Encoding", "Path", "Size", "Preview"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

// PathsTable renders saved paths in catalog order.
func PathsTable(entries []pathconfig.Entry) string {
	rows := make([][]string, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, []string{strconv.Itoa(i + 1), e.Name, e.Dir, e.Prefix})
	}
	return renderTable(
		[]string{"#", "Name", "Directory", "Prefix"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func snip(s string) string {
	if text.RuneWidthWithoutEscSequences(s) <= previewWidth {
		return s
	}
	return text.Trim(s, previewWidth-1) + "…"
}
