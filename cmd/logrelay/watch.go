package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/clarabennett2626/logrelay/internal/source"
	"github.com/clarabennett2626/logrelay/internal/tui"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var (
		plain       bool
		timestamps  string
		dialTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [addr]",
		Short: "Connect to a relay and display its lines",
		Long: `Connect to a running relay as its client and display the relayed lines.
A scrollable viewer is used when stdout is a terminal; otherwise lines are
printed as they arrive.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			addr := cfg.Listen
			if len(args) == 1 {
				addr = args[0]
			}

			out := cmd.OutOrStdout()
			useTUI := !plain && isTerminal(out)

			defaultFormat := tui.TimestampNone
			if useTUI {
				defaultFormat = tui.TimestampLocal
			}
			format, err := parseTimestampFormat(timestamps, defaultFormat)
			if err != nil {
				return err
			}

			conn, err := net.DialTimeout("tcp", addr, dialTimeout)
			if err != nil {
				return fmt.Errorf("connect to relay %s: %w", addr, err)
			}
			defer conn.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if useTUI {
				return watchTUI(runCtx, conn, addr, format)
			}
			return watchPlain(runCtx, conn, addr, out, format)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print lines instead of opening the viewer")
	cmd.Flags().StringVar(&timestamps, "timestamps", "", "Receive time format: local, iso, relative or none")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "Timeout for connecting to the relay")
	return cmd
}

func watchPlain(ctx context.Context, conn net.Conn, addr string, out io.Writer, format tui.TimestampFormat) error {
	cfg := tui.DefaultConfig()
	cfg.TimestampFormat = format
	cfg.ANSIMode = tui.ANSIPassthrough
	renderer := tui.NewRenderer(cfg)

	src := source.NewStreamSource(conn, source.WithName(addr))
	stop := context.AfterFunc(ctx, func() { _ = src.Stop() })
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(ctx) }()

	for entry := range src.Lines() {
		if _, err := fmt.Fprintln(out, renderer.RenderLinePlain(entry.Line, renderer.Now())); err != nil {
			return err
		}
	}
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading from relay: %w", err)
	}
	return nil
}

func watchTUI(ctx context.Context, conn net.Conn, addr string, format tui.TimestampFormat) error {
	cfg := tui.DefaultConfig()
	cfg.TimestampFormat = format
	renderer := tui.NewRenderer(cfg)

	src := source.NewStreamSource(conn,
		source.WithName(addr),
		source.WithBackpressure(source.DropOldest))
	go func() { _ = src.Start(ctx) }()
	defer src.Stop()

	prog := tea.NewProgram(tui.NewModelForRelay(addr), tea.WithAltScreen(), tea.WithContext(ctx))
	tui.ListenForLines(src, renderer, prog)

	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func parseTimestampFormat(value string, fallback tui.TimestampFormat) (tui.TimestampFormat, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return fallback, nil
	case "local":
		return tui.TimestampLocal, nil
	case "iso":
		return tui.TimestampISO, nil
	case "relative":
		return tui.TimestampRelative, nil
	case "none":
		return tui.TimestampNone, nil
	default:
		return 0, fmt.Errorf("timestamps: unsupported value %q", value)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
