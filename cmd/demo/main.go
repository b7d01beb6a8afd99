// Demo tool that writes a rotating set of log files for the relay to tail.
//
//	demo --dir ./logs --prefix game_ --rotate 50
//	logrelay serve    # then: path, add
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clarabennett2626/logrelay/internal/source"
)

var events = []string{
	"player joined",
	"player left",
	"match started",
	"match finished",
	"checkpoint reached",
	"inventory saved",
	"connection slow",
}

type generator struct {
	dir      string
	prefix   string
	ext      string
	enc      source.Encoding
	rotate   int
	interval time.Duration
	count    int
	out      io.Writer
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	g := &generator{}
	var encName string
	cmd := &cobra.Command{
		Use:          "demo",
		Short:        "Write rotating demo log files",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := source.ParseEncoding(encName)
			if err != nil {
				return err
			}
			g.enc = enc
			g.out = cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&g.dir, "dir", "logs", "Directory to write log files into")
	flags.StringVar(&g.prefix, "prefix", "demo_", "File name prefix")
	flags.StringVar(&g.ext, "ext", source.DefaultExtension, "File name extension")
	flags.StringVar(&encName, "encoding", "utf-8", "Encoding: utf-8, utf-16 or utf-32")
	flags.IntVar(&g.rotate, "rotate", 50, "Lines per file before starting the next one")
	flags.DurationVar(&g.interval, "interval", 500*time.Millisecond, "Pause between lines")
	flags.IntVar(&g.count, "count", 0, "Stop after this many lines (0 runs until interrupted)")
	return cmd
}

func (g *generator) run(ctx context.Context) error {
	if g.rotate <= 0 {
		return errors.New("rotate must be positive")
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", g.dir, err)
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	var (
		file    *os.File
		w       io.WriteCloser
		fileNum int
	)
	closeFile := func() error {
		if file == nil {
			return nil
		}
		werr := w.Close()
		ferr := file.Close()
		file, w = nil, nil
		return errors.Join(werr, ferr)
	}
	defer closeFile()

	for n := 0; g.count == 0 || n < g.count; n++ {
		if n%g.rotate == 0 {
			if err := closeFile(); err != nil {
				return err
			}
			fileNum++
			path := filepath.Join(g.dir, fmt.Sprintf("%s%d%s", g.prefix, fileNum, g.ext))
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			file, w = f, g.enc.NewWriter(f)
			fmt.Fprintf(g.out, "writing %s\n", path)
		}

		line := fmt.Sprintf("%s [%s] %s\n",
			time.Now().Format(time.RFC3339),
			uuid.NewString()[:8],
			events[rand.IntN(len(events))])
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("write: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
