package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarabennett2626/logrelay/internal/broadcast"
	"github.com/clarabennett2626/logrelay/internal/logging"
	"github.com/clarabennett2626/logrelay/internal/monitor"
	"github.com/clarabennett2626/logrelay/internal/outqueue"
	"github.com/clarabennett2626/logrelay/internal/pathconfig"
	"github.com/clarabennett2626/logrelay/internal/source"
	"github.com/clarabennett2626/logrelay/internal/wizard"
)

type serveOptions struct {
	console bool
	listen  string
	start   []string
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay with the interactive command prompt",
		Long: `Run the relay. Lines appended to monitored files are queued and sent,
newline delimited, to the single TCP client connected to the listen address.

When stdin is a pipe its lines are relayed instead of reading commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.console, "console", false, "Print relayed lines instead of serving them over TCP")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().StringArrayVar(&opts.start, "start", nil, "Saved path to monitor at launch, as name or name:encoding (repeatable)")
	return cmd
}

func runServe(cmd *cobra.Command, cc *commandContext, opts serveOptions) (err error) {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	log := logging.Component(logger, "serve")

	catalog, err := pathconfig.Load(cfg.PathsFile, cfg.LogExtension)
	if err != nil {
		return err
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	q := outqueue.New()
	registry := monitor.NewRegistry(q,
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithNotify(cfg.Notify),
		monitor.WithLogger(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var relay *broadcast.Broadcaster
	if !opts.console {
		addr := cfg.Listen
		if opts.listen != "" {
			addr = opts.listen
		}
		relay = broadcast.New(addr, q,
			broadcast.WithLogger(logger),
			broadcast.WithWait(cfg.DequeueWait),
			broadcast.WithWriteTimeout(cfg.WriteTimeout))
		if err := relay.Listen(); err != nil {
			return err
		}
	}

	consumerDone := make(chan error, 1)
	go func() {
		if relay != nil {
			consumerDone <- relay.Serve(ctx)
			return
		}
		consumerDone <- broadcast.Echo(ctx, q, out, cfg.DequeueWait)
	}()

	defer func() {
		cancel()
		if relay != nil {
			if cerr := relay.Close(); cerr != nil {
				log.Warn("closing listener", "err", cerr)
			}
		}
		if cerr := <-consumerDone; cerr != nil {
			log.Error("relay stopped with error", "err", cerr)
		}
		registry.StopAll()
		if relay == nil {
			if ferr := broadcast.Flush(q, out); ferr != nil {
				log.Warn("flushing queued lines", "err", ferr)
			}
		} else if n := q.Len(); n > 0 {
			log.Warn("discarding unsent lines", "count", n)
		}
		if serr := catalog.Save(); serr != nil {
			log.Error("saving path catalog", "path", catalog.Path(), "err", serr)
			if err == nil {
				err = serr
			}
		}
		log.Info("shutdown complete")
	}()

	for _, arg := range opts.start {
		if err := startSaved(registry, catalog, arg); err != nil {
			return err
		}
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && source.IsPipe(f) {
		return relayStdin(ctx, f, q, relay != nil, log)
	}

	err = wizard.New(registry, catalog, in, out, wizard.WithLogger(logger)).Run(ctx)
	switch {
	case errors.Is(err, wizard.ErrTooManyFailures):
		log.Error("ending session", "err", err)
		return nil
	case err != nil && ctx.Err() != nil:
		return nil
	}
	return err
}

// startSaved adds and starts a monitor for a saved path. arg is the path
// name, optionally followed by ":encoding".
func startSaved(registry *monitor.Registry, catalog *pathconfig.Catalog, arg string) error {
	name, encName, _ := strings.Cut(arg, ":")
	enc, err := source.ParseEncoding(encName)
	if err != nil {
		return err
	}
	path, err := catalog.Resolve(name)
	if err != nil {
		return err
	}
	m, err := registry.Add(monitor.Config{
		Name:       name,
		Path:       path,
		Encoding:   enc,
		LineOffset: monitor.DefaultLineOffset,
	})
	if err != nil {
		return err
	}
	return m.Start()
}

// relayStdin forwards piped lines into q. With a network client the relay
// keeps running after stdin ends so queued lines can still be delivered.
func relayStdin(ctx context.Context, f *os.File, q *outqueue.Queue, waitAfterEOF bool, log *slog.Logger) error {
	src := source.NewStreamSource(f, source.WithName("stdin"))
	stop := context.AfterFunc(ctx, func() { _ = src.Stop() })
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(ctx) }()
	src.Forward(q)

	if err := <-errCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if waitAfterEOF && ctx.Err() == nil {
		log.Info("stdin closed, relaying queued lines until interrupted", "queued", q.Len())
		<-ctx.Done()
	}
	return nil
}

// syncWriter serializes writes from the wizard and the console echo.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
