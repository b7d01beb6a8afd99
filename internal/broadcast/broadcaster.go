// Package broadcast delivers queued log lines to a single TCP client.
//
// The wire format is UTF-8 text, one line per entry, each terminated by
// "\n". It is a best-effort stream: clients buffer and split on newlines.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarabennett2626/logrelay/internal/logging"
	"github.com/clarabennett2626/logrelay/internal/outqueue"
)

const (
	// DefaultAddr is the loopback endpoint the relay listens on.
	DefaultAddr = "127.0.0.1:50006"
	// DefaultWait bounds a single dequeue so shutdown and hang-ups are
	// noticed while the queue is idle.
	DefaultWait = time.Second
	// DefaultWriteTimeout bounds a single write to the client.
	DefaultWriteTimeout = 5 * time.Second
)

// ConnState describes the broadcaster's client connection.
type ConnState int32

const (
	// AwaitingClient means the listener is waiting in Accept.
	AwaitingClient ConnState = iota
	// Connected means a client is being served.
	Connected
	// Disconnected means the last client left and Accept has not resumed yet.
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "awaiting client"
	}
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = logging.Component(l, "broadcast") }
}

// WithWait overrides DefaultWait.
func WithWait(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.wait = d
		}
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

// Broadcaster accepts one client at a time and streams the queue to it.
// When the client goes away the remaining queue is kept for the next one.
type Broadcaster struct {
	addr         string
	queue        *outqueue.Queue
	wait         time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	ln    net.Listener
	state ConnState
}

// New returns a Broadcaster for addr that drains q.
func New(addr string, q *outqueue.Queue, opts ...Option) *Broadcaster {
	if addr == "" {
		addr = DefaultAddr
	}
	b := &Broadcaster{
		addr:         addr,
		queue:        q,
		wait:         DefaultWait,
		writeTimeout: DefaultWriteTimeout,
		logger:       logging.Component(nil, "broadcast"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Listen binds the listening socket. Failure here is a setup error the
// caller should treat as fatal.
func (b *Broadcaster) Listen() error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.addr, err)
	}
	b.mu.Lock()
	b.ln = ln
	b.mu.Unlock()
	b.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (b *Broadcaster) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// State reports the current connection state.
func (b *Broadcaster) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broadcaster) setState(s ConnState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Close closes the listening socket, which ends Serve.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	ln := b.ln
	b.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts clients one after another until ctx is cancelled or the
// listener is closed. Listen must have been called. Serve returns nil on a
// normal shutdown.
func (b *Broadcaster) Serve(ctx context.Context) error {
	b.mu.Lock()
	ln := b.ln
	b.mu.Unlock()
	if ln == nil {
		return errors.New("broadcast: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		b.setState(AwaitingClient)
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.Warn("accept failed", "err", err)
			continue
		}
		b.serveConn(ctx, conn)
		b.setState(Disconnected)
	}
}

// serveConn streams the queue to conn until the peer hangs up, a write
// fails, or ctx is cancelled.
func (b *Broadcaster) serveConn(ctx context.Context, conn net.Conn) {
	logger := b.logger.With("session", uuid.NewString(), "peer", conn.RemoteAddr().String())
	logger.Info("client connected")
	b.setState(Connected)
	defer conn.Close()

	for {
		entry, ok := b.queue.Pop(ctx, b.wait)
		if !ok {
			if ctx.Err() != nil || peerGone(conn) {
				b.logHangup(ctx, logger)
				return
			}
			continue
		}
		// A write to a half-closed socket succeeds locally, so the peer is
		// checked before every line and the entry goes back if it left.
		if ctx.Err() != nil || peerGone(conn) {
			b.queue.Requeue(entry)
			b.logHangup(ctx, logger)
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
		if _, err := io.WriteString(conn, entry.Line+"\n"); err != nil {
			logger.Warn("client write failed, waiting for a new connection", "err", err, "source", entry.Source)
			return
		}
		logger.Debug("sent", "source", entry.Source, "bytes", len(entry.Line)+1)
	}
}

// peerCheckWait bounds the read that probes for a hang-up. It must be
// positive: a deadline already in the past fails the read without
// looking at the socket.
const peerCheckWait = time.Millisecond

// peerGone reports whether the client closed or reset its side. The
// protocol is one-way, so any bytes the client sends are discarded.
func peerGone(conn net.Conn) bool {
	var buf [1]byte
	_ = conn.SetReadDeadline(time.Now().Add(peerCheckWait))
	_, err := conn.Read(buf[:])
	_ = conn.SetReadDeadline(time.Time{})
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return true
}

func (b *Broadcaster) logHangup(ctx context.Context, logger *slog.Logger) {
	if ctx.Err() != nil {
		logger.Info("closing client connection for shutdown")
		return
	}
	logger.Info("client disconnected, waiting for a new connection")
}
