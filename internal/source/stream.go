package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

const (
	// DefaultBufferSize is the default capacity for the lines channel.
	DefaultBufferSize = 1000

	// Block waits until a reader consumes a line before accepting more.
	Block BackpressureStrategy = iota
	// DropOldest discards the oldest unread line when the buffer is full.
	DropOldest
)

// BackpressureStrategy controls behaviour when the lines channel is full.
type BackpressureStrategy int

// StreamOption configures a StreamSource.
type StreamOption func(*StreamSource)

// WithBufferSize sets the capacity of the lines channel.
func WithBufferSize(n int) StreamOption {
	return func(s *StreamSource) { s.bufSize = n }
}

// WithBackpressure sets the backpressure strategy.
func WithBackpressure(bp BackpressureStrategy) StreamOption {
	return func(s *StreamSource) { s.backpressure = bp }
}

// WithName sets the Source recorded on every entry.
func WithName(name string) StreamOption {
	return func(s *StreamSource) { s.name = name }
}

// WithEncoding decodes the stream from enc. UTF-16 and UTF-32 streams
// honour a leading byte-order mark and default to little endian.
func WithEncoding(enc Encoding) StreamOption {
	return func(s *StreamSource) { s.enc = enc }
}

// StreamSource reads newline-delimited lines from a reader. The relay uses
// it for piped input:
//
//	tail -F app.log | logrelay serve
//
// and the watch client uses it on the relay's TCP connection.
type StreamSource struct {
	reader       io.Reader
	name         string
	enc          Encoding
	lines        chan LogEntry
	errs         chan error
	bufSize      int
	backpressure BackpressureStrategy
	cancel       context.CancelFunc
	once         sync.Once
	done         chan struct{}
}

// NewStreamSource creates a StreamSource over r with the given options.
func NewStreamSource(r io.Reader, opts ...StreamOption) *StreamSource {
	s := &StreamSource{
		reader:       r,
		name:         "stream",
		enc:          UTF8,
		bufSize:      DefaultBufferSize,
		backpressure: Block,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.lines = make(chan LogEntry, s.bufSize)
	s.errs = make(chan error, 1)
	return s
}

// IsPipe reports whether f appears to be a pipe or file rather than a terminal.
func IsPipe(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}

// Lines returns the channel of log entries. It is closed when Start returns.
func (s *StreamSource) Lines() <-chan LogEntry { return s.lines }

// Errors returns the channel of read errors.
func (s *StreamSource) Errors() <-chan error { return s.errs }

// Start reads lines until ctx is cancelled or the reader is exhausted.
func (s *StreamSource) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer close(s.done)
	defer close(s.errs)
	defer close(s.lines)

	scanner := bufio.NewScanner(s.decoded())
	// Support very long log lines (up to 1 MB).
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		entry := LogEntry{
			Line:   trimLine(scanner.Text()),
			Source: s.name,
		}
		if !s.emit(ctx, entry) {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case s.errs <- fmt.Errorf("%s read error: %w", s.name, err):
		default:
		}
		return err
	}
	return nil
}

// Forward copies every entry into sink until the lines channel closes.
func (s *StreamSource) Forward(sink Sink) {
	for entry := range s.lines {
		sink.Push(entry)
	}
}

func (s *StreamSource) decoded() io.Reader {
	switch s.enc {
	case UTF16:
		return transform.NewReader(s.reader, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
	case UTF32:
		return transform.NewReader(s.reader, utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewDecoder())
	default:
		return transform.NewReader(s.reader, unicode.UTF8BOM.NewDecoder())
	}
}

// emit sends an entry to the lines channel, respecting backpressure strategy.
func (s *StreamSource) emit(ctx context.Context, entry LogEntry) bool {
	switch s.backpressure {
	case DropOldest:
		select {
		case s.lines <- entry:
		default:
			select {
			case <-s.lines:
			default:
			}
			select {
			case s.lines <- entry:
			case <-ctx.Done():
				return false
			}
		}
	default:
		select {
		case s.lines <- entry:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Stop cancels reading and waits for Start to return. Readers that are
// also io.Closers are closed to unblock a pending read.
func (s *StreamSource) Stop() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if c, ok := s.reader.(io.Closer); ok {
			_ = c.Close()
		}
	})
	<-s.done
	return nil
}
