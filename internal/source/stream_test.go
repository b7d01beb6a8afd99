package source

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"
)

func streamCollectLines(t *testing.T, s *StreamSource, timeout time.Duration) []LogEntry {
	t.Helper()
	var entries []LogEntry
	deadline := time.After(timeout)
	for {
		select {
		case entry, ok := <-s.Lines():
			if !ok {
				return entries
			}
			entries = append(entries, entry)
		case <-deadline:
			t.Fatal("timed out waiting for lines")
			return nil
		}
	}
}

type recordingSink struct {
	entries []LogEntry
}

func (r *recordingSink) Push(entries ...LogEntry) {
	r.entries = append(r.entries, entries...)
}

func TestStreamSource_BasicRead(t *testing.T) {
	input := "line one\nline two  \r\nline three\n"
	src := NewStreamSource(strings.NewReader(input), WithName("stdin"))

	go src.Start(context.Background())
	entries := streamCollectLines(t, src, 2*time.Second)

	want := []string{"line one", "line two", "line three"}
	if len(entries) != len(want) {
		t.Fatalf("got %d lines, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Line != want[i] {
			t.Errorf("line %d: got %q, want %q", i, e.Line, want[i])
		}
		if e.Source != "stdin" {
			t.Errorf("line %d: source = %q, want \"stdin\"", i, e.Source)
		}
	}
}

func TestStreamSource_EmptyInput(t *testing.T) {
	src := NewStreamSource(strings.NewReader(""))

	go src.Start(context.Background())
	entries := streamCollectLines(t, src, 2*time.Second)

	if len(entries) != 0 {
		t.Fatalf("expected 0 lines, got %d", len(entries))
	}
}

func TestStreamSource_UTF16(t *testing.T) {
	raw, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("ä\nß\n"))
	if err != nil {
		t.Fatal(err)
	}
	src := NewStreamSource(strings.NewReader(string(raw)), WithEncoding(UTF16))

	go src.Start(context.Background())
	entries := streamCollectLines(t, src, 2*time.Second)

	if len(entries) != 2 || entries[0].Line != "ä" || entries[1].Line != "ß" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestStreamSource_ContextCancellation(t *testing.T) {
	pr, pw := io.Pipe()

	src := NewStreamSource(pr)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		src.Start(ctx)
		close(done)
	}()

	pw.Write([]byte("hello\n"))
	<-src.Lines()
	cancel()
	pw.Close() // unblock scanner

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestStreamSource_StopClosesReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	src := NewStreamSource(pr)
	go src.Start(context.Background())

	pw.Write([]byte("line\n"))
	<-src.Lines()

	stopped := make(chan struct{})
	go func() {
		src.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock the pending read")
	}

	if _, ok := <-src.Lines(); ok {
		t.Fatal("expected lines channel to be closed")
	}
}

func TestStreamSource_DropOldest(t *testing.T) {
	input := "a\nb\nc\nd\n"
	src := NewStreamSource(
		strings.NewReader(input),
		WithBufferSize(2),
		WithBackpressure(DropOldest),
	)

	go src.Start(context.Background())
	entries := streamCollectLines(t, src, 2*time.Second)

	if len(entries) < 2 {
		t.Fatalf("expected at least 2 lines, got %d", len(entries))
	}
	if entries[len(entries)-1].Line != "d" {
		t.Errorf("last line should be 'd', got %q", entries[len(entries)-1].Line)
	}
}

func TestStreamSource_LongLines(t *testing.T) {
	long := strings.Repeat("x", 500_000)
	src := NewStreamSource(strings.NewReader(long + "\n"))

	go src.Start(context.Background())
	entries := streamCollectLines(t, src, 2*time.Second)

	if len(entries) != 1 || len(entries[0].Line) != 500_000 {
		t.Fatalf("expected 1 line of 500000 chars, got %d lines", len(entries))
	}
}

func TestStreamSource_Forward(t *testing.T) {
	src := NewStreamSource(strings.NewReader("x\ny\n"), WithName("pipe"))
	go src.Start(context.Background())

	sink := &recordingSink{}
	src.Forward(sink)

	if len(sink.entries) != 2 || sink.entries[0].Line != "x" || sink.entries[1].Line != "y" {
		t.Fatalf("unexpected forwarded entries: %v", sink.entries)
	}
	if sink.entries[0].Source != "pipe" {
		t.Errorf("source = %q, want pipe", sink.entries[0].Source)
	}
}
