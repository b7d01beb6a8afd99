package broadcast

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/clarabennett2626/logrelay/internal/outqueue"
	"github.com/clarabennett2626/logrelay/internal/source"
)

// Echo drains q to w, one line per entry, until ctx is cancelled. It stands
// in for a network client when the relay runs in console mode.
func Echo(ctx context.Context, q *outqueue.Queue, w io.Writer, wait time.Duration) error {
	if wait <= 0 {
		wait = DefaultWait
	}
	for {
		entry, ok := q.Pop(ctx, wait)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if err := writeEntry(w, entry); err != nil {
			return err
		}
	}
}

// Flush writes whatever is still queued to w in the Echo format. It is used
// on shutdown so console mode does not lose lines read just before exit.
func Flush(q *outqueue.Queue, w io.Writer) error {
	for _, entry := range q.Drain() {
		if err := writeEntry(w, entry); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w io.Writer, entry source.LogEntry) error {
	if _, err := fmt.Fprintf(w, "[%s] %s\n", entry.Source, entry.Line); err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	return nil
}
