// Package outqueue implements the relay's output channel: an unbounded,
// ordered queue written by many producers and read by one consumer.
package outqueue

import (
	"context"
	"sync"
	"time"

	"github.com/clarabennett2626/logrelay/internal/source"
)

// Queue is an unbounded FIFO of log entries. Push never blocks, so a slow
// or absent consumer cannot stall a producer. Entries pushed by a single
// producer are delivered in the order that producer pushed them.
type Queue struct {
	mu     sync.Mutex
	items  []source.LogEntry
	notify chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends entries to the tail of the queue.
func (q *Queue) Push(entries ...source.LogEntry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, entries...)
	q.mu.Unlock()
	q.signal()
}

// Requeue puts an entry back at the head of the queue. The consumer uses
// it for an entry it took but could not hand to anyone.
func (q *Queue) Requeue(entry source.LogEntry) {
	q.mu.Lock()
	q.items = append([]source.LogEntry{entry}, q.items...)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the head of the queue, waiting up to wait for
// one to arrive. It returns false on timeout or when ctx is done.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (source.LogEntry, bool) {
	if entry, ok := q.tryPop(); ok {
		return entry, true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if entry, ok := q.tryPop(); ok {
				return entry, true
			}
		case <-timer.C:
			return q.tryPop()
		case <-ctx.Done():
			return source.LogEntry{}, false
		}
	}
}

// Drain removes and returns everything currently queued without waiting.
func (q *Queue) Drain() []source.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) tryPop() (source.LogEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return source.LogEntry{}, false
	}
	entry := q.items[0]
	q.items[0] = source.LogEntry{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return entry, true
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

var _ source.Sink = (*Queue)(nil)
