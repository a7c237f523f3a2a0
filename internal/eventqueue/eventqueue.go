// Package eventqueue implements the unbounded, thread-safe FIFO of
// fsmodel.FileEvent that sits between a directory observer and its
// consumer (spec §4.1).
package eventqueue

import (
	"sync"

	"github.com/prxssh/localsync/internal/fsmodel"
)

// Queue is an unbounded FIFO. The zero value is not usable; use New.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []fsmodel.FileEvent
}

// New returns an empty queue ready for use.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an event. Non-blocking.
func (q *Queue) Enqueue(ev fsmodel.FileEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

// DrainBlocking blocks until at least one event is pending, then returns
// the entire accumulated batch and resets the queue to empty. Never
// spuriously returns an empty slice (spec §4.1).
func (q *Queue) DrainBlocking() []fsmodel.FileEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 {
		q.cond.Wait()
	}

	batch := q.pending
	q.pending = nil
	return batch
}

// RemoveByFilepath removes every pending event whose FileInfo.Filepath
// equals p.
func (q *Queue) RemoveByFilepath(p string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, ev := range q.pending {
		if ev.Info.Filepath != p {
			kept = append(kept, ev)
		}
	}
	q.pending = kept
}

// Len reports the number of pending events. Intended for tests/metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
