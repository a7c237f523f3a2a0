// Package monitor wraps a directory observer and an event queue, adding the
// two "ignore sets" that keep a peer's self-applied downloads and deletes
// from looping back as spurious local change events (spec.md §4.2).
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prxssh/localsync/internal/eventqueue"
	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/observer"
)

// ignoreSet is a mutex-guarded set of filepaths, one per ignore kind
// (modify/delete), per the concurrency table in spec.md §5.
type ignoreSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newIgnoreSet() *ignoreSet {
	return &ignoreSet{paths: make(map[string]struct{})}
}

func (s *ignoreSet) Contains(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[p]
	return ok
}

func (s *ignoreSet) Add(p string) {
	s.mu.Lock()
	s.paths[p] = struct{}{}
	s.mu.Unlock()
}

func (s *ignoreSet) Remove(p string) {
	s.mu.Lock()
	delete(s.paths, p)
	s.mu.Unlock()
}

// Monitor suppresses the observer's echo of self-applied changes and
// forwards everything else onto its Queue.
type Monitor struct {
	log      *slog.Logger
	obs      *observer.Observer
	queue    *eventqueue.Queue
	ignoreM  *ignoreSet // ignore_modify
	ignoreD  *ignoreSet // ignore_delete
	settle   time.Duration
	stopOnce sync.Once
	stopped  chan struct{}
}

// New wraps obs with ignore-set filtering. It starts nothing; call Run to
// begin pumping obs.Events() into Queue. settle is the post-settle delay
// documented in spec.md §4.2 (empirically ~300ms).
func New(obs *observer.Observer, settle time.Duration, log *slog.Logger) *Monitor {
	m := &Monitor{
		log:     log.With("component", "monitor"),
		obs:     obs,
		queue:   eventqueue.New(),
		ignoreM: newIgnoreSet(),
		ignoreD: newIgnoreSet(),
		settle:  settle,
		stopped: make(chan struct{}),
	}
	return m
}

// Queue returns the filtered event queue consumers should drain.
func (m *Monitor) Queue() *eventqueue.Queue { return m.queue }

// Run starts obs.Run in a goroutine of its own and pumps the observer's
// events through the ignore-set filter until the observer's event channel
// closes. Intended to run in its own goroutine.
func (m *Monitor) Run() {
	go m.obs.Run()

	for ev := range m.obs.Events() {
		if m.shouldDrop(ev) {
			continue
		}
		m.queue.Enqueue(ev)
	}
}

func (m *Monitor) shouldDrop(ev fsmodel.FileEvent) bool {
	if fsmodel.Hidden(ev.Info.Filepath) {
		return true
	}

	switch ev.Action {
	case fsmodel.Created, fsmodel.Modified:
		return m.ignoreM.Contains(ev.Info.Filepath)
	case fsmodel.Deleted:
		return m.ignoreD.Contains(ev.Info.Filepath)
	default:
		return false
	}
}

// IgnoreModify marks path so echoes of an in-flight download are dropped.
func (m *Monitor) IgnoreModify(path string) { m.ignoreM.Add(path) }

// IsIgnoringModify reports whether a download for path is already in
// flight (spec.md §4.5 "Local download preparation").
func (m *Monitor) IsIgnoringModify(path string) bool { return m.ignoreM.Contains(path) }

// SettleModify clears the modify-ignore entry for path after the
// configured settle delay, absorbing coalesced late OS notifications
// (spec.md §4.2, §9 "Ignore-set race").
func (m *Monitor) SettleModify(path string) {
	time.AfterFunc(m.settle, func() { m.ignoreM.Remove(path) })
}

// ClearModifyNow removes the modify-ignore entry for path immediately,
// with no settle delay. Used when a download attempt fails outright so the
// path becomes eligible for retry on the next broadcast instead of staying
// wedged behind a settle timer that was never armed for a successful
// transfer.
func (m *Monitor) ClearModifyNow(path string) { m.ignoreM.Remove(path) }

// IgnoreDelete marks path so the echo of a self-applied delete is dropped.
func (m *Monitor) IgnoreDelete(path string) { m.ignoreD.Add(path) }

// SettleDelete clears the delete-ignore entry for path after the settle
// delay.
func (m *Monitor) SettleDelete(path string) {
	time.AfterFunc(m.settle, func() { m.ignoreD.Remove(path) })
}

// Stop releases the underlying observer.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
		_ = m.obs.Close()
	})
}
