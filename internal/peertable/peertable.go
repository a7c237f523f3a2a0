// Package peertable implements the tracker-side table of live peer
// sessions (spec.md §3 PeerSession, C7).
package peertable

import (
	"net"
	"sync"
	"time"

	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/syncmap"
)

// Session holds everything the tracker knows about one connected peer.
// The PeerTable holds a non-owning reference: the session task itself owns
// the socket and is responsible for closing it (spec.md §3 Ownership).
type Session struct {
	Endpoint      fsmodel.PeerEndpoint
	Conn          net.Conn
	LastHeartbeat time.Time

	mu sync.Mutex
}

// Touch updates LastHeartbeat to now. Called on every REGISTER, KEEP_ALIVE
// and FILE_UPDATE (spec.md §4.4).
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastHeartbeat = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long it has been since the last heartbeat.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastHeartbeat)
}

// Table is the tracker's live-peer registry, keyed by endpoint. Table is
// backed by syncmap.Map, which does its own locking, so every method is
// safe to call with or without the tracker's index lock held; the tracker
// removes sessions under that lock but adds them without it.
type Table struct {
	sessions *syncmap.Map[fsmodel.PeerEndpoint, *Session]
}

// New returns an empty peer table.
func New() *Table {
	return &Table{sessions: syncmap.New[fsmodel.PeerEndpoint, *Session]()}
}

// Add registers a new session, created when a REGISTER is accepted.
func (t *Table) Add(s *Session) { t.sessions.Put(s.Endpoint, s) }

// Remove deletes a session, called on socket close or sweeper reap.
func (t *Table) Remove(endpoint fsmodel.PeerEndpoint) { t.sessions.Delete(endpoint) }

// Get returns the session for endpoint, if any.
func (t *Table) Get(endpoint fsmodel.PeerEndpoint) (*Session, bool) { return t.sessions.Get(endpoint) }

// All returns a snapshot slice of every live session.
func (t *Table) All() []*Session { return t.sessions.Values() }

// Len reports the number of live sessions.
func (t *Table) Len() int { return t.sessions.Len() }

// Stale returns every session whose last heartbeat is older than maxAge
// (spec.md §4.4 sweeper).
func (t *Table) Stale(maxAge time.Duration) []*Session {
	var out []*Session
	t.sessions.Range(func(_ fsmodel.PeerEndpoint, s *Session) bool {
		if s.IdleFor() > maxAge {
			out = append(out, s)
		}
		return true
	})
	return out
}
