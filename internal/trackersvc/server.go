// Package trackersvc implements the tracker's session and broadcast engine
// (spec.md §4.4, C9): the accept loop, per-peer session task, liveness
// sweeper, and the single lock that guards atomic index mutation and
// broadcast.
package trackersvc

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prxssh/localsync/internal/fileindex"
	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/peertable"
	"github.com/prxssh/localsync/internal/wire"
)

// Config bundles the handshake parameters the tracker hands out in
// REGISTER_ACK and uses for its own sweeper cadence (spec.md §4.4).
type Config struct {
	HeartbeatInterval time.Duration
	SweepGrace        time.Duration
	PieceLen          int64

	// WriteTimeout bounds each REGISTER_ACK/TABLE_UPDATE write. It matters
	// more now that broadcast runs under s.mu (see handleRegister): a peer
	// that stops reading must not be able to wedge every other session by
	// holding the index lock hostage.
	WriteTimeout time.Duration
}

// Server is the tracker process: a single shared FileIndex and PeerTable,
// guarded by one mutex held across every read-modify-write-broadcast
// critical section (spec.md §3 Ownership, §5).
type Server struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	index *fileindex.Index
	peers *peertable.Table

	listener net.Listener
}

// New constructs a tracker server. Call Serve to begin accepting
// connections.
func New(cfg Config, log *slog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		log:   log.With("component", "tracker"),
		index: fileindex.New(),
		peers: peertable.New(),
	}
}

// Listen binds addr. Separated from Serve so callers (and tests) can learn
// the bound address before the accept loop starts, which matters when addr
// uses the ":0" auto-assigned port.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve starts the sweeper in its own goroutine and runs the accept loop
// until the listener is closed. Call Listen first. It returns when the
// accept loop stops; the sweeper goroutine is not stopped and keeps running.
func (s *Server) Serve() error {
	if s.listener == nil {
		return net.ErrClosed
	}
	s.log.Info("tracker listening", "addr", s.listener.Addr().String())

	go s.sweepLoop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			s.log.Warn("accept failed", "error", err.Error())
			return err
		}
		go s.handleSession(conn)
	}
}

// Close stops the accept loop; in-flight sessions are torn down as their
// sockets error out (spec.md §6 signal handling: "close listen socket,
// destroy tables").
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func endpointOf(conn net.Conn, listenPort int) fsmodel.PeerEndpoint {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return fsmodel.PeerEndpoint{IP: host, Port: listenPort}
}

// handleSession is the per-session task loop (spec.md §4.4). It owns conn
// for its entire lifetime.
func (s *Server) handleSession(conn net.Conn) {
	defer conn.Close()

	var (
		session  *peertable.Session
		endpoint fsmodel.PeerEndpoint
	)

	defer func() {
		if session == nil {
			return
		}
		s.onSessionExit(endpoint)
	}()

	for {
		typ, msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}

		switch typ {
		case wire.TypeRegister:
			reg := msg.(wire.Register)
			endpoint = endpointOf(conn, reg.ListenPort)

			if session == nil {
				session = &peertable.Session{Endpoint: endpoint, Conn: conn}
				s.peers.Add(session)
			}
			session.Touch()

			s.handleRegister(conn, endpoint, reg)

		case wire.TypeKeepAlive:
			if session != nil {
				session.Touch()
			}

		case wire.TypeFileUpdate:
			if session == nil {
				continue // protocol error: FILE_UPDATE before REGISTER
			}
			session.Touch()
			fu := msg.(wire.FileUpdate)
			s.handleFileUpdate(endpoint, fu)

		default:
			s.log.Debug("ignoring message", "type", typ)
		}
	}
}

// handleRegister merges reg into the index and broadcasts the resulting
// table. The lock is held across the REGISTER_ACK write and the broadcast,
// not just the index mutation: spec.md §4.4/§5 (and the original's
// tracker.c, which holds file_table->lock across broadcast_table) serialize
// every socket write behind the single index lock, so two session
// goroutines can never interleave writes to the same peer connection.
func (s *Server) handleRegister(conn net.Conn, endpoint fsmodel.PeerEndpoint, reg wire.Register) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.index.Merge(reg.Files, endpoint) {
		if ev.Action != fsmodel.DownloadComplete {
			continue
		}
		// Equal last_modified: the registering peer joins the existing
		// holders with no tie-break between their copies.
		if e, ok := s.index.Get(ev.Info.Filepath); ok {
			if _, added := e.Peers[endpoint]; added {
				s.log.Info("registration added peer to existing entry with equal last_modified", "peer", endpoint, "path", ev.Info.Filepath)
			}
		}
	}
	table := wire.TableUpdate{Entries: s.index.Snapshot()}
	recipients := s.peers.All()

	ack := wire.RegisterAck{
		IntervalSeconds: int32(s.cfg.HeartbeatInterval / time.Second),
		PieceLen:        s.cfg.PieceLen,
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.log.Warn("failed to set REGISTER_ACK write deadline", "peer", endpoint, "error", err.Error())
		return
	}
	if err := wire.WriteMessage(conn, ack); err != nil {
		s.log.Warn("failed to send REGISTER_ACK", "peer", endpoint, "error", err.Error())
		return
	}

	s.broadcast(table, recipients, fsmodel.PeerEndpoint{})
	s.log.Info("peer registered", "peer", endpoint, "files", len(reg.Files))
}

// handleFileUpdate applies fu and broadcasts under the same lock, for the
// same reason as handleRegister.
func (s *Server) handleFileUpdate(endpoint fsmodel.PeerEndpoint, fu wire.FileUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range fu.Events {
		if ev.Action == fsmodel.DownloadComplete {
			// AddPeer drops a size mismatch silently; surface it here.
			if e, ok := s.index.Get(ev.Info.Filepath); ok && e.Info.Size != ev.Info.Size {
				s.log.Debug("download-complete size mismatch; peer not added", "peer", endpoint, "path", ev.Info.Filepath, "reported_size", ev.Info.Size, "index_size", e.Info.Size)
			}
		}
		if err := s.index.Apply(ev, endpoint); err != nil {
			s.log.Debug("ignoring event for unknown entry", "peer", endpoint, "event", ev.Action, "path", ev.Info.Filepath, "error", err.Error())
		}
	}
	table := wire.TableUpdate{Entries: s.index.Snapshot()}
	recipients := s.peers.All()

	// Broadcast to every peer except the reporter (spec.md §4.4).
	s.broadcast(table, recipients, endpoint)
}

// broadcast sends table to every session in recipients except skip. A
// zero-value skip matches nothing, so REGISTER's broadcast (which targets
// everyone, including the new peer) can reuse this helper.
func (s *Server) broadcast(table wire.TableUpdate, recipients []*peertable.Session, skip fsmodel.PeerEndpoint) {
	for _, sess := range recipients {
		if sess.Endpoint == skip {
			continue
		}
		if err := sess.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.log.Debug("broadcast set deadline failed; session will reap itself", "peer", sess.Endpoint, "error", err.Error())
			continue
		}
		if err := wire.WriteMessage(sess.Conn, table); err != nil {
			s.log.Debug("broadcast write failed; session will reap itself", "peer", sess.Endpoint, "error", err.Error())
		}
	}
}

func (s *Server) onSessionExit(endpoint fsmodel.PeerEndpoint) {
	s.mu.Lock()
	s.index.RemovePeerEverywhere(endpoint)
	s.peers.Remove(endpoint)
	empty := s.peers.Len() == 0
	if empty {
		s.index.Reset()
	}
	s.mu.Unlock()

	s.log.Info("peer session ended", "peer", endpoint)
}

func (s *Server) sweepLoop() {
	interval := s.cfg.HeartbeatInterval + s.cfg.SweepGrace
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		stale := s.peers.Stale(s.cfg.HeartbeatInterval)
		for _, sess := range stale {
			s.log.Info("reaping stale peer", "peer", sess.Endpoint, "idle", sess.IdleFor())
			_ = sess.Conn.Close()
			s.onSessionExit(sess.Endpoint)
		}
	}
}

// Addr returns the tracker's bound address once Listen has succeeded, or ""
// if it hasn't.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
