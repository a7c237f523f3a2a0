// Package upload implements the peer-side upload server (spec.md §4.6,
// C11): it serves byte-range reads of the watched directory's files to
// requesting download workers.
package upload

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prxssh/localsync/internal/wire"
)

// Server listens on a peer's chosen listen_port and serves SegmentRequests
// against files rooted at Dir.
type Server struct {
	dir          string
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          *slog.Logger

	// fileLock serializes open+seek+read+close as a single unit, per the
	// concurrency table in spec.md §5 ("Upload serving file"). Crude but
	// correct: it prevents interleaved seeks when two serving tasks read
	// the same underlying file concurrently.
	fileLock sync.Mutex

	listener net.Listener
}

// New returns an upload server rooted at dir, not yet listening. readTimeout
// and writeTimeout bound each SegmentRequest read and each response write,
// so a stalled or hostile download worker can't wedge a serving goroutine
// forever (spec.md §7 "Transport error").
func New(dir string, readTimeout, writeTimeout time.Duration, log *slog.Logger) *Server {
	return &Server{dir: dir, readTimeout: readTimeout, writeTimeout: writeTimeout, log: log.With("component", "upload")}
}

// Listen binds addr (normally "0.0.0.0:<listen_port>").
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" if Listen has not been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the accept loop until the listener is closed.
func (s *Server) Serve() error {
	if s.listener == nil {
		return net.ErrClosed
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops the accept loop.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// serveConn is the per-connection serving task (spec.md §4.6).
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}
		req, fi, err := wire.ReadSegmentRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("segment request read failed", "error", err.Error())
			}
			return
		}

		if req.InitOffset == wire.TerminationOffset {
			return
		}

		buf, err := s.readRange(fi.Filepath, req.InitOffset, req.Length)
		if err != nil {
			s.log.Warn("serve range failed", "path", fi.Filepath, "offset", req.InitOffset, "error", err.Error())
			return
		}

		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return
		}
		if _, err := conn.Write(buf); err != nil {
			s.log.Debug("segment write failed", "path", fi.Filepath, "error", err.Error())
			return
		}
	}
}

// readRange opens, seeks, reads, and closes relPath as one locked unit
// (spec.md §4.6 step 3; §5 "Upload serving file").
func (s *Server) readRange(relPath string, offset, length int64) ([]byte, error) {
	s.fileLock.Lock()
	defer s.fileLock.Unlock()

	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
