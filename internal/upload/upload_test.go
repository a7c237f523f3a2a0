package upload

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/wire"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestServeConnReturnsRequestedRange(t *testing.T) {
	dir := t.TempDir()
	content := []byte("0123456789abcdef")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := New(dir, time.Second, time.Second, testLogger())
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer s.Close()
	go s.Serve()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := wire.SegmentRequest{InitOffset: 4, Length: 6}
	if err := wire.WriteSegmentRequest(conn, req, fsmodel.FileInfo{Filepath: "a.txt"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	got := make([]byte, 6)
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read range: %v", err)
	}
	if string(got) != "456789" {
		t.Fatalf("range = %q, want %q", got, "456789")
	}

	term := wire.SegmentRequest{InitOffset: wire.TerminationOffset}
	if err := wire.WriteSegmentRequest(conn, term, fsmodel.FileInfo{Filepath: "a.txt"}); err != nil {
		t.Fatalf("write termination: %v", err)
	}
}
