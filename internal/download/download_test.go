package download

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prxssh/localsync/internal/fileindex"
	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/upload"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startUploadPeer(t *testing.T, content []byte) fsmodel.PeerEndpoint {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := upload.New(dir, time.Second, time.Second, testLogger())
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	go s.Serve()

	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return fsmodel.PeerEndpoint{IP: host, Port: port}
}

func TestParallelSegmentDownloadFromTwoPeers(t *testing.T) {
	content := make([]byte, 10*1024)
	for i := range content {
		content[i] = byte(i % 256)
	}

	peerA := startUploadPeer(t, content)
	peerB := startUploadPeer(t, content)

	entry := fileindex.Entry{
		Info: fsmodel.FileInfo{Filepath: "big.bin", Size: int64(len(content)), LastModified: 123456},
		Peers: map[fsmodel.PeerEndpoint]struct{}{
			peerA: {},
			peerB: {},
		},
	}

	destDir := t.TempDir()
	coord := New(destDir, entry.Clone(), 2048, 2, time.Second, time.Second, time.Second, testLogger())

	var completed fileindex.Entry
	done := make(chan struct{})
	err := coord.Run(context.Background(), func(e fileindex.Entry) {
		completed = e
		close(done)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	<-done

	if completed.Info.Filepath != "big.bin" {
		t.Fatalf("callback entry mismatch: %+v", completed)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "big.bin"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("len = %d, want %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], content[i])
		}
	}

	fi, err := os.Stat(filepath.Join(destDir, "big.bin"))
	if err != nil {
		t.Fatalf("stat result: %v", err)
	}
	if fi.ModTime().Unix() != 123456 {
		t.Fatalf("mtime = %d, want 123456", fi.ModTime().Unix())
	}
}

func TestZeroSizeEntryShortCircuits(t *testing.T) {
	entry := fileindex.Entry{Info: fsmodel.FileInfo{Filepath: "empty.txt", Size: 0}}
	coord := New(t.TempDir(), entry, 2048, 1, time.Second, time.Second, time.Second, testLogger())

	called := false
	if err := coord.Run(context.Background(), func(fileindex.Entry) { called = true }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !called {
		t.Fatal("expected immediate callback for zero-size entry")
	}
}
