package wire

import (
	"bytes"
	"testing"

	"github.com/prxssh/localsync/internal/fileindex"
	"github.com/prxssh/localsync/internal/fsmodel"
)

func TestRegisterRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := Register{
		ListenPort: 40000,
		Files: []fsmodel.FileInfo{
			{Filepath: "a.txt", Size: 10, LastModified: 100},
			{Filepath: "d", IsDir: true},
		},
	}

	if err := WriteMessage(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != TypeRegister {
		t.Fatalf("type = %v, want REGISTER", typ)
	}

	out, ok := msg.(Register)
	if !ok {
		t.Fatalf("unexpected message type %T", msg)
	}
	if out.ListenPort != in.ListenPort || len(out.Files) != len(in.Files) {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
	if out.Files[0] != in.Files[0] {
		t.Fatalf("file 0 mismatch: %+v vs %+v", out.Files[0], in.Files[0])
	}
}

func TestFileUpdateRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := FileUpdate{Events: []fsmodel.FileEvent{
		{Action: fsmodel.Created, Info: fsmodel.FileInfo{Filepath: "a.txt", Size: 1, LastModified: 1}},
		{Action: fsmodel.Deleted, Info: fsmodel.FileInfo{Filepath: "b.txt"}},
	}}

	if err := WriteMessage(&buf, in); err != nil {
		t.Fatal(err)
	}

	typ, msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeFileUpdate {
		t.Fatalf("type = %v", typ)
	}
	out := msg.(FileUpdate)
	if len(out.Events) != 2 || out.Events[0].Action != fsmodel.Created || out.Events[1].Action != fsmodel.Deleted {
		t.Fatalf("round-trip mismatch: %+v", out.Events)
	}
}

func TestTableUpdateRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	p1 := fsmodel.PeerEndpoint{IP: "127.0.0.1", Port: 5000}
	in := TableUpdate{Entries: []fileindex.Entry{
		{
			Info:  fsmodel.FileInfo{Filepath: "a.txt", Size: 10, LastModified: 100},
			Peers: map[fsmodel.PeerEndpoint]struct{}{p1: {}},
		},
	}}

	if err := WriteMessage(&buf, in); err != nil {
		t.Fatal(err)
	}

	typ, msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeTableUpdate {
		t.Fatalf("type = %v", typ)
	}
	out := msg.(TableUpdate)
	if len(out.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out.Entries))
	}
	if out.Entries[0].Info != in.Entries[0].Info {
		t.Fatalf("info mismatch: %+v", out.Entries[0].Info)
	}
	if _, ok := out.Entries[0].Peers[p1]; !ok {
		t.Fatalf("peer missing after round-trip: %+v", out.Entries[0].Peers)
	}
}

func TestKeepAliveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, KeepAlive{}); err != nil {
		t.Fatal(err)
	}
	typ, _, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeKeepAlive {
		t.Fatalf("type = %v", typ)
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(200)
	buf.Write(make([]byte, 8))

	typ, msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Fatalf("unknown type should yield nil body, got %v", msg)
	}
	_ = typ
}
