package fileindex

import (
	"testing"

	"github.com/prxssh/localsync/internal/fsmodel"
)

func ep(port int) fsmodel.PeerEndpoint { return fsmodel.PeerEndpoint{IP: "127.0.0.1", Port: port} }

func TestInsertAndUpdateModified(t *testing.T) {
	ix := New()
	p1 := ep(1)
	p2 := ep(2)

	if err := ix.Insert(fsmodel.FileInfo{Filepath: "a.txt", Size: 10, LastModified: 100}, p2); err != nil {
		t.Fatalf("insert: %v", err)
	}

	entry, ok := ix.Get("a.txt")
	if !ok || entry.Info.Size != 10 || entry.Info.LastModified != 100 {
		t.Fatalf("unexpected entry after insert: %+v", entry)
	}
	if _, ok := entry.Peers[p2]; !ok {
		t.Fatal("reporter should be the sole peer")
	}

	// Modify: peer set must reseat to {reporter} alone (invariant 5).
	if err := ix.UpdateModified(fsmodel.FileInfo{Filepath: "a.txt", Size: 20, LastModified: 200}, p2); err != nil {
		t.Fatalf("update_modified: %v", err)
	}
	entry, _ = ix.Get("a.txt")
	if entry.Info.Size != 20 || entry.Info.LastModified != 200 {
		t.Fatalf("update_modified did not overwrite size/mtime: %+v", entry)
	}
	if len(entry.Peers) != 1 {
		t.Fatalf("peer set must be exactly {reporter} after modify, got %v", entry.PeerList())
	}

	// Insert again on an existing path delegates to update_modified.
	if err := ix.Insert(fsmodel.FileInfo{Filepath: "a.txt", Size: 30, LastModified: 300}, p1); err != nil {
		t.Fatalf("insert-as-update: %v", err)
	}
	entry, _ = ix.Get("a.txt")
	if _, ok := entry.Peers[p1]; !ok || len(entry.Peers) != 1 {
		t.Fatalf("insert on existing path must reseat peers to the new reporter: %v", entry.PeerList())
	}
}

func TestInsertHiddenPathNoop(t *testing.T) {
	ix := New()
	if err := ix.Insert(fsmodel.FileInfo{Filepath: ".git/HEAD"}, ep(1)); err != nil {
		t.Fatalf("hidden insert should succeed as no-op: %v", err)
	}
	if ix.Len() != 0 {
		t.Fatalf("hidden path must not be added, len=%d", ix.Len())
	}
}

func TestInsertDirectoryForcesZeroSize(t *testing.T) {
	ix := New()
	if err := ix.Insert(fsmodel.FileInfo{Filepath: "d", IsDir: true, Size: 999}, ep(1)); err != nil {
		t.Fatal(err)
	}
	entry, _ := ix.Get("d")
	if entry.Info.Size != 0 {
		t.Fatalf("directory entries must report size 0, got %d", entry.Info.Size)
	}
}

func TestRemoveRecursesIntoDirectory(t *testing.T) {
	ix := New()
	p := ep(1)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(ix.Insert(fsmodel.FileInfo{Filepath: "d", IsDir: true}, p))
	must(ix.Insert(fsmodel.FileInfo{Filepath: "d/x", Size: 1}, p))
	must(ix.Insert(fsmodel.FileInfo{Filepath: "d/y", Size: 2}, p))
	must(ix.Insert(fsmodel.FileInfo{Filepath: "dother", Size: 3}, p))

	must(ix.Remove("d"))

	if ix.Len() != 1 {
		t.Fatalf("expected only 'dother' to survive, len=%d", ix.Len())
	}
	if _, ok := ix.Get("dother"); !ok {
		t.Fatal("unrelated sibling 'dother' must survive a directory-prefix delete")
	}
}

func TestRemoveNotFound(t *testing.T) {
	ix := New()
	if err := ix.Remove("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddPeerSizeMismatchSilentlyIgnored(t *testing.T) {
	ix := New()
	p1, p2 := ep(1), ep(2)
	if err := ix.Insert(fsmodel.FileInfo{Filepath: "a.txt", Size: 10, LastModified: 100}, p1); err != nil {
		t.Fatal(err)
	}

	if err := ix.AddPeer("a.txt", p2, 999); err != nil {
		t.Fatalf("size-mismatch add_peer must not error: %v", err)
	}
	entry, _ := ix.Get("a.txt")
	if _, ok := entry.Peers[p2]; ok {
		t.Fatal("peer with mismatched size must not be added")
	}

	if err := ix.AddPeer("a.txt", p2, 10); err != nil {
		t.Fatal(err)
	}
	entry, _ = ix.Get("a.txt")
	if _, ok := entry.Peers[p2]; !ok {
		t.Fatal("peer with matching size should be added")
	}

	// Idempotent.
	if err := ix.AddPeer("a.txt", p2, 10); err != nil {
		t.Fatal(err)
	}
}

func TestRemovePeerEverywhereKeepsEmptyEntries(t *testing.T) {
	ix := New()
	p1 := ep(1)
	if err := ix.Insert(fsmodel.FileInfo{Filepath: "a.txt", Size: 1}, p1); err != nil {
		t.Fatal(err)
	}

	ix.RemovePeerEverywhere(p1)

	entry, ok := ix.Get("a.txt")
	if !ok {
		t.Fatal("entry must remain in the table after its peer set empties")
	}
	if len(entry.Peers) != 0 {
		t.Fatalf("peer set should be empty, got %v", entry.PeerList())
	}
}

func TestDiffAndMergeRoundTrip(t *testing.T) {
	ix := New()
	p1 := ep(1)

	remote := []fsmodel.FileInfo{
		{Filepath: "a.txt", Size: 10, LastModified: 100},
	}

	events := ix.Merge(remote, p1)
	if len(events) != 1 || events[0].Action != fsmodel.Created {
		t.Fatalf("expected single CREATED event, got %+v", events)
	}

	// Same last_modified -> DOWNLOAD_COMPLETE (already-known version).
	events = ix.Diff(remote)
	if len(events) != 1 || events[0].Action != fsmodel.DownloadComplete {
		t.Fatalf("equal mtime should yield DOWNLOAD_COMPLETE, got %+v", events)
	}

	// Strictly newer -> MODIFIED.
	newer := []fsmodel.FileInfo{{Filepath: "a.txt", Size: 20, LastModified: 200}}
	events = ix.Diff(newer)
	if len(events) != 1 || events[0].Action != fsmodel.Modified {
		t.Fatalf("newer mtime should yield MODIFIED, got %+v", events)
	}

	// Round-trip invariant: merge(diff(F), r) yields last_modified >= F's.
	ix.Merge(newer, p1)
	entry, _ := ix.Get("a.txt")
	if entry.Info.LastModified < newer[0].LastModified {
		t.Fatalf("round-trip invariant violated: %+v", entry.Info)
	}
}

func TestEndToEndCreateAndConverge(t *testing.T) {
	ix := New()
	p2 := ep(2)

	// P2 registers with {(a.txt, 10, t=100)}.
	events := ix.Merge([]fsmodel.FileInfo{{Filepath: "a.txt", Size: 10, LastModified: 100}}, p2)
	if len(events) != 1 || events[0].Action != fsmodel.Created {
		t.Fatalf("expected CREATED, got %+v", events)
	}
	entry, _ := ix.Get("a.txt")
	if len(entry.Peers) != 1 {
		t.Fatalf("expected single peer {P2}, got %v", entry.PeerList())
	}

	// P1 downloads, reports DOWNLOAD_COMPLETE.
	p1 := ep(1)
	if err := ix.Apply(fsmodel.FileEvent{
		Action: fsmodel.DownloadComplete,
		Info:   fsmodel.FileInfo{Filepath: "a.txt", Size: 10, LastModified: 100},
	}, p1); err != nil {
		t.Fatal(err)
	}
	entry, _ = ix.Get("a.txt")
	if len(entry.Peers) != 2 {
		t.Fatalf("expected {P1,P2}, got %v", entry.PeerList())
	}
}

func TestModifyOverwritesPeers(t *testing.T) {
	ix := New()
	p1, p2 := ep(1), ep(2)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(ix.Insert(fsmodel.FileInfo{Filepath: "a.txt", Size: 10, LastModified: 100}, p2))
	must(ix.AddPeer("a.txt", p1, 10))

	must(ix.UpdateModified(fsmodel.FileInfo{Filepath: "a.txt", Size: 20, LastModified: 200}, p2))

	entry, _ := ix.Get("a.txt")
	if len(entry.Peers) != 1 {
		t.Fatalf("modify must drop all peers but the reporter, got %v", entry.PeerList())
	}
	if _, ok := entry.Peers[p2]; !ok {
		t.Fatal("reporter must remain the sole peer")
	}
}

func TestIdempotentReapplyNoChange(t *testing.T) {
	ix := New()
	p1 := ep(1)
	files := []fsmodel.FileInfo{{Filepath: "a.txt", Size: 10, LastModified: 100}}

	ix.Merge(files, p1)
	before := ix.Snapshot()

	// Re-applying the identical broadcast a second time (now as
	// DOWNLOAD_COMPLETE, since mtime is equal) must not change state.
	ix.Merge(files, p1)
	after := ix.Snapshot()

	if len(before) != len(after) || before[0].Info != after[0].Info {
		t.Fatalf("idempotent re-merge changed state: %+v -> %+v", before, after)
	}
}
