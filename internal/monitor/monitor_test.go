package monitor

import (
	"log/slog"
	"testing"

	"github.com/prxssh/localsync/internal/fsmodel"
)

func TestShouldDrop(t *testing.T) {
	m := &Monitor{
		log:     slog.Default(),
		ignoreM: newIgnoreSet(),
		ignoreD: newIgnoreSet(),
	}

	if !m.shouldDrop(fsmodel.FileEvent{Info: fsmodel.FileInfo{Filepath: ".git/HEAD"}}) {
		t.Fatal("hidden path should be dropped")
	}

	m.IgnoreModify("a.txt")
	if !m.shouldDrop(fsmodel.FileEvent{Action: fsmodel.Modified, Info: fsmodel.FileInfo{Filepath: "a.txt"}}) {
		t.Fatal("ignored-modify path should be dropped for MODIFIED")
	}
	if m.shouldDrop(fsmodel.FileEvent{Action: fsmodel.Deleted, Info: fsmodel.FileInfo{Filepath: "a.txt"}}) {
		t.Fatal("ignore_modify must not suppress DELETED events for the same path")
	}

	m.IgnoreDelete("b.txt")
	if !m.shouldDrop(fsmodel.FileEvent{Action: fsmodel.Deleted, Info: fsmodel.FileInfo{Filepath: "b.txt"}}) {
		t.Fatal("ignored-delete path should be dropped for DELETED")
	}

	if m.shouldDrop(fsmodel.FileEvent{Action: fsmodel.Created, Info: fsmodel.FileInfo{Filepath: "c.txt"}}) {
		t.Fatal("unrelated path should not be dropped")
	}
}
