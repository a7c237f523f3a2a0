package eventqueue

import (
	"testing"
	"time"

	"github.com/prxssh/localsync/internal/fsmodel"
)

func TestDrainBlockingWaitsThenReturnsAll(t *testing.T) {
	q := New()

	done := make(chan []fsmodel.FileEvent, 1)
	go func() {
		done <- q.DrainBlocking()
	}()

	select {
	case <-done:
		t.Fatalf("DrainBlocking returned before any event was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(fsmodel.FileEvent{Action: fsmodel.Created, Info: fsmodel.FileInfo{Filepath: "a.txt"}})
	q.Enqueue(fsmodel.FileEvent{Action: fsmodel.Modified, Info: fsmodel.FileInfo{Filepath: "b.txt"}})

	select {
	case batch := <-done:
		if len(batch) != 2 {
			t.Fatalf("got %d events, want 2", len(batch))
		}
	case <-time.After(time.Second):
		t.Fatal("DrainBlocking never returned")
	}

	if q.Len() != 0 {
		t.Fatalf("queue not reset after drain, len=%d", q.Len())
	}
}

func TestRemoveByFilepath(t *testing.T) {
	q := New()
	q.Enqueue(fsmodel.FileEvent{Info: fsmodel.FileInfo{Filepath: "a.txt"}})
	q.Enqueue(fsmodel.FileEvent{Info: fsmodel.FileInfo{Filepath: "b.txt"}})
	q.Enqueue(fsmodel.FileEvent{Info: fsmodel.FileInfo{Filepath: "a.txt"}})

	q.RemoveByFilepath("a.txt")

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}
