// Package observer produces fsmodel.FileEvents from OS-level filesystem
// notifications (spec.md C4, §4.9). It is the one component the abstract
// spec explicitly leaves as "external collaborator (OS-specific)"; this
// implementation pins that collaborator to fsnotify, the portable
// notification library used by the reference fsnotify backend files in the
// example pack.
//
// fsnotify does not watch subdirectories recursively on its own, so the
// observer walks the root once at startup to register every existing
// directory, then adds a watch for every newly CREATEd directory as it is
// reported.
package observer

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/prxssh/localsync/internal/fsmodel"
)

// Observer watches root and every subdirectory beneath it, publishing raw
// FileEvents (not yet filtered by any ignore set — that is Monitor's job,
// spec.md §4.2).
type Observer struct {
	root    string
	watcher *fsnotify.Watcher
	log     *slog.Logger
	events  chan fsmodel.FileEvent

	mu       sync.Mutex
	watching map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an Observer rooted at root. The caller must call Run (or
// start it in a goroutine) to begin delivering events, and Close to release
// OS watch resources.
func New(root string, log *slog.Logger) (*Observer, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	o := &Observer{
		root:     root,
		watcher:  w,
		log:      log.With("component", "observer", "root", root),
		events:   make(chan fsmodel.FileEvent, 256),
		watching: make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := o.addTreeWatches(root); err != nil {
		w.Close()
		return nil, err
	}

	return o, nil
}

// Events returns the channel of observed filesystem events.
func (o *Observer) Events() <-chan fsmodel.FileEvent { return o.events }

// Run pumps fsnotify notifications into Events until Close is called or the
// underlying watcher errors out. Intended to run in its own goroutine.
func (o *Observer) Run() {
	defer close(o.events)

	for {
		select {
		case <-o.done:
			return

		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.handleRawEvent(ev)

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.log.Warn("observer error", "error", err.Error())
		}
	}
}

func (o *Observer) handleRawEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(o.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		o.forgetWatch(ev.Name)
		o.events <- fsmodel.FileEvent{
			Action: fsmodel.Deleted,
			Info:   fsmodel.FileInfo{Filepath: rel},
		}

	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := o.addTreeWatches(ev.Name); err != nil {
				o.log.Warn("failed to watch new directory", "path", ev.Name, "error", err.Error())
			}
		}
		o.events <- fsmodel.FileEvent{
			Action: fsmodel.Created,
			Info: fsmodel.FileInfo{
				Filepath:     rel,
				Size:         sizeOf(info),
				LastModified: info.ModTime().Unix(),
				IsDir:        info.IsDir(),
			},
		}

	case ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		o.events <- fsmodel.FileEvent{
			Action: fsmodel.Modified,
			Info: fsmodel.FileInfo{
				Filepath:     rel,
				Size:         sizeOf(info),
				LastModified: info.ModTime().Unix(),
				IsDir:        info.IsDir(),
			},
		}
	}
}

func sizeOf(info os.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

func (o *Observer) addTreeWatches(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != filepath.Base(root) && fsmodel.Hidden(d.Name()) {
			return filepath.SkipDir
		}
		o.addWatch(path)
		return nil
	})
}

func (o *Observer) addWatch(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.watching[path]; ok {
		return
	}
	if err := o.watcher.Add(path); err != nil {
		o.log.Warn("failed to add watch", "path", path, "error", err.Error())
		return
	}
	o.watching[path] = struct{}{}
}

func (o *Observer) forgetWatch(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.watching[path]; ok {
		delete(o.watching, path)
		_ = o.watcher.Remove(path)
	}
}

// Close stops the observer and releases the underlying fsnotify watcher.
func (o *Observer) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		err = o.watcher.Close()
	})
	return err
}
