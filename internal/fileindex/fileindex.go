// Package fileindex implements the tracker's authoritative file table and
// its merge/diff algebra — the shared replicated data model that makes
// concurrent peer modifications converge (spec.md §4.3, C6).
//
// Storage is an ordered map: a map keyed by filepath plus a sorted key
// slice, rather than the original implementation's sorted singly linked
// list (spec.md §9 design note). Lexicographic key order is preserved for
// the recursive directory-prefix delete.
package fileindex

import (
	"errors"
	"sort"

	"github.com/prxssh/localsync/internal/fsmodel"
)

var (
	// ErrNotFound is returned by operations that require an existing key.
	ErrNotFound = errors.New("fileindex: not found")
)

// Entry is one key-value in the index: a FileInfo plus the set of peer
// endpoints known to hold exactly this version (spec.md §3 IndexEntry).
type Entry struct {
	Info  fsmodel.FileInfo
	Peers map[fsmodel.PeerEndpoint]struct{}
}

// Clone returns a deep copy of e, suitable for handing to a download
// coordinator that must own a stable snapshot (spec.md §4.7).
func (e Entry) Clone() Entry {
	peers := make(map[fsmodel.PeerEndpoint]struct{}, len(e.Peers))
	for p := range e.Peers {
		peers[p] = struct{}{}
	}
	return Entry{Info: e.Info, Peers: peers}
}

// PeerList returns e's peer set as a slice, in no particular order.
func (e Entry) PeerList() []fsmodel.PeerEndpoint {
	out := make([]fsmodel.PeerEndpoint, 0, len(e.Peers))
	for p := range e.Peers {
		out = append(out, p)
	}
	return out
}

// Index is the sorted filepath->Entry map. The zero value is not usable;
// use New. Index itself is not internally locked — the tracker serializes
// all access under its own single mutex (spec.md §4.4, §5); callers that
// need their own synchronization should wrap Index accordingly.
type Index struct {
	entries map[string]Entry
	keys    []string // kept sorted lexicographically
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Get returns the entry for filepath, if any.
func (ix *Index) Get(filepath string) (Entry, bool) {
	e, ok := ix.entries[filepath]
	return e, ok
}

// Snapshot returns every entry in filepath-sorted order.
func (ix *Index) Snapshot() []Entry {
	out := make([]Entry, 0, len(ix.keys))
	for _, k := range ix.keys {
		out = append(out, ix.entries[k])
	}
	return out
}

// Reset empties the index (used when the tracker's peer table becomes
// empty after a sweep, spec.md §4.4).
func (ix *Index) Reset() {
	ix.entries = make(map[string]Entry)
	ix.keys = ix.keys[:0]
}

func (ix *Index) insertKey(filepath string) {
	i := sort.SearchStrings(ix.keys, filepath)
	ix.keys = append(ix.keys, "")
	copy(ix.keys[i+1:], ix.keys[i:])
	ix.keys[i] = filepath
}

func (ix *Index) deleteKey(filepath string) {
	i := sort.SearchStrings(ix.keys, filepath)
	if i < len(ix.keys) && ix.keys[i] == filepath {
		ix.keys = append(ix.keys[:i], ix.keys[i+1:]...)
	}
}

// Insert adds file as a brand-new entry owned solely by reporter. If
// filepath already exists it delegates to UpdateModified. Hidden paths
// ('.'-prefixed) are a no-op success. Directory entries have their size
// forced to 0 (spec.md §4.3 insert()).
func (ix *Index) Insert(file fsmodel.FileInfo, reporter fsmodel.PeerEndpoint) error {
	if err := file.Validate(); err != nil {
		return err
	}
	if fsmodel.Hidden(file.Filepath) {
		return nil
	}
	if file.IsDir {
		file.Size = 0
	}

	if _, exists := ix.entries[file.Filepath]; exists {
		return ix.UpdateModified(file, reporter)
	}

	ix.entries[file.Filepath] = Entry{
		Info:  file,
		Peers: map[fsmodel.PeerEndpoint]struct{}{reporter: {}},
	}
	ix.insertKey(file.Filepath)
	return nil
}

// Remove deletes the entry for filepath. If the entry is a directory, every
// entry whose path is a strict prefix-descendant is removed first,
// recursively, before the directory entry itself (spec.md §4.3 remove()).
func (ix *Index) Remove(filepath string) error {
	entry, ok := ix.entries[filepath]
	if !ok {
		return ErrNotFound
	}

	if entry.Info.IsDir {
		// Every key is checked: a sibling such as "d-x" sorts between "d"
		// and "d/x", so descendants are not necessarily contiguous.
		var toRemove []string
		for _, k := range ix.keys {
			if fsmodel.IsStrictPrefixPath(filepath, k) {
				toRemove = append(toRemove, k)
			}
		}
		for _, k := range toRemove {
			delete(ix.entries, k)
			ix.deleteKey(k)
		}
	}

	delete(ix.entries, filepath)
	ix.deleteKey(filepath)
	return nil
}

// UpdateModified overwrites last_modified and size for an existing entry
// and reseats its peer set to {reporter} alone, enforcing the
// single-writer/newest-wins rule (spec.md §4.3 update_modified(),
// invariant 5 in §8).
func (ix *Index) UpdateModified(file fsmodel.FileInfo, reporter fsmodel.PeerEndpoint) error {
	entry, ok := ix.entries[file.Filepath]
	if !ok {
		return ErrNotFound
	}

	entry.Info.LastModified = file.LastModified
	entry.Info.Size = file.Size
	if entry.Info.IsDir {
		entry.Info.Size = 0
	}
	entry.Peers = map[fsmodel.PeerEndpoint]struct{}{reporter: {}}

	ix.entries[file.Filepath] = entry
	return nil
}

// AddPeer records that endpoint holds the current version of filepath,
// provided reportedSize matches the entry's recorded size. A size mismatch
// is a silent no-op — the peer has a stale copy (spec.md §4.3 add_peer(),
// §9 Open Question "size-mismatch silent drop"). Returns ErrNotFound if the
// entry does not exist.
func (ix *Index) AddPeer(filepath string, endpoint fsmodel.PeerEndpoint, reportedSize int64) error {
	entry, ok := ix.entries[filepath]
	if !ok {
		return ErrNotFound
	}

	if entry.Info.Size != reportedSize {
		return nil
	}

	if _, already := entry.Peers[endpoint]; already {
		return nil
	}

	entry.Peers[endpoint] = struct{}{}
	ix.entries[filepath] = entry
	return nil
}

// RemovePeerEverywhere strips endpoint from every entry's peer set.
// Entries whose set becomes empty remain in the table (spec.md §4.3
// remove_peer_everywhere()).
func (ix *Index) RemovePeerEverywhere(endpoint fsmodel.PeerEndpoint) {
	for k, entry := range ix.entries {
		if _, ok := entry.Peers[endpoint]; ok {
			delete(entry.Peers, endpoint)
			ix.entries[k] = entry
		}
	}
}

// Diff computes the events needed to bring the index to reflect the union
// of its current state with files, per spec.md §4.3 diff():
//
//   - filepath absent from the index -> CREATED(file)
//   - filepath present but strictly older last_modified -> MODIFIED(file)
//   - filepath present with equal last_modified -> DOWNLOAD_COMPLETE(file)
//   - otherwise -> no event
func (ix *Index) Diff(files []fsmodel.FileInfo) []fsmodel.FileEvent {
	var events []fsmodel.FileEvent

	for _, f := range files {
		entry, ok := ix.entries[f.Filepath]
		switch {
		case !ok:
			events = append(events, fsmodel.FileEvent{Action: fsmodel.Created, Info: f})
		case entry.Info.LastModified < f.LastModified:
			events = append(events, fsmodel.FileEvent{Action: fsmodel.Modified, Info: f})
		case entry.Info.LastModified == f.LastModified:
			events = append(events, fsmodel.FileEvent{Action: fsmodel.DownloadComplete, Info: f})
		}
	}

	return events
}

// Merge computes Diff(files) and applies every resulting event using
// reporter as the originator, returning the events actually applied for
// observability (spec.md §4.3 merge()).
func (ix *Index) Merge(files []fsmodel.FileInfo, reporter fsmodel.PeerEndpoint) []fsmodel.FileEvent {
	events := ix.Diff(files)
	for _, ev := range events {
		_ = ix.Apply(ev, reporter)
	}
	return events
}

// Apply applies a single FileEvent to the index, using reporter as the
// originating peer for CREATED/MODIFIED/DOWNLOAD_COMPLETE (spec.md §4.4
// dispatch table). Peer-behavior errors (e.g. an update to an unknown
// filepath) are returned but are not fatal to the caller — the tracker
// session loop ignores them and moves on (spec.md §7).
func (ix *Index) Apply(ev fsmodel.FileEvent, reporter fsmodel.PeerEndpoint) error {
	switch ev.Action {
	case fsmodel.Created:
		return ix.Insert(ev.Info, reporter)
	case fsmodel.Modified:
		return ix.UpdateModified(ev.Info, reporter)
	case fsmodel.Deleted:
		return ix.Remove(ev.Info.Filepath)
	case fsmodel.DownloadComplete:
		return ix.AddPeer(ev.Info.Filepath, reporter, ev.Info.Size)
	default:
		return nil
	}
}
