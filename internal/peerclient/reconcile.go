package peerclient

import (
	"context"
	"os"

	"github.com/prxssh/localsync/internal/download"
	"github.com/prxssh/localsync/internal/fileindex"
	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/scandir"
	"github.com/prxssh/localsync/internal/wire"
)

// reconcile implements the peer's TABLE_UPDATE handler (spec.md §4.5): scan
// the local directory, compare it against the broadcast index, and trigger
// local deletes or downloads for every discrepancy.
func (c *Client) reconcile(ctx context.Context, table wire.TableUpdate) {
	local, err := scandir.Scan(c.dir, c.log)
	if err != nil {
		c.log.Warn("reconcile: scan failed", "error", err.Error())
		return
	}

	index := make(map[string]fileindex.Entry, len(table.Entries))
	for _, e := range table.Entries {
		index[e.Info.Filepath] = e
	}

	present := make(map[string]struct{}, len(local))
	for _, l := range local {
		present[l.Filepath] = struct{}{}

		entry, ok := index[l.Filepath]
		if !ok {
			if !fsmodel.Hidden(l.Filepath) {
				c.localDelete(l.Filepath, l.IsDir)
			}
			continue
		}

		if _, haveIt := entry.Peers[c.self]; haveIt {
			continue
		}
		if l.LastModified < entry.Info.LastModified || l.Size != entry.Info.Size {
			c.startDownload(ctx, entry)
		}
	}

	for _, e := range table.Entries {
		if _, ok := present[e.Info.Filepath]; !ok {
			c.startDownload(ctx, e)
		}
	}
}

// localDelete removes a path absent from the broadcast index, suppressing
// the observer's echo through the monitor's ignore_delete set (spec.md
// §4.5 "Local delete").
func (c *Client) localDelete(relPath string, isDir bool) {
	c.mon.IgnoreDelete(relPath)

	full := relPathToOS(c.dir, relPath)
	var err error
	if isDir {
		err = os.RemoveAll(full)
	} else {
		err = os.Remove(full)
	}
	if err != nil && !os.IsNotExist(err) {
		c.log.Warn("local delete failed", "path", relPath, "error", err.Error())
	}

	c.mon.SettleDelete(relPath)
}

// startDownload begins fetching entry, suppressing the observer's echo
// through ignore_modify (spec.md §4.5 "Local download preparation"). A
// path already in ignore_modify has a download in flight and is skipped.
func (c *Client) startDownload(ctx context.Context, entry fileindex.Entry) {
	relPath := entry.Info.Filepath
	if c.mon.IsIgnoringModify(relPath) {
		return
	}
	c.mon.IgnoreModify(relPath)

	if entry.Info.IsDir {
		full := relPathToOS(c.dir, relPath)
		if err := os.MkdirAll(full, 0o755); err != nil {
			c.log.Warn("create directory failed", "path", relPath, "error", err.Error())
		}
		c.downloadComplete(entry.Clone())
		return
	}

	go c.runDownload(ctx, entry.Clone())
}

func (c *Client) runDownload(ctx context.Context, entry fileindex.Entry) {
	coord := download.New(c.dir, entry, c.pieceLen, c.streamsPerPeer, c.cfg.DialTimeout, c.cfg.ReadTimeout, c.cfg.WriteTimeout, c.log)

	if err := coord.Run(ctx, c.downloadComplete); err != nil {
		c.log.Warn("download failed", "path", entry.Info.Filepath, "error", err.Error())
		// Clear the ignore entry immediately (no settle delay) so the next
		// broadcast can retry; there was no successful write to settle
		// against (spec.md §7 "Filesystem error": retried implicitly on
		// the next broadcast).
		c.mon.ClearModifyNow(entry.Info.Filepath)
	}
}

// downloadComplete is the peer-side download-complete callback (spec.md
// §4.5): it reports the new local copy to the tracker and, after the
// settle delay, clears ignore_modify.
func (c *Client) downloadComplete(entry fileindex.Entry) {
	ev := fsmodel.FileEvent{Action: fsmodel.DownloadComplete, Info: entry.Info}
	if err := c.writeMessage(wire.FileUpdate{Events: []fsmodel.FileEvent{ev}}); err != nil {
		c.log.Warn("download-complete report failed", "path", entry.Info.Filepath, "error", err.Error())
	}
	c.mon.SettleModify(entry.Info.Filepath)
}
