// Package scandir performs the recursive local-directory scan that both the
// peer's startup REGISTER and its post-broadcast reconciliation pass need
// (spec.md §4.5, §4.7; expanded at §4.8). It is reentrant: no package
// globals, all state threaded through parameters and return values, per
// spec.md §9's "Global-mutable monitor state" design note.
package scandir

import (
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/prxssh/localsync/internal/fsmodel"
)

// Scan walks root and returns one fsmodel.FileInfo per visited file or
// directory, using root-relative slash-separated paths. Entries whose base
// name begins with '.' are skipped entirely (and, for directories, their
// subtree is skipped too). Per-entry stat errors are logged and skipped; a
// failure to open root itself is returned to the caller.
func Scan(root string, log *slog.Logger) ([]fsmodel.FileInfo, error) {
	var out []fsmodel.FileInfo

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if path == root {
			if err != nil {
				return err
			}
			return nil
		}

		if err != nil {
			log.Warn("scandir: skipping entry", "path", path, "error", err.Error())
			return nil
		}

		if fsmodel.Hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			log.Warn("scandir: relpath failed", "path", path, "error", relErr.Error())
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, infoErr := d.Info()
		if infoErr != nil {
			log.Warn("scandir: stat failed", "path", path, "error", infoErr.Error())
			return nil
		}

		fi := fsmodel.FileInfo{
			Filepath:     rel,
			IsDir:        d.IsDir(),
			LastModified: info.ModTime().Unix(),
		}
		if !fi.IsDir {
			fi.Size = info.Size()
		}

		out = append(out, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
