package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// DiskUsageBytes returns the bytes used by the given stores. A directory is summed recursively;
// a file is counted together with its SQLite sidecar files. Missing paths count as 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	seen := make(map[string]bool)
	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
			return nil
		}
		return filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			if seen[abs] {
				return nil
			}
			seen[abs] = true
			total += fi.Size()
			return nil
		})
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := add(p); err != nil {
			return 0, err
		}
		for _, suffix := range sqliteSidecars {
			if err := add(p + suffix); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}
