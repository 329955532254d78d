package file

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FindDatabases lists the per-language-pair database files under dir,
// sorted by path. Missing directories yield an empty list.
func FindDatabases(dir string) ([]string, error) {
	var dbs []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".db") {
			dbs = append(dbs, path)
		}
		return nil
	})

	return dbs, err
}
