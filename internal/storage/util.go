package storage

import (
	"os"
	"path/filepath"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// EnsureParentDir ensures the directory holding path exists.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return EnsureDir(dir)
}

// InRange reports whether date lies within [fromDate, toDate].
// Empty bounds are open. ISO dates compare lexically.
func InRange(date, fromDate, toDate string) bool {
	if fromDate != "" && date < fromDate {
		return false
	}
	if toDate != "" && date > toDate {
		return false
	}
	return true
}
