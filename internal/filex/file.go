// Package filex contains small filesystem helpers shared by the storage layer.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and any missing parents) if it does not exist and
// returns its absolute path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// RemoveRecursive deletes path and, if it is a directory, everything below it.
// Reports whether anything existed to delete.
func RemoveRecursive(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.RemoveAll(path); err != nil {
		return true, fmt.Errorf("remove %s: %w", path, err)
	}

	return true, nil
}
