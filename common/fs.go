package common

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// EnsureParentDirs creates the parent directory of every given file path.
// Empty paths are ignored.
func EnsureParentDirs(perms fs.FileMode, filePaths ...string) error {
	for _, filePath := range filePaths {
		if filePath == "" {
			continue
		}

		if err := CreateDirSafe(filepath.Dir(filePath), perms); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
		}
	}

	return nil
}

// CreateDirSafe creates a directory at path with perms level permissions.
// An existing path must be a directory.
func CreateDirSafe(path string, perms fs.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}

		return os.MkdirAll(path, perms)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", path)
	}

	return nil
}
