package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempPrefix marks in-flight files. Scans and watchers skip them.
const TempPrefix = ".syncshare-tmp-"

// ErrUnsafePath is returned for paths that escape their root
var ErrUnsafePath = errors.New("unsafe path")

// AtomicWriteFile writes a file atomically using a temporary file and rename
func AtomicWriteFile(filePath string, data []byte, mode os.FileMode) error {
	tmpFile, err := CreateTempFor(filePath)
	if err != nil {
		return err
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Chmod(mode); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	return CommitTemp(tmpFile, filePath, time.Time{})
}

// AtomicWriteFileFromReader writes a file atomically from an io.Reader
func AtomicWriteFileFromReader(filePath string, reader io.Reader, mode os.FileMode) error {
	tmpFile, err := CreateTempFor(filePath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(tmpFile, reader); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := tmpFile.Chmod(mode); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	return CommitTemp(tmpFile, filePath, time.Time{})
}

// CreateTempFor creates a temporary file next to filePath
func CreateTempFor(filePath string) (*os.File, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, TempPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return tmpFile, nil
}

// CommitTemp syncs and closes tmpFile, then renames it over filePath.
// A non-zero mtime is applied to the committed file.
func CommitTemp(tmpFile *os.File, filePath string, mtime time.Time) error {
	tmpPath := tmpFile.Name()

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if !mtime.IsZero() {
		os.Chtimes(tmpPath, mtime, mtime)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ResolvePath joins a slash-separated relative path onto root, refusing
// absolute paths and paths that climb out of root.
func ResolvePath(root, rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." || part == "." || part == "" {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
		}
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// EnsureDirectory ensures a directory exists
func EnsureDirectory(dirPath string) error {
	return os.MkdirAll(dirPath, 0755)
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}

// IsDirectory checks if a path is a directory
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// isInternal reports whether name belongs to syncshare bookkeeping
func isInternal(name string) bool {
	return strings.HasPrefix(name, TempPrefix) || name == ".syncshare"
}
