package filesystem

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/hashing"
	"github.com/pamuduchat/syncshare/internal/network/messages"
)

// HashCache remembers content hashes keyed by file identity so unchanged
// files are not rehashed on every listing.
type HashCache interface {
	LookupHash(folder, relPath string, size, mtime int64) (string, bool)
	StoreHash(folder, relPath string, size, mtime int64, hash string) error
}

// ScanFolder lists every regular file under root. Relative paths are
// slash-separated and prefixed with folder, e.g. "Photos/2024/a.jpg".
// cache and logger may be nil. Names that are not valid UTF-8 cannot
// cross the wire intact and are skipped with a warning.
func ScanFolder(root, folder string, cache HashCache, logger *zap.Logger) ([]messages.FileMetadata, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var list []messages.FileMetadata

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if isInternal(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p != root && !utf8.ValidString(d.Name()) {
			logger.Warn("Skipping file with non UTF-8 name",
				zap.String("folder", folder), zap.ByteString("path", []byte(p)))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		relPath := path.Join(folder, filepath.ToSlash(rel))
		size, mtime := info.Size(), info.ModTime().UnixMilli()

		hash, ok := "", false
		if cache != nil {
			hash, ok = cache.LookupHash(folder, relPath, size, mtime)
		}
		if !ok {
			hash, err = hashing.FileHash(p)
			if err != nil {
				return err
			}
			if cache != nil {
				if err := cache.StoreHash(folder, relPath, size, mtime, hash); err != nil {
					logger.Debug("Failed to cache hash", zap.String("path", relPath), zap.Error(err))
				}
			}
		}

		list = append(list, messages.FileMetadata{
			RelativePath: relPath,
			Name:         d.Name(),
			Size:         size,
			LastModified: mtime,
			ContentHash:  hash,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return list, nil
}
