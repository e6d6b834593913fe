package sync

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/chunking"
	"github.com/pamuduchat/syncshare/internal/network/messages"
)

// ErrTransferRejected means a received file failed verification
var ErrTransferRejected = errors.New("transfer rejected")

func (e *Engine) onTransferStart(s *session, msg messages.SyncMessage) error {
	info := msg.FileTransferInfo
	if info == nil {
		return errors.New("transfer start without file info")
	}
	p := info.RelativePath
	if s.current != nil {
		return fmt.Errorf("transfer of %s started while %s is in progress", p, s.current.path)
	}
	if !s.requested[p] {
		return fmt.Errorf("unrequested transfer of %s", p)
	}
	if info.Size < 0 {
		return fmt.Errorf("invalid size %d for %s", info.Size, p)
	}

	target := p
	if renamed, ok := s.renames[p]; ok {
		target = renamed
	}
	diskPath, err := e.diskPath(s, target)
	if err != nil {
		return err
	}

	remote := s.remote[p]
	expectedHash := ""
	if e.opts.Sync.VerifyHash {
		expectedHash = remote.ContentHash
	}

	e.mute(diskPath)
	assembler, err := chunking.NewAssembler(diskPath, info.Size, expectedHash)
	if err != nil {
		e.unmute(diskPath)
		return err
	}

	s.current = &incoming{
		path:      p,
		target:    target,
		diskPath:  diskPath,
		size:      info.Size,
		remote:    remote,
		assembler: assembler,
	}
	e.progress.Set(Transfer{Folder: s.folder, Path: p, Direction: directionReceived, Total: info.Size})
	return nil
}

func (e *Engine) onChunk(s *session, msg messages.SyncMessage) error {
	cur := s.current
	if cur == nil {
		return errors.New("chunk received outside a transfer")
	}
	if err := cur.assembler.Append(msg.ChunkOffset, msg.ChunkBytes); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferRejected, cur.path, err)
	}
	e.progress.Set(Transfer{
		Folder:    s.folder,
		Path:      cur.path,
		Direction: directionReceived,
		Done:      cur.assembler.Written(),
		Total:     cur.size,
	})
	return nil
}

// onTransferEnd verifies the reconstructed file before acknowledging it.
// A file that fails verification is never acknowledged.
func (e *Engine) onTransferEnd(s *session, msg messages.SyncMessage) error {
	cur := s.current
	if cur == nil || msg.Path() != cur.path {
		return fmt.Errorf("unexpected transfer end for %s", msg.Path())
	}
	if msg.FileTransferInfo.Size != cur.size {
		return fmt.Errorf("%w: %s: %w: announced %d bytes, ended at %d", ErrTransferRejected, cur.path,
			chunking.ErrSizeMismatch, cur.size, msg.FileTransferInfo.Size)
	}

	var mtime time.Time
	if cur.remote.LastModified > 0 {
		mtime = time.UnixMilli(cur.remote.LastModified)
	}

	s.current = nil
	hash, err := cur.assembler.Finish(mtime)
	e.unmute(cur.diskPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferRejected, cur.path, err)
	}
	s.phase = PhaseAcking

	lastModified := cur.remote.LastModified
	if info, err := os.Stat(cur.diskPath); err == nil {
		lastModified = info.ModTime().UnixMilli()
	}
	s.local[cur.target] = messages.FileMetadata{
		RelativePath: cur.target,
		Name:         path.Base(cur.target),
		Size:         cur.size,
		LastModified: lastModified,
		ContentHash:  hash,
	}
	if e.opts.HashCache != nil {
		if err := e.opts.HashCache.StoreHash(s.folder, cur.target, cur.size, lastModified, hash); err != nil {
			e.logger.Debug("Failed to cache hash", zap.String("path", cur.target), zap.Error(err))
		}
	}

	delete(s.requested, cur.path)
	delete(s.renames, cur.path)
	s.transferred++
	e.metrics.FileTransferred(s.ctx, directionReceived, cur.size)
	e.logger.Debug("File received",
		zap.String("path", cur.path),
		zap.String("stored_as", cur.target),
		zap.Int64("size", cur.size))

	e.send(s, messages.ReceivedAck(s.folder, cur.path, cur.size))
	return nil
}
