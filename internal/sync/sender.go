package sync

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/network/messages"
)

// sendResult reports a finished file job to the engine loop
type sendResult struct {
	sessionID string
	folder    string
	path      string
	size      int64
	err       error
}

// runSender drains the outbox onto the channel until ctx is done
func (e *Engine) runSender(ctx context.Context) {
	for {
		item, ok := e.outbox.Dequeue(ctx)
		if !ok {
			return
		}

		if item.msg != nil {
			if err := e.channel.Send(*item.msg); err != nil {
				// The read loop surfaces the broken stream as a synthetic error.
				e.logger.Debug("Dropped outbound message", zap.Stringer("message", item.msg), zap.Error(err))
			}
			continue
		}

		job := item.file
		if job.ctx.Err() != nil {
			// queued before its session failed; never announce it
			e.logger.Debug("Dropped file job of finished session", zap.String("path", job.path))
			continue
		}
		size, err := e.streamFile(job)
		if job.ctx.Err() != nil {
			// session already failed, nothing to report
			continue
		}

		select {
		case e.results <- sendResult{sessionID: job.sessionID, folder: job.folder, path: job.path, size: size, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// streamFile sends TransferStart, the chunks and TransferEnd for one file
func (e *Engine) streamFile(job *fileJob) (int64, error) {
	file, err := os.Open(job.diskPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", job.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", job.path, err)
	}
	size := info.Size()

	if err := e.channel.Send(messages.TransferStart(job.folder, job.path, size)); err != nil {
		return 0, err
	}

	progress := Transfer{Folder: job.folder, Path: job.path, Direction: directionSent, Total: size}
	e.progress.Set(progress)

	sent, err := e.chunker.Stream(job.ctx, file, func(offset int64, data []byte) error {
		if err := e.limiter.Wait(job.ctx, int64(len(data))); err != nil {
			return err
		}
		if err := e.channel.Send(messages.Chunk(job.folder, offset, data)); err != nil {
			return err
		}
		progress.Done = offset + int64(len(data))
		e.progress.Set(progress)
		return nil
	})
	if err != nil {
		return sent, fmt.Errorf("failed to stream %s: %w", job.path, err)
	}
	if sent != size {
		return sent, fmt.Errorf("%s changed while sending: %d of %d bytes", job.path, sent, size)
	}

	if err := e.channel.Send(messages.TransferEnd(job.folder, job.path, size)); err != nil {
		return sent, err
	}
	e.logger.Debug("File sent",
		zap.String("path", job.path),
		zap.Int64("size", size),
		zap.Int("chunks", e.chunker.CalculateChunkCount(size)))
	return sent, nil
}
