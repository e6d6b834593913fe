package sync

import (
	"context"
	"sync"

	"github.com/pamuduchat/syncshare/internal/network/messages"
)

// fileJob streams one requested file to the peer
type fileJob struct {
	ctx       context.Context // session context, cancelled on failure
	sessionID string
	folder    string
	path      string
	diskPath  string
}

// outbound is either a control message or a file to stream
type outbound struct {
	msg  *messages.SyncMessage
	file *fileJob
}

// outboxQueue is an unbounded FIFO between the engine loop and the sender.
// The engine loop never blocks on it, so the loop keeps draining inbound
// messages while the sender waits on a slow stream.
type outboxQueue struct {
	mu    sync.Mutex
	items []outbound
	wake  chan struct{}
}

func newOutboxQueue() *outboxQueue {
	return &outboxQueue{wake: make(chan struct{}, 1)}
}

// Enqueue appends an item and wakes the sender
func (q *outboxQueue) Enqueue(item outbound) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an item is available or ctx is done
func (q *outboxQueue) Dequeue(ctx context.Context) (outbound, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = outbound{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return outbound{}, false
		case <-q.wake:
		}
	}
}
