package tts

import (
	"context"
	"sync"
)

// chunkQueue is an unbounded FIFO with one producer and one consumer. push
// never blocks, so an engine callback can always return promptly.
type chunkQueue struct {
	mu        sync.Mutex
	items     [][]byte
	closed    bool
	abandoned bool
	notify    chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{notify: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(chunk []byte) {
	q.mu.Lock()
	if q.closed || q.abandoned {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, chunk)
	q.mu.Unlock()
	q.signal()
}

// close marks the end of the stream. Chunks already queued stay readable.
func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// abandon drops queued chunks and ignores later pushes.
func (q *chunkQueue) abandon() {
	q.mu.Lock()
	q.abandoned = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

func (q *chunkQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop waits for the next chunk. ok is false once the queue is closed and
// drained, or abandoned.
func (q *chunkQueue) pop(ctx context.Context) (chunk []byte, ok bool, err error) {
	for {
		q.mu.Lock()
		if q.abandoned {
			q.mu.Unlock()
			return nil, false, nil
		}
		if len(q.items) > 0 {
			chunk = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return chunk, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
