// Package queue implements the bounded, multi-producer/single-consumer
// FIFO that connects extractors to the parallelizer (spec.md §4.2).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/replimux/replimux/internal/meta"
)

// Queue is a FIFO bounded in both item count and total encoded size. Push
// blocks (respecting ctx) until both dimensions admit the new item; pop
// requires exactly one consumer goroutine, matching the engine's
// single-task parallelizer.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items    []meta.DtItem
	dataSize uint64

	capItems int
	capBytes uint64

	closed bool
}

func New(capItems int, capBytes uint64) *Queue {
	q := &Queue{capItems: capItems, capBytes: capBytes}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push blocks until the queue has room for item in both dimensions, or ctx
// is done, or the queue has been closed.
func (q *Queue) Push(ctx context.Context, item meta.DtItem) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	size := item.Payload.DataSize()
	for !q.closed && (len(q.items) >= q.capItems || q.dataSize+size > q.capBytes) {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		q.cond.Wait()
		select {
		case <-done:
			return ctx.Err()
		default:
		}
	}
	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, item)
	q.dataSize += size
	q.cond.Broadcast()
	return nil
}

// PopBatch drains up to maxItems items (or until maxBytes of encoded size
// is reached) that are currently available, blocking until at least one
// item is present or deadline elapses. It returns early on the deadline
// even with zero items collected.
func (q *Queue) PopBatch(ctx context.Context, maxItems int, maxBytes uint64, deadline time.Duration) []meta.DtItem {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		waitDone := make(chan struct{})
		go func() {
			select {
			case <-timer.C:
			case <-ctx.Done():
			case <-waitDone:
			}
			q.cond.Broadcast()
		}()
		q.cond.Wait()
		close(waitDone)

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
	}

	var batch []meta.DtItem
	var size uint64
	n := 0
	for n < len(q.items) && len(batch) < maxItems {
		item := q.items[n]
		itemSize := item.Payload.DataSize()
		if len(batch) > 0 && size+itemSize > maxBytes {
			break
		}
		batch = append(batch, item)
		size += itemSize
		n++
	}

	q.items = q.items[n:]
	q.dataSize -= size
	q.cond.Broadcast()
	return batch
}

// IsEmpty is exact under the queue's own lock.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len reports the current item count, for monitoring.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DataSize reports the current total encoded size, for monitoring and the
// `sum(items.data_size) <= C_bytes` invariant.
func (q *Queue) DataSize() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dataSize
}

// Close unblocks any waiting Push/PopBatch callers; further pushes fail
// with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

type queueError string

func (e queueError) Error() string { return string(e) }

const ErrClosed = queueError("queue: closed")
