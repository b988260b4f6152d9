package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/meta"
)

func dmlItem(v string) meta.DtItem {
	row := meta.NewRowData("db1", "t", meta.RowInsert, nil, map[string]meta.ColValue{"v": meta.RawStringValue(v)})
	return meta.DtItem{Payload: meta.DmlData(row), Position: meta.NonePosition()}
}

// Pushing past the item-count cap blocks until a pop frees room; the queue
// never holds more than capItems at once.
func TestQueuePushBlocksOnItemCapacity(t *testing.T) {
	q := New(2, 1<<20)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, dmlItem("a")))
	require.NoError(t, q.Push(ctx, dmlItem("b")))
	assert.Equal(t, 2, q.Len())

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, dmlItem("c")) }()

	select {
	case <-pushed:
		t.Fatal("Push should have blocked at item capacity")
	case <-time.After(50 * time.Millisecond):
	}

	batch := q.PopBatch(ctx, 1, 1<<20, time.Second)
	require.Len(t, batch, 1)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after room freed")
	}
	assert.Equal(t, 2, q.Len())
}

// Pushing past the byte-size cap blocks even with room left on item count,
// and PopBatch never returns a batch whose summed size exceeds maxBytes.
func TestQueuePushBlocksOnByteCapacity(t *testing.T) {
	first := dmlItem("a")
	size := first.Payload.DataSize()
	q := New(100, size)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, first))

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, dmlItem("b")) }()

	select {
	case <-pushed:
		t.Fatal("Push should have blocked at byte capacity")
	case <-time.After(50 * time.Millisecond):
	}

	batch := q.PopBatch(ctx, 100, size, time.Second)
	require.Len(t, batch, 1)
	assert.LessOrEqual(t, q.DataSize()+size, size+size)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after byte budget freed")
	}
}

// PopBatch's maxBytes cap always admits at least one item even if that
// single item alone exceeds maxBytes, so a single oversized row can't wedge
// the consumer forever.
func TestQueuePopBatchAlwaysAdmitsFirstItem(t *testing.T) {
	q := New(10, 1<<20)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, dmlItem("a-very-large-row-value-for-this-test")))

	batch := q.PopBatch(ctx, 10, 1, time.Second)
	require.Len(t, batch, 1)
}

// Concurrent producers and a single consumer never lose or duplicate items:
// every pushed item is popped exactly once.
func TestQueueConcurrentProducersSingleConsumer(t *testing.T) {
	q := New(4, 1<<20)
	ctx := context.Background()

	const producers = 8
	const perProducer = 20
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(ctx, dmlItem("x"))
			}
		}(p)
	}

	total := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for total < producers*perProducer {
			batch := q.PopBatch(ctx, 5, 1<<20, 200*time.Millisecond)
			total += len(batch)
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never drained all produced items")
	}
	assert.Equal(t, producers*perProducer, total)
}

func TestQueueCloseUnblocksPush(t *testing.T) {
	q := New(1, 1<<20)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, dmlItem("a")))

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, dmlItem("b")) }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-pushed:
		assert.Equal(t, ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock a waiting Push")
	}
}
