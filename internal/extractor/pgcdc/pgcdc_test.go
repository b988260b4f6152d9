package pgcdc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/extractor/common"
	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/queue"
	"github.com/replimux/replimux/internal/rdbfilter"
	"github.com/replimux/replimux/internal/router"
)

type fakeDecoder struct {
	change Change
	err    error
}

func (d *fakeDecoder) Decode(msg []byte) (Change, error) { return d.change, d.err }

func newTestExtractor(t *testing.T, dec Decoder) (*Extractor, *queue.Queue) {
	t.Helper()
	q := queue.New(100, 1<<20)
	e := &Extractor{
		Base: common.Base{
			Queue:    q,
			ShutDown: common.NewShutDownFlag(),
		},
		SlotName:              "slot1",
		Filter:                rdbfilter.New(nil, nil, nil, nil, nil),
		Router:                router.New(nil, nil, nil),
		Decoder:               dec,
		HeartbeatIntervalSecs: 3600,
	}
	return e, q
}

// recvOnce returns msg exactly once, then blocks until ctx is cancelled.
func recvOnce(msg []byte) func(ctx context.Context) ([]byte, error) {
	var sent int32
	return func(ctx context.Context) ([]byte, error) {
		if atomic.CompareAndSwapInt32(&sent, 0, 1) {
			return msg, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestRunPushesDecodedChangeAndAdvancesLsn(t *testing.T) {
	change := Change{Schema: "shop", Table: "widgets", Kind: meta.RowInsert, After: map[string]meta.ColValue{"id": meta.LongValue(1)}, Lsn: 42}
	e, q := newTestExtractor(t, &fakeDecoder{change: change})

	var called int32
	e.StandbyStatusUpdate = func(lsn uint64) error {
		if atomic.LoadInt32(&called) == 0 && lsn == 42 {
			atomic.StoreInt32(&called, 1)
			e.ShutDown.Set()
		}
		return nil
	}
	e.HeartbeatIntervalSecs = 1

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := e.Run(ctx, recvOnce([]byte("wal-msg")))
	require.NoError(t, err)

	items := q.PopBatch(context.Background(), 10, 1<<20, 10*time.Millisecond)
	require.Len(t, items, 1)
	assert.Equal(t, "shop", items[0].Payload.Row.Schema)
}

func TestRunSkipsFilteredChange(t *testing.T) {
	change := Change{Schema: "shop", Table: "audit_log", Kind: meta.RowInsert, After: map[string]meta.ColValue{"id": meta.LongValue(1)}, Lsn: 1}
	e, q := newTestExtractor(t, &fakeDecoder{change: change})
	e.Filter = rdbfilter.New(nil, nil, nil, []string{"shop.audit_log"}, nil)
	e.HeartbeatIntervalSecs = 3600

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		e.ShutDown.Set()
		cancel()
	}()

	require.NoError(t, e.Run(ctx, recvOnce([]byte("wal-msg"))))
	assert.True(t, q.IsEmpty())
}

func TestRunReturnsDecodeError(t *testing.T) {
	e, _ := newTestExtractor(t, &fakeDecoder{err: assert.AnError})
	e.HeartbeatIntervalSecs = 3600

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Run(ctx, recvOnce([]byte("wal-msg")))
	assert.Error(t, err)
}

func TestRunStopsOnShutDown(t *testing.T) {
	e, _ := newTestExtractor(t, &fakeDecoder{})
	e.HeartbeatIntervalSecs = 3600
	e.ShutDown.Set()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := e.Run(ctx, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.NoError(t, err)
}
