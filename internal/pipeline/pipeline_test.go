package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/extractor/common"
	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/monitor"
	"github.com/replimux/replimux/internal/parallel"
	"github.com/replimux/replimux/internal/queue"
)

// fakeExtractor pushes a fixed set of rows onto the queue then blocks until
// ctx is cancelled, mimicking a CDC source that only stops on shut_down.
type fakeExtractor struct {
	q    *queue.Queue
	rows []meta.RowData
}

func (e *fakeExtractor) Run(ctx context.Context) error {
	for i, row := range e.rows {
		item := meta.DtItem{Payload: meta.DmlData(row), Position: meta.Position{Kind: meta.PositionMysql, BinlogOffset: uint32(i + 1)}}
		if err := e.q.Push(ctx, item); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

// finiteExtractor pushes rows and returns nil immediately, the way a
// snapshot/check extractor completes on its own once exhausted.
type finiteExtractor struct {
	q    *queue.Queue
	rows []meta.RowData
}

func (e *finiteExtractor) Run(ctx context.Context) error {
	for i, row := range e.rows {
		item := meta.DtItem{Payload: meta.DmlData(row), Position: meta.Position{Kind: meta.PositionMysql, BinlogOffset: uint32(i + 1)}}
		if err := e.q.Push(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

type countingSinker struct {
	mu   sync.Mutex
	rows int
	closed bool
}

func (s *countingSinker) SinkDml(ctx context.Context, rows []meta.RowData, batch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows += len(rows)
	return nil
}
func (s *countingSinker) SinkDdl(ctx context.Context, ddls []meta.DdlData, batch bool) error { return nil }
func (s *countingSinker) SinkDcl(ctx context.Context, dcls []meta.DclData, batch bool) error { return nil }
func (s *countingSinker) SinkStruct(ctx context.Context, structs []meta.StructData) error    { return nil }
func (s *countingSinker) RefreshMeta(ctx context.Context, ddls []meta.DdlData) error         { return nil }
func (s *countingSinker) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *countingSinker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func row(id int) meta.RowData {
	return meta.NewRowData("db1", "t", meta.RowInsert, nil, map[string]meta.ColValue{"id": meta.LongValue(int32(id))})
}

func pk(r meta.RowData) (string, bool) {
	v, ok := r.CurrentColumns()["id"]
	if !ok {
		return "", false
	}
	return v.String(), true
}

// A finite extractor (snapshot/check style) makes Run return on its own once
// every pushed row has drained, without anyone calling ShutDown.Set.
func TestRunCompletesWhenExtractorFinishesAndQueueDrains(t *testing.T) {
	q := queue.New(10, 1<<20)
	sinker := &countingSinker{}
	plz := parallel.New(parallel.StrategySerial, parallel.RelationalMerger{PK: pk}, []parallel.Sinker{sinker})

	sup := &Supervisor{
		Queue:              q,
		ShutDown:           common.NewShutDownFlag(),
		Extractor:          &finiteExtractor{q: q, rows: []meta.RowData{row(1), row(2), row(3)}},
		Parallelizer:       plz,
		Sinkers:            []parallel.Sinker{sinker},
		Monitor:            monitor.New(time.Hour, nil),
		Log:                logrus.NewEntry(logrus.New()),
		BufferSize:         10,
		BufferBytes:        1 << 20,
		BufferTimeout:      10 * time.Millisecond,
		CheckpointInterval: time.Hour,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Run(ctx))

	assert.Equal(t, 3, sinker.count())
	assert.True(t, sinker.closed)
}

// A CDC-style extractor only stops once ShutDown is set (e.g. by cancelling
// ctx), and Run must still drain whatever is already queued before closing
// the sinkers.
func TestRunDrainsQueueBeforeClosingSinkersOnShutdown(t *testing.T) {
	q := queue.New(10, 1<<20)
	sinker := &countingSinker{}
	plz := parallel.New(parallel.StrategySerial, parallel.RelationalMerger{PK: pk}, []parallel.Sinker{sinker})
	shutDown := common.NewShutDownFlag()

	sup := &Supervisor{
		Queue:              q,
		ShutDown:           shutDown,
		Extractor:          &fakeExtractor{q: q, rows: []meta.RowData{row(1), row(2)}},
		Parallelizer:       plz,
		Sinkers:            []parallel.Sinker{sinker},
		Monitor:            monitor.New(time.Hour, nil),
		Log:                logrus.NewEntry(logrus.New()),
		BufferSize:         10,
		BufferBytes:        1 << 20,
		BufferTimeout:      10 * time.Millisecond,
		CheckpointInterval: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		shutDown.Set()
		cancel()
	}()

	require.NoError(t, sup.Run(ctx))
	assert.Equal(t, 2, sinker.count())
	assert.True(t, sinker.closed)
}

func TestDispatchLoopInvokesOnCheckpointWithLastItemPosition(t *testing.T) {
	q := queue.New(10, 1<<20)
	sinker := &countingSinker{}
	plz := parallel.New(parallel.StrategySerial, parallel.RelationalMerger{PK: pk}, []parallel.Sinker{sinker})

	var lastPos string
	var mu sync.Mutex
	sup := &Supervisor{
		Queue:              q,
		ShutDown:           common.NewShutDownFlag(),
		Extractor:          &finiteExtractor{q: q, rows: []meta.RowData{row(1)}},
		Parallelizer:       plz,
		Sinkers:            []parallel.Sinker{sinker},
		Monitor:            monitor.New(time.Hour, nil),
		Log:                logrus.NewEntry(logrus.New()),
		BufferSize:         10,
		BufferBytes:        1 << 20,
		BufferTimeout:      10 * time.Millisecond,
		CheckpointInterval: time.Hour,
		OnCheckpoint: func(pos string) {
			mu.Lock()
			defer mu.Unlock()
			lastPos = pos
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, lastPos, "mysql:")
}
