package parallel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/meta"
)

// recordingSinker is a fake Sinker that records every call under a mutex so
// concurrent dispatch strategies can be asserted on safely.
type recordingSinker struct {
	mu         sync.Mutex
	dmlBatches [][]meta.RowData
	batchHints []bool
	ddls       []meta.DdlData
	dcls       []meta.DclData
	structs    []meta.StructData
}

func (s *recordingSinker) SinkDml(ctx context.Context, rows []meta.RowData, batch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]meta.RowData{}, rows...)
	s.dmlBatches = append(s.dmlBatches, cp)
	s.batchHints = append(s.batchHints, batch)
	return nil
}

func (s *recordingSinker) SinkDdl(ctx context.Context, ddls []meta.DdlData, batch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ddls = append(s.ddls, ddls...)
	return nil
}

func (s *recordingSinker) SinkDcl(ctx context.Context, dcls []meta.DclData, batch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dcls = append(s.dcls, dcls...)
	return nil
}

func (s *recordingSinker) SinkStruct(ctx context.Context, structs []meta.StructData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structs = append(s.structs, structs...)
	return nil
}

func (s *recordingSinker) RefreshMeta(ctx context.Context, ddls []meta.DdlData) error { return nil }
func (s *recordingSinker) Close(ctx context.Context) error                           { return nil }

func (s *recordingSinker) totalRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.dmlBatches {
		n += len(b)
	}
	return n
}

func insertRow(id int) meta.RowData {
	return meta.NewRowData("db1", "t", meta.RowInsert, nil, map[string]meta.ColValue{"id": meta.LongValue(int32(id))})
}

// dispatchSerial applies one table's deletes then inserts on a single
// sinker, preserving table order.
func TestDispatchSerialOrdersDeletesBeforeInserts(t *testing.T) {
	sinker := &recordingSinker{}
	p := New(StrategySerial, RelationalMerger{PK: pkOf}, []Sinker{sinker})

	rows := []meta.RowData{
		insertRow(1),
		meta.NewRowData("db1", "t", meta.RowDelete, map[string]meta.ColValue{"id": meta.LongValue(2)}, nil),
	}
	require.NoError(t, p.dispatch(context.Background(), mustMerge(t, p, rows)))

	require.Len(t, sinker.dmlBatches, 2)
	assert.Equal(t, meta.RowDelete, sinker.dmlBatches[0][0].RowType)
	assert.Equal(t, meta.RowInsert, sinker.dmlBatches[1][0].RowType)
}

// dispatchSnapshot has no delete phase and fans inserts across the pool.
func TestDispatchSnapshotFansOutInsertsOnly(t *testing.T) {
	sinkers := []Sinker{&recordingSinker{}, &recordingSinker{}}
	p := New(StrategySnapshot, RelationalMerger{PK: pkOf}, sinkers)

	rows := []meta.RowData{insertRow(1), insertRow(2), insertRow(3), insertRow(4)}
	require.NoError(t, p.dispatch(context.Background(), mustMerge(t, p, rows)))

	total := 0
	for _, s := range sinkers {
		total += s.(*recordingSinker).totalRows()
	}
	assert.Equal(t, 4, total)
}

// dispatchRdbPartition partitions both delete and insert phases, with
// deletes completing before inserts.
func TestDispatchRdbPartitionPartitionsBothPhases(t *testing.T) {
	sinkers := []Sinker{&recordingSinker{}, &recordingSinker{}}
	p := New(StrategyRdbPartition, RelationalMerger{PK: pkOf}, sinkers)

	rows := []meta.RowData{
		insertRow(1),
		meta.NewRowData("db1", "t", meta.RowDelete, map[string]meta.ColValue{"id": meta.LongValue(5)}, nil),
		insertRow(2),
	}
	require.NoError(t, p.dispatch(context.Background(), mustMerge(t, p, rows)))

	total := 0
	for _, s := range sinkers {
		total += s.(*recordingSinker).totalRows()
	}
	assert.Equal(t, 3, total)
}

// dispatchRdbMerge runs every table's deletes before any table's inserts.
func TestDispatchRdbMergeCompletesDeletePhaseBeforeInsertPhase(t *testing.T) {
	sinker := &recordingSinker{}
	p := New(StrategyRdbMerge, RelationalMerger{PK: pkOf}, []Sinker{sinker})

	merged := []meta.TbMergedData{
		{
			TableFQN:   "db1.t",
			DeleteRows: []meta.RowData{meta.NewRowData("db1", "t", meta.RowDelete, map[string]meta.ColValue{"id": meta.LongValue(1)}, nil)},
			InsertRows: []meta.RowData{insertRow(2)},
		},
	}
	require.NoError(t, p.dispatchRdbMerge(context.Background(), merged))

	require.Len(t, sinker.dmlBatches, 2)
	assert.Equal(t, meta.RowDelete, sinker.dmlBatches[0][0].RowType)
	assert.Equal(t, meta.RowInsert, sinker.dmlBatches[1][0].RowType)
}

// dispatchRdbCheck hands current rows to a sinker without batching (used to
// diff against the sink's own state).
func TestDispatchRdbCheckSinksWithoutBatchHint(t *testing.T) {
	sinker := &recordingSinker{}
	p := New(StrategyRdbCheck, RelationalMerger{PK: pkOf}, []Sinker{sinker})

	rows := []meta.RowData{insertRow(1), insertRow(2)}
	require.NoError(t, p.dispatch(context.Background(), mustMerge(t, p, rows)))

	assert.Equal(t, 2, sinker.totalRows())
	assert.Equal(t, []bool{false}, sinker.batchHints)
}

func TestProcessBatchFlushesDmlBeforeDdlBarrier(t *testing.T) {
	sinker := &recordingSinker{}
	p := New(StrategySerial, RelationalMerger{PK: pkOf}, []Sinker{sinker})

	items := []meta.DtItem{
		{Payload: meta.DmlData(insertRow(1))},
		{Payload: meta.DdlEvent(meta.DdlData{DdlType: meta.DdlCreateTable, Schema: "db1", Tb: "t2"})},
	}
	require.NoError(t, p.ProcessBatch(context.Background(), items))

	require.Len(t, sinker.dmlBatches, 1)
	require.Len(t, sinker.ddls, 1)
}

func mustMerge(t *testing.T, p *Parallelizer, rows []meta.RowData) []meta.TbMergedData {
	t.Helper()
	merged, err := p.Merger.Merge(rows)
	require.NoError(t, err)
	return merged
}
