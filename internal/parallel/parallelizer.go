package parallel

import (
	"context"
	"hash/fnv"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/replimux/replimux/internal/meta"
)

// PartitionFn maps a row to a sinker index in [0, N), used by the
// Snapshot/RdbPartition/RdbCheck strategies to fan a table's rows across
// the sinker pool.
type PartitionFn func(row meta.RowData, n int) int

// HashPartition is the default PartitionFn: FNV-1a over the row's current
// columns (Before for a delete, After otherwise), so rows with identical
// column images always map to the same sinker. An update's before- and
// after-images generally differ and so may land on different sinkers.
func HashPartition(row meta.RowData, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	for _, col := range orderedValues(row.CurrentColumns()) {
		_, _ = h.Write([]byte(col))
	}
	return int(h.Sum32()) % n
}

func orderedValues(cols map[string]meta.ColValue) []string {
	// deterministic iteration: Go map order is randomized, so column names
	// are sorted and each value is emitted after its name, keeping the
	// hash stable across calls regardless of iteration order.
	names := make([]string, 0, len(cols))
	for k := range cols {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]string, 0, len(cols)*2)
	for _, k := range names {
		out = append(out, k, cols[k].String())
	}
	return out
}

// Parallelizer owns the queue consumer side and the sinker pool. It is the
// component spec.md §4.5 calls the merger/parallelizer.
type Parallelizer struct {
	Merger    Merger
	Sinkers   []Sinker
	Strategy  Strategy
	Partition PartitionFn
}

func New(strategy Strategy, merger Merger, sinkers []Sinker) *Parallelizer {
	return &Parallelizer{
		Merger:    merger,
		Sinkers:   sinkers,
		Strategy:  strategy,
		Partition: HashPartition,
	}
}

// ProcessBatch consumes one drained batch: contiguous runs of Dml items
// are merged and dispatched together; Ddl/Dcl/Struct items act as full
// barriers, flushing any pending Dml first. Ddl/Dcl items are then applied
// to every sinker in the pool so every replica sees the same DDL/DCL
// stream; a Struct item is applied once, on the first sinker.
// Heartbeat/Begin/Commit carry no sink action.
func (p *Parallelizer) ProcessBatch(ctx context.Context, items []meta.DtItem) error {
	var pendingDml []meta.RowData

	flush := func() error {
		if len(pendingDml) == 0 {
			return nil
		}
		merged, err := p.Merger.Merge(pendingDml)
		if err != nil {
			return err
		}
		pendingDml = nil
		return p.dispatch(ctx, merged)
	}

	for _, item := range items {
		switch item.Payload.Kind {
		case meta.DtDml:
			pendingDml = append(pendingDml, item.Payload.Row)

		case meta.DtDdl:
			if err := flush(); err != nil {
				return err
			}
			if err := p.sinkDdlAll(ctx, item.Payload.Ddl); err != nil {
				return err
			}

		case meta.DtDcl:
			if err := flush(); err != nil {
				return err
			}
			if err := p.sinkDclAll(ctx, item.Payload.Dcl); err != nil {
				return err
			}

		case meta.DtStruct:
			if err := flush(); err != nil {
				return err
			}
			if len(p.Sinkers) > 0 {
				if err := p.Sinkers[0].SinkStruct(ctx, []meta.StructData{item.Payload.Struct}); err != nil {
					return err
				}
			}

		case meta.DtHeartbeat, meta.DtBegin, meta.DtCommit:
			// boundary markers only; the supervisor advances the
			// checkpoint position off the item's Position field.
		}
	}

	return flush()
}

func (p *Parallelizer) sinkDdlAll(ctx context.Context, ddl meta.DdlData) error {
	for _, s := range p.Sinkers {
		if err := s.SinkDdl(ctx, []meta.DdlData{ddl}, false); err != nil {
			return err
		}
		if err := s.RefreshMeta(ctx, []meta.DdlData{ddl}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parallelizer) sinkDclAll(ctx context.Context, dcl meta.DclData) error {
	for _, s := range p.Sinkers {
		if err := s.SinkDcl(ctx, []meta.DclData{dcl}, false); err != nil {
			return err
		}
	}
	return nil
}

// dispatch fans a merged batch out to the sinker pool per the configured
// strategy. Within any single partition, delete rows are always applied
// before insert rows, matching the ordering guarantee of spec.md §5.
func (p *Parallelizer) dispatch(ctx context.Context, merged []meta.TbMergedData) error {
	switch p.Strategy {
	case StrategySnapshot:
		return p.dispatchSnapshot(ctx, merged)
	case StrategyRdbPartition:
		return p.dispatchRdbPartition(ctx, merged)
	case StrategyRdbMerge:
		return p.dispatchRdbMerge(ctx, merged)
	case StrategyRdbCheck:
		return p.dispatchRdbCheck(ctx, merged)
	default:
		return p.dispatchSerial(ctx, merged)
	}
}

// dispatchSerial applies every table's delete/insert/unmerged sub-batches
// on a single sinker, preserving the table order the merge phase produced
// (which in turn preserves drain order across tables).
func (p *Parallelizer) dispatchSerial(ctx context.Context, merged []meta.TbMergedData) error {
	if len(p.Sinkers) == 0 {
		return nil
	}
	sinker := p.Sinkers[0]
	for _, tb := range merged {
		if err := sinkRows(ctx, sinker, tb.DeleteRows, true); err != nil {
			return err
		}
		if err := sinkRows(ctx, sinker, tb.InsertRows, true); err != nil {
			return err
		}
		if err := sinkRows(ctx, sinker, tb.UnmergedRows, false); err != nil {
			return err
		}
	}
	return nil
}

// dispatchSnapshot partitions each table's insert rows across the sinker
// pool by PK hash; there is no delete phase (a snapshot only ever
// produces inserts).
func (p *Parallelizer) dispatchSnapshot(ctx context.Context, merged []meta.TbMergedData) error {
	n := len(p.Sinkers)
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	buckets := make([][]meta.RowData, n)
	for _, tb := range merged {
		for _, row := range tb.InsertRows {
			idx := p.Partition(row, n)
			buckets[idx] = append(buckets[idx], row)
		}
	}
	for i, rows := range buckets {
		if len(rows) == 0 {
			continue
		}
		i, rows := i, rows
		g.Go(func() error { return p.Sinkers[i].SinkDml(gctx, rows, true) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, tb := range merged {
		if err := sinkRows(ctx, p.Sinkers[0], tb.UnmergedRows, false); err != nil {
			return err
		}
	}
	return nil
}

// dispatchRdbPartition partitions both phases by PK hash across sinkers,
// with deletes completing before inserts within each partition.
func (p *Parallelizer) dispatchRdbPartition(ctx context.Context, merged []meta.TbMergedData) error {
	n := len(p.Sinkers)
	if n == 0 {
		return nil
	}
	deleteBuckets := make([][]meta.RowData, n)
	insertBuckets := make([][]meta.RowData, n)
	for _, tb := range merged {
		for _, row := range tb.DeleteRows {
			idx := p.Partition(row, n)
			deleteBuckets[idx] = append(deleteBuckets[idx], row)
		}
		for _, row := range tb.InsertRows {
			idx := p.Partition(row, n)
			insertBuckets[idx] = append(insertBuckets[idx], row)
		}
	}

	if err := runPartitioned(ctx, p.Sinkers, deleteBuckets, true); err != nil {
		return err
	}
	if err := runPartitioned(ctx, p.Sinkers, insertBuckets, true); err != nil {
		return err
	}
	for _, tb := range merged {
		if err := sinkRows(ctx, p.Sinkers[0], tb.UnmergedRows, false); err != nil {
			return err
		}
	}
	return nil
}

// dispatchRdbMerge runs a single merge pass: all tables' deletes complete
// before any table's inserts begin, with intra-phase parallelism across
// tables (one goroutine per table per phase, with tables assigned to
// sinkers round-robin, so several goroutines may share one sinker).
func (p *Parallelizer) dispatchRdbMerge(ctx context.Context, merged []meta.TbMergedData) error {
	n := len(p.Sinkers)
	if n == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, tb := range merged {
		i, tb := i, tb
		sinker := p.Sinkers[i%n]
		g.Go(func() error { return sinker.SinkDml(gctx, tb.DeleteRows, true) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for i, tb := range merged {
		i, tb := i, tb
		sinker := p.Sinkers[i%n]
		g.Go(func() error { return sinker.SinkDml(gctx, tb.InsertRows, true) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, tb := range merged {
		if err := sinkRows(ctx, p.Sinkers[0], tb.UnmergedRows, false); err != nil {
			return err
		}
	}
	return nil
}

// dispatchRdbCheck hands each table's current (merged) rows to a sinker
// that diffs them against the sink's state and writes a discrepancy log,
// partitioned the same way as Snapshot.
func (p *Parallelizer) dispatchRdbCheck(ctx context.Context, merged []meta.TbMergedData) error {
	n := len(p.Sinkers)
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	buckets := make([][]meta.RowData, n)
	for _, tb := range merged {
		all := append(append([]meta.RowData{}, tb.InsertRows...), tb.UnmergedRows...)
		for _, row := range all {
			idx := p.Partition(row, n)
			buckets[idx] = append(buckets[idx], row)
		}
	}
	for i, rows := range buckets {
		if len(rows) == 0 {
			continue
		}
		i, rows := i, rows
		g.Go(func() error { return p.Sinkers[i].SinkDml(gctx, rows, false) })
	}
	return g.Wait()
}

func runPartitioned(ctx context.Context, sinkers []Sinker, buckets [][]meta.RowData, batch bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, rows := range buckets {
		if len(rows) == 0 {
			continue
		}
		i, rows := i, rows
		g.Go(func() error { return sinkers[i].SinkDml(gctx, rows, batch) })
	}
	return g.Wait()
}

func sinkRows(ctx context.Context, sinker Sinker, rows []meta.RowData, batch bool) error {
	if len(rows) == 0 {
		return nil
	}
	return sinker.SinkDml(ctx, rows, batch)
}
