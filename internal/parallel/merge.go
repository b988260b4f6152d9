// Package parallel implements the merger/parallelizer: it drains the
// bounded queue, groups drained rows by table, collapses per-PK DML
// conflicts, and dispatches ordered sub-batches to a pool of sinkers
// (spec.md §4.5).
package parallel

import (
	"github.com/replimux/replimux/internal/meta"
)

// PKExtractor derives the primary-key tuple (as a single comparable
// string) identifying a row, returning ok=false when no usable key can be
// derived — e.g. a table with no PK, or a Mongo diff-update carrying no
// full document (spec.md §4.5, §9).
type PKExtractor func(row meta.RowData) (key string, ok bool)

// MergeTable replays one table's DML in arrival order over two maps keyed
// by primary key, implementing the relational merge algorithm of
// spec.md §4.5:
//
//	Insert k ⇒ inserts[k] = row
//	Delete k ⇒ inserts.remove(k); deletes[k] = row
//	Update k ⇒ deletes[k] = before; inserts[k] = after
//
// The first row whose key cannot be derived halts merging for the rest of
// the table's rows, which are returned as UnmergedRows preserving their
// original relative order (including the row that failed key extraction).
func MergeTable(tableFQN string, rows []meta.RowData, pk PKExtractor) meta.TbMergedData {
	inserts := make(map[string]meta.RowData)
	insertOrder := make([]string, 0, len(rows))
	deletes := make(map[string]meta.RowData)
	deleteOrder := make([]string, 0, len(rows))

	i := 0
	for ; i < len(rows); i++ {
		row := rows[i]
		key, ok := pk(row)
		if !ok {
			break
		}

		switch row.RowType {
		case meta.RowInsert:
			if _, exists := inserts[key]; !exists {
				insertOrder = append(insertOrder, key)
			}
			inserts[key] = row

		case meta.RowDelete:
			delete(inserts, key)
			if _, exists := deletes[key]; !exists {
				deleteOrder = append(deleteOrder, key)
			}
			deletes[key] = row

		case meta.RowUpdate:
			deleteRow := meta.NewRowData(row.Schema, row.Tb, meta.RowDelete, row.Before, nil)
			if _, exists := deletes[key]; !exists {
				deleteOrder = append(deleteOrder, key)
			}
			deletes[key] = deleteRow

			insertRow := meta.NewRowData(row.Schema, row.Tb, meta.RowInsert, nil, row.After)
			if _, exists := inserts[key]; !exists {
				insertOrder = append(insertOrder, key)
			}
			inserts[key] = insertRow
		}
	}

	result := meta.TbMergedData{TableFQN: tableFQN}
	for _, key := range insertOrder {
		if row, ok := inserts[key]; ok {
			result.InsertRows = append(result.InsertRows, row)
		}
	}
	for _, key := range deleteOrder {
		if row, ok := deletes[key]; ok {
			result.DeleteRows = append(result.DeleteRows, row)
		}
	}
	result.UnmergedRows = append(result.UnmergedRows, rows[i:]...)
	return result
}

// GroupByTable partitions rows by their (schema, tb) full name,
// preserving arrival order within each group.
func GroupByTable(rows []meta.RowData) (order []string, groups map[string][]meta.RowData) {
	groups = make(map[string][]meta.RowData)
	for _, row := range rows {
		full := row.FullTable()
		if _, ok := groups[full]; !ok {
			order = append(order, full)
		}
		groups[full] = append(groups[full], row)
	}
	return order, groups
}

// Merger is the narrow interface each parallel strategy's merge phase
// implements; MongoMerger (mongomerger.go) is a second implementation
// distinct from the relational MergeTable above, per spec.md §9.
type Merger interface {
	Merge(rows []meta.RowData) ([]meta.TbMergedData, error)
}

// RelationalMerger adapts MergeTable to the Merger interface for the
// Snapshot/RdbPartition/RdbMerge/RdbCheck strategies.
type RelationalMerger struct {
	PK PKExtractor
}

func (m RelationalMerger) Merge(rows []meta.RowData) ([]meta.TbMergedData, error) {
	order, groups := GroupByTable(rows)
	results := make([]meta.TbMergedData, 0, len(order))
	for _, full := range order {
		results = append(results, MergeTable(full, groups[full], m.PK))
	}
	return results, nil
}
