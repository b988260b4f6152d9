package parallel

import "github.com/replimux/replimux/internal/meta"

// MongoKey extracts the Mongo document key (typically _id) used to hash-key
// insert/delete maps. It is supplied by the mongo sinker/meta package so
// this package stays free of a bson dependency.
type MongoKey func(doc []byte) (string, bool)

// MongoMerger is the Merger implementation for Mongo oplog/change-stream
// DML, distinct from the relational MergeTable algorithm: an Update row
// carrying a diff (rather than a full document) cannot be decomposed into
// delete+insert, so it must not be merged at all — it is relayed in
// arrival order to a serial sinker that applies it as a partial update
// against the sink's current state (spec.md §9, grounded on
// dt-parallelizer/src/mongo_merger.rs).
type MongoMerger struct {
	Key MongoKey
}

func (m MongoMerger) Merge(rows []meta.RowData) ([]meta.TbMergedData, error) {
	order, groups := GroupByTable(rows)
	results := make([]meta.TbMergedData, 0, len(order))
	for _, full := range order {
		results = append(results, m.mergeTable(full, groups[full]))
	}
	return results, nil
}

func (m MongoMerger) mergeTable(tableFQN string, rows []meta.RowData) meta.TbMergedData {
	inserts := make(map[string]meta.RowData)
	insertOrder := make([]string, 0, len(rows))
	deletes := make(map[string]meta.RowData)
	deleteOrder := make([]string, 0, len(rows))

	i := 0
	for ; i < len(rows); i++ {
		row := rows[i]
		key, ok := m.hashKey(row)
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

// MongoDocColumn is the well-known column name mongo extractors store a
// full BSON document under, mirroring MongoConstants::DOC.
const MongoDocColumn = "doc"

func (m MongoMerger) hashKey(row meta.RowData) (string, bool) {
	switch row.RowType {
	case meta.RowInsert:
		return m.docKey(row.After)
	case meta.RowDelete:
		return m.docKey(row.Before)
	case meta.RowUpdate:
		// An Update row_data from an oplog diff (as opposed to a
		// change-stream full document) carries no "doc" column in
		// After; such rows can NOT be decomposed into delete+insert
		// and must be relayed unmerged.
		if _, hasDoc := row.After[MongoDocColumn]; !hasDoc {
			return "", false
		}
		return m.docKey(row.After)
	}
	return "", false
}

func (m MongoMerger) docKey(cols map[string]meta.ColValue) (string, bool) {
	v, ok := cols[MongoDocColumn]
	if !ok || v.Kind != meta.ColMongoDoc {
		return "", false
	}
	return m.Key(v.Doc)
}
