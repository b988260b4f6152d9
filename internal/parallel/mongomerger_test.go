package parallel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/meta"
)

// fakeMongoKey treats the raw doc bytes as an already-decoded "id:value"
// string, avoiding a bson dependency in this package's own tests.
func fakeMongoKey(doc []byte) (string, bool) {
	s := string(doc)
	if s == "" {
		return "", false
	}
	return s, true
}

func mongoRow(rowType meta.RowType, before, after map[string]meta.ColValue) meta.RowData {
	return meta.NewRowData("db1", "coll", rowType, before, after)
}

func docCol(id string) meta.ColValue { return meta.MongoDocValue([]byte(id)) }

func TestMongoMergerCollapsesInsertDeleteInsertToFinalInsert(t *testing.T) {
	m := MongoMerger{Key: fakeMongoKey}
	rows := []meta.RowData{
		mongoRow(meta.RowInsert, nil, map[string]meta.ColValue{MongoDocColumn: docCol("1")}),
		mongoRow(meta.RowDelete, map[string]meta.ColValue{MongoDocColumn: docCol("1")}, nil),
		mongoRow(meta.RowInsert, nil, map[string]meta.ColValue{MongoDocColumn: docCol("1")}),
	}

	merged, err := m.Merge(rows)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Len(t, merged[0].DeleteRows, 1)
	assert.Len(t, merged[0].InsertRows, 1)
	assert.Empty(t, merged[0].UnmergedRows)
}

func TestMongoMergerRelaysDiffUpdateUnmerged(t *testing.T) {
	m := MongoMerger{Key: fakeMongoKey}
	rows := []meta.RowData{
		mongoRow(meta.RowInsert, nil, map[string]meta.ColValue{MongoDocColumn: docCol("1")}),
		// an oplog-diff update carries no "doc" column in After and so
		// cannot be decomposed; it halts merging for the remaining rows.
		mongoRow(meta.RowUpdate, map[string]meta.ColValue{MongoDocColumn: docCol("1")}, map[string]meta.ColValue{"set.name": meta.RawStringValue("new")}),
		mongoRow(meta.RowInsert, nil, map[string]meta.ColValue{MongoDocColumn: docCol("2")}),
	}

	merged, err := m.Merge(rows)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Len(t, merged[0].InsertRows, 1)
	require.Len(t, merged[0].UnmergedRows, 2)
}

func TestMongoMergerDecomposesFullDocumentUpdate(t *testing.T) {
	m := MongoMerger{Key: fakeMongoKey}
	rows := []meta.RowData{
		mongoRow(meta.RowUpdate,
			map[string]meta.ColValue{MongoDocColumn: docCol("1")},
			map[string]meta.ColValue{MongoDocColumn: docCol("1")},
		),
	}

	merged, err := m.Merge(rows)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Len(t, merged[0].DeleteRows, 1)
	assert.Len(t, merged[0].InsertRows, 1)
	assert.Empty(t, merged[0].UnmergedRows)
}

func TestMongoMergerHaltsOnNonMongoDocColumn(t *testing.T) {
	m := MongoMerger{Key: fakeMongoKey}
	rows := []meta.RowData{
		mongoRow(meta.RowInsert, nil, map[string]meta.ColValue{"other": meta.RawStringValue("x")}),
	}

	merged, err := m.Merge(rows)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Empty(t, merged[0].InsertRows)
	assert.Len(t, merged[0].UnmergedRows, 1)
}

func TestMongoMergerHaltsOnEmptyDocKey(t *testing.T) {
	m := MongoMerger{Key: fakeMongoKey}
	rows := []meta.RowData{
		mongoRow(meta.RowInsert, nil, map[string]meta.ColValue{MongoDocColumn: docCol("")}),
	}

	merged, err := m.Merge(rows)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Empty(t, merged[0].InsertRows)
	assert.Len(t, merged[0].UnmergedRows, 1)
}
