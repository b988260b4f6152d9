package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/monitor"
)

func newTestSinker(t *testing.T, pk PKResolver) (*Sinker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	pool := &goredis.Pool{Dial: func() (goredis.Conn, error) { return goredis.Dial("tcp", mr.Addr()) }}
	t.Cleanup(func() { _ = pool.Close() })

	return New(pool, pk, logrus.NewEntry(logrus.New()), monitor.New(0, nil)), mr
}

func fixedPK(cols ...string) PKResolver {
	return func(schema, tb string) []string { return cols }
}

func TestSinkDmlInsertWritesHash(t *testing.T) {
	sinker, mr := newTestSinker(t, fixedPK("id"))

	row := meta.NewRowData("shop", "widgets", meta.RowInsert, nil, map[string]meta.ColValue{
		"id":   meta.LongValue(1),
		"name": meta.RawStringValue("sprocket"),
	})
	require.NoError(t, sinker.SinkDml(context.Background(), []meta.RowData{row}, true))

	assert.True(t, mr.Exists("shop:widgets:1"))
	name, err := mr.HGet("shop:widgets:1", "name")
	require.NoError(t, err)
	assert.Equal(t, "sprocket", name)
}

func TestSinkDmlDeleteRemovesFields(t *testing.T) {
	sinker, mr := newTestSinker(t, fixedPK("id"))
	_, err := mr.HSet("shop:widgets:1", "id", "1", "name", "sprocket")
	require.NoError(t, err)

	row := meta.NewRowData("shop", "widgets", meta.RowDelete, map[string]meta.ColValue{
		"id":   meta.LongValue(1),
		"name": meta.RawStringValue("sprocket"),
	}, nil)
	require.NoError(t, sinker.SinkDml(context.Background(), []meta.RowData{row}, true))

	assert.False(t, mr.Exists("shop:widgets:1"))
}

func TestSinkDmlUpdateMovesKeyWhenPKColumnChanges(t *testing.T) {
	sinker, mr := newTestSinker(t, fixedPK("id"))
	_, err := mr.HSet("shop:widgets:1", "id", "1", "name", "old")
	require.NoError(t, err)

	row := meta.NewRowData("shop", "widgets", meta.RowUpdate,
		map[string]meta.ColValue{"id": meta.LongValue(1), "name": meta.RawStringValue("old")},
		map[string]meta.ColValue{"id": meta.LongValue(2), "name": meta.RawStringValue("old")},
	)
	require.NoError(t, sinker.SinkDml(context.Background(), []meta.RowData{row}, true))

	assert.False(t, mr.Exists("shop:widgets:1"))
	assert.True(t, mr.Exists("shop:widgets:2"))
}

func TestSinkDmlUpdateRewritesOnlyChangedColumnsWhenPKStable(t *testing.T) {
	sinker, mr := newTestSinker(t, fixedPK("id"))
	_, err := mr.HSet("shop:widgets:1", "id", "1", "name", "old", "untouched", "keep")
	require.NoError(t, err)

	row := meta.NewRowData("shop", "widgets", meta.RowUpdate,
		map[string]meta.ColValue{"id": meta.LongValue(1), "name": meta.RawStringValue("old"), "untouched": meta.RawStringValue("keep")},
		map[string]meta.ColValue{"id": meta.LongValue(1), "name": meta.RawStringValue("new"), "untouched": meta.RawStringValue("keep")},
	)
	require.NoError(t, sinker.SinkDml(context.Background(), []meta.RowData{row}, true))

	name, err := mr.HGet("shop:widgets:1", "name")
	require.NoError(t, err)
	assert.Equal(t, "new", name)
	untouched, err := mr.HGet("shop:widgets:1", "untouched")
	require.NoError(t, err)
	assert.Equal(t, "keep", untouched)
}

func TestSinkDmlMissingPKColumnErrors(t *testing.T) {
	sinker, _ := newTestSinker(t, fixedPK("id"))

	row := meta.NewRowData("shop", "widgets", meta.RowInsert, nil, map[string]meta.ColValue{
		"name": meta.RawStringValue("sprocket"),
	})
	assert.Error(t, sinker.SinkDml(context.Background(), []meta.RowData{row}, true))
}

func TestSinkDdlSinkDclSinkStructAreNoOps(t *testing.T) {
	sinker, _ := newTestSinker(t, fixedPK("id"))
	assert.NoError(t, sinker.SinkDdl(context.Background(), []meta.DdlData{{DdlType: meta.DdlCreateTable}}, false))
	assert.NoError(t, sinker.SinkDcl(context.Background(), []meta.DclData{{}}, false))
	assert.NoError(t, sinker.SinkStruct(context.Background(), []meta.StructData{{}}))
	assert.NoError(t, sinker.RefreshMeta(context.Background(), nil))
}
