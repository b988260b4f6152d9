package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/meta"
)

func TestRouteRowRenamesSchemaTableAndColumns(t *testing.T) {
	r := New(
		map[string]string{"db1": "db2"},
		map[string]string{"db1.old": "db1.new"},
		map[string]map[string]string{"db1.old": {"a": "aa"}},
	)

	row := meta.NewRowData("db1", "old", meta.RowInsert, nil, map[string]meta.ColValue{"a": meta.RawStringValue("x")})
	routed := r.RouteRow(row)

	assert.Equal(t, "db1", routed.Schema)
	assert.Equal(t, "new", routed.Tb)
	_, hasOld := routed.After["a"]
	assert.False(t, hasOld)
	require.Contains(t, routed.After, "aa")
	assert.Equal(t, "x", routed.After["aa"].String())
}

func TestRouteRowFallsBackToSchemaRenameWhenNoTableOverride(t *testing.T) {
	r := New(map[string]string{"db1": "db2"}, nil, nil)

	row := meta.NewRowData("db1", "t", meta.RowInsert, nil, map[string]meta.ColValue{"a": meta.RawStringValue("x")})
	routed := r.RouteRow(row)

	assert.Equal(t, "db2", routed.Schema)
	assert.Equal(t, "t", routed.Tb)
}

// Router idempotence (spec.md §8): once a row has been routed to a
// (schema, tb) absent from the rename maps, routing it again is a no-op.
func TestRouteRowIsIdempotentOnceRewritten(t *testing.T) {
	r := New(
		map[string]string{"db1": "db2"},
		map[string]string{"db1.old": "db2.new"},
		map[string]map[string]string{"db1.old": {"a": "aa"}},
	)

	row := meta.NewRowData("db1", "old", meta.RowInsert, nil, map[string]meta.ColValue{"a": meta.RawStringValue("x")})
	once := r.RouteRow(row)
	twice := r.RouteRow(once)

	assert.Equal(t, once.Schema, twice.Schema)
	assert.Equal(t, once.Tb, twice.Tb)
	assert.Equal(t, once.After, twice.After)
}

func TestRouteDdlAndStructShareRouteLogic(t *testing.T) {
	r := New(nil, map[string]string{"db1.old": "db2.new"}, nil)

	ddl := meta.DdlData{Schema: "db1", Tb: "old"}
	routedDdl := r.RouteDdl(ddl)
	schema, tb := routedDdl.SchemaTb()
	assert.Equal(t, "db2", schema)
	assert.Equal(t, "new", tb)

	s := meta.StructData{Schema: "db1", Tb: "old"}
	routedStruct := r.RouteStruct(s)
	assert.Equal(t, "db2", routedStruct.Schema)
	assert.Equal(t, "new", routedStruct.Tb)
}
