package rdbfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterDenyDominatesAllow(t *testing.T) {
	f := New([]string{"db1"}, nil, nil, []string{"db1.t"}, nil)

	assert.True(t, f.FilterTb("db1", "t"), "an explicit ignore match must win even though db1 is allowed")
	assert.False(t, f.FilterTb("db1", "other"), "tables outside the ignore set in an allowed db stay admitted")
}

func TestFilterNoDoListAdmitsEverythingNotIgnored(t *testing.T) {
	f := New(nil, nil, nil, []string{"db1.t"}, nil)

	assert.False(t, f.FilterTb("db2", "anything"))
	assert.True(t, f.FilterTb("db1", "t"))
}

// Filter idempotence (spec.md §8): repeated calls with the same (schema,
// tb) always agree, since FilterTb carries no mutable state.
func TestFilterIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	f := New([]string{"db1"}, nil, nil, []string{"db1.t"}, nil)

	first := f.FilterTb("db1", "t")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.FilterTb("db1", "t"))
	}
}

func TestFilterGlobPatterns(t *testing.T) {
	f := New([]string{"db*"}, nil, nil, nil, nil)

	assert.False(t, f.FilterTb("db1", "t"))
	assert.False(t, f.FilterTb("dbx", "t"))
	assert.True(t, f.FilterTb("other", "t"))
}

func TestGetWhereSQLCombinesConfiguredAndAdHocConditions(t *testing.T) {
	f := New(nil, nil, nil, nil, map[string]string{"db1.t": "id > 0"})

	assert.Equal(t, "WHERE id > 0", f.GetWhereSQL("db1", "t", ""))
	assert.Equal(t, "WHERE id > 0 AND id < 100", f.GetWhereSQL("db1", "t", "id < 100"))
	assert.Equal(t, "WHERE id < 100", f.GetWhereSQL("db2", "other", "id < 100"))
	assert.Equal(t, "", f.GetWhereSQL("db2", "other", ""))
}
