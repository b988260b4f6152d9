package rdbreader

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lenPrefixedString(s string) []byte {
	// 6-bit length encoding only, sufficient for the short strings these
	// tests need.
	return append([]byte{byte(len(s))}, []byte(s)...)
}

// Scenario 5 from spec.md §8: a "lua" AUX field in the RDB stream is
// surfaced as a synthetic SCRIPT LOAD command rather than a key/value
// entry.
func TestLoadEntryLuaAuxYieldsScriptLoadCmd(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS")
	buf.WriteString("0011")
	buf.WriteByte(flagAux)
	buf.Write(lenPrefixedString("lua"))
	buf.Write(lenPrefixedString("return 1"))
	buf.WriteByte(flagEOF)

	r := NewReader(&buf, nil)
	version, err := r.LoadMeta()
	require.NoError(t, err)
	assert.Equal(t, "0011", version)

	entry, err := r.LoadEntry()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.HasCmd)
	assert.Equal(t, []string{"SCRIPT", "LOAD", "return 1"}, entry.Cmd.Args)

	_, err = r.LoadEntry()
	assert.Equal(t, io.EOF, err)
	assert.True(t, r.IsEnd())
}

// A non-"lua" AUX field (e.g. redis-ver) is recorded internally and
// produces no Entry.
func TestLoadEntryOtherAuxProducesNoEntry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS")
	buf.WriteString("0011")
	buf.WriteByte(flagAux)
	buf.Write(lenPrefixedString("redis-ver"))
	buf.Write(lenPrefixedString("7.0.0"))
	buf.WriteByte(flagEOF)

	r := NewReader(&buf, nil)
	_, err := r.LoadMeta()
	require.NoError(t, err)

	entry, err := r.LoadEntry()
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = r.LoadEntry()
	assert.Equal(t, io.EOF, err)
}

func TestLoadMetaRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("NOTRDB001")
	r := NewReader(buf, nil)
	_, err := r.LoadMeta()
	assert.Error(t, err)
}

func TestLoadEntrySelectUpdatesDBIDWithNoEntry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS")
	buf.WriteString("0011")
	buf.WriteByte(flagSelect)
	buf.WriteByte(0x02) // 6-bit length-encoded DB id 2
	buf.WriteByte(flagEOF)

	r := NewReader(&buf, nil)
	_, err := r.LoadMeta()
	require.NoError(t, err)

	entry, err := r.LoadEntry()
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, int64(2), r.nowDBID)
}
