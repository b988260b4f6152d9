package check

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replimux/replimux/internal/extractor/common"
	"github.com/replimux/replimux/internal/extractor/snapshot"
	"github.com/replimux/replimux/internal/mysqlcol"
	"github.com/replimux/replimux/internal/queue"
)

func newTestExtractor(t *testing.T) (*Extractor, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()

	e := &Extractor{
		Base: common.Base{
			Queue:    queue.New(100, 1<<20),
			ShutDown: common.NewShutDownFlag(),
		},
		DB:     db,
		LogDir: dir,
		Tables: map[string]snapshot.TableSpec{
			"shop.widgets": {
				Schema: "shop", Tb: "widgets", PK: []string{"id"},
				Columns: []snapshot.ColumnSpec{
					{Name: "id", Type: mysqlcol.ColType{Kind: mysqlcol.Long}},
					{Name: "name", Type: mysqlcol.ColType{Kind: mysqlcol.StringType}},
				},
			},
		},
	}
	return e, mock, dir
}

func writeLog(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRunPushesFetchedRowAgainstExpected(t *testing.T) {
	e, mock, dir := newTestExtractor(t)
	writeLog(t, dir, "log1.jsonl", `{"schema":"shop","table":"widgets","pk":{"id":"1"},"expected":{"id":"1","name":"old"}}`)

	rows := sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "new")
	mock.ExpectQuery(`SELECT .* FROM .shop...widgets. WHERE .id. = \?`).WithArgs("1").WillReturnRows(rows)

	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	items := e.Queue.PopBatch(context.Background(), 10, 1<<20, 10*time.Millisecond)
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Payload.Row.After["name"].String())
	assert.Equal(t, "old", items[0].Payload.Row.Before["name"].String())
}

func TestRunRecordsMissingRowAsEmptyAfter(t *testing.T) {
	e, mock, dir := newTestExtractor(t)
	writeLog(t, dir, "log1.jsonl", `{"schema":"shop","table":"widgets","pk":{"id":"1"},"expected":{"id":"1","name":"old"}}`)

	mock.ExpectQuery(`SELECT .* FROM .shop...widgets. WHERE .id. = \?`).WithArgs("1").WillReturnError(sql.ErrNoRows)

	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	items := e.Queue.PopBatch(context.Background(), 10, 1<<20, 10*time.Millisecond)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Payload.Row.After)
}

func TestRunErrorsOnUnknownTableSpec(t *testing.T) {
	e, _, dir := newTestExtractor(t)
	writeLog(t, dir, "log1.jsonl", `{"schema":"shop","table":"unknown","pk":{"id":"1"},"expected":{"id":"1"}}`)

	err := e.Run(context.Background())
	assert.Error(t, err)
}

func TestRunStopsEarlyOnShutDown(t *testing.T) {
	e, mock, dir := newTestExtractor(t)
	writeLog(t, dir, "log1.jsonl", `{"schema":"shop","table":"widgets","pk":{"id":"1"},"expected":{"id":"1"}}`)
	e.ShutDown.Set()

	require.NoError(t, e.Run(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunProcessesMultipleFilesInDirectory(t *testing.T) {
	e, mock, dir := newTestExtractor(t)
	writeLog(t, dir, "log1.jsonl", `{"schema":"shop","table":"widgets","pk":{"id":"1"},"expected":{"id":"1","name":"a"}}`)
	writeLog(t, dir, "log2.jsonl", `{"schema":"shop","table":"widgets","pk":{"id":"2"},"expected":{"id":"2","name":"b"}}`)

	rows1 := sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "a")
	mock.ExpectQuery(`SELECT .* FROM .shop...widgets. WHERE .id. = \?`).WithArgs("1").WillReturnRows(rows1)
	rows2 := sqlmock.NewRows([]string{"id", "name"}).AddRow("2", "b")
	mock.ExpectQuery(`SELECT .* FROM .shop...widgets. WHERE .id. = \?`).WithArgs("2").WillReturnRows(rows2)

	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	items := e.Queue.PopBatch(context.Background(), 10, 1<<20, 10*time.Millisecond)
	assert.Len(t, items, 2)
}
