package mysql

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/monitor"
)

// TestSinkerIntegration exercises Open/SinkDml/Close against a live MySQL
// instance, grounded on Pieczasz-smf's apply_connector_test.go
// testcontainers pattern.
func TestSinkerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dsn, verifyDB := setupMySQL(t, ctx)

	log := logrus.NewEntry(logrus.New())
	mon := monitor.New(0, nil)

	if _, err := verifyDB.ExecContext(ctx, "CREATE TABLE widgets (id BIGINT PRIMARY KEY, name VARCHAR(64))"); err != nil {
		require.NoError(t, err)
	}

	sinker, err := Open(dsn, log, mon, nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sinker.Close(ctx) })

	row := meta.NewRowData("testdb", "widgets", meta.RowInsert, nil, map[string]meta.ColValue{
		"id":   meta.LongLongValue(1),
		"name": meta.StringValue("sprocket"),
	})
	require.NoError(t, sinker.SinkDml(ctx, []meta.RowData{row}, true))

	var name string
	require.NoError(t, verifyDB.QueryRowContext(ctx, "SELECT name FROM widgets WHERE id = 1").Scan(&name))
	assert.Equal(t, "sprocket", name)

	del := meta.NewRowData("testdb", "widgets", meta.RowDelete, map[string]meta.ColValue{
		"id": meta.LongLongValue(1),
	}, nil)
	require.NoError(t, sinker.SinkDml(ctx, []meta.RowData{del}, true))

	var count int
	require.NoError(t, verifyDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM widgets").Scan(&count))
	assert.Equal(t, 0, count)
}

func setupMySQL(t *testing.T, ctx context.Context) (string, *sql.DB) {
	t.Helper()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("testdb"),
		tcmysql.WithUsername("root"),
		tcmysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })

	return dsn, db
}
