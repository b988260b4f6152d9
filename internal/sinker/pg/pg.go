// Package pg implements the relational sinker for a PostgreSQL target. It
// mirrors internal/sinker/mysql's batch/serial-fallback shape (both are
// grounded on the same dt-connector Rust sinker family) but uses lib/pq's
// $n placeholder style and COPY-free multi-row INSERT ... ON CONFLICT.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/replimux/replimux/internal/marker"
	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/monitor"
)

type Sinker struct {
	db      *sql.DB
	log     *logrus.Entry
	mon     *monitor.Monitor
	marker  *marker.Marker
	pkCols  func(schema, tb string) []string
	replace bool
}

// replace selects the upsert strategy, matching sinker.replace in spec.md
// §6's configuration table: false does an ON CONFLICT DO UPDATE merge of
// the incoming columns, true deletes the conflicting row by primary key
// and re-inserts it whole, the nearest Postgres equivalent of MySQL's
// REPLACE INTO delete-then-insert semantics.
func Open(dsn string, log *logrus.Entry, mon *monitor.Monitor, mk *marker.Marker, pkCols func(schema, tb string) []string, replace bool) (*Sinker, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Sinker{db: db, log: log, mon: mon, marker: mk, pkCols: pkCols, replace: replace}, nil
}

func (s *Sinker) SinkDml(ctx context.Context, rows []meta.RowData, batch bool) error {
	if len(rows) == 0 {
		return nil
	}

	byTable := map[string][]meta.RowData{}
	order := []string{}
	for _, r := range rows {
		full := r.FullTable()
		if _, ok := byTable[full]; !ok {
			order = append(order, full)
		}
		byTable[full] = append(byTable[full], r)
	}

	for _, full := range order {
		tableRows := byTable[full]
		var err error
		if batch {
			err = s.sinkBatch(ctx, full, tableRows)
		} else {
			err = s.sinkSerial(ctx, tableRows)
		}
		if err != nil {
			return err
		}
	}

	if s.mon != nil {
		s.mon.Add(monitor.Counters{RecordCount: uint64(len(rows))})
	}
	return nil
}

func (s *Sinker) sinkBatch(ctx context.Context, full string, rows []meta.RowData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer tx.Rollback()

	inserts := make([]meta.RowData, 0, len(rows))
	deletes := make([]meta.RowData, 0, len(rows))
	for _, r := range rows {
		if r.RowType == meta.RowDelete {
			deletes = append(deletes, r)
		} else {
			inserts = append(inserts, r)
		}
	}

	schema, tb := splitFull(full)
	pk := s.pkCols(schema, tb)

	if err := execDeleteBatch(ctx, tx, full, deletes); err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("pg batch delete failed, falling back to serial")
		}
		return s.sinkSerial(ctx, rows)
	}
	if err := execUpsertBatch(ctx, tx, full, inserts, pk, s.replace); err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("pg batch upsert failed, falling back to serial")
		}
		return s.sinkSerial(ctx, rows)
	}

	if err := s.upsertMarker(ctx, tx); err != nil {
		return errors.Trace(err)
	}
	return tx.Commit()
}

func (s *Sinker) sinkSerial(ctx context.Context, rows []meta.RowData) error {
	for _, r := range rows {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		full := r.FullTable()
		schema, tb := splitFull(full)
		var execErr error
		if r.RowType == meta.RowDelete {
			execErr = execDeleteBatch(ctx, tx, full, []meta.RowData{r})
		} else {
			execErr = execUpsertBatch(ctx, tx, full, []meta.RowData{r}, s.pkCols(schema, tb), s.replace)
		}
		if execErr != nil {
			tx.Rollback()
			return errors.Annotatef(execErr, "sink row %s", full)
		}
		if err := s.upsertMarker(ctx, tx); err != nil {
			tx.Rollback()
			return errors.Trace(err)
		}
		if err := tx.Commit(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func execUpsertBatch(ctx context.Context, tx *sql.Tx, full string, rows []meta.RowData, pkCols []string, replace bool) error {
	if len(rows) == 0 {
		return nil
	}
	cols := orderedColumnNames(rows[0].After)
	if len(cols) == 0 {
		return nil
	}

	if replace && len(pkCols) > 0 {
		if err := execDeleteByPK(ctx, tx, full, rows, pkCols); err != nil {
			return errors.Trace(err)
		}
	}

	placeholders := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(cols))
	n := 1
	for _, r := range rows {
		ph := make([]string, len(cols))
		for i, c := range cols {
			ph[i] = fmt.Sprintf("$%d", n)
			n++
			args = append(args, valueArg(r.After[c]))
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	var query string
	switch {
	case replace && len(pkCols) > 0:
		// the conflicting row was already deleted above, so this is a
		// plain insert that fully replaces whatever existed before.
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quoteTable(full), quoteCols(cols), strings.Join(placeholders, ","))
	default:
		conflictTarget := "(" + strings.Join(quoteIdents(pkCols), ",") + ")"
		if len(pkCols) == 0 {
			conflictTarget = ""
		}
		updateSet := make([]string, 0, len(cols))
		for _, c := range cols {
			if containsStr(pkCols, c) {
				continue
			}
			updateSet = append(updateSet, fmt.Sprintf("%q=EXCLUDED.%q", c, c))
		}
		if conflictTarget != "" && len(updateSet) > 0 {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT %s DO UPDATE SET %s",
				quoteTable(full), quoteCols(cols), strings.Join(placeholders, ","), conflictTarget, strings.Join(updateSet, ","))
		} else {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT DO NOTHING",
				quoteTable(full), quoteCols(cols), strings.Join(placeholders, ","))
		}
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return errors.Trace(err)
}

// execDeleteByPK removes any existing row matching each incoming row's
// primary key, so a subsequent plain INSERT fully replaces it rather than
// merging columns, matching REPLACE INTO semantics for sinker.replace=true.
func execDeleteByPK(ctx context.Context, tx *sql.Tx, full string, rows []meta.RowData, pkCols []string) error {
	conds := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(pkCols))
	n := 1
	for _, r := range rows {
		parts := make([]string, len(pkCols))
		for i, c := range pkCols {
			parts[i] = fmt.Sprintf("%q=$%d", c, n)
			n++
			args = append(args, valueArg(r.After[c]))
		}
		conds = append(conds, "("+strings.Join(parts, " AND ")+")")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(full), strings.Join(conds, " OR "))
	_, err := tx.ExecContext(ctx, query, args...)
	return errors.Trace(err)
}

func execDeleteBatch(ctx context.Context, tx *sql.Tx, full string, rows []meta.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	cols := orderedColumnNames(rows[0].Before)
	if len(cols) == 0 {
		return nil
	}

	conds := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(cols))
	n := 1
	for _, r := range rows {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprintf("%q=$%d", c, n)
			n++
			args = append(args, valueArg(r.Before[c]))
		}
		conds = append(conds, "("+strings.Join(parts, " AND ")+")")
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(full), strings.Join(conds, " OR "))
	_, err := tx.ExecContext(ctx, query, args...)
	return errors.Trace(err)
}

func (s *Sinker) upsertMarker(ctx context.Context, tx *sql.Tx) error {
	if s.marker == nil || s.marker.MarkerSchema == "" {
		return nil
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (data_origin_node, src_node, dst_node, n) VALUES ($1, $2, $3, 1)
		 ON CONFLICT (data_origin_node, src_node, dst_node) DO UPDATE SET n = %s.n + 1`,
		quoteTable(s.marker.MarkerSchema+"."+s.marker.MarkerTb), quotedTableAlias(s.marker.MarkerTb))
	_, err := tx.ExecContext(ctx, query, s.marker.DataOriginNode, s.marker.SrcNode, s.marker.DstNode)
	return errors.Trace(err)
}

func (s *Sinker) SinkDdl(ctx context.Context, ddls []meta.DdlData, batch bool) error {
	for _, ddl := range ddls {
		if _, err := s.db.ExecContext(ctx, ddl.Query); err != nil {
			return errors.Annotatef(err, "ddl %s", ddl.Query)
		}
	}
	return nil
}

func (s *Sinker) SinkDcl(ctx context.Context, dcls []meta.DclData, batch bool) error {
	for _, dcl := range dcls {
		if _, err := s.db.ExecContext(ctx, dcl.Query); err != nil {
			return errors.Annotatef(err, "dcl %s", dcl.Query)
		}
	}
	return nil
}

func (s *Sinker) SinkStruct(ctx context.Context, structs []meta.StructData) error {
	for _, st := range structs {
		for _, stmt := range st.Statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return errors.Annotatef(err, "struct stmt %s", stmt)
			}
		}
	}
	return nil
}

func (s *Sinker) RefreshMeta(ctx context.Context, ddls []meta.DdlData) error { return nil }

func (s *Sinker) Close(ctx context.Context) error { return s.db.Close() }

func orderedColumnNames(cols map[string]meta.ColValue) []string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func valueArg(v meta.ColValue) interface{} {
	if v.IsNone() {
		return nil
	}
	return v.String()
}

func splitFull(full string) (string, string) {
	parts := strings.SplitN(full, ".", 2)
	if len(parts) != 2 {
		return "", full
	}
	return parts[0], parts[1]
}

func quoteTable(full string) string {
	schema, tb := splitFull(full)
	if schema == "" {
		return fmt.Sprintf("%q", tb)
	}
	return fmt.Sprintf("%q.%q", schema, tb)
}

func quotedTableAlias(tb string) string { return fmt.Sprintf("%q", tb) }

func quoteCols(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return strings.Join(quoted, ",")
}

func quoteIdents(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return quoted
}

func containsStr(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
