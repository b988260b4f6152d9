// Package check implements the row-level consistency-check extractor: for
// each entry in a check-log directory it fetches the current source row by
// PK and pushes a Dml item carrying both the expected (before) and observed
// (after) values so a check-mode sinker (parallel.StrategyRdbCheck) can
// diff them, per spec.md §4.3's Check extractor description.
package check

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"

	"github.com/replimux/replimux/internal/extractor/common"
	"github.com/replimux/replimux/internal/extractor/snapshot"
	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/mysqlcol"
)

// LogEntry is one line of a check-log file: the expected column values for
// a single row, keyed by primary key.
type LogEntry struct {
	Schema string            `json:"schema"`
	Table  string            `json:"table"`
	PK     map[string]string `json:"pk"`
	Before map[string]string `json:"expected"`
}

type Extractor struct {
	common.Base
	DB      *sql.DB
	LogDir  string
	Tables  map[string]snapshot.TableSpec // fqTable -> spec
}

func (e *Extractor) Run(ctx context.Context) error {
	entries, err := os.ReadDir(e.LogDir)
	if err != nil {
		return errors.Trace(err)
	}

	for _, de := range entries {
		if e.ShutDown.IsSet() {
			return nil
		}
		if de.IsDir() {
			continue
		}
		if err := e.processFile(ctx, filepath.Join(e.LogDir, de.Name())); err != nil {
			return errors.Annotatef(err, "check log %s", de.Name())
		}
	}
	return nil
}

func (e *Extractor) processFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if e.ShutDown.IsSet() {
			return nil
		}
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return errors.Trace(err)
		}
		if err := e.processEntry(ctx, entry); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(scanner.Err())
}

func (e *Extractor) processEntry(ctx context.Context, entry LogEntry) error {
	full := entry.Schema + "." + entry.Table
	spec, ok := e.Tables[full]
	if !ok {
		return errors.Errorf("no table spec registered for %s", full)
	}

	before := make(map[string]meta.ColValue, len(entry.Before))
	for col, s := range entry.Before {
		ct := colType(spec, col)
		before[col] = mysqlcol.FromStr(ct, s)
	}

	after, err := e.fetchCurrent(ctx, spec, entry.PK)
	if err != nil {
		return err
	}

	rd := meta.NewRowData(entry.Schema, entry.Table, meta.RowUpdate, before, after)
	pos := meta.SnapshotPosition(entry.Schema, entry.Table, firstVal(entry.PK))
	return e.Push(ctx, meta.DmlData(rd), pos, time.Now())
}

func (e *Extractor) fetchCurrent(ctx context.Context, spec snapshot.TableSpec, pk map[string]string) (map[string]meta.ColValue, error) {
	cols := ""
	for i, c := range spec.Columns {
		if i > 0 {
			cols += ", "
		}
		cols += "`" + c.Name + "`"
	}

	where := ""
	args := make([]interface{}, 0, len(pk))
	i := 0
	for col, val := range pk {
		if i > 0 {
			where += " AND "
		}
		where += "`" + col + "` = ?"
		args = append(args, val)
		i++
	}

	query := "SELECT " + cols + " FROM `" + spec.Schema + "`.`" + spec.Tb + "` WHERE " + where
	row := e.DB.QueryRowContext(ctx, query, args...)

	raw := make([]sql.NullString, len(spec.Columns))
	ptrs := make([]interface{}, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		if err == sql.ErrNoRows {
			// the row no longer exists on the source: observed state is
			// "absent", represented as an empty column map so the check
			// sinker reports a missing-row discrepancy rather than erroring.
			return map[string]meta.ColValue{}, nil
		}
		return nil, errors.Trace(err)
	}

	after := make(map[string]meta.ColValue, len(spec.Columns))
	for idx, c := range spec.Columns {
		if !raw[idx].Valid {
			after[c.Name] = meta.NoneValue()
			continue
		}
		after[c.Name] = mysqlcol.FromStr(c.Type, raw[idx].String)
	}
	return after, nil
}

func colType(spec snapshot.TableSpec, col string) mysqlcol.ColType {
	for _, c := range spec.Columns {
		if c.Name == col {
			return c.Type
		}
	}
	return mysqlcol.ColType{Kind: mysqlcol.StringType}
}

func firstVal(m map[string]string) string {
	for _, v := range m {
		return v
	}
	return ""
}
