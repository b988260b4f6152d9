// Package precheck runs the offline `precheck` subcommand's checks,
// grounded on mysql_prechecker.rs in original_source/: a list of
// structured pass/fail/warning items rather than an early-exit error,
// matching spec.md §7's Precheck error-kind description.
package precheck

import (
	"context"
	"database/sql"
	"strings"

	"github.com/replimux/replimux/internal/config"
)

// CheckResult is one item produced by a Prechecker, matching spec.md §7's
// "(item, is_source, error, warning)" shape exactly.
type CheckResult struct {
	Item     string
	IsSource bool
	Error    string
	Warning  string
}

func (r CheckResult) Passed() bool { return r.Error == "" }

type Prechecker interface {
	Run(ctx context.Context) []CheckResult
}

// MySQLPrechecker runs the MySQL-specific checks named in
// mysql_prechecker.rs plus the supplemented CheckTablesHaveUniqueKey item
// (see DESIGN.md's Open Questions section) needed because snapshot resume
// semantics on keyless tables are otherwise undefined.
type MySQLPrechecker struct {
	DB       *sql.DB
	IsSource bool
	Tables   []string // fully-qualified schema.table names in scope
}

func (p *MySQLPrechecker) Run(ctx context.Context) []CheckResult {
	var results []CheckResult
	results = append(results, p.checkConnection(ctx))
	results = append(results, p.checkVersion(ctx))
	results = append(results, p.checkPermission(ctx))
	if !p.IsSource {
		return results
	}
	results = append(results, p.checkCdcSupported(ctx))
	results = append(results, p.checkTablesHaveUniqueKey(ctx)...)
	return results
}

func (p *MySQLPrechecker) checkConnection(ctx context.Context) CheckResult {
	if err := p.DB.PingContext(ctx); err != nil {
		return CheckResult{Item: "database_connection", IsSource: p.IsSource, Error: err.Error()}
	}
	return CheckResult{Item: "database_connection", IsSource: p.IsSource}
}

func (p *MySQLPrechecker) checkVersion(ctx context.Context) CheckResult {
	var version string
	if err := p.DB.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return CheckResult{Item: "database_version_supported", IsSource: p.IsSource, Error: err.Error()}
	}
	if len(version) > 0 && version[0] < '5' {
		return CheckResult{Item: "database_version_supported", IsSource: p.IsSource,
			Warning: "MySQL versions below 5.x are unsupported for binlog row-based replication"}
	}
	return CheckResult{Item: "database_version_supported", IsSource: p.IsSource}
}

func (p *MySQLPrechecker) checkPermission(ctx context.Context) CheckResult {
	rows, err := p.DB.QueryContext(ctx, "SHOW GRANTS")
	if err != nil {
		return CheckResult{Item: "account_permission", IsSource: p.IsSource, Error: err.Error()}
	}
	defer rows.Close()

	hasReplication := false
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err == nil {
			if containsAny(grant, "REPLICATION SLAVE", "REPLICATION CLIENT", "ALL PRIVILEGES") {
				hasReplication = true
			}
		}
	}
	if p.IsSource && !hasReplication {
		return CheckResult{Item: "account_permission", IsSource: p.IsSource,
			Warning: "account may lack REPLICATION SLAVE/CLIENT privileges required for CDC"}
	}
	return CheckResult{Item: "account_permission", IsSource: p.IsSource}
}

func (p *MySQLPrechecker) checkCdcSupported(ctx context.Context) CheckResult {
	var variable, value string
	if err := p.DB.QueryRowContext(ctx, "SHOW VARIABLES LIKE 'binlog_format'").Scan(&variable, &value); err != nil {
		return CheckResult{Item: "cdc_supported", IsSource: p.IsSource, Error: err.Error()}
	}
	if value != "ROW" {
		return CheckResult{Item: "cdc_supported", IsSource: p.IsSource,
			Error: "binlog_format must be ROW for CDC, got " + value}
	}
	return CheckResult{Item: "cdc_supported", IsSource: p.IsSource}
}

// checkTablesHaveUniqueKey rejects snapshot/CDC configuration against any
// table that has neither a primary key nor a unique key, since the
// snapshot extractor's resume semantics on such a table are undefined
// (spec.md §9's Open Question) and should fail fast rather than guess.
func (p *MySQLPrechecker) checkTablesHaveUniqueKey(ctx context.Context) []CheckResult {
	var results []CheckResult
	for _, full := range p.Tables {
		schema, tb := splitFull(full)
		var cnt int
		err := p.DB.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.statistics
			WHERE table_schema = ? AND table_name = ? AND non_unique = 0`, schema, tb).Scan(&cnt)
		if err != nil {
			results = append(results, CheckResult{Item: "tables_have_unique_key", IsSource: p.IsSource, Error: err.Error()})
			continue
		}
		if cnt == 0 {
			results = append(results, CheckResult{Item: "tables_have_unique_key", IsSource: p.IsSource,
				Error: full + " has no primary key or unique key; snapshot resume is undefined for keyless tables"})
			continue
		}
		results = append(results, CheckResult{Item: "tables_have_unique_key", IsSource: p.IsSource})
	}
	return results
}

func splitFull(full string) (string, string) {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '.' {
			return full[:i], full[i+1:]
		}
	}
	return "", full
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// NewFromConfig selects and wires the appropriate Prechecker for the
// configured db_type; only mysql is implemented so far.
func NewFromConfig(ctx context.Context, cfg *config.TaskConfig, db *sql.DB, isSource bool, tables []string) Prechecker {
	return &MySQLPrechecker{DB: db, IsSource: isSource, Tables: tables}
}
