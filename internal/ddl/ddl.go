// Package ddl parses DDL text into meta.DdlData using the TiDB SQL parser,
// the same parser the pack's schema-diff tooling (Pieczasz-smf) relies on
// for DDL-aware diffing rather than hand-rolled regexes.
package ddl

import (
	"strings"

	"github.com/juju/errors"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/replimux/replimux/internal/meta"
)

// Parser wraps a tidb/parser.Parser plus the default-schema tracking
// base_extractor.rs performs across a `USE db; CREATE TABLE ...` pair: a
// bare statement with no explicit schema inherits the most recently seen
// USE target for the remainder of the stream.
type Parser struct {
	p             *parser.Parser
	defaultSchema string
}

func New() *Parser {
	return &Parser{p: parser.New()}
}

// Parse classifies and extracts schema/table from a single DDL statement.
// A statement the grammar does not recognize is returned with
// ParseFailed=true rather than an error, per spec.md §7's Parse(DDL) policy
// of logging and skipping rather than aborting the pipeline.
func (d *Parser) Parse(query string) meta.DdlData {
	trimmed := strings.TrimSpace(query)
	if useDB, ok := parseUseStmt(trimmed); ok {
		d.defaultSchema = useDB
		return meta.DdlData{DdlType: meta.DdlUnknown, DefaultSchema: d.defaultSchema, Query: query}
	}

	stmtNodes, _, err := d.p.ParseSQL(trimmed)
	if err != nil || len(stmtNodes) == 0 {
		return meta.DdlData{DefaultSchema: d.defaultSchema, Query: query, ParseFailed: true}
	}

	dd := classify(stmtNodes[0])
	dd.DefaultSchema = d.defaultSchema
	dd.Query = query
	return dd
}

func parseUseStmt(q string) (string, bool) {
	fields := strings.Fields(strings.TrimSuffix(q, ";"))
	if len(fields) == 2 && strings.EqualFold(fields[0], "use") {
		return strings.Trim(fields[1], "`"), true
	}
	return "", false
}

func classify(stmt ast.StmtNode) meta.DdlData {
	switch n := stmt.(type) {
	case *ast.CreateDatabaseStmt:
		return meta.DdlData{DdlType: meta.DdlCreateDatabase, Schema: n.Name.O()}
	case *ast.DropDatabaseStmt:
		return meta.DdlData{DdlType: meta.DdlDropDatabase, Schema: n.Name.O()}
	case *ast.AlterDatabaseStmt:
		return meta.DdlData{DdlType: meta.DdlAlterDatabase, Schema: n.Name.O()}
	case *ast.CreateTableStmt:
		return meta.DdlData{DdlType: meta.DdlCreateTable, Schema: n.Table.Schema.O(), Tb: n.Table.Name.O()}
	case *ast.AlterTableStmt:
		return meta.DdlData{DdlType: meta.DdlAlterTable, Schema: n.Table.Schema.O(), Tb: n.Table.Name.O()}
	case *ast.DropTableStmt:
		if len(n.Tables) > 0 {
			return meta.DdlData{DdlType: meta.DdlDropTable, Schema: n.Tables[0].Schema.O(), Tb: n.Tables[0].Name.O()}
		}
	case *ast.TruncateTableStmt:
		return meta.DdlData{DdlType: meta.DdlTruncateTable, Schema: n.Table.Schema.O(), Tb: n.Table.Name.O()}
	case *ast.RenameTableStmt:
		if len(n.TableToTables) > 0 {
			old := n.TableToTables[0].OldTable
			return meta.DdlData{DdlType: meta.DdlRenameTable, Schema: old.Schema.O(), Tb: old.Name.O()}
		}
	case *ast.CreateIndexStmt:
		return meta.DdlData{DdlType: meta.DdlCreateIndex, Schema: n.Table.Schema.O(), Tb: n.Table.Name.O()}
	case *ast.DropIndexStmt:
		return meta.DdlData{DdlType: meta.DdlDropIndex, Schema: n.Table.Schema.O(), Tb: n.Table.Name.O()}
	}
	return meta.DdlData{DdlType: meta.DdlUnknown}
}

// SplitStatements breaks a multi-statement DDL script (as produced by a
// `struct` export) on top-level semicolons, ignoring the parser's full
// grammar for this mechanical split.
func SplitStatements(script string) ([]string, error) {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		s := strings.TrimSpace(stmt)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty ddl script")
	}
	return out, nil
}
