package meta

// DdlType classifies a parsed DDL statement closely enough for routing and
// for deciding whether the sinker needs a database-scoped connection.
type DdlType uint8

const (
	DdlUnknown DdlType = iota
	DdlCreateDatabase
	DdlDropDatabase
	DdlAlterDatabase
	DdlCreateTable
	DdlAlterTable
	DdlDropTable
	DdlTruncateTable
	DdlRenameTable
	DdlCreateIndex
	DdlDropIndex
)

// DdlData is the parsed, routable representation of a DDL statement. Query
// is the original SQL text kept for sinks whose builder re-executes the
// literal statement rather than reconstructing it.
type DdlData struct {
	DdlType       DdlType
	DefaultSchema string
	Schema        string
	Tb            string
	Query         string
	// ParseFailed marks a statement the DDL parser could not recognize;
	// it is still emitted (logged and skipped per spec, not dropped
	// silently) so the supervisor can flag downstream rows as assuming
	// the old schema.
	ParseFailed bool
}

func (d DdlData) SchemaTb() (string, string) {
	schema := d.Schema
	if schema == "" {
		schema = d.DefaultSchema
	}
	return schema, d.Tb
}

func (d DdlData) ToSQL() string {
	return d.Query
}

// DclData carries a data-control statement (GRANT/REVOKE/...) applied to
// the sink without argument binding.
type DclData struct {
	Schema string
	Query  string
}

func (d DclData) ToSQL() string { return d.Query }

// StructKind tags the shape of a StructData payload.
type StructKind uint8

const (
	StructTable StructKind = iota
	StructIndex
	StructConstraint
	StructComment
)

// StructData carries structural (schema) metadata migrated by the `struct`
// subcommand, independent of the DML/DDL streaming path.
type StructData struct {
	Kind       StructKind
	Schema     string
	Tb         string
	Statements []string
}
