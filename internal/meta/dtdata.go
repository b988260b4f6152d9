package meta

// DtKind tags the payload held by a DtData.
type DtKind uint8

const (
	DtDml DtKind = iota
	DtDdl
	DtDcl
	DtStruct
	DtHeartbeat
	DtCommit
	DtBegin
)

// DtData is the tagged payload that moves through the bounded queue. Only
// the field matching Kind is populated.
type DtData struct {
	Kind   DtKind
	Row    RowData
	Ddl    DdlData
	Dcl    DclData
	Struct StructData
}

func DmlData(row RowData) DtData       { return DtData{Kind: DtDml, Row: row} }
func DdlEvent(ddl DdlData) DtData      { return DtData{Kind: DtDdl, Ddl: ddl} }
func DclEvent(dcl DclData) DtData      { return DtData{Kind: DtDcl, Dcl: dcl} }
func StructEvent(s StructData) DtData  { return DtData{Kind: DtStruct, Struct: s} }
func HeartbeatEvent() DtData           { return DtData{Kind: DtHeartbeat} }
func CommitEvent() DtData              { return DtData{Kind: DtCommit} }
func BeginEvent() DtData               { return DtData{Kind: DtBegin} }

func (d DtData) IsBegin() bool  { return d.Kind == DtBegin }
func (d DtData) IsCommit() bool { return d.Kind == DtCommit }
func (d DtData) IsDml() bool    { return d.Kind == DtDml }
func (d DtData) IsDdl() bool    { return d.Kind == DtDdl }

// DataSize is the byte cost used for queue accounting; only DML rows carry
// meaningful weight, everything else is treated as a fixed small control
// cost so it cannot starve the queue's byte budget.
func (d DtData) DataSize() uint64 {
	if d.Kind == DtDml {
		return d.Row.DataSize
	}
	return 1
}

// DtItem is one unit of the bounded queue: a DtData payload tagged with the
// position it was emitted at and the node that originated the underlying
// write, for data-marker loop detection.
type DtItem struct {
	Payload    DtData
	Position   Position
	OriginNode string
}
