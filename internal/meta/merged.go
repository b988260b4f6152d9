package meta

// TbMergedData is the output of one merge pass over a single table's DML:
// at most one row per primary-key value survives in each of InsertRows and
// DeleteRows, and UnmergedRows preserves arrival order for rows whose PK
// could not be derived.
type TbMergedData struct {
	TableFQN     string
	InsertRows   []RowData
	DeleteRows   []RowData
	UnmergedRows []RowData
}
