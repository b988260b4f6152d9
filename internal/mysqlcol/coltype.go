// Package mysqlcol decodes MySQL binlog column values and query-result
// column values into the engine's typed meta.ColValue, and the reverse
// direction for text-based inputs (dump files, check extractors).
//
// Grounded in the teacher's makeReqColumnData switch over schema.TableColumn
// (dipfocus-go-mysql-redis/river/sync.go), generalized to the full MySQL
// type surface the binlog column decoder of a relational replication
// engine needs to cover.
package mysqlcol

// Kind enumerates the static MySQL column types the decoder dispatches on.
// Signedness is part of the Kind itself; the other attributes
// (Precision/Scale, Length, Charset, TimezoneOffset, set/enum member
// tables) travel alongside the Kind in ColType.
type Kind uint8

const (
	Tiny Kind = iota
	UnsignedTiny
	Short
	UnsignedShort
	Medium
	UnsignedMedium
	Long
	UnsignedLong
	LongLong
	UnsignedLongLong
	Float
	Double
	Decimal
	Time
	Date
	DateTime
	Timestamp
	Year
	StringType // char/varchar/tinytext/.../text
	Binary
	VarBinary
	Blob
	Bit
	Set
	Enum
	JSON
)

// ColType is the static type description attached to a column, carried
// alongside the raw binlog value so the decoder can apply the right
// sign/width/charset/padding rule.
type ColType struct {
	Kind Kind

	// Decimal
	Precision int
	Scale     int

	// String/VarBinary/Binary
	Length  int
	Charset string

	// Timestamp
	TimezoneOffset int64 // seconds, added before formatting

	// Set / Enum: member ordinal -> name. For Set the ordinal is the bit
	// index's value (1<<i), matching the binlog bitmap decomposition.
	Items map[uint64]string
}

func (t ColType) IsUnsigned() bool {
	switch t.Kind {
	case UnsignedTiny, UnsignedShort, UnsignedMedium, UnsignedLong, UnsignedLongLong:
		return true
	default:
		return false
	}
}
