// Package meta holds the typed event model shared by every extractor,
// sinker and the parallelizer: column values, row changes, positions and
// the tagged queue item that flows between them.
package meta

import "fmt"

// ColKind tags the variant held by a ColValue.
type ColKind uint8

const (
	ColNone ColKind = iota
	ColTiny
	ColUnsignedTiny
	ColShort
	ColUnsignedShort
	ColLong
	ColUnsignedLong
	ColLongLong
	ColUnsignedLongLong
	ColFloat
	ColDouble
	ColDecimal
	ColDate
	ColTime
	ColDateTime
	ColTimestamp
	ColYear
	ColRawString
	ColString // charset-tagged string
	ColBlob
	ColBit
	ColSet       // raw integer bitmap, unresolved
	ColSet2      // resolved, comma-joined member names
	ColEnum      // raw ordinal, unresolved
	ColEnum2     // resolved member name
	ColJson      // raw json text, unresolved charset
	ColJson2     // canonical decoded text
	ColMongoDoc  // opaque BSON document
	ColRedisRaw  // opaque redis value bytes
	ColBoolean
)

// ColValue is a tagged value covering every column encoding the engine
// needs to move between a relational binlog, a query result row and a
// sink's query builder. Only the field matching Kind is meaningful.
type ColValue struct {
	Kind ColKind

	I8  int8
	U8  uint8
	I16 int16
	U16 uint16
	I32 int32
	U32 uint32
	I64 int64
	U64 uint64
	F32 float32
	F64 float64

	Str   string // decimal/date/time/datetime/timestamp/year/rawstring/string/set2/enum2/json2
	Bytes []byte // blob/bit raw form carried as bytes for padding fidelity
	Bit   uint64
	Bool  bool

	Doc []byte // opaque bson / redis bytes
}

func (v ColValue) IsNone() bool { return v.Kind == ColNone }

// String renders the value the way it is logged and embedded in error
// messages; it is not the on-wire canonical text form (see mysqlcol for
// that).
func (v ColValue) String() string {
	switch v.Kind {
	case ColNone:
		return "NULL"
	case ColTiny:
		return fmt.Sprintf("%d", v.I8)
	case ColUnsignedTiny:
		return fmt.Sprintf("%d", v.U8)
	case ColShort:
		return fmt.Sprintf("%d", v.I16)
	case ColUnsignedShort:
		return fmt.Sprintf("%d", v.U16)
	case ColLong:
		return fmt.Sprintf("%d", v.I32)
	case ColUnsignedLong:
		return fmt.Sprintf("%d", v.U32)
	case ColLongLong:
		return fmt.Sprintf("%d", v.I64)
	case ColUnsignedLongLong:
		return fmt.Sprintf("%d", v.U64)
	case ColFloat:
		return fmt.Sprintf("%v", v.F32)
	case ColDouble:
		return fmt.Sprintf("%v", v.F64)
	case ColBit:
		return fmt.Sprintf("%d", v.Bit)
	case ColBlob:
		return fmt.Sprintf("%dB", len(v.Bytes))
	case ColMongoDoc, ColRedisRaw:
		return fmt.Sprintf("%dB", len(v.Doc))
	case ColBoolean:
		return fmt.Sprintf("%v", v.Bool)
	default:
		return v.Str
	}
}

// Equal reports value equality used by the merger's before/after diffing
// and by the check extractor/sinker.
func (v ColValue) Equal(o ColValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ColNone:
		return true
	case ColTiny:
		return v.I8 == o.I8
	case ColUnsignedTiny:
		return v.U8 == o.U8
	case ColShort:
		return v.I16 == o.I16
	case ColUnsignedShort:
		return v.U16 == o.U16
	case ColLong:
		return v.I32 == o.I32
	case ColUnsignedLong:
		return v.U32 == o.U32
	case ColLongLong:
		return v.I64 == o.I64
	case ColUnsignedLongLong:
		return v.U64 == o.U64
	case ColFloat:
		return v.F32 == o.F32
	case ColDouble:
		return v.F64 == o.F64
	case ColBit:
		return v.Bit == o.Bit
	case ColBlob:
		return string(v.Bytes) == string(o.Bytes)
	case ColMongoDoc, ColRedisRaw:
		return string(v.Doc) == string(o.Doc)
	case ColBoolean:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}

func NoneValue() ColValue                { return ColValue{Kind: ColNone} }
func TinyValue(v int8) ColValue          { return ColValue{Kind: ColTiny, I8: v} }
func UnsignedTinyValue(v uint8) ColValue { return ColValue{Kind: ColUnsignedTiny, U8: v} }
func ShortValue(v int16) ColValue        { return ColValue{Kind: ColShort, I16: v} }
func UnsignedShortValue(v uint16) ColValue {
	return ColValue{Kind: ColUnsignedShort, U16: v}
}
func LongValue(v int32) ColValue          { return ColValue{Kind: ColLong, I32: v} }
func UnsignedLongValue(v uint32) ColValue { return ColValue{Kind: ColUnsignedLong, U32: v} }
func LongLongValue(v int64) ColValue      { return ColValue{Kind: ColLongLong, I64: v} }
func UnsignedLongLongValue(v uint64) ColValue {
	return ColValue{Kind: ColUnsignedLongLong, U64: v}
}
func FloatValue(v float32) ColValue  { return ColValue{Kind: ColFloat, F32: v} }
func DoubleValue(v float64) ColValue { return ColValue{Kind: ColDouble, F64: v} }
func DecimalValue(v string) ColValue { return ColValue{Kind: ColDecimal, Str: v} }
func DateValue(v string) ColValue    { return ColValue{Kind: ColDate, Str: v} }
func TimeValue(v string) ColValue    { return ColValue{Kind: ColTime, Str: v} }
func DateTimeValue(v string) ColValue { return ColValue{Kind: ColDateTime, Str: v} }
func TimestampValue(v string) ColValue {
	return ColValue{Kind: ColTimestamp, Str: v}
}
func YearValue(v string) ColValue      { return ColValue{Kind: ColYear, Str: v} }
func RawStringValue(v string) ColValue { return ColValue{Kind: ColRawString, Str: v} }
func StringValue(v string) ColValue    { return ColValue{Kind: ColString, Str: v} }
func BlobValue(v []byte) ColValue      { return ColValue{Kind: ColBlob, Bytes: v} }
func BitValue(v uint64) ColValue       { return ColValue{Kind: ColBit, Bit: v} }
func SetValue(v uint64) ColValue       { return ColValue{Kind: ColSet, Bit: v} }
func Set2Value(v string) ColValue      { return ColValue{Kind: ColSet2, Str: v} }
func EnumValue(v uint64) ColValue      { return ColValue{Kind: ColEnum, Bit: v} }
func Enum2Value(v string) ColValue     { return ColValue{Kind: ColEnum2, Str: v} }
func JsonValue(v string) ColValue      { return ColValue{Kind: ColJson, Str: v} }
func Json2Value(v string) ColValue     { return ColValue{Kind: ColJson2, Str: v} }
func MongoDocValue(v []byte) ColValue  { return ColValue{Kind: ColMongoDoc, Doc: v} }
func RedisRawValue(v []byte) ColValue  { return ColValue{Kind: ColRedisRaw, Doc: v} }
func BooleanValue(v bool) ColValue     { return ColValue{Kind: ColBoolean, Bool: v} }
