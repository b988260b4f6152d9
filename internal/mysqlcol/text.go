package mysqlcol

import (
	"strconv"

	"github.com/replimux/replimux/internal/meta"
)

// Dialect distinguishes query-result decoding quirks across MySQL-wire
// compatible backends: StarRocks and Foxlake return pre-formatted text for
// temporal columns instead of the binary row-image encoding MySQL itself
// uses, so FromQuery takes a dialect hint.
type Dialect uint8

const (
	DialectMysql Dialect = iota
	DialectStarRocks
	DialectFoxlake
)

// FromStr parses a decimal-text representation of a column into its typed
// ColValue, returning ColNone on parse failure rather than an error: the
// check extractor and text-based snapshot paths must keep moving past a
// single malformed literal.
func FromStr(ct ColType, s string) meta.ColValue {
	switch ct.Kind {
	case Tiny:
		n, err := strconv.ParseInt(s, 10, 8)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.TinyValue(int8(n))
	case UnsignedTiny:
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.UnsignedTinyValue(uint8(n))
	case Short:
		n, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.ShortValue(int16(n))
	case UnsignedShort:
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.UnsignedShortValue(uint16(n))
	case Medium, Long:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.LongValue(int32(n))
	case UnsignedMedium, UnsignedLong:
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.UnsignedLongValue(uint32(n))
	case LongLong:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.LongLongValue(n)
	case UnsignedLongLong:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.UnsignedLongLongValue(n)
	case Float:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.FloatValue(float32(f))
	case Double:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.DoubleValue(f)
	case Decimal:
		return meta.DecimalValue(s)
	case Time:
		return meta.TimeValue(s)
	case Date:
		return meta.DateValue(s)
	case DateTime:
		return meta.DateTimeValue(s)
	case Timestamp:
		return meta.TimestampValue(s)
	case Year:
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.YearValue(strconv.FormatUint(n, 10))
	case StringType:
		return meta.StringValue(s)
	case Bit:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return meta.NoneValue()
		}
		return meta.BitValue(n)
	case Set, Enum:
		return meta.StringValue(s)
	case JSON:
		return meta.Json2Value(s)
	default:
		return meta.NoneValue()
	}
}

// QueryRow is the narrow contract mysqlcol.FromQuery needs from a
// database/sql row: a getter by column name returning the raw text the
// driver produced (nil on SQL NULL).
type QueryRow interface {
	ColumnText(col string) (*string, error)
}

// FromQuery extracts a column from a query result row, with dialect
// branches for StarRocks/Foxlake which return pre-formatted text for
// temporal types instead of MySQL's binary row-image encoding.
func FromQuery(row QueryRow, col string, ct ColType, dialect Dialect) (meta.ColValue, error) {
	text, err := row.ColumnText(col)
	if err != nil {
		return meta.NoneValue(), err
	}
	if text == nil {
		return meta.NoneValue(), nil
	}

	switch ct.Kind {
	case Time, Date, DateTime, Timestamp:
		switch dialect {
		case DialectStarRocks, DialectFoxlake:
			// both return already-formatted canonical text; no
			// binary row-image to decode.
			return FromStr(ct, *text), nil
		default:
			return FromStr(ct, *text), nil
		}
	default:
		return FromStr(ct, *text), nil
	}
}
