package mysqlcol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/replimux/replimux/internal/meta"
)

// microsecond-precision MySQL TIME binary row encoding, as documented for
// the binary protocol / binlog row image:
//
//	length(1) | is_negative(1) | days(4,LE) | hours(1) | minutes(1) | seconds(1) | [microseconds(4,LE)]
//
// length==0 means the zero-valued '00:00:00'.
func ParseTimeBuf(buf []byte) (meta.ColValue, error) {
	if len(buf) == 0 {
		return meta.NoneValue(), errors.New("empty TIME buffer")
	}
	length := int(buf[0])
	if length == 0 {
		return meta.TimeValue("00:00:00"), nil
	}
	if len(buf) < 1+length {
		return meta.NoneValue(), errors.Errorf("short TIME buffer: want %d got %d", 1+length, len(buf))
	}
	isNegative := buf[1] != 0
	days := binary.LittleEndian.Uint32(buf[2:6])
	hours := uint32(buf[6])
	minutes := uint32(buf[7])
	seconds := uint32(buf[8])
	var micros uint32
	if length >= 8 {
		// length counts bytes after the length byte itself: 8 without
		// fraction, 12 with. The 4 fractional bytes follow seconds.
		if len(buf) >= 13 {
			micros = binary.LittleEndian.Uint32(buf[9:13])
		}
	}
	hours += days * 24

	sign := ""
	if isNegative {
		sign = "-"
	}
	s := fmt.Sprintf("%s%02d:%02d:%02d", sign, hours, minutes, seconds)
	if micros > 0 {
		s = fmt.Sprintf("%s.%06d", s, micros)
	}
	return meta.TimeValue(s), nil
}

// ParseDateBuf decodes the binary DATE row encoding: length(1) |
// year(2,LE) | month(1) | day(1), truncated per length like MySQL's binary
// protocol allows.
func ParseDateBuf(buf []byte) (meta.ColValue, error) {
	date, _, err := parseDateFields(buf)
	if err != nil {
		return meta.NoneValue(), err
	}
	return meta.DateValue(date), nil
}

func parseDateFields(buf []byte) (string, int, error) {
	if len(buf) == 0 {
		return "", 0, errors.New("empty DATE buffer")
	}
	length := int(buf[0])
	var year uint16
	var month, day uint8
	pos := 1
	if length >= 2 {
		if len(buf) < pos+2 {
			return "", 0, errors.New("short DATE buffer")
		}
		year = binary.LittleEndian.Uint16(buf[pos : pos+2])
		pos += 2
	}
	if length >= 3 {
		if len(buf) < pos+1 {
			return "", 0, errors.New("short DATE buffer")
		}
		month = buf[pos]
		pos++
	}
	if length >= 4 {
		if len(buf) < pos+1 {
			return "", 0, errors.New("short DATE buffer")
		}
		day = buf[pos]
		pos++
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), pos, nil
}

// ParseDateTimeBuf decodes the binary DATETIME row encoding: a length byte
// followed by the date fields then the time fields (no day-overflow, no
// sign, matching the DATETIME/TIMESTAMP binary format).
func ParseDateTimeBuf(buf []byte) (meta.ColValue, error) {
	s, err := parseDateTimeFields(buf)
	if err != nil {
		return meta.NoneValue(), err
	}
	return meta.DateTimeValue(s), nil
}

// ParseTimestampBuf shares the DATETIME binary layout; the caller is
// responsible for knowing the column is declared TIMESTAMP.
func ParseTimestampBuf(buf []byte) (meta.ColValue, error) {
	s, err := parseDateTimeFields(buf)
	if err != nil {
		return meta.NoneValue(), err
	}
	return meta.TimestampValue(s), nil
}

func parseDateTimeFields(buf []byte) (string, error) {
	if len(buf) == 0 {
		return "", errors.New("empty DATETIME buffer")
	}
	length := int(buf[0])
	date, consumed, err := parseDateFields(buf)
	if err != nil {
		return "", err
	}
	if length <= 4 {
		return date + " 00:00:00", nil
	}
	rest := buf[consumed:]
	// rest is [hours, minutes, seconds, microseconds(4,LE)?], re-pack with
	// a length header matching what ParseTimeBuf expects.
	timeBuf := make([]byte, 0, 13)
	timeBuf = append(timeBuf, byte(length-4+4)) // length byte, non-negative placeholder
	timeBuf = append(timeBuf, 0)                // is_negative
	timeBuf = append(timeBuf, 0, 0, 0, 0)        // days
	timeBuf = append(timeBuf, rest...)
	timeVal, err := ParseTimeBuf(timeBuf)
	if err != nil {
		return "", err
	}
	return date + " " + timeVal.Str, nil
}

// FromBinlogValue converts a value already decoded from the wire by the
// replication client library (int64/uint64/float32/float64/[]byte/string)
// into a meta.ColValue, applying the sign/width/padding/charset rules the
// static ColType carries. This is the main entry point the CDC extractor
// calls per column of a RowsEvent.
func FromBinlogValue(ct ColType, value interface{}) (meta.ColValue, error) {
	if value == nil {
		return meta.NoneValue(), nil
	}

	switch ct.Kind {
	case Tiny:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.TinyValue(int8(n)), nil
	case UnsignedTiny:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.UnsignedTinyValue(uint8(n)), nil
	case Short:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.ShortValue(int16(n)), nil
	case UnsignedShort:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.UnsignedShortValue(uint16(n)), nil
	case Medium, Long:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.LongValue(int32(n)), nil
	case UnsignedMedium:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		// sign-extend then mask to 24 bits, per spec: the binlog image
		// for MEDIUM is a signed 32-bit container even when the column
		// is UNSIGNED, so it must be re-masked after casting.
		return meta.UnsignedLongValue(uint32(n) & 0x00FFFFFF), nil
	case UnsignedLong:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.UnsignedLongValue(uint32(n)), nil
	case LongLong:
		n, err := toInt64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.LongLongValue(n), nil
	case UnsignedLongLong:
		n, err := toUint64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.UnsignedLongLongValue(n), nil
	case Float:
		f, err := toFloat64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.FloatValue(float32(f)), nil
	case Double:
		f, err := toFloat64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.DoubleValue(f), nil
	case Decimal:
		return meta.DecimalValue(toStr(value)), nil
	case Year:
		return meta.YearValue(toStr(value)), nil
	case Date:
		if b, ok := value.([]byte); ok {
			return ParseDateBuf(b)
		}
		return meta.DateValue(toStr(value)), nil
	case Time:
		if b, ok := value.([]byte); ok {
			return ParseTimeBuf(b)
		}
		return meta.TimeValue(toStr(value)), nil
	case DateTime:
		if b, ok := value.([]byte); ok {
			return ParseDateTimeBuf(b)
		}
		return meta.DateTimeValue(toStr(value)), nil
	case Timestamp:
		return fromBinlogTimestamp(ct, value)
	case StringType:
		return fromBinlogStringLike(ct, value, false)
	case Binary:
		return fromBinlogBinary(ct, value, true)
	case VarBinary:
		return fromBinlogBinary(ct, value, false)
	case Blob:
		return fromBinlogBlobLike(ct, value)
	case Bit:
		n, err := toUint64(value)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.BitValue(n), nil
	case Set:
		return fromBinlogSet(ct, value)
	case Enum:
		return fromBinlogEnum(ct, value)
	case JSON:
		return fromBinlogJSON(value)
	default:
		return meta.NoneValue(), errors.Errorf("unsupported mysql column kind: %v", ct.Kind)
	}
}

// fromBinlogTimestamp implements the spec's microseconds-since-epoch plus
// timezone-offset-in-seconds contract: the value carried on the wire is
// microseconds UTC; TimezoneOffset (seconds) is added before formatting,
// and the UTC suffix is never emitted.
func fromBinlogTimestamp(ct ColType, value interface{}) (meta.ColValue, error) {
	if b, ok := value.([]byte); ok {
		return ParseTimestampBuf(b)
	}
	micros, err := toInt64(value)
	if err != nil {
		return meta.NoneValue(), err
	}
	nanos := micros*1000 + ct.TimezoneOffset*int64(time.Second)
	t := time.Unix(0, nanos).UTC()
	return meta.TimestampValue(formatDateTimeWithFraction(t)), nil
}

func formatDateTimeWithFraction(t time.Time) string {
	base := t.Format("2006-01-02 15:04:05")
	if nsec := t.Nanosecond(); nsec != 0 {
		micros := nsec / 1000
		base = fmt.Sprintf("%s.%06d", base, micros)
	}
	return base
}

func fromBinlogStringLike(ct ColType, value interface{}, _ bool) (meta.ColValue, error) {
	switch v := value.(type) {
	case []byte:
		return meta.RawStringValue(string(v)), nil
	case string:
		return meta.RawStringValue(v), nil
	default:
		return meta.RawStringValue(toStr(value)), nil
	}
}

func fromBinlogBinary(ct ColType, value interface{}, fixedLength bool) (meta.ColValue, error) {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return meta.NoneValue(), errors.Errorf("unexpected binary column value type %T", value)
	}
	if fixedLength && ct.Length > len(raw) {
		padded := make([]byte, ct.Length)
		copy(padded, raw)
		raw = padded
	}
	return meta.BlobValue(raw), nil
}

func fromBinlogBlobLike(ct ColType, value interface{}) (meta.ColValue, error) {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return meta.NoneValue(), errors.Errorf("unexpected blob column value type %T", value)
	}
	if strings.Contains(strings.ToLower(ct.Charset), "text") || ct.Charset != "" {
		return meta.RawStringValue(string(raw)), nil
	}
	return meta.BlobValue(raw), nil
}

// fromBinlogSet decomposes the integer bitmap LSB-first; members present in
// ct.Items are emitted in bit order and comma-joined.
func fromBinlogSet(ct ColType, value interface{}) (meta.ColValue, error) {
	bitmap, err := toUint64(value)
	if err != nil {
		return meta.NoneValue(), err
	}
	if bitmap == 0 {
		return meta.Set2Value(""), nil
	}
	var matched []string
	pos := uint(0)
	for v := bitmap; v > 0; v >>= 1 {
		if v&1 > 0 {
			bit := uint64(1) << pos
			if name, ok := ct.Items[bit]; ok {
				matched = append(matched, name)
			}
		}
		pos++
	}
	return meta.Set2Value(strings.Join(matched, ",")), nil
}

func fromBinlogEnum(ct ColType, value interface{}) (meta.ColValue, error) {
	ordinal, err := toUint64(value)
	if err != nil {
		return meta.NoneValue(), err
	}
	if name, ok := ct.Items[ordinal]; ok {
		return meta.Enum2Value(name), nil
	}
	return meta.NoneValue(), nil
}

func fromBinlogJSON(value interface{}) (meta.ColValue, error) {
	switch v := value.(type) {
	case []byte:
		s, err := DecodeJSONBinary(v)
		if err != nil {
			return meta.NoneValue(), err
		}
		return meta.Json2Value(s), nil
	case string:
		return meta.Json2Value(v), nil
	default:
		return meta.NoneValue(), errors.Errorf("unexpected json column value type %T", value)
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case []byte:
		n, err := toInt64(string(v))
		return n, err
	case string:
		var n int64
		_, err := fmt.Sscanf(v, "%d", &n)
		return n, err
	default:
		return 0, errors.Errorf("cannot convert %T to int64", value)
	}
}

func toUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case []byte:
		return toUint64(string(v))
	case string:
		var n uint64
		_, err := fmt.Sscanf(v, "%d", &n)
		return n, err
	default:
		n, err := toInt64(value)
		return uint64(n), err
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return toFloat64(string(v))
	case string:
		var f float64
		_, err := fmt.Sscanf(v, "%g", &f)
		return f, err
	default:
		return 0, errors.Errorf("cannot convert %T to float64", value)
	}
}

func toStr(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
