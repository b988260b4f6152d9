package mysqlcol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/juju/errors"
)

// JSON binary type codes, per the MySQL internal JSONB format
// (https://dev.mysql.com/doc/dev/mysql-server/latest/json__binary_8h.html).
const (
	jbSmallObject = 0
	jbLargeObject = 1
	jbSmallArray  = 2
	jbLargeArray  = 3
	jbLiteral     = 4
	jbInt16       = 5
	jbUint16      = 6
	jbInt32       = 7
	jbUint32      = 8
	jbInt64       = 9
	jbUint64      = 10
	jbDouble      = 11
	jbString      = 12
	jbOpaque      = 15
)

const (
	literalNull  = 0
	literalTrue  = 1
	literalFalse = 2
)

// DecodeJSONBinary decodes the MySQL binlog JSON binary format into its
// canonical textual form (the form produced by JSON_EXTRACT/CAST...AS
// JSON), so downstream sinkers can insert it as plain text.
func DecodeJSONBinary(buf []byte) (string, error) {
	if len(buf) == 0 {
		return "null", nil
	}
	v, _, err := decodeJSONValue(buf[0], buf[1:], true)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

func decodeJSONValue(typeByte byte, buf []byte, large bool) (interface{}, int, error) {
	switch typeByte {
	case jbSmallObject:
		return decodeJSONObject(buf, false)
	case jbLargeObject:
		return decodeJSONObject(buf, true)
	case jbSmallArray:
		return decodeJSONArray(buf, false)
	case jbLargeArray:
		return decodeJSONArray(buf, true)
	case jbLiteral:
		if len(buf) < 1 {
			return nil, 0, errors.New("short json literal")
		}
		switch buf[0] {
		case literalNull:
			return nil, 1, nil
		case literalTrue:
			return true, 1, nil
		case literalFalse:
			return false, 1, nil
		}
		return nil, 1, errors.Errorf("invalid json literal %d", buf[0])
	case jbInt16:
		return int64(int16(binary.LittleEndian.Uint16(buf))), 2, nil
	case jbUint16:
		return uint64(binary.LittleEndian.Uint16(buf)), 2, nil
	case jbInt32:
		return int64(int32(binary.LittleEndian.Uint32(buf))), 4, nil
	case jbUint32:
		return uint64(binary.LittleEndian.Uint32(buf)), 4, nil
	case jbInt64:
		return int64(binary.LittleEndian.Uint64(buf)), 8, nil
	case jbUint64:
		return binary.LittleEndian.Uint64(buf), 8, nil
	case jbDouble:
		bits := binary.LittleEndian.Uint64(buf)
		return math.Float64frombits(bits), 8, nil
	case jbString:
		length, n := readVarLen(buf)
		return string(buf[n : n+length]), n + length, nil
	case jbOpaque:
		// [type(1)][varlen][bytes] -- represent opaque scalars as the
		// hex encoding of their raw bytes.
		if len(buf) < 1 {
			return nil, 0, errors.New("short json opaque")
		}
		length, n := readVarLen(buf[1:])
		n++
		return fmt.Sprintf("%x", buf[n:n+length]), n + length, nil
	default:
		return nil, 0, errors.Errorf("unsupported json type byte %d", typeByte)
	}
}

func readVarLen(buf []byte) (int, int) {
	var result int
	var shift uint
	pos := 0
	for {
		b := buf[pos]
		pos++
		result |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, pos
}

func decodeJSONObject(buf []byte, large bool) (map[string]interface{}, int, error) {
	offSize := 2
	if large {
		offSize = 4
	}
	count, elemSize := readCount(buf, large)
	sizeSize := readSize(buf[elemSize:], large)
	headerEnd := elemSize + sizeSize
	keyEntrySize := offSize + 2
	valueEntrySize := 1 + offSize

	type keyEntry struct {
		offset int
		length int
	}
	keys := make([]keyEntry, count)
	pos := headerEnd
	for i := 0; i < count; i++ {
		off := readOff(buf[pos:], offSize)
		l := int(binary.LittleEndian.Uint16(buf[pos+offSize:]))
		keys[i] = keyEntry{offset: off, length: l}
		pos += keyEntrySize
	}

	result := make(map[string]interface{}, count)
	for i := 0; i < count; i++ {
		typeByte := buf[pos]
		var val interface{}
		var err error
		if isInlineType(typeByte) {
			val, _, err = decodeJSONValue(typeByte, buf[pos+1:pos+valueEntrySize], large)
		} else {
			off := readOff(buf[pos+1:], offSize)
			val, _, err = decodeJSONValue(typeByte, buf[off:], large)
		}
		if err != nil {
			return nil, 0, err
		}
		key := string(buf[keys[i].offset : keys[i].offset+keys[i].length])
		result[key] = val
		pos += valueEntrySize
	}
	return result, len(buf), nil
}

func decodeJSONArray(buf []byte, large bool) ([]interface{}, int, error) {
	offSize := 2
	if large {
		offSize = 4
	}
	count, elemSize := readCount(buf, large)
	sizeSize := readSize(buf[elemSize:], large)
	headerEnd := elemSize + sizeSize
	valueEntrySize := 1 + offSize

	result := make([]interface{}, count)
	pos := headerEnd
	for i := 0; i < count; i++ {
		typeByte := buf[pos]
		var val interface{}
		var err error
		if isInlineType(typeByte) {
			val, _, err = decodeJSONValue(typeByte, buf[pos+1:pos+valueEntrySize], large)
		} else {
			off := readOff(buf[pos+1:], offSize)
			val, _, err = decodeJSONValue(typeByte, buf[off:], large)
		}
		if err != nil {
			return nil, 0, err
		}
		result[i] = val
		pos += valueEntrySize
	}
	return result, len(buf), nil
}

func isInlineType(typeByte byte) bool {
	switch typeByte {
	case jbLiteral, jbInt16, jbUint16:
		return true
	default:
		return false
	}
}

func readCount(buf []byte, large bool) (int, int) {
	if large {
		return int(binary.LittleEndian.Uint32(buf)), 4
	}
	return int(binary.LittleEndian.Uint16(buf)), 2
}

func readSize(buf []byte, large bool) int {
	if large {
		return 4
	}
	return 2
}

func readOff(buf []byte, offSize int) int {
	if offSize == 4 {
		return int(binary.LittleEndian.Uint32(buf))
	}
	return int(binary.LittleEndian.Uint16(buf))
}
