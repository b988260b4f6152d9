package rdbreader

import "github.com/juju/errors"

// RDB value-type bytes for the handful of encodings BasicObjectParser
// understands directly (the legacy, non-listpack/ziplist forms). Redis
// versions newer than ~5.0 mostly emit the compact listpack/quicklist2
// encodings instead; those are intentionally unsupported here and surface
// as a fatal decode error, matching spec.md §4.1's "failure of the object
// parser is fatal for the stream" contract rather than silently
// mis-parsing a format this reader was never taught.
const (
	rdbTypeString = 0
	rdbTypeList   = 1
	rdbTypeSet    = 2
	rdbTypeZSet   = 3
	rdbTypeHash   = 4
)

// BasicObjectParser decodes the plain (non-compact) RDB object encodings.
// It captures the on-wire bytes it consumes via the Reader's raw-byte
// tracking so the caller can attach RawBytes to the resulting Entry.
type BasicObjectParser struct{}

func (BasicObjectParser) ParseObject(r *Reader, typeByte byte, key string) ([]byte, error) {
	switch typeByte {
	case rdbTypeString:
		return r.ReadStringBytes()

	case rdbTypeList, rdbTypeSet:
		count, err := r.ReadLength()
		if err != nil {
			return nil, err
		}
		var out []byte
		for i := uint64(0); i < count; i++ {
			member, err := r.ReadStringBytes()
			if err != nil {
				return nil, err
			}
			out = appendFramed(out, member)
		}
		return out, nil

	case rdbTypeHash:
		count, err := r.ReadLength()
		if err != nil {
			return nil, err
		}
		var out []byte
		for i := uint64(0); i < count; i++ {
			field, err := r.ReadStringBytes()
			if err != nil {
				return nil, err
			}
			value, err := r.ReadStringBytes()
			if err != nil {
				return nil, err
			}
			out = appendFramed(out, field)
			out = appendFramed(out, value)
		}
		return out, nil

	case rdbTypeZSet:
		count, err := r.ReadLength()
		if err != nil {
			return nil, err
		}
		var out []byte
		for i := uint64(0); i < count; i++ {
			member, err := r.ReadStringBytes()
			if err != nil {
				return nil, err
			}
			score, err := r.ReadStringBytes()
			if err != nil {
				return nil, err
			}
			out = appendFramed(out, member)
			out = appendFramed(out, score)
		}
		return out, nil

	default:
		return nil, errors.Errorf("rdb: unsupported object encoding 0x%X for key %q", typeByte, key)
	}
}

func appendFramed(dst []byte, field []byte) []byte {
	n := len(field)
	dst = append(dst, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	return append(dst, field...)
}
