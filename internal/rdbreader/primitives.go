package rdbreader

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/juju/errors"
)

// length-encoding top two bits, per the RDB length-encoding spec.
const (
	lenEnc6Bit    = 0
	lenEnc14Bit   = 1
	lenEnc32Or64  = 2
	lenEncSpecial = 3
)

func (r *Reader) track(b []byte) {
	if r.copyRaw {
		r.rawBytes = append(r.rawBytes, b...)
	}
}

func (r *Reader) readRaw(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, errors.Annotate(err, "rdb: short read")
	}
	r.track(buf)
	return buf, nil
}

// ReadRaw exposes readRaw to object-encoding parsers in sibling packages.
func (r *Reader) ReadRaw(n int) ([]byte, error) { return r.readRaw(n) }

func (r *Reader) readByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, errors.Annotate(err, "rdb: short read")
	}
	r.track([]byte{b})
	return b, nil
}

// ReadByte exposes readByte to object-encoding parsers.
func (r *Reader) ReadByte() (byte, error) { return r.readByte() }

func (r *Reader) readUint32() (uint32, error) {
	buf, err := r.readRaw(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (r *Reader) readUint64() (uint64, error) {
	buf, err := r.readRaw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

// readLength decodes an RDB length-encoded integer, per the format used
// throughout the RDB object encodings. The special (11) top-bits case is
// left to object parsers that need to distinguish its sub-encodings
// (int8/16/32, LZF-compressed string); readLength itself only understands
// plain 6/14/32/64-bit lengths.
func (r *Reader) readLength() (uint64, error) {
	first, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch (first & 0xC0) >> 6 {
	case lenEnc6Bit:
		return uint64(first & 0x3F), nil
	case lenEnc14Bit:
		second, err := r.readByte()
		if err != nil {
			return 0, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), nil
	case lenEnc32Or64:
		if first == 0x80 {
			v, err := r.readUint32()
			return uint64(v), err
		}
		return r.readUint64()
	default:
		return 0, errors.Errorf("rdb: length-encoded value has special encoding byte 0x%X, caller must use ReadLengthOrEncoding", first)
	}
}

// ReadLength exposes readLength to object-encoding parsers.
func (r *Reader) ReadLength() (uint64, error) { return r.readLength() }

// ReadLengthOrEncoding mirrors readLength but also returns whether the
// special (11) top-bits "encoded value" form was used and, if so, which
// sub-encoding (0=int8, 1=int16, 2=int32, 3=LZF), for object parsers that
// need to special-case small integers and compressed strings.
func (r *Reader) ReadLengthOrEncoding() (length uint64, isEncoded bool, encoding byte, err error) {
	first, err := r.readByte()
	if err != nil {
		return 0, false, 0, err
	}
	switch (first & 0xC0) >> 6 {
	case lenEnc6Bit:
		return uint64(first & 0x3F), false, 0, nil
	case lenEnc14Bit:
		second, err := r.readByte()
		if err != nil {
			return 0, false, 0, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), false, 0, nil
	case lenEnc32Or64:
		if first == 0x80 {
			v, err := r.readUint32()
			return uint64(v), false, 0, err
		}
		v, err := r.readUint64()
		return v, false, 0, err
	default:
		return 0, true, first & 0x3F, nil
	}
}

// readString decodes an RDB length-prefixed string, including the
// int8/16/32 and LZF-compressed special encodings.
func (r *Reader) readString() (string, error) {
	b, err := r.readStringBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) readStringBytes() ([]byte, error) {
	length, isEncoded, encoding, err := r.ReadLengthOrEncoding()
	if err != nil {
		return nil, err
	}
	if !isEncoded {
		return r.readRaw(int(length))
	}

	switch encoding {
	case 0: // int8
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int8(b)), 10)), nil
	case 1: // int16
		buf, err := r.readRaw(2)
		if err != nil {
			return nil, err
		}
		v := int16(buf[0]) | int16(buf[1])<<8
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case 2: // int32
		buf, err := r.readRaw(4)
		if err != nil {
			return nil, err
		}
		v := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case 3: // LZF compressed
		compLen, err := r.readLength()
		if err != nil {
			return nil, err
		}
		rawLen, err := r.readLength()
		if err != nil {
			return nil, err
		}
		compressed, err := r.readRaw(int(compLen))
		if err != nil {
			return nil, err
		}
		return lzfDecompress(compressed, int(rawLen))
	default:
		return nil, errors.Errorf("rdb: unknown string sub-encoding %d", encoding)
	}
}

// ReadStringBytes exposes readStringBytes to object-encoding parsers.
func (r *Reader) ReadStringBytes() ([]byte, error) { return r.readStringBytes() }

// lzfDecompress implements the LZF algorithm used by Redis to compress RDB
// strings above its length threshold.
func lzfDecompress(in []byte, outLen int) ([]byte, error) {
	out := make([]byte, 0, outLen)
	i := 0
	for i < len(in) {
		ctrl := int(in[i])
		i++
		if ctrl < 32 {
			length := ctrl + 1
			if i+length > len(in) {
				return nil, errors.New("lzf: literal run overruns input")
			}
			out = append(out, in[i:i+length]...)
			i += length
			continue
		}
		length := ctrl >> 5
		if length == 7 {
			if i >= len(in) {
				return nil, errors.New("lzf: truncated length byte")
			}
			length += int(in[i])
			i++
		}
		if i >= len(in) {
			return nil, errors.New("lzf: truncated reference")
		}
		ref := len(out) - ((ctrl&0x1f)<<8 | int(in[i])) - 1
		i++
		if ref < 0 {
			return nil, errors.New("lzf: back-reference before start of output")
		}
		for j := 0; j <= length+1; j++ {
			if ref+j >= len(out) {
				return nil, errors.New("lzf: back-reference past end of output")
			}
			out = append(out, out[ref+j])
		}
	}
	return out, nil
}
