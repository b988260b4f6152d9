// Package rdbreader parses a Redis RDB byte stream into typed entries,
// grounded in dt-connector/src/extractor/redis/rdb/rdb_loader.rs from the
// original implementation this engine's spec was distilled from.
package rdbreader

import (
	"bufio"
	"io"
	"strconv"
	"time"

	"github.com/juju/errors"
)

// Type-byte flags, per spec.md §4.1.
const (
	flagFunction2 = 0xF5
	flagFunction  = 0xF6
	flagModuleAux = 0xF7
	flagIdle      = 0xF8
	flagFreq      = 0xF9
	flagAux       = 0xFA
	flagResizeDB  = 0xFB
	flagExpireMs  = 0xFC
	flagExpire    = 0xFD
	flagSelect    = 0xFE
	flagEOF       = 0xFF
)

// Cmd is a reconstructed Redis command, used both for literal commands
// found embedded in the RDB stream (the "lua" AUX field) and, by sinkers,
// for replaying a parsed key/value entry.
type Cmd struct {
	Args []string
}

func NewCmd(args ...string) Cmd { return Cmd{Args: args} }

// Entry is one unit produced by the reader: either a key/value object (in
// which case Key/Value/RawBytes are populated) or a synthetic command (the
// "lua" AUX case).
type Entry struct {
	IsBase        bool
	DBID          int64
	Key           string
	ValueTypeByte byte
	RawBytes      []byte
	Value         []byte
	Cmd           Cmd
	HasCmd        bool
	ExpireMs      int64
}

// ObjectParser decodes the bytes following a key string for the given
// value-type byte. Implementations (BasicObjectParser in objectparser.go
// covers the plain string/list/set/zset/hash encodings) are kept apart
// from this reader so it stays agnostic of RDB's many object encodings; failure here is fatal for the whole stream
// per spec.md §4.1.
type ObjectParser interface {
	ParseObject(r *Reader, typeByte byte, key string) ([]byte, error)
}

// Reader streams RDB entries out of an io.Reader. Construct with NewReader
// and call LoadMeta once, then LoadEntry repeatedly until EOF is observed.
type Reader struct {
	br       *bufio.Reader
	parser   ObjectParser
	nowDBID  int64
	replDBID int64
	idle     int64
	freq     int64
	isEnd    bool

	copyRaw  bool
	rawBytes []byte
}

func NewReader(r io.Reader, parser ObjectParser) *Reader {
	return &Reader{br: bufio.NewReader(r), parser: parser}
}

func (r *Reader) IsEnd() bool { return r.isEnd }

// LoadMeta validates the "REDIS" magic and returns the 4-byte ASCII
// version string that follows it.
func (r *Reader) LoadMeta() (string, error) {
	magic, err := r.readRaw(5)
	if err != nil {
		return "", err
	}
	if string(magic) != "REDIS" {
		return "", errors.New("invalid rdb format: bad magic")
	}
	version, err := r.readRaw(4)
	if err != nil {
		return "", err
	}
	return string(version), nil
}

// LoadEntry reads and dispatches on one type byte. It returns (nil, nil)
// for control records (IDLE/FREQ/RESIZE_DB/SELECT) that don't themselves
// produce an Entry, and (nil, io.EOF) once the EOF marker has been
// consumed.
func (r *Reader) LoadEntry() (*Entry, error) {
	typeByte, err := r.readByte()
	if err != nil {
		return nil, err
	}

	switch typeByte {
	case flagIdle:
		n, err := r.readLength()
		if err != nil {
			return nil, err
		}
		r.idle = int64(n)
		return nil, nil

	case flagFreq:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		r.freq = int64(b)
		return nil, nil

	case flagAux:
		key, err := r.readString()
		if err != nil {
			return nil, err
		}
		value, err := r.readString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "repl-stream-db":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, errors.Annotate(err, "invalid repl-stream-db aux value")
			}
			r.replDBID = id
			return nil, nil
		case "lua":
			return &Entry{
				IsBase: true,
				DBID:   r.nowDBID,
				Cmd:    NewCmd("SCRIPT", "LOAD", value),
				HasCmd: true,
			}, nil
		default:
			return nil, nil
		}

	case flagResizeDB:
		if _, err := r.readLength(); err != nil {
			return nil, err
		}
		if _, err := r.readLength(); err != nil {
			return nil, err
		}
		return nil, nil

	case flagExpireMs:
		raw, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		expireMs := int64(raw) - time.Now().UnixMilli()
		if expireMs < 0 {
			expireMs = 1
		}
		return &Entry{ExpireMs: expireMs}, nil

	case flagExpire:
		raw, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		expireMs := int64(raw)*1000 - time.Now().UnixMilli()
		if expireMs < 0 {
			expireMs = 1
		}
		return &Entry{ExpireMs: expireMs}, nil

	case flagSelect:
		id, err := r.readLength()
		if err != nil {
			return nil, err
		}
		r.nowDBID = int64(id)
		return nil, nil

	case flagEOF:
		r.isEnd = true
		// drain any trailing checksum bytes the caller's stream may
		// still hold; best-effort, not fatal if already at EOF.
		_, _ = io.ReadAll(r.br)
		return nil, io.EOF

	case flagFunction2, flagFunction, flagModuleAux:
		return nil, errors.Errorf("unsupported rdb record type 0x%X", typeByte)

	default:
		key, err := r.readString()
		if err != nil {
			return nil, err
		}
		r.copyRaw = true
		r.rawBytes = nil
		value, err := r.parser.ParseObject(r, typeByte, key)
		raw := r.drainRawBytes()
		if err != nil {
			// object parser failure is fatal for the stream: the
			// caller must abort extraction, per spec.md §4.1.
			return nil, errors.Annotatef(err, "parsing rdb failed, key=%q, type=0x%X", key, typeByte)
		}
		return &Entry{
			IsBase:        true,
			DBID:          r.nowDBID,
			Key:           key,
			ValueTypeByte: typeByte,
			RawBytes:      raw,
			Value:         value,
		}, nil
	}
}

func (r *Reader) drainRawBytes() []byte {
	r.copyRaw = false
	b := r.rawBytes
	r.rawBytes = nil
	return b
}
