package meta

import "fmt"

// PositionKind tags which backend variant a Position holds.
type PositionKind uint8

const (
	PositionNone PositionKind = iota
	PositionMysql
	PositionPg
	PositionMongo
	PositionRedis
	PositionRdbSnapshot
)

// Position is an opaque, monotone-within-a-run progress token. Exactly one
// of the variant fields is populated, selected by Kind.
type Position struct {
	Kind PositionKind

	// MySQL
	BinlogFilename string
	BinlogOffset   uint32
	ServerID       uint32
	GtidSet        string

	// Postgres
	SlotName string
	Lsn      uint64

	// Mongo
	ResumeToken string

	// Redis
	RdbOffset  int64
	ReplOffset int64

	// Snapshot progress, carried alongside a relational table scan
	Schema string
	Tb     string
	LastPk string
}

func NonePosition() Position { return Position{Kind: PositionNone} }

func MysqlPosition(file string, offset uint32, serverID uint32, gtidSet string) Position {
	return Position{Kind: PositionMysql, BinlogFilename: file, BinlogOffset: offset, ServerID: serverID, GtidSet: gtidSet}
}

func PgPosition(slot string, lsn uint64) Position {
	return Position{Kind: PositionPg, SlotName: slot, Lsn: lsn}
}

func MongoPosition(resumeToken string) Position {
	return Position{Kind: PositionMongo, ResumeToken: resumeToken}
}

func RedisReplPosition(offset int64) Position {
	return Position{Kind: PositionRedis, ReplOffset: offset}
}

func RedisRdbPosition(offset int64) Position {
	return Position{Kind: PositionRdbSnapshot, RdbOffset: offset}
}

func SnapshotPosition(schema, tb, lastPk string) Position {
	return Position{Kind: PositionNone, Schema: schema, Tb: tb, LastPk: lastPk}
}

func (p Position) String() string {
	switch p.Kind {
	case PositionMysql:
		if p.GtidSet != "" {
			return fmt.Sprintf("mysql:%s:%d:gtid=%s", p.BinlogFilename, p.BinlogOffset, p.GtidSet)
		}
		return fmt.Sprintf("mysql:%s:%d", p.BinlogFilename, p.BinlogOffset)
	case PositionPg:
		return fmt.Sprintf("pg:%s:%d", p.SlotName, p.Lsn)
	case PositionMongo:
		return fmt.Sprintf("mongo:%s", p.ResumeToken)
	case PositionRedis:
		return fmt.Sprintf("redis:repl_offset=%d", p.ReplOffset)
	case PositionRdbSnapshot:
		return fmt.Sprintf("redis:rdb_offset=%d", p.RdbOffset)
	default:
		if p.Schema != "" {
			return fmt.Sprintf("snapshot:%s.%s:%s", p.Schema, p.Tb, p.LastPk)
		}
		return "none"
	}
}
