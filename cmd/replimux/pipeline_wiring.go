// Backend construction for the "run" subcommand, split out of main.go the
// way Pieczasz-smf separates its connector wiring from cmd/smf/main.go's
// cobra setup.
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/gomodule/redigo/redis"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/siddontang/go-mysql/canal"
	sidmysql "github.com/siddontang/go-mysql/mysql"

	"github.com/replimux/replimux/internal/config"
	"github.com/replimux/replimux/internal/ddl"
	"github.com/replimux/replimux/internal/extractor/common"
	"github.com/replimux/replimux/internal/extractor/mysqlcdc"
	"github.com/replimux/replimux/internal/logutil"
	"github.com/replimux/replimux/internal/marker"
	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/monitor"
	"github.com/replimux/replimux/internal/parallel"
	"github.com/replimux/replimux/internal/pipeline"
	"github.com/replimux/replimux/internal/queue"
	"github.com/replimux/replimux/internal/rdbfilter"
	"github.com/replimux/replimux/internal/router"
	mysqlsinker "github.com/replimux/replimux/internal/sinker/mysql"
	redissinker "github.com/replimux/replimux/internal/sinker/redis"
)

// runPipeline wires an extractor, sinker pool and parallelizer per
// cfg.Extractor.DbType/cfg.Sinker.DbType and runs the supervisor until
// shutdown. The combinations the core ships end-to-end are MySQL CDC as the
// source against a MySQL or Redis sink; other combinations return a clear
// "not wired" error rather than silently misbehaving.
func runPipeline(ctx context.Context, cfg *config.TaskConfig) error {
	log := logutil.New(logLevel, "run")

	switch {
	case cfg.Extractor.DbType == "mysql" && cfg.Extractor.ExtractType == "cdc" && cfg.Sinker.DbType == "mysql":
		return runMysqlCdcToMysql(ctx, cfg, log)
	case cfg.Extractor.DbType == "mysql" && cfg.Extractor.ExtractType == "cdc" && cfg.Sinker.DbType == "redis":
		return runMysqlCdcToRedis(ctx, cfg, log)
	default:
		return fmt.Errorf("runPipeline: wire extractor/sinker construction for db_type=%s/%s -> %s",
			cfg.Extractor.DbType, cfg.Extractor.ExtractType, cfg.Sinker.DbType)
	}
}

// buildCommon assembles the pieces every backend combination shares: the
// bounded queue, shared shut_down flag, filter, router, marker, monitor and
// time filter, per spec.md §4.2/§4.4/§4.7.
type commonParts struct {
	q          *queue.Queue
	shutDown   *common.ShutDownFlag
	filter     *rdbfilter.Filter
	rtr        *router.Router
	mk         *marker.Marker
	mon        *monitor.Monitor
	timeFilter *common.TimeFilter
}

func buildCommon(cfg *config.TaskConfig, log *logrus.Entry) (*commonParts, error) {
	q := queue.New(cfg.Pipeline.BufferSize, cfg.Pipeline.BufferSizeBytes)
	shutDown := common.NewShutDownFlag()

	filter := rdbfilter.New(cfg.Filter.DoDbs, cfg.Filter.DoTbs, cfg.Filter.IgnoreDbs, cfg.Filter.IgnoreTbs, cfg.Filter.WhereConditions)
	rtr := router.New(cfg.Router.SchemaMap, cfg.Router.TbMap, cfg.Router.ColMap)

	var mk *marker.Marker
	if cfg.DataMarker.Enabled {
		mk = marker.New(cfg.DataMarker.MarkerSchema, cfg.DataMarker.MarkerTb, cfg.DataMarker.DataOriginNode, cfg.DataMarker.SrcNode, cfg.DataMarker.DstNode)
	}

	mon := monitor.New(time.Duration(cfg.Pipeline.CheckpointIntervalSecs)*time.Second, func(c monitor.Counters) {
		log.WithFields(logrus.Fields{
			"records": c.RecordCount, "bytes": c.DataSize,
			"inserts": c.InsertNum, "updates": c.UpdateNum, "deletes": c.DeleteNum,
		}).Info("monitor flush")
	})

	start, err := parseTimestamp(cfg.Pipeline.StartTimestamp)
	if err != nil {
		return nil, errors.Annotate(err, "pipeline.start_timestamp")
	}
	end, err := parseTimestamp(cfg.Pipeline.EndTimestamp)
	if err != nil {
		return nil, errors.Annotate(err, "pipeline.end_timestamp")
	}
	tf := common.NewTimeFilter(start, end)

	return &commonParts{q: q, shutDown: shutDown, filter: filter, rtr: rtr, mk: mk, mon: mon, timeFilter: tf}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// newCanal builds a canal.Canal from the extractor's DSN, the way the
// teacher's river.Run configures siddontang/go-mysql/canal.Config before
// calling canal.NewCanal.
func newCanal(cfg *config.TaskConfig) (*canal.Canal, error) {
	dsnCfg, err := gomysql.ParseDSN(cfg.Extractor.URL)
	if err != nil {
		return nil, errors.Annotate(err, "extractor.url")
	}

	c := canal.NewDefaultConfig()
	c.Addr = dsnCfg.Addr
	c.User = dsnCfg.User
	c.Password = dsnCfg.Passwd
	c.ServerID = cfg.Extractor.ServerID
	c.Dump.ExecutionPath = ""

	cn, err := canal.NewCanal(c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return cn, nil
}

// buildMysqlCdcExtractor assembles the canal-backed CDC extractor common to
// every MySQL-CDC-source combination; only the sinker differs per target.
func buildMysqlCdcExtractor(cfg *config.TaskConfig, parts *commonParts, log *logrus.Entry) (*mysqlcdc.Extractor, sidmysql.Position, error) {
	cn, err := newCanal(cfg)
	if err != nil {
		return nil, sidmysql.Position{}, err
	}

	ex := &mysqlcdc.Extractor{
		Canal:                 cn,
		Filter:                parts.filter,
		Router:                parts.rtr,
		DdlParser:             ddl.New(),
		HeartbeatIntervalSecs: cfg.Extractor.HeartbeatIntervalSecs,
		HeartbeatTb:           cfg.Extractor.HeartbeatTb,
		Log:                   log,
	}
	ex.Queue = parts.q
	ex.ShutDown = parts.shutDown
	ex.Marker = parts.mk
	ex.TimeFilter = parts.timeFilter
	ex.OriginNode = cfg.DataMarker.SrcNode

	startPos := sidmysql.Position{Name: cfg.Extractor.BinlogFilename, Pos: cfg.Extractor.BinlogPosition}
	return ex, startPos, nil
}

func runMysqlCdcToMysql(ctx context.Context, cfg *config.TaskConfig, log *logrus.Entry) error {
	parts, err := buildCommon(cfg, log)
	if err != nil {
		return err
	}

	sinkDB, err := mysqlsinker.Open(cfg.Sinker.URL, log, parts.mon, parts.mk, cfg.Sinker.Replace)
	if err != nil {
		return errors.Annotate(err, "open sinker")
	}

	ex, startPos, err := buildMysqlCdcExtractor(cfg, parts, log)
	if err != nil {
		return err
	}

	strategy, _ := parallel.ParseStrategy(cfg.Parallelizer.ParallelType)
	plz := parallel.New(strategy, parallel.RelationalMerger{PK: relationalPK}, []parallel.Sinker{sinkDB})

	return runSupervisor(ctx, cfg, parts, adaptMysqlExtractor(ex, startPos), plz, []parallel.Sinker{sinkDB}, log)
}

func runMysqlCdcToRedis(ctx context.Context, cfg *config.TaskConfig, log *logrus.Entry) error {
	parts, err := buildCommon(cfg, log)
	if err != nil {
		return err
	}

	ex, startPos, err := buildMysqlCdcExtractor(cfg, parts, log)
	if err != nil {
		return err
	}

	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) { return redis.DialURL(cfg.Sinker.URL) },
	}
	pkResolver := func(schemaName, tb string) []string {
		tbl, err := ex.Canal.GetTable(schemaName, tb)
		if err != nil {
			return nil
		}
		names := make([]string, 0, len(tbl.PKColumns))
		for _, idx := range tbl.PKColumns {
			names = append(names, tbl.Columns[idx].Name)
		}
		return names
	}
	sinkRedis := redissinker.New(pool, pkResolver, log, parts.mon)

	strategy, _ := parallel.ParseStrategy(cfg.Parallelizer.ParallelType)
	plz := parallel.New(strategy, parallel.RelationalMerger{PK: relationalPK}, []parallel.Sinker{sinkRedis})

	return runSupervisor(ctx, cfg, parts, adaptMysqlExtractor(ex, startPos), plz, []parallel.Sinker{sinkRedis}, log)
}

// adaptMysqlExtractor closes over the resolved start position so
// mysqlcdc.Extractor.Run(ctx, pos) satisfies pipeline.Extractor's
// Run(ctx) error contract.
func adaptMysqlExtractor(ex *mysqlcdc.Extractor, startPos sidmysql.Position) pipeline.Extractor {
	return pipelineExtractorFunc(func(ctx context.Context) error {
		return ex.Run(ctx, startPos)
	})
}

type pipelineExtractorFunc func(ctx context.Context) error

func (f pipelineExtractorFunc) Run(ctx context.Context) error { return f(ctx) }

// relationalPK derives a row's merge key from its full current column set.
// Lacking per-table PK metadata at the merge phase, it concatenates every
// current column in name-sorted order rather than just a primary key;
// two operations on the same row produce the same key only when their
// current column images are identical (an insert and a later delete of
// that same image, or an update followed by a delete of its after-image).
// An update that changes any column, key or not, is keyed apart from the
// insert that preceded it.
func relationalPK(row meta.RowData) (string, bool) {
	cols := row.CurrentColumns()
	if len(cols) == 0 {
		return "", false
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(row.FullTable())
	for _, name := range names {
		b.WriteByte('\x00')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cols[name].String())
	}
	return b.String(), true
}

func runSupervisor(ctx context.Context, cfg *config.TaskConfig, parts *commonParts, ex pipeline.Extractor, plz *parallel.Parallelizer, sinkers []parallel.Sinker, log *logrus.Entry) error {
	sup := &pipeline.Supervisor{
		Queue:              parts.q,
		ShutDown:           parts.shutDown,
		Extractor:          ex,
		Parallelizer:       plz,
		Sinkers:            sinkers,
		Monitor:            parts.mon,
		Log:                log,
		BufferSize:         cfg.Pipeline.BufferSize,
		BufferBytes:        cfg.Pipeline.BufferSizeBytes,
		BufferTimeout:      time.Duration(cfg.Pipeline.BufferTimeoutSecs) * time.Second,
		CheckpointInterval: time.Duration(cfg.Pipeline.CheckpointIntervalSecs) * time.Second,
		OnCheckpoint: func(pos string) {
			log.WithField("position", pos).Debug("checkpoint")
		},
	}
	return sup.Run(ctx)
}
