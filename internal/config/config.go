// Package config decodes a task's TOML configuration file into a
// TaskConfig, grounded on spec.md §6's configuration table and the
// teacher's own INI-style river.toml loading in river_teacher_ref — the
// teacher parsed a flat TOML document with gcfg-like section structs, which
// this generalizes to the larger per-module config surface the spec needs.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
)

type ExtractorConfig struct {
	DbType                string `toml:"db_type"`
	ExtractType           string `toml:"extract_type"`
	URL                   string `toml:"url"`
	BinlogFilename        string `toml:"binlog_filename"`
	BinlogPosition        uint32 `toml:"binlog_position"`
	ServerID              uint32 `toml:"server_id"`
	SlotName              string `toml:"slot_name"`
	StartLSN              string `toml:"start_lsn"`
	HeartbeatIntervalSecs uint64 `toml:"heartbeat_interval_secs"`
	HeartbeatTb           string `toml:"heartbeat_tb"`
	SliceSize             uint64 `toml:"slice_size"`
	CheckLogDir           string `toml:"check_log_dir"`
}

type FilterConfig struct {
	DoDbs           []string          `toml:"do_dbs"`
	DoTbs           []string          `toml:"do_tbs"`
	IgnoreDbs       []string          `toml:"ignore_dbs"`
	IgnoreTbs       []string          `toml:"ignore_tbs"`
	WhereConditions map[string]string `toml:"where_conditions"`
}

type RouterConfig struct {
	SchemaMap map[string]string            `toml:"schema_map"`
	TbMap     map[string]string            `toml:"tb_map"`
	ColMap    map[string]map[string]string `toml:"col_map"`
}

type SinkerConfig struct {
	DbType    string `toml:"db_type"`
	URL       string `toml:"url"`
	BatchSize int    `toml:"batch_size"`
	Replace   bool   `toml:"replace"`
}

type ParallelizerConfig struct {
	ParallelType  string `toml:"parallel_type"`
	ParallelCount int    `toml:"parallel_count"`
}

type PipelineConfig struct {
	BufferSize             int    `toml:"buffer_size"`
	BufferSizeBytes        uint64 `toml:"buffer_size_bytes"`
	BufferTimeoutSecs      uint64 `toml:"buffer_timeout_secs"`
	CheckpointIntervalSecs uint64 `toml:"checkpoint_interval_secs"`
	StartTimestamp         string `toml:"start_timestamp"`
	EndTimestamp           string `toml:"end_timestamp"`
}

type DataMarkerConfig struct {
	Enabled        bool   `toml:"enabled"`
	MarkerSchema   string `toml:"marker_schema"`
	MarkerTb       string `toml:"marker_tb"`
	DataOriginNode string `toml:"data_origin_node"`
	SrcNode        string `toml:"src_node"`
	DstNode        string `toml:"dst_node"`
}

// TaskConfig is the populated value the core dataflow engine is handed; it
// treats parsing/decoding of the TOML document itself as the only job of
// this package (spec.md §1's "external collaborator" boundary).
type TaskConfig struct {
	Extractor    ExtractorConfig    `toml:"extractor"`
	Filter       FilterConfig       `toml:"filter"`
	Router       RouterConfig       `toml:"router"`
	Sinker       SinkerConfig       `toml:"sinker"`
	Parallelizer ParallelizerConfig `toml:"parallelizer"`
	Pipeline     PipelineConfig     `toml:"pipeline"`
	DataMarker   DataMarkerConfig   `toml:"data_marker"`
}

func Load(path string) (*TaskConfig, error) {
	var cfg TaskConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Annotatef(err, "decode config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *TaskConfig) validate() error {
	if c.Extractor.DbType == "" {
		return errors.New("extractor.db_type is required")
	}
	if c.Extractor.ExtractType == "" {
		return errors.New("extractor.extract_type is required")
	}
	if c.Sinker.DbType == "" {
		return errors.New("sinker.db_type is required")
	}
	if c.Pipeline.BufferSize <= 0 {
		c.Pipeline.BufferSize = 1000
	}
	if c.Pipeline.BufferSizeBytes == 0 {
		c.Pipeline.BufferSizeBytes = 64 * 1024 * 1024
	}
	if c.Pipeline.BufferTimeoutSecs == 0 {
		c.Pipeline.BufferTimeoutSecs = 1
	}
	return nil
}
