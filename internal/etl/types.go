package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is one input row. Rows without an id are numbered from 1 in file order.
type Record struct {
	ID   string `csv:"id" parquet:"id" json:"id"`
	Text string `csv:"text" parquet:"text" json:"text"`
}

// OutputRow is one embedded record as written by every sink.
type OutputRow struct {
	ID     string    `parquet:"id" json:"id"`
	Text   string    `parquet:"text" json:"text"`
	Family string    `parquet:"family" json:"family"`
	RunID  string    `parquet:"run_id" json:"run_id"`
	Dims   int32     `parquet:"dims" json:"dims"`
	Vector []float32 `parquet:"vector" json:"vector"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	RunID           string        `json:"run_id"`
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Skipped         int64         `json:"skipped"`
	Redacted        int64         `json:"redacted"`
	Duration        time.Duration `json:"duration"`
	EmbeddingTime   time.Duration `json:"embedding_time"`
	SinkTime        time.Duration `json:"sink_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`           // 32
	RowsPerSecond  float64 `yaml:"rows_per_second" mapstructure:"rows_per_second"` // 0 disables throttling
	ValidateData   bool    `yaml:"validate_data" mapstructure:"validate_data"`     // true
	MaxTextLength  int     `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
	ProgressReport int     `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	EmbeddingsGen  int64     `json:"embeddings_generated"`
	SinkWrites     int64     `json:"sink_writes"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// ParseFileFormat accepts an explicit format name; empty infers from filename.
func ParseFileFormat(name, filename string) (FileFormat, bool) {
	switch strings.ToLower(name) {
	case "":
		return DetectFileFormat(filename), true
	case "csv":
		return FormatCSV, true
	case "parquet":
		return FormatParquet, true
	case "jsonl", "json":
		return FormatJSONL, true
	}
	return "", false
}
