package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/onnx-embedder/internal/vector"
)

// Sink receives embedded rows batch by batch.
type Sink interface {
	Write(ctx context.Context, rows []*OutputRow) error
	Close() error
}

// finisher is implemented by sinks with work to do after the last batch.
type finisher interface {
	Finish(ctx context.Context) error
}

// OpenFileSink creates filePath and writes rows in the given format.
func OpenFileSink(filePath string, format FileFormat) (Sink, error) {
	switch format {
	case FormatParquet, FormatJSONL:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if format == FormatParquet {
		return &ParquetSink{file: file, writer: parquet.NewGenericWriter[OutputRow](file)}, nil
	}
	buf := bufio.NewWriter(file)
	return &JSONLSink{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// ParquetSink writes rows to a Parquet file.
type ParquetSink struct {
	file   *os.File
	writer *parquet.GenericWriter[OutputRow]
}

func (s *ParquetSink) Write(ctx context.Context, rows []*OutputRow) error {
	values := make([]OutputRow, len(rows))
	for i, r := range rows {
		values[i] = *r
	}
	if _, err := s.writer.Write(values); err != nil {
		return fmt.Errorf("parquet write failed: %w", err)
	}
	return nil
}

func (s *ParquetSink) Close() error {
	werr := s.writer.Close()
	ferr := s.file.Close()
	if werr != nil {
		return fmt.Errorf("parquet close failed: %w", werr)
	}
	return ferr
}

// JSONLSink writes one JSON object per row.
type JSONLSink struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func (s *JSONLSink) Write(ctx context.Context, rows []*OutputRow) error {
	for _, r := range rows {
		if err := s.enc.Encode(r); err != nil {
			return fmt.Errorf("jsonl write failed: %w", err)
		}
	}
	return nil
}

func (s *JSONLSink) Close() error {
	ferr := s.buf.Flush()
	if err := s.file.Close(); ferr == nil {
		ferr = err
	}
	return ferr
}

// VectorWriter is the part of vector.Store the Postgres sink needs.
type VectorWriter interface {
	EnsureSchema(ctx context.Context, dims int) error
	BatchInsert(ctx context.Context, records []*vector.EmbeddingRecord) (*vector.BatchInsertResult, error)
	CreateIndex(ctx context.Context) error
}

// StoreSink writes rows into pgvector. The table is created on the first
// non-empty batch, sized to its vectors.
type StoreSink struct {
	store       VectorWriter
	createIndex bool
	dims        int
	inserted    int64
	duplicates  int64
	logger      *zap.Logger
}

// NewStoreSink wraps a vector store. With createIndex the ivfflat index is
// built once all batches are in.
func NewStoreSink(store VectorWriter, createIndex bool, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, createIndex: createIndex, logger: logger}
}

func (s *StoreSink) Write(ctx context.Context, rows []*OutputRow) error {
	records := make([]*vector.EmbeddingRecord, 0, len(rows))
	for _, r := range rows {
		if len(r.Vector) == 0 {
			continue
		}
		if s.dims == 0 {
			if err := s.store.EnsureSchema(ctx, len(r.Vector)); err != nil {
				return err
			}
			s.dims = len(r.Vector)
		}
		if len(r.Vector) != s.dims {
			return fmt.Errorf("row %q has %d dims, table has %d", r.ID, len(r.Vector), s.dims)
		}
		records = append(records, &vector.EmbeddingRecord{
			RunID:     r.RunID,
			Family:    r.Family,
			SourceID:  r.ID,
			Text:      r.Text,
			TextHash:  vector.HashText(r.Text),
			Embedding: r.Vector,
		})
	}
	if len(records) == 0 {
		return nil
	}

	res, err := s.store.BatchInsert(ctx, records)
	if err != nil {
		return err
	}
	s.inserted += res.Inserted
	s.duplicates += res.Duplicates
	return nil
}

// Finish builds the similarity index if requested.
func (s *StoreSink) Finish(ctx context.Context) error {
	s.logger.Info("Vector store load finished",
		zap.Int64("inserted", s.inserted),
		zap.Int64("duplicates", s.duplicates))
	if !s.createIndex || s.inserted == 0 {
		return nil
	}
	return s.store.CreateIndex(ctx)
}

func (s *StoreSink) Close() error {
	return nil
}

// MultiSink fans every batch out to several sinks.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rows []*OutputRow) error {
	for _, s := range m {
		if err := s.Write(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Finish(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(finisher); ok {
			errs = append(errs, f.Finish(ctx))
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
