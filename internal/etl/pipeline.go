package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Redactor masks sensitive content in a text. changed reports whether
// anything was masked.
type Redactor interface {
	Redact(text string) (masked string, changed bool)
}

// Pipeline reads records, embeds them in batches and hands the rows to a sink.
type Pipeline struct {
	embedder Embedder
	sink     Sink
	family   string
	config   *Config
	limiter  *rate.Limiter
	redactor Redactor
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(embedder Embedder, sink Sink, family string, config *Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := *config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	p := &Pipeline{
		embedder: embedder,
		sink:     sink,
		family:   family,
		config:   &cfg,
		logger:   logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
	if cfg.RowsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RowsPerSecond), cfg.BatchSize)
	}
	return p
}

// SetRedactor masks every text before it is validated, embedded or written.
func (p *Pipeline) SetRedactor(r Redactor) {
	p.redactor = r
}

// ProcessFile processes a dataset file (CSV, Parquet, or JSONL)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.String("format", string(DetectFileFormat(filePath))),
		zap.Int("batch_size", p.config.BatchSize))

	reader, err := OpenReader(filePath, p.logger)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return p.Process(ctx, reader)
}

// Process drains reader. A failed batch is recorded and skipped; a cancelled
// context or read error stops the run.
func (p *Pipeline) Process(ctx context.Context, reader Reader) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{RunID: uuid.NewString()}
	p.resetStats()

	err := p.processBatches(ctx, reader, result)
	if err == nil {
		if f, ok := p.sink.(finisher); ok {
			if ferr := f.Finish(ctx); ferr != nil {
				p.logger.Warn("Sink finish failed", zap.Error(ferr))
				result.Errors = append(result.Errors, ferr.Error())
			}
		}
	}
	result.Duration = time.Since(start)

	p.logger.Info("ETL pipeline completed",
		zap.String("run_id", result.RunID),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("redacted", result.Redacted),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("sink_time", result.SinkTime))

	return result, err
}

func (p *Pipeline) processBatches(ctx context.Context, reader Reader, result *ProcessingResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, err := reader.Read(p.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		result.TotalRecords += int64(len(records))
		result.Redacted += p.redact(records)

		batch := p.filter(records)
		result.Skipped += int64(len(records) - len(batch))
		p.recordRead(len(records), len(batch))
		if len(batch) == 0 {
			continue
		}

		if err := p.processBatch(ctx, batch, result); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Error("Batch processing failed", zap.Error(err))
			result.ProcessedFailed += int64(len(batch))
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ProcessedOK += int64(len(batch))

		if p.config.ProgressReport > 0 && result.TotalRecords/int64(p.config.ProgressReport) !=
			(result.TotalRecords-int64(len(records)))/int64(p.config.ProgressReport) {
			p.reportProgress(result)
		}
	}
}

func (p *Pipeline) processBatch(ctx context.Context, batch []*Record, result *ProcessingResult) error {
	if p.limiter != nil {
		if err := p.limiter.WaitN(ctx, len(batch)); err != nil {
			return err
		}
	}

	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text
	}

	embeddingStart := time.Now()
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("batch embedding generation failed: %w", err)
	}
	result.EmbeddingTime += time.Since(embeddingStart)

	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(batch))
	}

	rows := make([]*OutputRow, len(batch))
	for i, rec := range batch {
		rows[i] = &OutputRow{
			ID:     rec.ID,
			Text:   rec.Text,
			Family: p.family,
			RunID:  result.RunID,
			Dims:   int32(len(vectors[i])),
			Vector: vectors[i],
		}
	}

	sinkStart := time.Now()
	if err := p.sink.Write(ctx, rows); err != nil {
		return fmt.Errorf("sink write failed: %w", err)
	}
	result.SinkTime += time.Since(sinkStart)

	p.mu.Lock()
	p.stats.EmbeddingsGen += int64(len(vectors))
	p.stats.SinkWrites += int64(len(rows))
	p.stats.CurrentBatch++
	p.mu.Unlock()

	p.logger.Debug("Batch processed successfully",
		zap.Int("batch_size", len(batch)),
		zap.Duration("embedding_time", time.Since(embeddingStart)))
	return nil
}

func (p *Pipeline) redact(records []*Record) int64 {
	if p.redactor == nil {
		return 0
	}
	var n int64
	for _, rec := range records {
		if masked, changed := p.redactor.Redact(rec.Text); changed {
			rec.Text = masked
			n++
		}
	}
	return n
}

// filter drops records that fail validation.
func (p *Pipeline) filter(records []*Record) []*Record {
	if !p.config.ValidateData {
		return records
	}
	kept := records[:0:0]
	for _, rec := range records {
		if p.validateRecord(rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}

func (p *Pipeline) validateRecord(record *Record) bool {
	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text", zap.String("id", record.ID))
		return false
	}
	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long",
			zap.String("id", record.ID),
			zap.Int("length", len(record.Text)))
		return false
	}
	return true
}

func (p *Pipeline) recordRead(read, valid int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.RecordsRead += int64(read)
	p.stats.RecordsValid += int64(valid)
	p.stats.RecordsInvalid += int64(read - valid)
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(p.stats.RecordsRead) / elapsed
	}
}

func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()
	elapsed := time.Since(stats.StartTime)

	fields := []zap.Field{
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", elapsed),
	}
	if result.ProcessedOK > 0 {
		fields = append(fields,
			zap.Duration("avg_embedding_time", result.EmbeddingTime/time.Duration(result.ProcessedOK)),
			zap.Duration("avg_sink_time", result.SinkTime/time.Duration(result.ProcessedOK)))
	}
	p.logger.Info("Processing progress", fields...)
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
