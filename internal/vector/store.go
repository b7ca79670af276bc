package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// indexThreshold is the row count below which CreateIndex is a no-op.
const indexThreshold = 1000

// Store reads and writes embedding rows in Postgres through pgvector.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config is the connection pool setup for a Store.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewStore connects to Postgres and makes sure the vector extension is
// available. The embeddings table is created later by EnsureSchema, once the
// vector width is known.
func NewStore(ctx context.Context, config *Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{db: db, logger: logger}
	if err := s.ensureExtension(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Connected to vector store",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))
	return s, nil
}

func (s *Store) ensureExtension(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		// Needs superuser; an admin may have installed it already.
		s.logger.Warn("CREATE EXTENSION vector failed", zap.Error(err))
	}

	var installed bool
	if err := s.db.GetContext(ctx, &installed,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"); err != nil {
		return fmt.Errorf("failed to look up pgvector: %w", err)
	}
	if !installed {
		return fmt.Errorf("pgvector extension is not installed")
	}
	return nil
}

// EnsureSchema creates the embeddings table for vectors of the given width.
func (s *Store) EnsureSchema(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dims)
	}
	_, err := s.db.ExecContext(ctx, schemaSQL(dims))
	if err != nil {
		return fmt.Errorf("failed to create embeddings table: %w", err)
	}
	s.logger.Info("Embeddings schema ready", zap.Int("dims", dims))
	return nil
}

func schemaSQL(dims int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS embeddings (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			family TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (family, text_hash)
		)`, dims)
}

// BatchInsert adds records, skipping texts already stored for the same family.
func (s *Store) BatchInsert(ctx context.Context, records []*EmbeddingRecord) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	query, args := batchInsertSQL(records)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		result.Failed = int64(len(records))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func batchInsertSQL(records []*EmbeddingRecord) (string, []interface{}) {
	const cols = 6
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*cols)

	for i, r := range records {
		n := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		hash := r.TextHash
		if hash == "" {
			hash = HashText(r.Text)
		}
		valueArgs = append(valueArgs,
			r.RunID,
			r.Family,
			r.SourceID,
			r.Text,
			hash,
			pgvector.NewVector(r.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO embeddings (run_id, family, source_id, text, text_hash, embedding)
		VALUES %s
		ON CONFLICT (family, text_hash) DO NOTHING`,
		strings.Join(valueStrings, ","))
	return query, valueArgs
}

// FindSimilar returns stored records closest to embedding by cosine distance.
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{Limit: 5}
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}

	query, args := findSimilarSQL(embedding, options)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var record EmbeddingRecord
		var embedding pgvector.Vector

		err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.Family,
			&record.SourceID,
			&record.Text,
			&record.TextHash,
			&embedding,
			&record.CreatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			s.logger.Error("Failed to scan similarity result", zap.Error(err))
			continue
		}

		record.Embedding = embedding.Slice()
		result.Record = &record
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

func findSimilarSQL(embedding []float32, options *SearchOptions) (string, []interface{}) {
	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{pgvector.NewVector(embedding), options.MinSimilarity}
	argIndex := 3

	if options.Family != "" {
		whereClause += fmt.Sprintf(" AND family = $%d", argIndex)
		args = append(args, options.Family)
		argIndex++
	}
	if options.RunID != "" {
		whereClause += fmt.Sprintf(" AND run_id = $%d", argIndex)
		args = append(args, options.RunID)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, run_id, family, source_id, text, text_hash, embedding,
			created_at,
			(1 - (embedding <=> $1)) as similarity,
			(embedding <=> $1) as distance
		FROM embeddings
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, whereClause, argIndex)

	args = append(args, options.Limit)
	return query, args
}

// GetStats returns vector counts per family.
func (s *Store) GetStats(ctx context.Context) (*VectorStats, error) {
	stats := &VectorStats{}

	query := `
		SELECT family, COUNT(*) AS count, MAX(vector_dims(embedding)) AS dims
		FROM embeddings
		GROUP BY family
		ORDER BY family`

	if err := s.db.SelectContext(ctx, &stats.Families, query); err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}
	for _, f := range stats.Families {
		stats.TotalVectors += f.Count
	}
	return stats, nil
}

// CreateIndex creates the cosine ivfflat index once enough vectors exist.
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM embeddings"); err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}

	if count < indexThreshold {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := `
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_embeddings_embedding
		ON embeddings USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HashText returns the hex sha256 of text, the dedup key within a family.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
