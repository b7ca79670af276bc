package vector

import (
	"time"
)

// EmbeddingRecord is one stored text and its vector.
type EmbeddingRecord struct {
	ID        int64     `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	Family    string    `db:"family" json:"family"`
	SourceID  string    `db:"source_id" json:"source_id"`
	Text      string    `db:"text" json:"text"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Embedding []float32 `db:"embedding" json:"embedding"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Record     *EmbeddingRecord `json:"record"`
	Similarity float32          `json:"similarity"`
	Distance   float32          `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	Family        string  `json:"family,omitempty"`
	RunID         string  `json:"run_id,omitempty"`
}

// FamilyStats counts stored vectors for one model family.
type FamilyStats struct {
	Family     string `db:"family" json:"family"`
	Count      int64  `db:"count" json:"count"`
	Dimensions int    `db:"dims" json:"dimensions"`
}

// VectorStats represents database statistics
type VectorStats struct {
	TotalVectors int64          `json:"total_vectors"`
	Families     []*FamilyStats `json:"families"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []error       `json:"errors,omitempty"`
}
