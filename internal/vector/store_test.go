package vector

import (
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorArgument(t *testing.T) {
	value, err := pgvector.NewVector([]float32{1, -2, 0.5}).Value()
	require.NoError(t, err)
	assert.Equal(t, "[1,-2,0.5]", value)

	var scanned pgvector.Vector
	require.NoError(t, scanned.Scan([]byte("[1,2.5,3]")))
	assert.Equal(t, []float32{1, 2.5, 3}, scanned.Slice())
}

func TestHashText(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HashText("hello"))
	assert.NotEqual(t, HashText("hello"), HashText("Hello"))
}

func TestSchemaSQL(t *testing.T) {
	q := schemaSQL(384)
	assert.Contains(t, q, "embedding vector(384)")
	assert.Contains(t, q, "UNIQUE (family, text_hash)")
}

func TestBatchInsertSQL(t *testing.T) {
	records := []*EmbeddingRecord{
		{RunID: "r1", Family: "bge", SourceID: "a", Text: "hello", Embedding: []float32{1, 2}},
		{RunID: "r1", Family: "bge", SourceID: "b", Text: "world", TextHash: "precomputed", Embedding: []float32{3}},
	}
	query, args := batchInsertSQL(records)

	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6),($7, $8, $9, $10, $11, $12)")
	assert.Contains(t, query, "ON CONFLICT (family, text_hash) DO NOTHING")
	require.Len(t, args, 12)
	assert.Equal(t, HashText("hello"), args[4])
	assert.Equal(t, pgvector.NewVector([]float32{1, 2}), args[5])
	assert.Equal(t, "precomputed", args[10])
}

func TestFindSimilarSQL(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		query, args := findSimilarSQL([]float32{1}, &SearchOptions{Limit: 3})
		assert.Contains(t, query, "LIMIT $3")
		assert.Equal(t, []interface{}{pgvector.NewVector([]float32{1}), float32(0), 3}, args)
		assert.Contains(t, query, "text_hash, embedding,")
		assert.NotContains(t, query, "::text")
	})

	t.Run("family and run", func(t *testing.T) {
		query, args := findSimilarSQL([]float32{1}, &SearchOptions{Limit: 2, Family: "bge", RunID: "r"})
		assert.True(t, strings.Contains(query, "family = $3"))
		assert.True(t, strings.Contains(query, "run_id = $4"))
		assert.Contains(t, query, "LIMIT $5")
		assert.Len(t, args, 5)
	})
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgres://app:xxxxx@db:5432/embeddings?sslmode=disable",
		maskDatabaseURL("postgres://app:secret@db:5432/embeddings?sslmode=disable"))
	assert.Equal(t, "postgres://db/embeddings", maskDatabaseURL("postgres://db/embeddings"))
}
