package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/onnx-embedder/internal/vector"
)

type lengthEmbedder struct {
	calls  int
	failOn int
}

func (e *lengthEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.failOn > 0 && e.calls == e.failOn {
		return nil, errors.New("inference failed")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0.5}
	}
	return out, nil
}

type memorySink struct {
	rows   []*OutputRow
	closed bool
}

func (s *memorySink) Write(ctx context.Context, rows []*OutputRow) error {
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

type sliceReader struct {
	records []*Record
}

func (r *sliceReader) Read(max int) ([]*Record, error) {
	n := max
	if n > len(r.records) {
		n = len(r.records)
	}
	out := r.records[:n]
	r.records = r.records[n:]
	return out, nil
}

func (r *sliceReader) Close() error { return nil }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, r Reader) []*Record {
	t.Helper()
	var all []*Record
	for {
		batch, err := r.Read(2)
		require.NoError(t, err)
		if len(batch) == 0 {
			return all
		}
		all = append(all, batch...)
	}
}

func TestDetectFileFormat(t *testing.T) {
	assert.Equal(t, FormatParquet, DetectFileFormat("data/x.PARQUET"))
	assert.Equal(t, FormatJSONL, DetectFileFormat("x.jsonl"))
	assert.Equal(t, FormatJSONL, DetectFileFormat("x.json"))
	assert.Equal(t, FormatCSV, DetectFileFormat("x.csv"))
	assert.Equal(t, FormatCSV, DetectFileFormat("x"))

	f, ok := ParseFileFormat("", "out.parquet")
	assert.True(t, ok)
	assert.Equal(t, FormatParquet, f)
	_, ok = ParseFileFormat("xml", "out.parquet")
	assert.False(t, ok)
}

func TestCSVReader(t *testing.T) {
	t.Run("text and id", func(t *testing.T) {
		path := writeFile(t, "in.csv", "id,text\na1,hello\n,world\na3,\"quoted, text\"\n")
		r, err := OpenReader(path, nil)
		require.NoError(t, err)
		defer r.Close()

		recs := readAll(t, r)
		require.Len(t, recs, 3)
		assert.Equal(t, &Record{ID: "a1", Text: "hello"}, recs[0])
		assert.Equal(t, &Record{ID: "2", Text: "world"}, recs[1])
		assert.Equal(t, "quoted, text", recs[2].Text)
	})

	t.Run("text only", func(t *testing.T) {
		path := writeFile(t, "in.csv", "text\nfirst\nsecond\n")
		r, err := OpenReader(path, nil)
		require.NoError(t, err)
		defer r.Close()

		recs := readAll(t, r)
		require.Len(t, recs, 2)
		assert.Equal(t, "1", recs[0].ID)
		assert.Equal(t, "2", recs[1].ID)
	})

	t.Run("bad rows are skipped", func(t *testing.T) {
		path := writeFile(t, "in.csv", "id,text\na,ok\nb,too,many\nc,fine\n")
		r, err := OpenReader(path, nil)
		require.NoError(t, err)
		defer r.Close()

		recs := readAll(t, r)
		require.Len(t, recs, 2)
		assert.Equal(t, "c", recs[1].ID)
	})

	t.Run("missing text column", func(t *testing.T) {
		path := writeFile(t, "in.csv", "id,body\n1,x\n")
		_, err := OpenReader(path, nil)
		assert.Error(t, err)
	})
}

func TestJSONLReader(t *testing.T) {
	path := writeFile(t, "in.jsonl", `{"id":"x","text":"one"}
{"id":7,"text":"two"}

not json
{"text":"four"}
`)
	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	recs := readAll(t, r)
	require.Len(t, recs, 3)
	assert.Equal(t, &Record{ID: "x", Text: "one"}, recs[0])
	assert.Equal(t, &Record{ID: "7", Text: "two"}, recs[1])
	assert.Equal(t, &Record{ID: "4", Text: "four"}, recs[2])
}

func TestParquetReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.parquet")
	require.NoError(t, parquet.WriteFile(path, []Record{
		{ID: "p1", Text: "alpha"},
		{Text: "beta"},
		{ID: "p3", Text: "gamma"},
	}))

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()

	recs := readAll(t, r)
	require.Len(t, recs, 3)
	assert.Equal(t, "p1", recs[0].ID)
	assert.Equal(t, "2", recs[1].ID)
	assert.Equal(t, "gamma", recs[2].Text)
}

func TestPipelineProcess(t *testing.T) {
	emb := &lengthEmbedder{}
	sink := &memorySink{}
	p := NewPipeline(emb, sink, "bge", &Config{BatchSize: 2, ValidateData: true, MaxTextLength: 5}, nil)

	reader := &sliceReader{records: []*Record{
		{ID: "1", Text: "a"},
		{ID: "2", Text: "  "},
		{ID: "3", Text: "ccc"},
		{ID: "4", Text: "too long"},
		{ID: "5", Text: "eeeee"},
	}}

	result, err := p.Process(context.Background(), reader)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, int64(5), result.TotalRecords)
	assert.Equal(t, int64(3), result.ProcessedOK)
	assert.Equal(t, int64(2), result.Skipped)
	assert.Zero(t, result.ProcessedFailed)

	require.Len(t, sink.rows, 3)
	ids := []string{sink.rows[0].ID, sink.rows[1].ID, sink.rows[2].ID}
	assert.Equal(t, []string{"1", "3", "5"}, ids)
	for _, row := range sink.rows {
		assert.Equal(t, "bge", row.Family)
		assert.Equal(t, result.RunID, row.RunID)
		assert.Equal(t, int32(2), row.Dims)
		assert.Equal(t, float32(len(row.Text)), row.Vector[0])
	}

	stats := p.GetStats()
	assert.Equal(t, int64(5), stats.RecordsRead)
	assert.Equal(t, int64(3), stats.RecordsValid)
	assert.Equal(t, int64(3), stats.EmbeddingsGen)
}

type secretRedactor struct{}

func (secretRedactor) Redact(text string) (string, bool) {
	if text == "secret" {
		return "[MASKED]", true
	}
	return text, false
}

func TestPipelineRedacts(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(&lengthEmbedder{}, sink, "bge", &Config{BatchSize: 4}, nil)
	p.SetRedactor(secretRedactor{})

	result, err := p.Process(context.Background(), &sliceReader{records: []*Record{
		{ID: "1", Text: "secret"},
		{ID: "2", Text: "public"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Redacted)
	require.Len(t, sink.rows, 2)
	assert.Equal(t, "[MASKED]", sink.rows[0].Text)
	assert.Equal(t, float32(len("[MASKED]")), sink.rows[0].Vector[0])
	assert.Equal(t, "public", sink.rows[1].Text)
}

func TestPipelineWithoutValidation(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(&lengthEmbedder{}, sink, "minilm", &Config{BatchSize: 4}, nil)

	result, err := p.Process(context.Background(), &sliceReader{records: []*Record{{ID: "1", Text: ""}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ProcessedOK)
	require.Len(t, sink.rows, 1)
}

func TestPipelineBatchFailureContinues(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(&lengthEmbedder{failOn: 1}, sink, "bge", &Config{BatchSize: 1}, nil)

	result, err := p.Process(context.Background(), &sliceReader{records: []*Record{
		{ID: "1", Text: "x"},
		{ID: "2", Text: "y"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ProcessedFailed)
	assert.Equal(t, int64(1), result.ProcessedOK)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "inference failed")
	require.Len(t, sink.rows, 1)
	assert.Equal(t, "2", sink.rows[0].ID)
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(&lengthEmbedder{}, &memorySink{}, "bge", &Config{BatchSize: 1}, nil)
	_, err := p.Process(ctx, &sliceReader{records: []*Record{{ID: "1", Text: "x"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineRateLimited(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(&lengthEmbedder{}, sink, "bge", &Config{BatchSize: 2, RowsPerSecond: 1000}, nil)

	result, err := p.Process(context.Background(), &sliceReader{records: []*Record{
		{ID: "1", Text: "a"}, {ID: "2", Text: "b"}, {ID: "3", Text: "c"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.ProcessedOK)
}

func TestProcessFileToJSONL(t *testing.T) {
	in := writeFile(t, "in.csv", "text,id\nhello,h\nworld,w\n")
	out := filepath.Join(t.TempDir(), "out.jsonl")

	sink, err := OpenFileSink(out, FormatJSONL)
	require.NoError(t, err)
	p := NewPipeline(&lengthEmbedder{}, sink, "bge", &Config{BatchSize: 8, ValidateData: true}, nil)

	result, err := p.ProcessFile(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.Equal(t, int64(2), result.ProcessedOK)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	var rows []OutputRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row OutputRow
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "h", rows[0].ID)
	assert.Equal(t, []float32{5, 0.5}, rows[0].Vector)
	assert.Equal(t, result.RunID, rows[1].RunID)
}

func TestProcessFileToParquet(t *testing.T) {
	in := writeFile(t, "in.jsonl", "{\"id\":\"a\",\"text\":\"abc\"}\n")
	out := filepath.Join(t.TempDir(), "out.parquet")

	sink, err := OpenFileSink(out, FormatParquet)
	require.NoError(t, err)
	p := NewPipeline(&lengthEmbedder{}, sink, "qwen3", &Config{BatchSize: 8}, nil)

	_, err = p.ProcessFile(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	rows, err := parquet.ReadFile[OutputRow](out)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "qwen3", rows[0].Family)
	assert.Equal(t, int32(2), rows[0].Dims)
	assert.Equal(t, []float32{3, 0.5}, rows[0].Vector)
}

func TestOpenFileSinkRejectsCSV(t *testing.T) {
	_, err := OpenFileSink(filepath.Join(t.TempDir(), "out.csv"), FormatCSV)
	assert.Error(t, err)
}

type fakeStore struct {
	schemaDims []int
	records    []*vector.EmbeddingRecord
	indexed    bool
}

func (s *fakeStore) EnsureSchema(ctx context.Context, dims int) error {
	s.schemaDims = append(s.schemaDims, dims)
	return nil
}

func (s *fakeStore) BatchInsert(ctx context.Context, records []*vector.EmbeddingRecord) (*vector.BatchInsertResult, error) {
	s.records = append(s.records, records...)
	return &vector.BatchInsertResult{Inserted: int64(len(records))}, nil
}

func (s *fakeStore) CreateIndex(ctx context.Context) error {
	s.indexed = true
	return nil
}

func TestStoreSink(t *testing.T) {
	store := &fakeStore{}
	mem := &memorySink{}
	sink := MultiSink{mem, NewStoreSink(store, true, nil)}
	p := NewPipeline(&lengthEmbedder{}, sink, "bge", &Config{BatchSize: 1}, nil)

	result, err := p.Process(context.Background(), &sliceReader{records: []*Record{
		{ID: "1", Text: "a"}, {ID: "2", Text: "bb"},
	}})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.Equal(t, []int{2}, store.schemaDims)
	require.Len(t, store.records, 2)
	assert.Equal(t, "2", store.records[1].SourceID)
	assert.Equal(t, vector.HashText("bb"), store.records[1].TextHash)
	assert.Equal(t, result.RunID, store.records[0].RunID)
	assert.True(t, store.indexed)
	assert.Len(t, mem.rows, 2)
	assert.True(t, mem.closed)
}

func TestStoreSinkDimensionMismatch(t *testing.T) {
	sink := NewStoreSink(&fakeStore{}, false, nil)
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, []*OutputRow{{ID: "a", Vector: []float32{1, 2}}}))
	assert.Error(t, sink.Write(ctx, []*OutputRow{{ID: "b", Vector: []float32{1}}}))
	assert.NoError(t, sink.Write(ctx, []*OutputRow{{ID: "c", Vector: []float32{}}}))
}
