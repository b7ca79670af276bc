package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/onnx-embedder/internal/embeddings"
	"github.com/raaihank/onnx-embedder/internal/etl"
	"github.com/raaihank/onnx-embedder/internal/index"
)

// letterEmbedder counts letters, which is enough to rank texts by overlap.
type letterEmbedder struct {
	config   embeddings.ServiceConfig
	received []string
	closed   bool
}

func (e *letterEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.received = append(e.received, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 27)
		v[26] = 0.1
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *letterEmbedder) family() embeddings.Family {
	f, _ := embeddings.ParseFamily(e.config.Family)
	return f
}

func (e *letterEmbedder) FormatQuery(text string) string {
	return embeddings.FormatQuery(e.family(), text)
}

func (e *letterEmbedder) FormatDocument(text string) string {
	return embeddings.FormatDocument(e.family(), text)
}

func (e *letterEmbedder) EmbedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = e.FormatQuery(q)
	}
	return e.Embed(ctx, texts)
}

func (e *letterEmbedder) EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = e.FormatDocument(d)
	}
	return e.Embed(ctx, texts)
}

func (e *letterEmbedder) Close() error {
	e.closed = true
	return nil
}

func useFakeEmbedder(t *testing.T) *letterEmbedder {
	t.Helper()
	fake := &letterEmbedder{}
	prev := newEmbedder
	newEmbedder = func(sc embeddings.ServiceConfig, log *zap.Logger) (textEmbedder, error) {
		fake.config = sc
		return fake, nil
	}
	t.Cleanup(func() { newEmbedder = prev })
	return fake
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandFlags(t *testing.T) {
	assert.Equal(t, "embedder", rootCmd.Use)
	for _, name := range []string{"config", "family", "model", "tokenizer", "json", "verbose"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}

	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, name := range []string{"embed", "run", "search", "distance", "version", "stats", "clear-cache"} {
		assert.Contains(t, names, name)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "--json", "version")
	require.NoError(t, err)

	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	require.Len(t, info.Families, len(embeddings.Families()))
	assert.Equal(t, "gemma", info.Families[3].Name)
	assert.Equal(t, embeddings.GetServiceDescription(embeddings.FamilyGemma), info.Families[3].Description)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "embedder "+Version)
	assert.Contains(t, out, embeddings.GetServiceDescription(embeddings.FamilyMiniLM))
}

func TestEmbedCommand(t *testing.T) {
	fake := useFakeEmbedder(t)

	out, err := execute(t, "--family", "minilm", "-m", "m.onnx", "-t", "tok.json", "embed", "hello", "world")
	require.NoError(t, err)

	var results []EmbeddingOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "hello", results[0].Text)
	assert.Equal(t, 27, results[0].Dims)
	assert.Len(t, results[1].Vector, 27)

	assert.Equal(t, "minilm", fake.config.Family)
	assert.Equal(t, "m.onnx", fake.config.ModelPath)
	assert.Equal(t, "tok.json", fake.config.TokenizerPath)
	assert.True(t, fake.closed)
}

func TestEmbedPrefixes(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		fake := useFakeEmbedder(t)
		_, err := execute(t, "--family", "bge", "embed", "--query", "refunds")
		require.NoError(t, err)
		require.Len(t, fake.received, 1)
		assert.Equal(t, embeddings.FormatQuery(embeddings.FamilyBGE, "refunds"), fake.received[0])
	})

	t.Run("document", func(t *testing.T) {
		fake := useFakeEmbedder(t)
		_, err := execute(t, "--family", "gemma", "embed", "-d", "refunds")
		require.NoError(t, err)
		assert.Equal(t, "title: none | text: refunds", fake.received[0])
	})

	t.Run("query through the memo", func(t *testing.T) {
		t.Setenv("EMBEDDER_CACHE_ENABLED", "true")
		fake := useFakeEmbedder(t)
		out, err := execute(t, "--family", "bge", "embed", "--query", "refunds", "refunds")
		require.NoError(t, err)
		assert.Equal(t, []string{embeddings.FormatQuery(embeddings.FamilyBGE, "refunds")}, fake.received)

		var vectors []EmbeddingOutput
		require.NoError(t, json.Unmarshal([]byte(out), &vectors))
		require.Len(t, vectors, 2)
		assert.Equal(t, vectors[0].Vector, vectors[1].Vector)
	})

	t.Run("exclusive", func(t *testing.T) {
		useFakeEmbedder(t)
		_, err := execute(t, "embed", "--query", "--document", "x")
		assert.Error(t, err)
	})
}

func TestEmbedUnknownFamily(t *testing.T) {
	useFakeEmbedder(t)
	_, err := execute(t, "--family", "word2vec", "embed", "x")
	assert.ErrorIs(t, err, embeddings.ErrConfigError)
}

func TestDistanceCommand(t *testing.T) {
	useFakeEmbedder(t)

	out, err := execute(t, "--family", "minilm", "--json", "distance", "abc", "abc")
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 0, res["distance"], 1e-6)

	out, err = execute(t, "--family", "minilm", "distance", "aaa", "zzz")
	require.NoError(t, err)
	assert.NotEqual(t, "0.000000\n", out)
}

func TestSearchCommand(t *testing.T) {
	useFakeEmbedder(t)
	corpus := filepath.Join(t.TempDir(), "docs.csv")
	require.NoError(t, os.WriteFile(corpus,
		[]byte("id,text\npie,apple pie\nzebra,zebra crossing\nsplit,banana split\n,\n"), 0o644))

	out, err := execute(t, "--family", "minilm", "--json", "search", "--input", corpus, "-n", "2", "apple")
	require.NoError(t, err)

	var hits []index.Hit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 2)
	assert.Equal(t, "pie", hits[0].ID)
	assert.Equal(t, "apple pie", hits[0].Text)
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
}

func TestSearchNeedsSource(t *testing.T) {
	useFakeEmbedder(t)
	_, err := execute(t, "search", "apple")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	useFakeEmbedder(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	outPath := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(in, []byte("text\nfirst\n\nsecond\n"), 0o644))

	out, err := execute(t, "--family", "minilm", "--json", "run", "--input", in, "--output", outPath, "--batch-size", "1")
	require.NoError(t, err)

	var result etl.ProcessingResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(2), result.ProcessedOK)
	assert.NotEmpty(t, result.RunID)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()

	var rows []etl.OutputRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row etl.OutputRow
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "minilm", rows[0].Family)
	assert.Equal(t, int32(27), rows[1].Dims)
}

func TestRunRedacts(t *testing.T) {
	fake := useFakeEmbedder(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl")
	outPath := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(in, []byte(`{"id":"1","text":"write to bob@example.com"}`+"\n"), 0o644))

	out, err := execute(t, "--family", "minilm", "--json", "run", "-i", in, "-o", outPath, "--redact", "email")
	require.NoError(t, err)

	var result etl.ProcessingResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(1), result.Redacted)
	assert.Equal(t, []string{"write to [EMAIL]"}, fake.received)

	_, err = execute(t, "--family", "minilm", "run", "-i", in, "-o", outPath, "--redact", "passport")
	assert.Error(t, err)
}

func TestRunNeedsSink(t *testing.T) {
	useFakeEmbedder(t)
	in := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(in, []byte("text\nx\n"), 0o644))

	_, err := execute(t, "run", "--input", in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to write")
}

func TestStatsNeedsBackend(t *testing.T) {
	_, err := execute(t, "stats")
	assert.Error(t, err)

	_, err = execute(t, "clear-cache")
	assert.Error(t, err)
}
