package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/onnx-embedder/internal/etl"
	"github.com/raaihank/onnx-embedder/internal/index"
	"github.com/raaihank/onnx-embedder/internal/vector"
)

var (
	searchInput string
	searchLimit int
	searchStore bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the documents nearest to a query",
	Long: `Embed a query and return the nearest documents by cosine distance.

With --input the corpus file is embedded into an in-memory HNSW index.
With --store the query runs against the Postgres + pgvector table filled
by "embedder run --store".

Examples:
  embedder search --input docs.csv "refund policy"
  embedder search --input docs.jsonl -n 3 "install on windows"
  embedder search --store "refund policy"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchInput, "input", "i", "", "Corpus file (csv, jsonl or parquet)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum results")
	searchCmd.Flags().BoolVar(&searchStore, "store", false, "Search the Postgres vector store")
	searchCmd.MarkFlagsMutuallyExclusive("input", "store")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchInput == "" && !searchStore {
		return fmt.Errorf("pass --input <corpus> or --store")
	}

	env, err := setup(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	query, err := env.EmbedQueries(ctx, args)
	if err != nil {
		return err
	}

	var hits []index.Hit
	if searchStore {
		hits, err = searchStoreHits(ctx, env, query[0])
	} else {
		hits, err = searchCorpus(ctx, env, searchInput, query[0])
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), hits)
	}
	w := cmd.OutOrStdout()
	for i, h := range hits {
		fmt.Fprintf(w, "%d. [%.4f] %s  %s\n", i+1, h.Distance, h.ID, h.Text)
	}
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results.")
	}
	return nil
}

// searchCorpus embeds every document in path into a fresh index and queries it.
func searchCorpus(ctx context.Context, env *environment, path string, query []float32) ([]index.Hit, error) {
	reader, err := etl.OpenReader(path, env.log.Logger)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	idx := index.New()
	batchSize := env.cfg.Pipeline.BatchSize
	for {
		records, err := reader.Read(batchSize)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		var ids, texts []string
		for _, r := range records {
			if r.Text == "" {
				continue
			}
			ids = append(ids, r.ID)
			texts = append(texts, r.Text)
		}
		if len(texts) == 0 {
			continue
		}

		vectors, err := env.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, err
		}

		// Texts with no tokens embed to empty vectors and cannot be indexed.
		keep := 0
		for i, v := range vectors {
			if len(v) == 0 {
				env.log.Debug("Skipping document with empty embedding", zap.String("id", ids[i]))
				continue
			}
			ids[keep], texts[keep], vectors[keep] = ids[i], texts[i], v
			keep++
		}
		if err := idx.Add(ids[:keep], texts[:keep], vectors[:keep]); err != nil {
			return nil, err
		}
	}

	env.log.Debug("Corpus indexed", zap.Int("documents", idx.Len()), zap.Int("dims", idx.Dims()))
	return idx.Search(query, searchLimit)
}

func searchStoreHits(ctx context.Context, env *environment, query []float32) ([]index.Hit, error) {
	store, err := openStore(ctx, env)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	results, err := store.FindSimilar(ctx, query, &vector.SearchOptions{
		Limit:         searchLimit,
		MinSimilarity: -1,
		Family:        string(env.family),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]index.Hit, len(results))
	for i, r := range results {
		hits[i] = index.Hit{ID: r.Record.SourceID, Text: r.Record.Text, Distance: r.Distance}
	}
	return hits, nil
}

func openStore(ctx context.Context, env *environment) (*vector.Store, error) {
	s := env.cfg.Store
	return vector.NewStore(ctx, &vector.Config{
		DatabaseURL:     s.DatabaseURL,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
		ConnMaxIdleTime: s.ConnMaxIdleTime,
	}, env.log.WithComponent("store").Logger)
}
