package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/onnx-embedder/internal/etl"
	"github.com/raaihank/onnx-embedder/internal/privacy"
)

var (
	runInput      string
	runOutput     string
	runFormat     string
	runBatchSize  int
	runRate       float64
	runStore      bool
	runAsDocument bool
	runRedact     []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Embed a dataset file in batches",
	Long: `Read a CSV (text[,id] header), JSONL or Parquet file, embed every
text in batches and write the vectors to a Parquet or JSONL file, to
Postgres + pgvector, or both.

Examples:
  embedder run --input data.csv --output vectors.parquet
  embedder run --input data.jsonl --output vectors.jsonl --batch-size 64
  embedder run --input data.parquet --store --rows-per-second 200`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Input dataset (csv, jsonl or parquet)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output file (parquet or jsonl)")
	runCmd.Flags().StringVar(&runFormat, "format", "", "Output format, inferred from --output when empty")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "Texts per inference call (default from config)")
	runCmd.Flags().Float64Var(&runRate, "rows-per-second", 0, "Throttle input rows (default from config, 0 disables)")
	runCmd.Flags().BoolVar(&runStore, "store", false, "Also write vectors to Postgres + pgvector")
	runCmd.Flags().BoolVarP(&runAsDocument, "document", "d", false, "Apply the family's document prefix")
	runCmd.Flags().StringSliceVar(&runRedact, "redact", nil, "PII rules to mask before embedding (email, phone, ... or all)")
	_ = runCmd.MarkFlagRequired("input")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	env, err := setup(true)
	if err != nil {
		return err
	}
	defer env.Close()
	env.watchLogLevel()

	pcfg := env.cfg.Pipeline
	if cmd.Flags().Changed("batch-size") {
		pcfg.BatchSize = runBatchSize
	}
	if cmd.Flags().Changed("rows-per-second") {
		pcfg.RowsPerSecond = runRate
	}

	sink, err := openSinks(cmd.Context(), env, pcfg.OutputFormat)
	if err != nil {
		return err
	}

	var embedder etl.Embedder = env
	if runAsDocument {
		embedder = documentEmbedder{env: env}
	}

	pipeline := etl.NewPipeline(embedder, sink, string(env.family), &etl.Config{
		BatchSize:      pcfg.BatchSize,
		RowsPerSecond:  pcfg.RowsPerSecond,
		ValidateData:   pcfg.ValidateData,
		MaxTextLength:  pcfg.MaxTextLength,
		ProgressReport: pcfg.ProgressReport,
	}, env.log.WithComponent("etl").Logger)

	rules := pcfg.Redact
	if cmd.Flags().Changed("redact") {
		rules = runRedact
	}
	if len(rules) > 0 {
		detector, err := privacy.New(rules, env.log.WithComponent("privacy").Logger)
		if err != nil {
			sink.Close()
			return err
		}
		pipeline.SetRedactor(detector)
	}

	result, err := pipeline.ProcessFile(cmd.Context(), runInput)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	if err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		env.log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printResultText(cmd.OutOrStdout(), result)
	return nil
}

func openSinks(ctx context.Context, env *environment, configFormat string) (etl.Sink, error) {
	var sinks etl.MultiSink

	if runOutput != "" {
		name := runFormat
		if name == "" {
			name = configFormat
		}
		format, ok := etl.ParseFileFormat(name, runOutput)
		if !ok {
			return nil, fmt.Errorf("unsupported output format: %s", name)
		}
		sink, err := etl.OpenFileSink(runOutput, format)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if runStore || env.cfg.Store.Enabled {
		store, err := openStore(ctx, env)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, &closingStoreSink{
			StoreSink: etl.NewStoreSink(store, env.cfg.Store.CreateIndex, env.log.WithComponent("store").Logger),
			closer:    store,
		})
	}

	if len(sinks) == 0 {
		return nil, fmt.Errorf("nothing to write: pass --output, --store, or enable store in config")
	}
	return sinks, nil
}

// closingStoreSink closes the database connection with the sink.
type closingStoreSink struct {
	*etl.StoreSink
	closer io.Closer
}

func (s *closingStoreSink) Close() error {
	s.StoreSink.Close()
	return s.closer.Close()
}

func printResultText(w io.Writer, r *etl.ProcessingResult) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  Records:    %d\n", r.TotalRecords)
	fmt.Fprintf(w, "  Embedded:   %d\n", r.ProcessedOK)
	fmt.Fprintf(w, "  Skipped:    %d\n", r.Skipped)
	fmt.Fprintf(w, "  Redacted:   %d\n", r.Redacted)
	fmt.Fprintf(w, "  Failed:     %d\n", r.ProcessedFailed)
	fmt.Fprintf(w, "  Duration:   %s\n", r.Duration)
	fmt.Fprintf(w, "  Inference:  %s\n", r.EmbeddingTime)
}
