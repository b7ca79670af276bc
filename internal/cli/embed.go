package cli

import (
	"github.com/spf13/cobra"
)

var (
	embedAsQuery    bool
	embedAsDocument bool
)

// EmbeddingOutput is one embedded text as printed by the embed command.
type EmbeddingOutput struct {
	Text   string    `json:"text"`
	Dims   int       `json:"dims"`
	Vector []float32 `json:"vector"`
}

var embedCmd = &cobra.Command{
	Use:   "embed <text>...",
	Short: "Embed texts and print the vectors as JSON",
	Long: `Embed one or more texts with the configured model.

Examples:
  embedder embed "hello world"
  embedder embed --query "how do I reset my password"
  embedder embed --family minilm -m models/minilm/model.onnx -t models/minilm/tokenizer.json "a" "b"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.Flags().BoolVarP(&embedAsQuery, "query", "q", false, "Apply the family's query prefix")
	embedCmd.Flags().BoolVarP(&embedAsDocument, "document", "d", false, "Apply the family's document prefix")
	embedCmd.MarkFlagsMutuallyExclusive("query", "document")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	env, err := setup(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	var vectors [][]float32
	switch {
	case embedAsQuery:
		vectors, err = env.EmbedQueries(ctx, args)
	case embedAsDocument:
		vectors, err = env.EmbedDocuments(ctx, args)
	default:
		vectors, err = env.Embed(ctx, args)
	}
	if err != nil {
		return err
	}

	out := make([]EmbeddingOutput, len(args))
	for i, text := range args {
		out[i] = EmbeddingOutput{Text: text, Dims: len(vectors[i]), Vector: vectors[i]}
	}
	return printJSON(cmd.OutOrStdout(), out)
}
