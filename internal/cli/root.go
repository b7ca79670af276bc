package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version     = "0.1.0"
	BuildCommit = "unknown"
	BuildDate   = "unknown"

	jsonOutput    bool
	verbose       bool
	configPath    string
	familyFlag    string
	modelFlag     string
	tokenizerFlag string
)

var rootCmd = &cobra.Command{
	Use:   "embedder",
	Short: "Embedder - local sentence embeddings over ONNX Runtime",
	Long: `Embedder turns text into fixed-size vectors with a local ONNX model.

It understands BGE, MiniLM, Jina v3, EmbeddingGemma and Qwen3 exports,
adapts to whatever inputs the model graph declares, and pools the
outputs the way each family expects.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.Version = Version
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml or ./configs/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&familyFlag, "family", "f", "", "Model family (bge, minilm, jina_v3, gemma, qwen3)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Path to model.onnx")
	rootCmd.PersistentFlags().StringVarP(&tokenizerFlag, "tokenizer", "t", "", "Path to tokenizer.json")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func IsJSONOutput() bool {
	return jsonOutput
}

func IsVerbose() bool {
	return verbose
}
