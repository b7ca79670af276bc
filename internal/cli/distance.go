package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/onnx-embedder/internal/embeddings"
)

var distanceCmd = &cobra.Command{
	Use:   "distance <text-a> <text-b>",
	Short: "Print the cosine distance between two texts",
	Args:  cobra.ExactArgs(2),
	RunE:  runDistance,
}

func init() {
	rootCmd.AddCommand(distanceCmd)
}

func runDistance(cmd *cobra.Command, args []string) error {
	env, err := setup(true)
	if err != nil {
		return err
	}
	defer env.Close()

	vectors, err := env.Embed(cmd.Context(), args)
	if err != nil {
		return err
	}
	d, err := embeddings.CosineDistance(vectors[0], vectors[1])
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"a":        args[0],
			"b":        args[1],
			"distance": d,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", d)
	return nil
}
