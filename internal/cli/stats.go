package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/onnx-embedder/internal/cache"
	"github.com/raaihank/onnx-embedder/internal/vector"
)

// StatsOutput is what the stats command reports.
type StatsOutput struct {
	Store *vector.VectorStats `json:"store,omitempty"`
	Cache *cache.CacheStats   `json:"cache,omitempty"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector store and Redis memo statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete every memoized embedding from Redis",
	Args:  cobra.NoArgs,
	RunE:  runClearCache,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	env, err := setup(false)
	if err != nil {
		return err
	}
	defer env.Close()

	if !env.cfg.Store.Enabled && !env.cfg.Cache.RedisEnabled {
		return fmt.Errorf("neither store nor redis memo is enabled in config")
	}

	ctx := cmd.Context()
	out := StatsOutput{}
	if env.cfg.Store.Enabled {
		store, err := openStore(ctx, env)
		if err != nil {
			return err
		}
		defer store.Close()
		if out.Store, err = store.GetStats(ctx); err != nil {
			return err
		}
	}
	if env.cfg.Cache.RedisEnabled {
		memo, err := env.openRedis()
		if err != nil {
			return err
		}
		defer memo.Close()
		if out.Cache, err = memo.GetStats(ctx); err != nil {
			return err
		}
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	if out.Store != nil {
		fmt.Fprintf(w, "\n=== Vector Store ===\n")
		fmt.Fprintf(w, "Total Vectors:      %d\n", out.Store.TotalVectors)
		for _, f := range out.Store.Families {
			fmt.Fprintf(w, "  %-16s %d vectors, %d dims\n", f.Family, f.Count, f.Dimensions)
		}
	}
	if out.Cache != nil {
		fmt.Fprintf(w, "\n=== Redis Memo ===\n")
		fmt.Fprintf(w, "Total Keys:         %d\n", out.Cache.TotalKeys)
		fmt.Fprintf(w, "Memory Usage:       %.2f MB\n", float64(out.Cache.MemoryUsage)/1024/1024)
	}
	return nil
}

func runClearCache(cmd *cobra.Command, args []string) error {
	env, err := setup(false)
	if err != nil {
		return err
	}
	defer env.Close()

	if !env.cfg.Cache.RedisEnabled {
		return fmt.Errorf("redis memo is not enabled in config")
	}
	memo, err := env.openRedis()
	if err != nil {
		return err
	}
	defer memo.Close()

	if err := memo.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared memo keys with prefix %q\n", env.cfg.Cache.KeyPrefix)
	return nil
}
