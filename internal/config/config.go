package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/onnx-embedder/internal/embeddings"
	"github.com/raaihank/onnx-embedder/internal/privacy"
)

// EnvPrefix prefixes every environment override, e.g. EMBEDDER_MODEL_FAMILY.
const EnvPrefix = "EMBEDDER"

var (
	mu     sync.Mutex
	active *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/onnx-embedder/")
	v.AddConfigPath("$HOME/.onnx-embedder/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, GetDefaults())

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// that are absent from the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("model.family", d.Model.Family)
	v.SetDefault("model.model_path", d.Model.ModelPath)
	v.SetDefault("model.tokenizer_path", d.Model.TokenizerPath)
	v.SetDefault("model.task_id", d.Model.TaskID)
	v.SetDefault("model.add_special_tokens", d.Model.AddSpecialTokens)

	v.SetDefault("runtime.shared_library_path", d.Runtime.SharedLibraryPath)
	v.SetDefault("runtime.intra_op_threads", d.Runtime.IntraOpThreads)
	v.SetDefault("runtime.inter_op_threads", d.Runtime.InterOpThreads)
	// Optional keys: nil means "use the runtime default", so they are bound
	// to the environment instead of given a default.
	_ = v.BindEnv("runtime.parallel_execution")
	_ = v.BindEnv("runtime.optimization_level")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)

	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.rows_per_second", d.Pipeline.RowsPerSecond)
	v.SetDefault("pipeline.validate_data", d.Pipeline.ValidateData)
	v.SetDefault("pipeline.max_text_length", d.Pipeline.MaxTextLength)
	v.SetDefault("pipeline.progress_report", d.Pipeline.ProgressReport)
	v.SetDefault("pipeline.output_format", d.Pipeline.OutputFormat)
	v.SetDefault("pipeline.redact", []string{})

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.local_capacity", d.Cache.LocalCapacity)
	v.SetDefault("cache.redis_enabled", d.Cache.RedisEnabled)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_connections", d.Cache.MaxConnections)
	v.SetDefault("cache.min_idle_conns", d.Cache.MinIdleConns)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.database_url", d.Store.DatabaseURL)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.conn_max_idle_time", d.Store.ConnMaxIdleTime)
	v.SetDefault("store.create_index", d.Store.CreateIndex)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if _, err := embeddings.ParseFamily(config.Model.Family); err != nil {
		return err
	}

	if config.Model.TaskID < 0 {
		return fmt.Errorf("invalid task_id: %d (must not be negative)", config.Model.TaskID)
	}

	if config.Runtime.IntraOpThreads < 0 || config.Runtime.InterOpThreads < 0 {
		return fmt.Errorf("invalid runtime thread counts: intra=%d inter=%d", config.Runtime.IntraOpThreads, config.Runtime.InterOpThreads)
	}

	if level := config.Runtime.OptimizationLevel; level != nil && (*level < 0 || *level > 3) {
		return fmt.Errorf("invalid optimization_level: %d (must be 0..3)", *level)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", config.Pipeline.BatchSize)
	}

	if config.Pipeline.RowsPerSecond < 0 {
		return fmt.Errorf("invalid rows_per_second: %g (must not be negative)", config.Pipeline.RowsPerSecond)
	}

	switch config.Pipeline.OutputFormat {
	case "", "parquet", "jsonl":
	default:
		return fmt.Errorf("invalid output format: %s (must be parquet or jsonl)", config.Pipeline.OutputFormat)
	}

	if _, err := privacy.New(config.Pipeline.Redact, nil); err != nil {
		return fmt.Errorf("invalid pipeline.redact: %w", err)
	}

	if config.Cache.Enabled && config.Cache.RedisEnabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache.redis_enabled is true")
	}

	if config.Store.Enabled && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store.database_url is required when store.enabled is true")
	}

	return nil
}

// Watch starts watching the configuration file loaded by the last successful
// Load. callback receives every change that still validates.
func Watch(callback func(*Config)) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("config not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		newConfig, err := decode(v)
		if err != nil {
			// Keep the previous configuration
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
