package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/onnx-embedder/internal/cache"
	"github.com/raaihank/onnx-embedder/internal/config"
	"github.com/raaihank/onnx-embedder/internal/embeddings"
	"github.com/raaihank/onnx-embedder/internal/logger"
)

// textEmbedder is the part of *embeddings.Embedder the commands use.
type textEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQueries(ctx context.Context, queries []string) ([][]float32, error)
	EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error)
	FormatQuery(text string) string
	FormatDocument(text string) string
	Close() error
}

// newEmbedder loads the configured model. Tests replace it with a fake.
var newEmbedder = func(sc embeddings.ServiceConfig, log *zap.Logger) (textEmbedder, error) {
	e, err := embeddings.NewFactory(log).CreateEmbedder(sc)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// environment holds what a command needs: config, logger and, when asked
// for, a loaded model behind the optional memo.
type environment struct {
	cfg    *config.Config
	log    *logger.Logger
	family embeddings.Family
	model  textEmbedder
	cached *cache.CachedEmbedder
	memo   cache.Memo
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if familyFlag != "" {
		cfg.Model.Family = familyFlag
	}
	if modelFlag != "" {
		cfg.Model.ModelPath = modelFlag
	}
	if tokenizerFlag != "" {
		cfg.Model.TokenizerPath = tokenizerFlag
	}
	if IsVerbose() {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{Enabled: true, Path: cfg.Logging.File.Path}
	}
	return logger.New(lc)
}

// setup loads config and logger. With loadModel it also loads the embedder
// and wires the memo tiers the config enables.
func setup(loadModel bool) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	env := &environment{cfg: cfg, log: log}
	if !loadModel {
		return env, nil
	}

	family, err := embeddings.ParseFamily(cfg.Model.Family)
	if err != nil {
		return nil, err
	}
	env.family = family

	model, err := newEmbedder(cfg.ServiceConfig(), log.WithFamily(string(family)).Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedder: %w", err)
	}
	env.model = model

	if cfg.Cache.Enabled {
		memo, err := env.openMemo()
		if err != nil {
			model.Close()
			return nil, err
		}
		env.memo = memo
		env.cached = cache.NewCachedEmbedder(model, memo, string(family), cfg.Cache.KeyPrefix,
			log.WithComponent("cache").Logger)
	}
	return env, nil
}

// watchLogLevel follows logging.level in the config file for the rest of the
// process. --verbose pins the level.
func (e *environment) watchLogLevel() {
	err := config.Watch(func(c *config.Config) {
		if IsVerbose() {
			return
		}
		if err := e.log.SetLevel(c.Logging.Level); err != nil {
			e.log.Warn("Ignoring log level from config", zap.Error(err))
			return
		}
		e.log.Info("Log level reloaded", zap.String("level", c.Logging.Level))
	})
	if err != nil {
		e.log.Debug("Config watch disabled", zap.Error(err))
	}
}

func (e *environment) openMemo() (cache.Memo, error) {
	c := e.cfg.Cache
	local := cache.NewLocalMemo(c.LocalTTL, c.LocalCapacity)
	if !c.RedisEnabled {
		return local, nil
	}
	redis, err := e.openRedis()
	if err != nil {
		local.Close()
		return nil, err
	}
	return cache.NewTiered(e.log.WithComponent("memo").Logger, local, redis), nil
}

func (e *environment) openRedis() (*cache.RedisMemo, error) {
	c := e.cfg.Cache
	return cache.NewRedisMemo(&cache.Config{
		RedisURL:       c.RedisURL,
		MaxConnections: c.MaxConnections,
		MinIdleConns:   c.MinIdleConns,
		DefaultTTL:     c.TTL,
		KeyPrefix:      c.KeyPrefix,
	}, e.log.WithComponent("redis").Logger)
}

// Embed embeds raw texts through the memo when one is configured.
func (e *environment) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cached != nil {
		return e.cached.Embed(ctx, texts)
	}
	return e.model.Embed(ctx, texts)
}

// EmbedDocuments embeds docs with the family's document prefix. With a memo
// the prefixed text is the cache key, so queries and documents never collide.
func (e *environment) EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	if e.cached == nil {
		return e.model.EmbedDocuments(ctx, docs)
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = e.model.FormatDocument(d)
	}
	return e.cached.Embed(ctx, texts)
}

// EmbedQueries embeds queries with the family's query prefix.
func (e *environment) EmbedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	if e.cached == nil {
		return e.model.EmbedQueries(ctx, queries)
	}
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = e.model.FormatQuery(q)
	}
	return e.cached.Embed(ctx, texts)
}

func (e *environment) Close() {
	if e.cached != nil {
		stats := e.cached.GetStats()
		e.log.Debug("Memo statistics",
			zap.Int64("hits", stats.Hits),
			zap.Int64("misses", stats.Misses),
			zap.Float64("hit_rate", stats.HitRate))
	}
	if e.memo != nil {
		if err := e.memo.Close(); err != nil {
			e.log.Warn("Failed to close memo", zap.Error(err))
		}
	}
	if e.model != nil {
		if err := e.model.Close(); err != nil {
			e.log.Warn("Failed to close embedder", zap.Error(err))
		}
	}
	_ = e.log.Sync()
}

// documentEmbedder adapts EmbedDocuments to the plain Embed signature.
type documentEmbedder struct {
	env *environment
}

func (d documentEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return d.env.EmbedDocuments(ctx, texts)
}
