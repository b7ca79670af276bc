package embeddings

import (
	"fmt"

	"go.uber.org/zap"
)

// ServiceConfig selects a model family and the files it is loaded from.
type ServiceConfig struct {
	Family        string  `yaml:"family" mapstructure:"family"`                 // Model family (bge, minilm, jina_v3, gemma, qwen3)
	ModelPath     string  `yaml:"model_path" mapstructure:"model_path"`         // Path to model.onnx
	TokenizerPath string  `yaml:"tokenizer_path" mapstructure:"tokenizer_path"` // Path to tokenizer.json
	Options       Options `yaml:",inline" mapstructure:",squash"`
}

// Factory creates embedders from configuration.
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new embedder factory
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		logger: logger,
	}
}

// CreateEmbedder validates config and loads the model it names.
func (f *Factory) CreateEmbedder(config ServiceConfig) (*Embedder, error) {
	if err := ValidateServiceConfig(config); err != nil {
		return nil, err
	}
	family, _ := ParseFamily(config.Family)

	opts := config.Options
	e, err := Create(family, config.ModelPath, config.TokenizerPath, &opts, f.logger)
	if err != nil {
		f.logger.Error("Failed to create embedder",
			zap.String("family", string(family)),
			zap.String("model", config.ModelPath),
			zap.Error(err))
		return nil, err
	}
	f.logger.Info("Created embedder",
		zap.String("family", string(family)),
		zap.String("model", config.ModelPath))
	return e, nil
}

// ValidateServiceConfig validates the embedder configuration
func ValidateServiceConfig(config ServiceConfig) error {
	if _, err := ParseFamily(config.Family); err != nil {
		return err
	}
	if config.ModelPath == "" {
		return fmt.Errorf("%w: model_path is required", ErrConfigError)
	}
	if config.TokenizerPath == "" {
		return fmt.Errorf("%w: tokenizer_path is required", ErrConfigError)
	}
	if config.Options.TaskID < 0 {
		return fmt.Errorf("%w: task_id must not be negative", ErrConfigError)
	}
	rt := config.Options.Runtime
	if rt.IntraOpThreads < 0 || rt.InterOpThreads < 0 {
		return fmt.Errorf("%w: thread counts must not be negative", ErrConfigError)
	}
	if rt.OptimizationLevel != nil && *rt.OptimizationLevel < 0 {
		return fmt.Errorf("%w: optimization_level must be 0..3", ErrConfigError)
	}
	return nil
}

// GetServiceDescription describes what each family expects from the model graph.
func GetServiceDescription(family Family) string {
	switch family {
	case FamilyBGE:
		return "BGE: pooled sentence embedding, or CLS token of last_hidden_state. Queries get an instruction prefix."
	case FamilyMiniLM:
		return "MiniLM: mean pooling over last_hidden_state. No prefixes."
	case FamilyJinaV3:
		return "Jina v3: mean pooling over last_hidden_state with a task_id adapter input."
	case FamilyGemma:
		return "EmbeddingGemma: raw sentence_embedding output with task prefixes."
	case FamilyQwen3:
		return "Qwen3: pooled output, or last real token of last_hidden_state. Queries get an instruction prefix."
	default:
		return "Unknown model family"
	}
}

// CreateDefaultConfig creates a default configuration for a family.
func CreateDefaultConfig(family Family) ServiceConfig {
	return ServiceConfig{
		Family:        string(family),
		ModelPath:     "./models/" + string(family) + "/model.onnx",
		TokenizerPath: "./models/" + string(family) + "/tokenizer.json",
		Options:       DefaultOptions(),
	}
}
