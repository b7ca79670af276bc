package embeddings

import (
	"time"
)

// Offset is a byte span into the original text.
type Offset struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Encoding is one tokenized text as produced by a Tokenizer.
type Encoding struct {
	IDs               []uint32 `json:"ids"`
	AttentionMask     []uint32 `json:"attention_mask"`
	TypeIDs           []uint32 `json:"type_ids,omitempty"`
	SpecialTokensMask []uint32 `json:"special_tokens_mask,omitempty"`
	Offsets           []Offset `json:"offsets,omitempty"`
}

// Len returns the number of tokens in the encoding.
func (e Encoding) Len() int {
	return len(e.IDs)
}

// InputSpec describes one input declared by a model graph. A negative entry
// in Dims marks a dynamic axis.
type InputSpec struct {
	Name        string
	ElementType ElementType
	Dims        []int64
}

// Rank returns the number of declared axes.
func (s InputSpec) Rank() int {
	return len(s.Dims)
}

// OutputTensor is a named float tensor returned by inference.
type OutputTensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Rank returns the number of axes in the output shape.
func (o OutputTensor) Rank() int {
	return len(o.Shape)
}

// Options configures an Embedder.
type Options struct {
	// TaskID fills task_id inputs (Jina v3 LoRA adapters).
	TaskID           int64          `yaml:"task_id" mapstructure:"task_id"`
	// AddSpecialTokens is passed to the tokenizer. Defaults to true via DefaultOptions.
	AddSpecialTokens bool           `yaml:"add_special_tokens" mapstructure:"add_special_tokens"`
	Runtime          RuntimeOptions `yaml:"runtime" mapstructure:"runtime"`
}

// RuntimeOptions maps onto ONNX Runtime environment and session settings.
type RuntimeOptions struct {
	SharedLibraryPath string `yaml:"shared_library_path" mapstructure:"shared_library_path"`
	IntraOpThreads    int    `yaml:"intra_op_threads" mapstructure:"intra_op_threads"`
	InterOpThreads    int    `yaml:"inter_op_threads" mapstructure:"inter_op_threads"`
	// ParallelExecution is only honoured when InterOpThreads > 0; it defaults to
	// on in that case.
	ParallelExecution *bool  `yaml:"parallel_execution" mapstructure:"parallel_execution"`
	// OptimizationLevel is 0..3; anything above 3 is treated as 3.
	OptimizationLevel *int   `yaml:"optimization_level" mapstructure:"optimization_level"`
}

// DefaultOptions returns the options used by Create when none are given.
func DefaultOptions() Options {
	return Options{AddSpecialTokens: true}
}

// ModelStats tracks embedder usage.
type ModelStats struct {
	Family            string        `json:"family"`
	TotalCalls        int64         `json:"total_calls"`
	TotalTexts        int64         `json:"total_texts"`
	TotalTokens       int64         `json:"total_tokens"`
	FailedCalls       int64         `json:"failed_calls"`
	AvgInferenceTime  time.Duration `json:"avg_inference_time"`
	LastInferenceTime time.Time     `json:"last_inference_time"`
	HiddenSize        int           `json:"hidden_size"`
	StartTime         time.Time     `json:"start_time"`
}
