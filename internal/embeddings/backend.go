package embeddings

import (
	"context"
)

// Session is a loaded model graph in an inference engine.
// Implementations may use ONNX Runtime, TensorRT, or other engines.
type Session interface {
	// Inputs lists the inputs the model declares, in declaration order.
	Inputs() []InputSpec
	// Run executes one inference. inputs carries one tensor per declared input.
	Run(ctx context.Context, inputs []*Tensor) ([]OutputTensor, error)
	// Close releases any native resources.
	Close() error
}

// Tokenizer turns texts into token encodings.
type Tokenizer interface {
	EncodeBatch(texts []string, addSpecialTokens bool) ([]Encoding, error)
	// PadID is the id used to right-pad shorter rows.
	PadID() (int64, error)
	Close() error
}

// NewSession and NewTokenizer are provided by build-tagged files:
// session_onnx.go and tokenizer_hf.go with -tags onnx, backend_stub.go otherwise.
