package embeddings

// EmbeddingError is a typed error kind. Call sites wrap the sentinels below
// with fmt.Errorf("%w: ...") so callers can match them with errors.Is.
type EmbeddingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Error kinds surfaced by Embed and its helpers.
var (
	ErrTokenizationFailed  = &EmbeddingError{Type: "tokenization_failed", Message: "tokenization failed", Code: 1008}
	ErrBatchSizeMismatch   = &EmbeddingError{Type: "batch_size_mismatch", Message: "batch size mismatch", Code: 1011}
	ErrUnsupportedDtype    = &EmbeddingError{Type: "unsupported_dtype", Message: "unsupported tensor element type", Code: 1012}
	ErrMissingOutputTensor = &EmbeddingError{Type: "missing_output_tensor", Message: "no embedding tensor found in outputs", Code: 1013}
	ErrInvalidShape        = &EmbeddingError{Type: "invalid_shape", Message: "invalid tensor shape", Code: 1014}
	ErrRankIncompatible    = &EmbeddingError{Type: "rank_incompatible", Message: "input rank is not batch-compatible", Code: 1015}

	ErrInvalidInput      = &EmbeddingError{Type: "invalid_input", Message: "invalid input", Code: 1001}
	ErrModelNotLoaded    = &EmbeddingError{Type: "model_not_loaded", Message: "model not loaded", Code: 1002}
	ErrInferenceFailed   = &EmbeddingError{Type: "inference_failed", Message: "inference failed", Code: 1003}
	ErrConfigError       = &EmbeddingError{Type: "config_error", Message: "configuration error", Code: 1005}
	ErrBackendNotBuilt   = &EmbeddingError{Type: "backend_not_built", Message: "onnx backend not compiled in (build with -tags onnx)", Code: 1016}
	ErrDimensionMismatch = &EmbeddingError{Type: "dimension_mismatch", Message: "vectors must have the same length", Code: 1017}
	ErrZeroVector        = &EmbeddingError{Type: "zero_vector", Message: "cannot compute cosine distance on zero vectors", Code: 1018}
)
