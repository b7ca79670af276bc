//go:build !onnx
// +build !onnx

package embeddings

import (
	"go.uber.org/zap"
)

// NewSession is unavailable without the 'onnx' build tag.
func NewSession(modelPath string, rt RuntimeOptions, logger *zap.Logger) (Session, error) {
	return nil, ErrBackendNotBuilt
}

// NewTokenizer is unavailable without the 'onnx' build tag.
func NewTokenizer(path string) (Tokenizer, error) {
	return nil, ErrBackendNotBuilt
}
