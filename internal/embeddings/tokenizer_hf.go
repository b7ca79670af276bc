//go:build onnx
// +build onnx

package embeddings

import (
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"
)

// HFTokenizer wraps a Hugging Face tokenizer.json (via daulet/tokenizers).
type HFTokenizer struct {
	tk    *tokenizers.Tokenizer
	padID int64
	mu    sync.Mutex
}

// NewTokenizer loads a tokenizer.json file. Requires build tag 'onnx'.
func NewTokenizer(path string) (Tokenizer, error) {
	padID, err := ReadPadID(path)
	if err != nil {
		return nil, err
	}
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenizationFailed, err)
	}
	return &HFTokenizer{tk: tk, padID: padID}, nil
}

// EncodeBatch tokenizes each text independently.
func (t *HFTokenizer) EncodeBatch(texts []string, addSpecialTokens bool) ([]Encoding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tk == nil {
		return nil, fmt.Errorf("%w: tokenizer closed", ErrTokenizationFailed)
	}
	out := make([]Encoding, len(texts))
	for i, text := range texts {
		enc := t.tk.EncodeWithOptions(text, addSpecialTokens,
			tokenizers.WithReturnAttentionMask(),
			tokenizers.WithReturnTypeIDs(),
			tokenizers.WithReturnSpecialTokensMask(),
			tokenizers.WithReturnOffsets(),
		)
		offsets := make([]Offset, len(enc.Offsets))
		for j, o := range enc.Offsets {
			offsets[j] = Offset{Start: uint32(o[0]), End: uint32(o[1])}
		}
		out[i] = Encoding{
			IDs:               enc.IDs,
			AttentionMask:     enc.AttentionMask,
			TypeIDs:           enc.TypeIDs,
			SpecialTokensMask: enc.SpecialTokensMask,
			Offsets:           offsets,
		}
	}
	return out, nil
}

// PadID returns the pad id from the tokenizer's padding config.
func (t *HFTokenizer) PadID() (int64, error) {
	return t.padID, nil
}

// Close frees the native tokenizer.
func (t *HFTokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tk == nil {
		return nil
	}
	err := t.tk.Close()
	t.tk = nil
	return err
}
