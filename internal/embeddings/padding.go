package embeddings

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// ReadPadID returns padding.pad_id from a tokenizer.json file, or 0 when the
// tokenizer has no padding configured.
func ReadPadID(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read tokenizer config: %w", err)
	}
	return ParsePadID(data)
}

// ParsePadID is ReadPadID over an in-memory tokenizer.json.
func ParsePadID(data []byte) (int64, error) {
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("%w: tokenizer config is not valid JSON", ErrTokenizationFailed)
	}
	padding := gjson.GetBytes(data, "padding")
	if !padding.IsObject() {
		return 0, nil
	}
	id := padding.Get("pad_id")
	if !id.Exists() {
		return 0, nil
	}
	if id.Type != gjson.Number || id.Int() < 0 {
		return 0, fmt.Errorf("%w: invalid padding.pad_id %s", ErrTokenizationFailed, id.Raw)
	}
	return id.Int(), nil
}
