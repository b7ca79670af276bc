package embeddings

import (
	"fmt"
	"strings"
)

// Declared input names with a dedicated synthesis rule.
const (
	InputIDs          = "input_ids"
	InputAttention    = "attention_mask"
	InputPositionIDs  = "position_ids"
	InputCachePos     = "cache_position"
	InputTokenTypeIDs = "token_type_ids"
	InputTaskID       = "task_id"
	InputPastPrefix   = "past_key_values"
)

// SynthOptions carries caller-chosen values for inputs that are not derived
// from the batch.
type SynthOptions struct {
	TaskID int64
}

// SynthesizeInputs builds one tensor per declared input, in declaration
// order. Batch-derived inputs reuse b; everything else is synthesized with a
// shape resolved against the declared extents.
func SynthesizeInputs(specs []InputSpec, b *Batch, opts SynthOptions) ([]*Tensor, error) {
	batch := int64(b.Size)
	maxLen := int64(b.MaxLen)

	tensors := make([]*Tensor, 0, len(specs))
	for _, spec := range specs {
		t, err := synthesizeInput(spec, b, batch, maxLen, opts)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", spec.Name, err)
		}
		t.Name = spec.Name
		tensors = append(tensors, t)
	}
	return tensors, nil
}

func synthesizeInput(spec InputSpec, b *Batch, batch, maxLen int64, opts SynthOptions) (*Tensor, error) {
	switch {
	case spec.Name == InputIDs:
		return CastInt64(spec.ElementType, ResolveShape(spec.Dims, []int64{batch, maxLen}), b.InputIDs)

	case spec.Name == InputAttention:
		return synthesizeAttentionMask(spec, b, batch, maxLen)

	case spec.Name == InputPositionIDs || spec.Name == InputCachePos:
		positions := make([]int64, maxLen)
		for i := range positions {
			positions[i] = int64(i)
		}
		if spec.Rank() == 1 {
			if batch > 1 {
				return nil, fmt.Errorf("%w: %s rank 1 with batch %d", ErrRankIncompatible, spec.Name, batch)
			}
			return CastInt64(spec.ElementType, ResolveShape(spec.Dims, []int64{maxLen}), positions)
		}
		data := make([]int64, 0, batch*maxLen)
		for i := int64(0); i < batch; i++ {
			data = append(data, positions...)
		}
		return CastInt64(spec.ElementType, ResolveShape(spec.Dims, []int64{batch, maxLen}), data)

	case spec.Name == InputTokenTypeIDs:
		return Zeros(spec.ElementType, ResolveShape(spec.Dims, []int64{batch, maxLen}))

	case spec.Name == InputTaskID:
		fallback := []int64{batch}
		if spec.Rank() == 0 {
			fallback = []int64{}
		}
		shape := ResolveShape(spec.Dims, fallback)
		n, err := NumElements(shape)
		if err != nil {
			return nil, err
		}
		data := make([]int64, n)
		for i := range data {
			data[i] = opts.TaskID
		}
		return CastInt64(spec.ElementType, shape, data)

	case strings.HasPrefix(spec.Name, InputPastPrefix):
		return Zeros(spec.ElementType, ResolvePastKVShape(spec.Dims, batch))

	default:
		var fallback []int64
		switch spec.Rank() {
		case 1:
			fallback = []int64{maxLen}
		case 2:
			fallback = []int64{batch, maxLen}
		default:
			fallback = make([]int64, spec.Rank())
			for i := range fallback {
				fallback[i] = 1
			}
		}
		return Zeros(spec.ElementType, ResolveShape(spec.Dims, fallback))
	}
}

func synthesizeAttentionMask(spec InputSpec, b *Batch, batch, maxLen int64) (*Tensor, error) {
	switch spec.Rank() {
	case 1:
		if batch > 1 {
			return nil, fmt.Errorf("%w: attention_mask rank 1 with batch %d", ErrRankIncompatible, batch)
		}
		return CastInt64(spec.ElementType, ResolveShape(spec.Dims, []int64{maxLen}), b.AttentionMask[:maxLen])
	case 4:
		// Every query position sees the same key mask for its row.
		data := make([]int64, 0, batch*maxLen*maxLen)
		for i := 0; i < b.Size; i++ {
			row := b.Row(i)
			for q := int64(0); q < maxLen; q++ {
				data = append(data, row...)
			}
		}
		return CastInt64(spec.ElementType, ResolveShape(spec.Dims, []int64{batch, 1, maxLen, maxLen}), data)
	default:
		return CastInt64(spec.ElementType, ResolveShape(spec.Dims, []int64{batch, maxLen}), b.AttentionMask)
	}
}

// ResolveShape keeps every fixed (non-negative) declared extent and fills
// dynamic ones from fallback. A declared rank that differs from the fallback
// rank yields the fallback unchanged.
func ResolveShape(dims []int64, fallback []int64) []int64 {
	if len(dims) != len(fallback) {
		return append([]int64{}, fallback...)
	}
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d >= 0 {
			out[i] = d
		} else {
			out[i] = fallback[i]
		}
	}
	return out
}

// ResolvePastKVShape resolves an empty key/value cache placeholder: the
// leading axis is the batch, the second-from-last is the cached sequence
// length (0) and any other dynamic axis is 1.
func ResolvePastKVShape(dims []int64, batch int64) []int64 {
	rank := len(dims)
	out := make([]int64, rank)
	for i, d := range dims {
		switch {
		case d >= 0:
			out[i] = d
		case i == 0:
			out[i] = batch
		case i == rank-2:
			out[i] = 0
		default:
			out[i] = 1
		}
	}
	return out
}

// CheckDeclaredBatch fails when the model fixes the input_ids batch axis to a
// value other than n.
func CheckDeclaredBatch(specs []InputSpec, n int) error {
	for _, spec := range specs {
		if spec.Name != InputIDs {
			continue
		}
		if spec.Rank() > 0 && spec.Dims[0] > 0 && spec.Dims[0] != int64(n) {
			return fmt.Errorf("%w: model fixes input_ids batch to %d, got %d", ErrBatchSizeMismatch, spec.Dims[0], n)
		}
		return nil
	}
	return nil
}
