package embeddings

import (
	"fmt"
)

// Pool selects the embedding tensor from the inference outputs according to
// the family policy and reduces it to one vector per batch row.
func Pool(outputs []OutputTensor, b *Batch, policy FamilyPolicy) ([][]float32, error) {
	byName := make(map[string]OutputTensor, len(outputs))
	for _, o := range outputs {
		byName[o.Name] = o
	}

	// Only the named per-token output outranks the pooled aliases. An
	// anonymous rank-3 output is a last resort below.
	if policy.PreferPerToken {
		if t, ok := byName[OutputLastHiddenState]; ok {
			return poolPerToken(t, b, policy)
		}
	}

	for _, key := range policy.PooledOutputs {
		t, ok := byName[key]
		if !ok {
			continue
		}
		switch t.Rank() {
		case 2:
			return slicePooled(t, b, policy)
		case 3:
			if policy.Pooling != PoolNone {
				return poolPerToken(t, b, policy)
			}
		}
		return nil, fmt.Errorf("%w: output %q has shape %v", ErrInvalidShape, t.Name, t.Shape)
	}

	if policy.Pooling != PoolNone {
		if t, ok := perTokenOutput(outputs, byName); ok {
			return poolPerToken(t, b, policy)
		}
	}
	return nil, fmt.Errorf("%w: family %s, outputs %v", ErrMissingOutputTensor, policy.Family, outputNames(outputs))
}

// perTokenOutput prefers last_hidden_state and otherwise accepts the only
// rank-3 output, if there is exactly one.
func perTokenOutput(outputs []OutputTensor, byName map[string]OutputTensor) (OutputTensor, bool) {
	if t, ok := byName[OutputLastHiddenState]; ok {
		return t, true
	}
	var found OutputTensor
	count := 0
	for _, o := range outputs {
		if o.Rank() == 3 {
			found = o
			count++
		}
	}
	return found, count == 1
}

func slicePooled(t OutputTensor, b *Batch, policy FamilyPolicy) ([][]float32, error) {
	dims, err := outputDims(t)
	if err != nil {
		return nil, err
	}
	if dims[0] != b.Size {
		return nil, fmt.Errorf("%w: output %q has %d rows, expected %d", ErrBatchSizeMismatch, t.Name, dims[0], b.Size)
	}
	hidden := dims[1]

	results := make([][]float32, b.Size)
	for i := 0; i < b.Size; i++ {
		start, end := i*hidden, (i+1)*hidden
		if end > len(t.Data) {
			return nil, fmt.Errorf("%w: row %d slice [%d:%d] outside %d values", ErrInvalidShape, i, start, end, len(t.Data))
		}
		results[i] = finish(t.Data[start:end], policy)
	}
	return results, nil
}

func poolPerToken(t OutputTensor, b *Batch, policy FamilyPolicy) ([][]float32, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("%w: per-token output %q has shape %v", ErrInvalidShape, t.Name, t.Shape)
	}
	dims, err := outputDims(t)
	if err != nil {
		return nil, err
	}
	if dims[0] != b.Size {
		return nil, fmt.Errorf("%w: output %q has %d rows, expected %d", ErrBatchSizeMismatch, t.Name, dims[0], b.Size)
	}
	seq, hidden := dims[1], dims[2]

	results := make([][]float32, b.Size)
	for i := 0; i < b.Size; i++ {
		mask := FitMask(b.Masks[i], seq)
		var pooled []float32
		switch policy.Pooling {
		case PoolMean:
			start, end := i*seq*hidden, (i+1)*seq*hidden
			if end > len(t.Data) {
				return nil, fmt.Errorf("%w: row %d slice [%d:%d] outside %d values", ErrInvalidShape, i, start, end, len(t.Data))
			}
			pooled = MeanPool(t.Data[start:end], seq, hidden, mask)
		case PoolCLS, PoolLastToken:
			idx := 0
			if policy.Pooling == PoolLastToken {
				idx = LastTokenIndex(mask)
			}
			start := (i*seq + idx) * hidden
			end := start + hidden
			if seq == 0 || end > len(t.Data) {
				return nil, fmt.Errorf("%w: row %d token %d slice [%d:%d] outside %d values", ErrInvalidShape, i, idx, start, end, len(t.Data))
			}
			pooled = t.Data[start:end]
		default:
			return nil, fmt.Errorf("%w: family %s has no pooling for per-token output %q", ErrMissingOutputTensor, policy.Family, t.Name)
		}
		results[i] = finish(pooled, policy)
	}
	return results, nil
}

// MeanPool averages the rows of a [seq, hidden] block whose mask bit is set.
// An all-zero mask yields a zero vector.
func MeanPool(block []float32, seq, hidden int, mask []uint32) []float32 {
	pooled := make([]float32, hidden)
	var count float32
	for s := 0; s < seq && s < len(mask); s++ {
		if mask[s] == 0 {
			continue
		}
		row := block[s*hidden : (s+1)*hidden]
		for d, v := range row {
			pooled[d] += v
		}
		count++
	}
	if count > 0 {
		for d := range pooled {
			pooled[d] /= count
		}
	}
	return pooled
}

// LastTokenIndex returns the highest index whose mask bit is 1, or the last
// index when the mask is all zero.
func LastTokenIndex(mask []uint32) int {
	for i := len(mask) - 1; i >= 0; i-- {
		if mask[i] == 1 {
			return i
		}
	}
	return max(len(mask)-1, 0)
}

func finish(v []float32, policy FamilyPolicy) []float32 {
	if policy.Normalize {
		return Normalize(v)
	}
	return append([]float32(nil), v...)
}

func outputDims(t OutputTensor) ([]int, error) {
	dims := make([]int, len(t.Shape))
	for i, d := range t.Shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: output %q has negative extent in %v", ErrInvalidShape, t.Name, t.Shape)
		}
		dims[i] = int(d)
	}
	return dims, nil
}

func outputNames(outputs []OutputTensor) []string {
	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Name
	}
	return names
}
