package embeddings

import (
	"context"
	"errors"
	"math"
)

type fakeSession struct {
	inputs   []InputSpec
	run      func(inputs []*Tensor) ([]OutputTensor, error)
	received []*Tensor
	calls    int
	closed   bool
}

func (s *fakeSession) Inputs() []InputSpec { return s.inputs }

func (s *fakeSession) Run(ctx context.Context, inputs []*Tensor) ([]OutputTensor, error) {
	s.calls++
	s.received = inputs
	if s.run == nil {
		return nil, errors.New("no outputs configured")
	}
	return s.run(inputs)
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeTokenizer maps each text to a fixed encoding; unknown texts get one
// token per byte.
type fakeTokenizer struct {
	encodings map[string]Encoding
	padID     int64
	err       error
	closed    bool
}

func (t *fakeTokenizer) EncodeBatch(texts []string, addSpecialTokens bool) ([]Encoding, error) {
	if t.err != nil {
		return nil, t.err
	}
	out := make([]Encoding, len(texts))
	for i, text := range texts {
		if enc, ok := t.encodings[text]; ok {
			out[i] = enc
			continue
		}
		enc := Encoding{}
		for _, c := range []byte(text) {
			enc.IDs = append(enc.IDs, uint32(c))
			enc.AttentionMask = append(enc.AttentionMask, 1)
		}
		out[i] = enc
	}
	return out, nil
}

func (t *fakeTokenizer) PadID() (int64, error) { return t.padID, nil }

func (t *fakeTokenizer) Close() error {
	t.closed = true
	return nil
}

func bertInputs() []InputSpec {
	return []InputSpec{
		{Name: InputIDs, ElementType: ElementInt64, Dims: []int64{-1, -1}},
		{Name: InputAttention, ElementType: ElementInt64, Dims: []int64{-1, -1}},
		{Name: InputTokenTypeIDs, ElementType: ElementInt64, Dims: []int64{-1, -1}},
	}
}

// hiddenStates fills a [batch, seq, hidden] tensor where element (b, s, d)
// is value(b, s, d).
func hiddenStates(name string, batch, seq, hidden int, value func(b, s, d int) float32) OutputTensor {
	data := make([]float32, 0, batch*seq*hidden)
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			for d := 0; d < hidden; d++ {
				data = append(data, value(b, s, d))
			}
		}
	}
	return OutputTensor{Name: name, Shape: []int64{int64(batch), int64(seq), int64(hidden)}, Data: data}
}

func l2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
