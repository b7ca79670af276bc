package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoRowBatch() *Batch {
	return NewBatch([]Encoding{
		{IDs: []uint32{10, 11, 12}, AttentionMask: []uint32{1, 1, 1}},
		{IDs: []uint32{20, 21}, AttentionMask: []uint32{1, 1}},
	}, 0)
}

func oneRowBatch() *Batch {
	return NewBatch([]Encoding{
		{IDs: []uint32{10, 11, 12}, AttentionMask: []uint32{1, 1, 1}},
	}, 0)
}

func TestSynthesizeInputs(t *testing.T) {
	t.Run("bert style inputs keep declaration order", func(t *testing.T) {
		specs := []InputSpec{
			{Name: InputTokenTypeIDs, ElementType: ElementInt64, Dims: []int64{-1, -1}},
			{Name: InputIDs, ElementType: ElementInt64, Dims: []int64{-1, -1}},
			{Name: InputAttention, ElementType: ElementInt64, Dims: []int64{-1, -1}},
		}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		require.NoError(t, err)
		require.Len(t, tensors, 3)

		assert.Equal(t, InputTokenTypeIDs, tensors[0].Name)
		assert.Equal(t, make([]int64, 6), tensors[0].Data)
		assert.Equal(t, []int64{2, 3}, tensors[0].Shape)

		assert.Equal(t, InputIDs, tensors[1].Name)
		assert.Equal(t, []int64{10, 11, 12, 20, 21, 0}, tensors[1].Data)

		assert.Equal(t, InputAttention, tensors[2].Name)
		assert.Equal(t, []int64{1, 1, 1, 1, 1, 0}, tensors[2].Data)
	})

	t.Run("declared element types are honoured", func(t *testing.T) {
		specs := []InputSpec{
			{Name: InputIDs, ElementType: ElementInt32, Dims: []int64{-1, -1}},
			{Name: InputAttention, ElementType: ElementBool, Dims: []int64{-1, -1}},
		}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int32{10, 11, 12, 20, 21, 0}, tensors[0].Data)
		assert.Equal(t, []bool{true, true, true, true, true, false}, tensors[1].Data)
	})

	t.Run("rank 4 attention mask is broadcast per query position", func(t *testing.T) {
		specs := []InputSpec{{Name: InputAttention, ElementType: ElementInt64, Dims: []int64{-1, -1, -1, -1}}}
		b := NewBatch([]Encoding{
			{IDs: []uint32{1, 2}, AttentionMask: []uint32{1, 1}},
			{IDs: []uint32{1}, AttentionMask: []uint32{1}},
		}, 0)
		tensors, err := SynthesizeInputs(specs, b, SynthOptions{})
		require.NoError(t, err)

		assert.Equal(t, []int64{2, 1, 2, 2}, tensors[0].Shape)
		assert.Equal(t, []int64{1, 1, 1, 1, 1, 0, 1, 0}, tensors[0].Data)
	})

	t.Run("rank 1 attention mask", func(t *testing.T) {
		specs := []InputSpec{{Name: InputAttention, ElementType: ElementInt64, Dims: []int64{-1}}}

		tensors, err := SynthesizeInputs(specs, oneRowBatch(), SynthOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{3}, tensors[0].Shape)

		_, err = SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		assert.ErrorIs(t, err, ErrRankIncompatible)
	})

	t.Run("position ids", func(t *testing.T) {
		specs := []InputSpec{{Name: InputPositionIDs, ElementType: ElementInt64, Dims: []int64{-1, -1}}}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, tensors[0].Shape)
		assert.Equal(t, []int64{0, 1, 2, 0, 1, 2}, tensors[0].Data)
	})

	t.Run("rank 1 cache position", func(t *testing.T) {
		specs := []InputSpec{{Name: InputCachePos, ElementType: ElementInt64, Dims: []int64{-1}}}

		tensors, err := SynthesizeInputs(specs, oneRowBatch(), SynthOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 1, 2}, tensors[0].Data)

		_, err = SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		assert.ErrorIs(t, err, ErrRankIncompatible)
	})

	t.Run("task id is filled per row", func(t *testing.T) {
		specs := []InputSpec{{Name: InputTaskID, ElementType: ElementInt64, Dims: []int64{-1}}}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{TaskID: 4})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, tensors[0].Shape)
		assert.Equal(t, []int64{4, 4}, tensors[0].Data)
	})

	t.Run("scalar task id", func(t *testing.T) {
		specs := []InputSpec{{Name: InputTaskID, ElementType: ElementInt64, Dims: []int64{}}}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{TaskID: 1})
		require.NoError(t, err)
		assert.Empty(t, tensors[0].Shape)
		assert.True(t, tensors[0].IsScalar())
		assert.Equal(t, []int64{1}, tensors[0].Data)
	})

	t.Run("past key values are empty caches", func(t *testing.T) {
		specs := []InputSpec{{Name: "past_key_values.0.key", ElementType: ElementFloat32, Dims: []int64{-1, 8, -1, 64}}}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 8, 0, 64}, tensors[0].Shape)
		assert.Equal(t, 0, tensors[0].Len())
		assert.False(t, tensors[0].IsScalar())
	})

	t.Run("unknown inputs are zero filled", func(t *testing.T) {
		specs := []InputSpec{
			{Name: "extra_1d", ElementType: ElementInt64, Dims: []int64{-1}},
			{Name: "extra_2d", ElementType: ElementFloat32, Dims: []int64{-1, -1}},
			{Name: "extra_3d", ElementType: ElementInt64, Dims: []int64{-1, 5, -1}},
		}
		tensors, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{3}, tensors[0].Shape)
		assert.Equal(t, []int64{2, 3}, tensors[1].Shape)
		assert.Equal(t, make([]float32, 6), tensors[1].Data)
		assert.Equal(t, []int64{1, 5, 1}, tensors[2].Shape)
	})

	t.Run("unsupported dtype names the input", func(t *testing.T) {
		specs := []InputSpec{{Name: InputIDs, ElementType: ElementString, Dims: []int64{-1, -1}}}
		_, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		assert.ErrorIs(t, err, ErrUnsupportedDtype)
		assert.Contains(t, err.Error(), InputIDs)
	})

	t.Run("fixed extent that disagrees with the batch", func(t *testing.T) {
		specs := []InputSpec{{Name: InputIDs, ElementType: ElementInt64, Dims: []int64{1, -1}}}
		_, err := SynthesizeInputs(specs, twoRowBatch(), SynthOptions{})
		assert.ErrorIs(t, err, ErrInvalidShape)
	})
}

func TestResolveShape(t *testing.T) {
	assert.Equal(t, []int64{2, 7}, ResolveShape([]int64{-1, -1}, []int64{2, 7}))
	assert.Equal(t, []int64{2, 512}, ResolveShape([]int64{-1, 512}, []int64{2, 7}))
	assert.Equal(t, []int64{2, 7}, ResolveShape([]int64{-1}, []int64{2, 7}))
	assert.Equal(t, []int64{2, 7}, ResolveShape(nil, []int64{2, 7}))
}

func TestResolvePastKVShape(t *testing.T) {
	assert.Equal(t, []int64{3, 8, 0, 64}, ResolvePastKVShape([]int64{-1, 8, -1, 64}, 3))
	assert.Equal(t, []int64{3, 1, 0, 1}, ResolvePastKVShape([]int64{-1, -1, -1, -1}, 3))
	assert.Equal(t, []int64{2, 4, 16, 64}, ResolvePastKVShape([]int64{2, 4, 16, 64}, 3))
}

func TestCheckDeclaredBatch(t *testing.T) {
	dynamic := []InputSpec{{Name: InputIDs, Dims: []int64{-1, -1}}}
	fixed := []InputSpec{{Name: InputIDs, Dims: []int64{1, -1}}}

	assert.NoError(t, CheckDeclaredBatch(dynamic, 4))
	assert.NoError(t, CheckDeclaredBatch(fixed, 1))
	assert.ErrorIs(t, CheckDeclaredBatch(fixed, 2), ErrBatchSizeMismatch)
	assert.NoError(t, CheckDeclaredBatch([]InputSpec{{Name: InputAttention, Dims: []int64{1, -1}}}, 2))
}
