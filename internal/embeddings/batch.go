package embeddings

// Batch is a rectangular, right-padded view over a set of encodings.
// InputIDs and AttentionMask are flattened row-major [Size, MaxLen] arrays.
type Batch struct {
	Size          int
	MaxLen        int
	InputIDs      []int64
	AttentionMask []int64
	// Masks keeps each row's attention mask padded with 0 to MaxLen, for pooling.
	Masks [][]uint32
	// Lengths holds each row's unpadded token count.
	Lengths []int
}

// NewBatch pads encodings to a common length. ids are padded with padID and
// masks with 0. When every encoding is empty the batch has MaxLen 0 and
// Empty reports true.
func NewBatch(encodings []Encoding, padID int64) *Batch {
	b := &Batch{
		Size:    len(encodings),
		Lengths: make([]int, len(encodings)),
	}
	for i, enc := range encodings {
		b.Lengths[i] = enc.Len()
		if enc.Len() > b.MaxLen {
			b.MaxLen = enc.Len()
		}
	}
	if b.MaxLen == 0 {
		return b
	}

	b.InputIDs = make([]int64, 0, b.Size*b.MaxLen)
	b.AttentionMask = make([]int64, 0, b.Size*b.MaxLen)
	b.Masks = make([][]uint32, 0, b.Size)
	for _, enc := range encodings {
		for _, id := range enc.IDs {
			b.InputIDs = append(b.InputIDs, int64(id))
		}
		for pad := enc.Len(); pad < b.MaxLen; pad++ {
			b.InputIDs = append(b.InputIDs, padID)
		}

		// A mask that disagrees with the id count is fitted to the ids first so
		// every row stays exactly MaxLen wide.
		mask := FitMask(FitMask(enc.AttentionMask, enc.Len()), b.MaxLen)
		for _, m := range mask {
			b.AttentionMask = append(b.AttentionMask, int64(m))
		}
		b.Masks = append(b.Masks, mask)
	}
	return b
}

// Empty reports whether there is nothing to run through the model.
func (b *Batch) Empty() bool {
	return b.Size == 0 || b.MaxLen == 0
}

// TotalTokens returns the number of unpadded tokens across all rows.
func (b *Batch) TotalTokens() int {
	total := 0
	for _, l := range b.Lengths {
		total += l
	}
	return total
}

// Row returns the padded mask for row i as int64 values.
func (b *Batch) Row(i int) []int64 {
	return b.AttentionMask[i*b.MaxLen : (i+1)*b.MaxLen]
}

// FitMask truncates or zero-extends mask to exactly n entries. The input is
// never modified.
func FitMask(mask []uint32, n int) []uint32 {
	out := make([]uint32, n)
	copy(out, mask)
	return out
}
