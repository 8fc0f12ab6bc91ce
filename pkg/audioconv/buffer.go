package audioconv

// Buffer accumulates capture blocks in arrival order until drained.
type Buffer struct {
	blocks [][]float32
	n      int
}

func NewBuffer() *Buffer { return &Buffer{} }

// Append copies block into the buffer. Capture drivers reuse their read
// buffer, so the caller's slice is never retained.
func (b *Buffer) Append(block []float32) {
	if len(block) == 0 {
		return
	}
	c := make([]float32, len(block))
	copy(c, block)
	b.blocks = append(b.blocks, c)
	b.n += len(c)
}

// Len returns the number of samples appended since the last drain.
func (b *Buffer) Len() int { return b.n }

// Drain returns every sample appended since the last drain as one
// contiguous slice and clears the buffer.
func (b *Buffer) Drain() []float32 {
	out := make([]float32, 0, b.n)
	for _, blk := range b.blocks {
		out = append(out, blk...)
	}
	b.blocks = nil
	b.n = 0
	return out
}
