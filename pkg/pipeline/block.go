// Package pipeline implements the zero-copy signal processing chain that
// turns raw receiver samples into calibrated S-parameters. Blocks borrow
// their buffers from whichever component captured the data; nothing in the
// chain duplicates or retains them past one Run.
package pipeline

// DataBlock describes one sweep point's worth of samples. The IQ slice is
// borrowed: its backing buffer belongs to the channel or to the receiver
// driver, and the block is only valid for the duration of one chain run.
type DataBlock struct {
	SourceID int
	Sequence int
	IQ       []complex128
}

// Len returns the number of complex samples in the block.
func (b *DataBlock) Len() int {
	return len(b.IQ)
}
