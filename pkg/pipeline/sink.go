package pipeline

// Sink accepts a finished block of S-parameter samples. Implementations
// must copy what they need before returning; the buffer is not theirs to
// keep.
type Sink interface {
	CopyData(point int, data []complex128) error
}

// TraceSink is the terminal chain node. It hands the processed block to the
// external sink under the copy contract and forwards the block unchanged,
// so a chain's final output remains inspectable.
type TraceSink struct {
	sink Sink
}

// NewTraceSink wraps an external sink as a chain node.
func NewTraceSink(sink Sink) *TraceSink {
	return &TraceSink{sink: sink}
}

// Name returns the node name
func (t *TraceSink) Name() string { return "sink" }

// Reset is a no-op.
func (t *TraceSink) Reset() error { return nil }

// Process delivers the block to the sink.
func (t *TraceSink) Process(in *DataBlock) (*DataBlock, error) {
	if t.sink != nil {
		if err := t.sink.CopyData(in.Sequence, in.IQ); err != nil {
			return nil, err
		}
	}
	return in, nil
}
