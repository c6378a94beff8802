package pipeline

import (
	"errors"
	"fmt"
)

// SParam computes a scattering parameter from the down-converted lane pair:
// the reflected lane divided by the reference lane. Output is a single
// complex ratio.
type SParam struct {
	out DataBlock
}

// NewSParam creates an S-parameter node.
func NewSParam() *SParam {
	return &SParam{out: DataBlock{IQ: make([]complex128, 1)}}
}

// Name returns the node name
func (s *SParam) Name() string { return "sparam" }

// Reset is a no-op; the node carries no per-sweep state.
func (s *SParam) Reset() error { return nil }

// Process divides the reflected lane by the reference lane.
func (s *SParam) Process(in *DataBlock) (*DataBlock, error) {
	if in.Len() < 2 {
		return nil, fmt.Errorf("need reference and reflected lanes, got %d samples", in.Len())
	}
	ref, refl := in.IQ[0], in.IQ[1]
	if ref == 0 {
		return nil, errors.New("reference lane is zero")
	}
	s.out.SourceID = in.SourceID
	s.out.Sequence = in.Sequence
	s.out.IQ[0] = refl / ref
	return &s.out, nil
}
