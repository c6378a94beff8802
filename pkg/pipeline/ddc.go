package pipeline

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
)

// DDC digitally down-converts one capture buffer to a pair of complex
// amplitudes. The input block interleaves the two receiver lanes as
// [ref0, refl0, ref1, refl1, ...]; both lanes carry the stimulus mixed down
// to the intermediate frequency. The output block holds two samples:
// index 0 the reference lane, index 1 the reflected lane.
type DDC struct {
	sampleRate float64
	ifFreq     float64

	win []float64 // Hann coefficients, rebuilt when the capture size changes
	out DataBlock
}

// NewDDC creates a down-converter for captures taken at the given sample
// rate with the stimulus at the given intermediate frequency.
func NewDDC(sampleRate, ifFreq float64) (*DDC, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %v", sampleRate)
	}
	return &DDC{
		sampleRate: sampleRate,
		ifFreq:     ifFreq,
		out:        DataBlock{IQ: make([]complex128, 2)},
	}, nil
}

// Name returns the node name
func (d *DDC) Name() string { return "ddc" }

// Reset discards the cached window.
func (d *DDC) Reset() error {
	d.win = nil
	return nil
}

// Process mixes both lanes against the IF reference and averages them under
// a Hann window.
func (d *DDC) Process(in *DataBlock) (*DataBlock, error) {
	n := in.Len()
	if n == 0 {
		return nil, errors.New("empty block")
	}
	if n%2 != 0 {
		return nil, fmt.Errorf("block of %d samples does not interleave two lanes", n)
	}

	pairs := n / 2
	if len(d.win) != pairs {
		d.win = window.Hann(pairs)
	}

	var ref, refl complex128
	var wsum float64
	omega := 2 * math.Pi * d.ifFreq / d.sampleRate
	for k := 0; k < pairs; k++ {
		lo := cmplx.Exp(complex(0, -omega*float64(k)))
		w := complex(d.win[k], 0)
		ref += in.IQ[2*k] * lo * w
		refl += in.IQ[2*k+1] * lo * w
		wsum += d.win[k]
	}
	if wsum == 0 {
		return nil, errors.New("degenerate window")
	}

	norm := complex(wsum, 0)
	d.out.SourceID = in.SourceID
	d.out.Sequence = in.Sequence
	d.out.IQ[0] = ref / norm
	d.out.IQ[1] = refl / norm
	return &d.out, nil
}
