package pipeline

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvna/vnad/pkg/cal"
)

// synthesize fills an interleaved two-lane capture with an IF tone on the
// reference lane and gamma times that tone on the reflected lane.
func synthesize(pairs int, sampleRate, ifFreq float64, gamma complex128) []complex128 {
	buf := make([]complex128, 2*pairs)
	for k := 0; k < pairs; k++ {
		tone := cmplx.Exp(complex(0, 2*math.Pi*ifFreq*float64(k)/sampleRate))
		buf[2*k] = tone
		buf[2*k+1] = gamma * tone
	}
	return buf
}

func TestDDCRecoversRatio(t *testing.T) {
	const (
		sampleRate = 48000.0
		ifFreq     = 6000.0
		pairs      = 256
	)
	gamma := complex(0.5, -0.25)

	ddc, err := NewDDC(sampleRate, ifFreq)
	require.NoError(t, err)
	sp := NewSParam()

	block := &DataBlock{Sequence: 7, IQ: synthesize(pairs, sampleRate, ifFreq, gamma)}
	out, err := ddc.Process(block)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, 7, out.Sequence, "sequence must survive down-conversion")

	final, err := sp.Process(out)
	require.NoError(t, err)
	require.Equal(t, 1, final.Len())
	assert.InDelta(t, 0, cmplx.Abs(final.IQ[0]-gamma), 1e-9,
		"ratio of reflected to reference must recover gamma")
}

func TestDDCRejectsOddBlock(t *testing.T) {
	ddc, err := NewDDC(48000, 6000)
	require.NoError(t, err)

	_, err = ddc.Process(&DataBlock{IQ: make([]complex128, 3)})
	assert.Error(t, err)

	_, err = ddc.Process(&DataBlock{})
	assert.Error(t, err)
}

func TestSParamRejectsZeroReference(t *testing.T) {
	sp := NewSParam()
	_, err := sp.Process(&DataBlock{IQ: []complex128{0, 1}})
	assert.Error(t, err)
}

func TestCalApplyPassThroughWithoutCalibration(t *testing.T) {
	// No calibration attached: output is bit-for-bit the input block.
	node := NewCalApply()
	in := &DataBlock{Sequence: 2, IQ: []complex128{complex(0.25, -0.125)}}
	out, err := node.Process(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Equal(t, complex(0.25, -0.125), out.IQ[0])
}

func TestCalApplyCorrects(t *testing.T) {
	c, err := cal.New(4)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		// Error model with pure directivity offset 0.1.
		require.NoError(t, c.MeasureStandard(cal.StandardOpen, i, complex(1.1, 0)))
		require.NoError(t, c.MeasureStandard(cal.StandardShort, i, complex(-0.9, 0)))
		require.NoError(t, c.MeasureStandard(cal.StandardLoad, i, complex(0.1, 0)))
	}
	require.NoError(t, c.Compute())

	node := NewCalApply()
	node.SetCalibration(c)

	raw := complex(0.6, 0)
	in := &DataBlock{Sequence: 1, IQ: []complex128{raw}}
	out, err := node.Process(in)
	require.NoError(t, err)
	require.NotSame(t, in, out)
	assert.InDelta(t, 0, cmplx.Abs(out.IQ[0]-complex(0.5, 0)), 1e-12,
		"directivity offset must be removed")
	assert.Equal(t, raw, in.IQ[0], "raw block must remain untouched")
}
