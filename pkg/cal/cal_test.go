package cal

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idealCalibration(t *testing.T, points int) *Calibration {
	t.Helper()

	c, err := New(points)
	require.NoError(t, err)

	open := make([]complex128, points)
	shorted := make([]complex128, points)
	load := make([]complex128, points)
	for i := range open {
		open[i] = complex(1, 0)
		shorted[i] = complex(-1, 0)
		load[i] = complex(0, 0)
	}
	require.NoError(t, c.SetStandardTrace(StandardOpen, open))
	require.NoError(t, c.SetStandardTrace(StandardShort, shorted))
	require.NoError(t, c.SetStandardTrace(StandardLoad, load))
	return c
}

func TestComputeIdealStandards(t *testing.T) {
	// Ideal standards (open=+1, short=-1, load=0) must yield the identity
	// correction: Ed=0, Es=0, Er=1.
	c := idealCalibration(t, 11)
	require.NoError(t, c.Compute())

	terms, err := c.Terms()
	require.NoError(t, err)

	for i := 0; i < c.Points(); i++ {
		assert.InDelta(t, 0, cmplx.Abs(terms.Directivity[i]), 1e-12, "Ed at point %d", i)
		assert.InDelta(t, 0, cmplx.Abs(terms.SourceMatch[i]), 1e-12, "Es at point %d", i)
		assert.InDelta(t, 1, cmplx.Abs(terms.ReflectionTracking[i]), 1e-12, "Er at point %d", i)
	}

	// Identity terms correct nothing.
	gamma := complex(0.3, -0.2)
	corrected, err := c.ApplyReflection(4, gamma)
	require.NoError(t, err)
	assert.InDelta(t, 0, cmplx.Abs(corrected-gamma), 1e-12)
}

func TestComputeRoundTrip(t *testing.T) {
	// Synthesize measurements through a known error model and check that
	// Compute recovers the terms well enough to undo it.
	const points = 5
	ed := complex(0.05, -0.02)
	es := complex(0.10, 0.03)
	er := complex(0.95, 0.05)

	model := func(gamma complex128) complex128 {
		return ed + er*gamma/(1-es*gamma)
	}

	c, err := New(points)
	require.NoError(t, err)

	for i := 0; i < points; i++ {
		require.NoError(t, c.MeasureStandard(StandardOpen, i, model(1)))
		require.NoError(t, c.MeasureStandard(StandardShort, i, model(-1)))
		require.NoError(t, c.MeasureStandard(StandardLoad, i, model(0)))
	}
	require.NoError(t, c.Compute())

	dut := complex(0.4, 0.25)
	corrected, err := c.ApplyReflection(2, model(dut))
	require.NoError(t, err)
	assert.InDelta(t, 0, cmplx.Abs(corrected-dut), 1e-9,
		"correction must invert the error model")
}

func TestComputeMissingStandard(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)

	require.NoError(t, c.MeasureStandard(StandardOpen, 0, 1))
	require.NoError(t, c.MeasureStandard(StandardShort, 0, -1))
	// No load at all, and open/short incomplete.
	err = c.Compute()
	assert.Error(t, err)
}

func TestComputePartialCoverage(t *testing.T) {
	c := idealCalibration(t, 4)
	// Overwrite load with a partially measured run.
	c.covered[StandardLoad][2] = false
	err := c.Compute()
	assert.ErrorContains(t, err, "missing point")
}

func TestTermsImmutableAfterCompute(t *testing.T) {
	c := idealCalibration(t, 3)
	require.NoError(t, c.Compute())

	err := c.MeasureStandard(StandardOpen, 0, complex(0.5, 0))
	assert.ErrorIs(t, err, ErrComputed)

	c.Restart()
	assert.False(t, c.Computed())
	assert.NoError(t, c.MeasureStandard(StandardOpen, 0, complex(0.5, 0)))
}

func TestTwoPortTerms(t *testing.T) {
	const points = 3
	c := idealCalibration(t, points)

	thru := make([]complex128, points)
	iso := make([]complex128, points)
	for i := range thru {
		thru[i] = complex(0.9, 0.1)
		iso[i] = complex(0.01, 0)
	}
	require.NoError(t, c.SetStandardTrace(StandardThru, thru))
	require.NoError(t, c.SetStandardTrace(StandardIsolation, iso))
	require.NoError(t, c.Compute())
	require.True(t, c.TwoPort())

	// A raw measurement equal to the thru measurement corrects to unity
	// transmission.
	s21, err := c.ApplyTransmission(1, thru[1])
	require.NoError(t, err)
	assert.InDelta(t, 0, cmplx.Abs(s21-1), 1e-12)
}

func TestApplyTracePreservesRaw(t *testing.T) {
	c := idealCalibration(t, 3)
	require.NoError(t, c.Compute())

	raw := []complex128{0.1, complex(0.2, 0.1), -0.3}
	orig := make([]complex128, len(raw))
	copy(orig, raw)

	dst := make([]complex128, len(raw))
	require.NoError(t, c.ApplyTrace(dst, raw))
	assert.Equal(t, orig, raw, "raw trace must remain untouched")
}

func TestParseStandard(t *testing.T) {
	for _, name := range []string{"open", "short", "load", "thru", "isolation"} {
		std, err := ParseStandard(name)
		require.NoError(t, err)
		assert.Equal(t, name, std.String())
	}
	_, err := ParseStandard("banana")
	assert.Error(t, err)
}
