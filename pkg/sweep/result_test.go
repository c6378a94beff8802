package sweep

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestTouchstoneFormat(t *testing.T) {
	res := Result{
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Start:       1e6,
		Stop:        3e6,
		Points:      3,
		Frequencies: []float64{1e6, 2e6, 3e6},
		S11:         []complex128{complex(0.5, 0), complex(0, -0.25), complex(-1, 0)},
	}

	ts := res.Touchstone()
	lines := strings.Split(strings.TrimSpace(ts), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), ts)
	}
	if !strings.HasPrefix(lines[0], "!") || !strings.Contains(lines[1], "2026-03-01") {
		t.Errorf("unexpected header comments: %q %q", lines[0], lines[1])
	}
	if lines[2] != "# Hz S RI R 50" {
		t.Errorf("unexpected option line: %q", lines[2])
	}
	if lines[3] != "1000000 0.500000 0.000000" {
		t.Errorf("unexpected first data line: %q", lines[3])
	}
	if lines[5] != "3000000 -1.000000 0.000000" {
		t.Errorf("unexpected last data line: %q", lines[5])
	}
}

func TestVSWR(t *testing.T) {
	res := Result{
		S11: []complex128{0, complex(0.5, 0), complex(0, 0.5), 1, complex(2, 0)},
	}

	vswr := res.VSWR()
	if len(vswr) != 5 {
		t.Fatalf("expected 5 values, got %d", len(vswr))
	}
	if vswr[0] != 1.0 {
		t.Errorf("matched load must give VSWR 1, got %v", vswr[0])
	}
	if math.Abs(vswr[1]-3.0) > 1e-12 {
		t.Errorf("|gamma|=0.5 must give VSWR 3, got %v", vswr[1])
	}
	if math.Abs(vswr[2]-3.0) > 1e-12 {
		t.Errorf("VSWR must depend on magnitude only, got %v", vswr[2])
	}
	if vswr[3] != 9999.0 || vswr[4] != 9999.0 {
		t.Errorf("reflection at or above unity must clamp, got %v %v", vswr[3], vswr[4])
	}
}

func TestTraceBufferCallerOwnedBuffer(t *testing.T) {
	buf := make([]complex128, 4)
	tb := NewTraceBuffer()
	tb.Reset(Config{Start: 1e6, Stop: 4e6, Points: 4, Buffer: buf},
		[]float64{1e6, 2e6, 3e6, 4e6}, false)

	for i := 0; i < 4; i++ {
		if err := tb.CopyData(i, []complex128{complex(float64(i), 0)}); err != nil {
			t.Fatalf("CopyData %d failed: %v", i, err)
		}
	}

	if buf[3] != complex(3, 0) {
		t.Errorf("caller buffer must receive results, got %v", buf[3])
	}

	res := tb.Snapshot()
	buf[0] = complex(99, 0)
	if res.S11[0] != 0 {
		t.Error("snapshot must not alias the caller buffer")
	}
}

func TestTraceBufferBounds(t *testing.T) {
	tb := NewTraceBuffer()
	tb.Reset(Config{Start: 1e6, Stop: 2e6, Points: 2}, []float64{1e6, 2e6}, false)

	if err := tb.CopyData(2, []complex128{1}); err == nil {
		t.Error("expected error for point past the trace")
	}
	if err := tb.CopyData(0, nil); err == nil {
		t.Error("expected error for empty block")
	}
	if tb.Filled() != 0 {
		t.Errorf("failed copies must not advance fill count, got %d", tb.Filled())
	}
}
