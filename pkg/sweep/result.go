package sweep

import (
	"fmt"
	"math/cmplx"
	"strings"
	"sync"
	"time"
)

// Result is an immutable snapshot of one finished (or partial) sweep.
type Result struct {
	StartedAt   time.Time
	Start       float64
	Stop        float64
	Points      int
	Calibrated  bool
	Frequencies []float64
	S11         []complex128
}

// Touchstone renders the result as a one-port .s1p file (Hz, real/imag,
// 50 ohm reference).
func (r *Result) Touchstone() string {
	var sb strings.Builder
	sb.WriteString("! vnad trace export\n")
	sb.WriteString("! Date: " + r.StartedAt.Format(time.RFC3339) + "\n")
	sb.WriteString("# Hz S RI R 50\n")
	for i := range r.Frequencies {
		sb.WriteString(fmt.Sprintf("%d %.6f %.6f\n",
			int64(r.Frequencies[i]), real(r.S11[i]), imag(r.S11[i])))
	}
	return sb.String()
}

// VSWR computes the voltage standing wave ratio per point. Reflection at or
// beyond unity clamps to a large finite value.
func (r *Result) VSWR() []float64 {
	vswr := make([]float64, len(r.S11))
	for i, s11 := range r.S11 {
		gamma := cmplx.Abs(s11)
		if gamma >= 1.0 {
			vswr[i] = 9999.0
		} else {
			vswr[i] = (1 + gamma) / (1 - gamma)
		}
	}
	return vswr
}

// TraceBuffer is the channel's trace sink: it accumulates one S-parameter
// per sweep point under the copy contract. When the sweep configuration
// carries a caller-owned buffer, results land there; otherwise the buffer
// allocates its own backing at Reset.
type TraceBuffer struct {
	mutex sync.RWMutex

	startedAt time.Time
	start     float64
	stop      float64
	points    int
	grid      []float64
	s11       []complex128
	filled    int
	calFlag   bool
}

// NewTraceBuffer creates an empty trace buffer.
func NewTraceBuffer() *TraceBuffer {
	return &TraceBuffer{}
}

// Reset sizes the buffer for a new sweep. buf, when non-nil, becomes the
// backing store for the S-parameters (its capacity was validated at
// configure time).
func (t *TraceBuffer) Reset(cfg Config, grid []float64, calibrated bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.startedAt = time.Now()
	t.start = cfg.Start
	t.stop = cfg.Stop
	t.points = cfg.Points
	t.grid = grid
	t.calFlag = calibrated
	t.filled = 0

	if cfg.Buffer != nil {
		t.s11 = cfg.Buffer[:cfg.Points]
	} else if len(t.s11) != cfg.Points {
		t.s11 = make([]complex128, cfg.Points)
	}
	for i := range t.s11 {
		t.s11[i] = 0
	}
}

// CopyData stores the first sample of a finished block at its sweep point.
func (t *TraceBuffer) CopyData(point int, data []complex128) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if point < 0 || point >= t.points {
		return fmt.Errorf("point %d outside trace of %d points", point, t.points)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty block at point %d", point)
	}
	t.s11[point] = data[0]
	if point+1 > t.filled {
		t.filled = point + 1
	}
	return nil
}

// Filled returns how many points have been stored this sweep.
func (t *TraceBuffer) Filled() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.filled
}

// Snapshot copies the accumulated trace into an immutable Result.
func (t *TraceBuffer) Snapshot() Result {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	res := Result{
		StartedAt:   t.startedAt,
		Start:       t.start,
		Stop:        t.stop,
		Points:      t.points,
		Calibrated:  t.calFlag,
		Frequencies: make([]float64, len(t.grid)),
		S11:         make([]complex128, len(t.s11)),
	}
	copy(res.Frequencies, t.grid)
	copy(res.S11, t.s11)
	return res
}
