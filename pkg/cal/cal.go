package cal

import (
	"errors"
	"fmt"
	"time"
)

// Standard identifies one of the physical SOLT calibration standards.
type Standard int

const (
	StandardOpen Standard = iota
	StandardShort
	StandardLoad
	StandardThru
	StandardIsolation
)

// String returns the standard name
func (s Standard) String() string {
	switch s {
	case StandardOpen:
		return "open"
	case StandardShort:
		return "short"
	case StandardLoad:
		return "load"
	case StandardThru:
		return "thru"
	case StandardIsolation:
		return "isolation"
	default:
		return "unknown"
	}
}

// ParseStandard parses a standard name as used by the control protocol.
func ParseStandard(name string) (Standard, error) {
	switch name {
	case "open":
		return StandardOpen, nil
	case "short":
		return StandardShort, nil
	case "load":
		return StandardLoad, nil
	case "thru":
		return StandardThru, nil
	case "isolation":
		return StandardIsolation, nil
	}
	return 0, fmt.Errorf("unknown calibration standard %q", name)
}

var (
	// ErrNotComputed is returned when error terms are requested before a
	// successful Compute.
	ErrNotComputed = errors.New("calibration not computed")

	// ErrComputed is returned when a measurement is recorded after Compute
	// without starting a new run first.
	ErrComputed = errors.New("calibration already computed; call Restart first")
)

// ErrorTerms holds the per-point SOLT error coefficients. The reflection
// terms (Ed, Es, Er) are always present after Compute; the transmission
// terms (Et, Ex) only when thru and isolation standards were measured.
type ErrorTerms struct {
	Directivity        []complex128 // Ed
	SourceMatch        []complex128 // Es
	ReflectionTracking []complex128 // Er
	TransmissionTrack  []complex128 // Et, nil for one-port calibrations
	Isolation          []complex128 // Ex, nil for one-port calibrations
}

// Calibration records raw standard measurements per sweep point and derives
// SOLT error terms from them. It is owned by the engine's main loop and is
// not safe for concurrent use.
type Calibration struct {
	Name      string
	CreatedAt time.Time

	points   int
	measured map[Standard][]complex128
	covered  map[Standard][]bool

	terms    ErrorTerms
	computed bool
}

// New creates a calibration run sized for the given sweep point count.
func New(points int) (*Calibration, error) {
	if points <= 0 {
		return nil, fmt.Errorf("invalid point count %d", points)
	}
	return &Calibration{
		points:   points,
		measured: make(map[Standard][]complex128),
		covered:  make(map[Standard][]bool),
	}, nil
}

// Points returns the sweep point count this run was sized for.
func (c *Calibration) Points() int {
	return c.points
}

// Computed reports whether error terms are available.
func (c *Calibration) Computed() bool {
	return c.computed
}

// TwoPort reports whether transmission terms were derived.
func (c *Calibration) TwoPort() bool {
	return c.computed && c.terms.TransmissionTrack != nil
}

// MeasureStandard records the raw reflection (or transmission, for thru and
// isolation) measured against the given standard at one sweep point. The
// caller is responsible for having the physical standard connected.
func (c *Calibration) MeasureStandard(std Standard, point int, gamma complex128) error {
	if c.computed {
		return ErrComputed
	}
	if point < 0 || point >= c.points {
		return fmt.Errorf("point %d out of range [0,%d)", point, c.points)
	}
	if _, ok := c.measured[std]; !ok {
		c.measured[std] = make([]complex128, c.points)
		c.covered[std] = make([]bool, c.points)
	}
	c.measured[std][point] = gamma
	c.covered[std][point] = true
	return nil
}

// SetStandardTrace records a full sweep's worth of raw measurements for one
// standard at once. This is what the engine uses after a calibration sweep
// finishes.
func (c *Calibration) SetStandardTrace(std Standard, trace []complex128) error {
	if c.computed {
		return ErrComputed
	}
	if len(trace) != c.points {
		return fmt.Errorf("trace has %d points, calibration expects %d", len(trace), c.points)
	}
	m := make([]complex128, c.points)
	copy(m, trace)
	cov := make([]bool, c.points)
	for i := range cov {
		cov[i] = true
	}
	c.measured[std] = m
	c.covered[std] = cov
	return nil
}

// Restart discards computed terms and recorded measurements so a new
// calibration run can begin.
func (c *Calibration) Restart() {
	c.measured = make(map[Standard][]complex128)
	c.covered = make(map[Standard][]bool)
	c.terms = ErrorTerms{}
	c.computed = false
}

func (c *Calibration) complete(std Standard) error {
	cov, ok := c.covered[std]
	if !ok {
		return fmt.Errorf("standard %s not measured", std)
	}
	for i, done := range cov {
		if !done {
			return fmt.Errorf("standard %s missing point %d", std, i)
		}
	}
	return nil
}

// Compute derives the error terms from the recorded measurements. Open,
// short and load must be fully measured; thru and isolation additionally
// enable the transmission terms. After a successful Compute the terms are
// immutable until Restart.
func (c *Calibration) Compute() error {
	for _, std := range []Standard{StandardOpen, StandardShort, StandardLoad} {
		if err := c.complete(std); err != nil {
			return err
		}
	}

	open := c.measured[StandardOpen]
	short := c.measured[StandardShort]
	load := c.measured[StandardLoad]

	ed := make([]complex128, c.points)
	es := make([]complex128, c.points)
	er := make([]complex128, c.points)

	for i := 0; i < c.points; i++ {
		// With ideal standards: load measures Ed directly, and the
		// open/short pair separated from Ed solves Es and Er in closed
		// form.
		e00 := load[i]
		lo := open[i] - e00
		ls := short[i] - e00
		denom := lo - ls
		if denom == 0 {
			return fmt.Errorf("degenerate open/short measurements at point %d", i)
		}
		es[i] = (lo + ls) / denom
		er[i] = -ls * (1 + es[i])

		ed[i] = e00
	}

	terms := ErrorTerms{
		Directivity:        ed,
		SourceMatch:        es,
		ReflectionTracking: er,
	}

	// Transmission terms only when both two-port standards are present.
	errThru := c.complete(StandardThru)
	errIso := c.complete(StandardIsolation)
	if errThru == nil && errIso == nil {
		thru := c.measured[StandardThru]
		iso := c.measured[StandardIsolation]
		et := make([]complex128, c.points)
		ex := make([]complex128, c.points)
		for i := 0; i < c.points; i++ {
			ex[i] = iso[i]
			et[i] = thru[i] - ex[i]
			if et[i] == 0 {
				return fmt.Errorf("degenerate thru measurement at point %d", i)
			}
		}
		terms.TransmissionTrack = et
		terms.Isolation = ex
	}

	c.terms = terms
	c.computed = true
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return nil
}

// Terms returns the computed error terms.
func (c *Calibration) Terms() (ErrorTerms, error) {
	if !c.computed {
		return ErrorTerms{}, ErrNotComputed
	}
	return c.terms, nil
}

// SetTerms installs previously persisted error terms, marking the
// calibration computed. Used by the storage layer when loading.
func (c *Calibration) SetTerms(terms ErrorTerms) error {
	if len(terms.Directivity) != c.points ||
		len(terms.SourceMatch) != c.points ||
		len(terms.ReflectionTracking) != c.points {
		return fmt.Errorf("term arrays do not match %d points", c.points)
	}
	if terms.TransmissionTrack != nil &&
		(len(terms.TransmissionTrack) != c.points || len(terms.Isolation) != c.points) {
		return fmt.Errorf("transmission term arrays do not match %d points", c.points)
	}
	c.terms = terms
	c.computed = true
	return nil
}

// ApplyReflection corrects a single raw reflection measurement at the given
// sweep point.
func (c *Calibration) ApplyReflection(point int, measured complex128) (complex128, error) {
	if !c.computed {
		return 0, ErrNotComputed
	}
	if point < 0 || point >= c.points {
		return 0, fmt.Errorf("point %d out of range [0,%d)", point, c.points)
	}
	ed := c.terms.Directivity[point]
	es := c.terms.SourceMatch[point]
	er := c.terms.ReflectionTracking[point]

	num := measured - ed
	den := er + es*num
	if den == 0 {
		return 0, fmt.Errorf("singular correction at point %d", point)
	}
	return num / den, nil
}

// ApplyTransmission corrects a single raw transmission measurement at the
// given sweep point. Requires a two-port calibration.
func (c *Calibration) ApplyTransmission(point int, measured complex128) (complex128, error) {
	if !c.computed {
		return 0, ErrNotComputed
	}
	if c.terms.TransmissionTrack == nil {
		return 0, errors.New("no transmission terms; two-port standards not measured")
	}
	if point < 0 || point >= c.points {
		return 0, fmt.Errorf("point %d out of range [0,%d)", point, c.points)
	}
	return (measured - c.terms.Isolation[point]) / c.terms.TransmissionTrack[point], nil
}

// ApplyTrace corrects a full reflection trace into dst, which must be at
// least as long as src. The raw trace is left untouched so it stays
// available for re-calibration.
func (c *Calibration) ApplyTrace(dst, src []complex128) error {
	if len(src) != c.points {
		return fmt.Errorf("trace has %d points, calibration expects %d", len(src), c.points)
	}
	if len(dst) < len(src) {
		return errors.New("destination shorter than source")
	}
	for i, m := range src {
		corrected, err := c.ApplyReflection(i, m)
		if err != nil {
			return err
		}
		dst[i] = corrected
	}
	return nil
}

// Store persists calibrations by name. The on-disk format belongs to the
// implementation, not to this package.
type Store interface {
	SaveCalibration(name string, c *Calibration) error
	LoadCalibration(name string) (*Calibration, error)
}
