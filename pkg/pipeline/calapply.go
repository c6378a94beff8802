package pipeline

import (
	"fmt"

	"github.com/openvna/vnad/pkg/cal"
)

// scratch size for the correction copy; blocks at this stage carry one
// S-parameter per lane
const calScratch = 4

// CalApply applies the attached SOLT correction to each sample in the
// block, using the block sequence as the sweep point index. The calibration
// is borrowed, never owned: attaching nil turns the node into an exact
// pass-through, and the caller keeps responsibility for the calibration's
// lifetime. Correction happens on a node-owned copy so the raw measurement
// survives for re-calibration.
type CalApply struct {
	calibration *cal.Calibration
	out         DataBlock
}

// NewCalApply creates a correction node with no calibration attached.
func NewCalApply() *CalApply {
	return &CalApply{out: DataBlock{IQ: make([]complex128, calScratch)}}
}

// Name returns the node name
func (n *CalApply) Name() string { return "cal-apply" }

// Reset is a no-op; the attached calibration is external state.
func (n *CalApply) Reset() error { return nil }

// SetCalibration attaches (or with nil, detaches) a computed calibration.
func (n *CalApply) SetCalibration(c *cal.Calibration) {
	n.calibration = c
}

// Calibration returns the currently attached calibration, which may be nil.
func (n *CalApply) Calibration() *cal.Calibration {
	return n.calibration
}

// Process corrects every sample in the block, or passes the block through
// untouched when no calibration is attached.
func (n *CalApply) Process(in *DataBlock) (*DataBlock, error) {
	if n.calibration == nil {
		return in, nil
	}
	if !n.calibration.Computed() {
		return in, nil
	}
	if in.Len() > calScratch {
		return nil, fmt.Errorf("block of %d samples exceeds correction scratch", in.Len())
	}

	n.out.SourceID = in.SourceID
	n.out.Sequence = in.Sequence
	n.out.IQ = n.out.IQ[:in.Len()]
	for i, m := range in.IQ {
		corrected, err := n.calibration.ApplyReflection(in.Sequence, m)
		if err != nil {
			return nil, err
		}
		n.out.IQ[i] = corrected
	}
	return &n.out, nil
}
