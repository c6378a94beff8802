// Package sweep implements the measurement channel: a cooperative state
// machine that drives a frequency sweep one tick at a time, coordinating
// the synthesizer, the receiver's asynchronous captures, and the
// processing chain. A tick never blocks; waiting states simply re-check on
// the next tick.
package sweep

import (
	"errors"
	"fmt"
	"time"

	"github.com/openvna/vnad/pkg/cal"
	"github.com/openvna/vnad/pkg/event"
	"github.com/openvna/vnad/pkg/hardware"
	"github.com/openvna/vnad/pkg/pipeline"
)

// State is the channel state machine position.
type State int

const (
	StateIdle State = iota
	StateSetup
	StateWaitLock
	StateAcquire
	StateWaitData
	StateProcess
	StateNext
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetup:
		return "setup"
	case StateWaitLock:
		return "wait-lock"
	case StateAcquire:
		return "acquire"
	case StateWaitData:
		return "wait-data"
	case StateProcess:
		return "process"
	case StateNext:
		return "next"
	default:
		return "unknown"
	}
}

// DefaultMaxPoints bounds the sweep point count when Options does not
// override it.
const DefaultMaxPoints = 1001

// DefaultLockBudget is how many wait-lock ticks may elapse before the
// sweep aborts with a lock timeout.
const DefaultLockBudget = 100

var (
	// ErrInvalidConfig rejects a sweep configuration at configure time.
	ErrInvalidConfig = errors.New("invalid sweep configuration")

	// ErrNotIdle is returned when StartSweep is called mid-sweep.
	ErrNotIdle = errors.New("sweep already in progress")
)

// Config describes one sweep. Buffer, when non-nil, is a caller-owned
// trace buffer the results are written into; its capacity must cover the
// point count.
type Config struct {
	Start  float64
	Stop   float64
	Points int
	Buffer []complex128
}

// Validate rejects configurations the sweep could not complete. Violations
// surface here, never mid-sweep.
func (c Config) Validate(maxPoints int) error {
	if c.Points < 1 || c.Points > maxPoints {
		return fmt.Errorf("%w: points %d outside [1,%d]", ErrInvalidConfig, c.Points, maxPoints)
	}
	if c.Start < 0 || c.Start > c.Stop {
		return fmt.Errorf("%w: start %.0f Hz, stop %.0f Hz", ErrInvalidConfig, c.Start, c.Stop)
	}
	if c.Buffer != nil && len(c.Buffer) < c.Points {
		return fmt.Errorf("%w: buffer capacity %d below %d points", ErrInvalidConfig, len(c.Buffer), c.Points)
	}
	return nil
}

// Options wires a channel to its collaborators and sizes its static
// buffers.
type Options struct {
	ID          int
	Bus         *event.Bus
	Synthesizer hardware.Synthesizer
	Receiver    hardware.Receiver

	SampleRate      int
	Decimation      int
	SamplesPerPoint int
	IFFrequencyHz   float64

	MaxPoints  int
	LockBudget int
}

// bufferRecycler is implemented by receivers that pool their hand-off
// buffers.
type bufferRecycler interface {
	Recycle(buf []complex128)
}

// Channel owns one measurement channel: its configuration, its processing
// chain, its static capture buffer, and a borrowed calibration reference.
// All methods must be called from the main loop; only the bus callback
// crosses in from the dispatch path, which also runs on the main loop.
type Channel struct {
	opts Options
	cfg  Config

	chain   *pipeline.Chain
	calNode *pipeline.CalApply
	results *TraceBuffer

	raw  []complex128 // static fallback capture buffer
	grid []float64

	state State
	point int
	freq  float64

	// Written only by the data-ready callback, read and cleared only by
	// the FSM.
	dataReady  bool
	driverBuf  []complex128
	pendingErr error

	lockPolls  int
	processed  bool // chain ran, completion publish still pending
	subscribed bool
	configured bool
}

// NewChannel creates an unconfigured channel.
func NewChannel(opts Options) *Channel {
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}
	if opts.LockBudget <= 0 {
		opts.LockBudget = DefaultLockBudget
	}
	if opts.SamplesPerPoint <= 0 {
		opts.SamplesPerPoint = 256
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Decimation <= 0 {
		opts.Decimation = 1
	}
	return &Channel{
		opts:    opts,
		results: NewTraceBuffer(),
		raw:     make([]complex128, 2*opts.SamplesPerPoint),
	}
}

// Configure validates the sweep configuration and (re)builds the
// processing chain. Only legal while idle.
func (c *Channel) Configure(cfg Config) error {
	if c.state != StateIdle {
		return ErrNotIdle
	}
	if err := cfg.Validate(c.opts.MaxPoints); err != nil {
		return err
	}

	fs := float64(c.opts.SampleRate) / float64(c.opts.Decimation)
	ddc, err := pipeline.NewDDC(fs, c.opts.IFFrequencyHz)
	if err != nil {
		return err
	}

	keepCal := (*cal.Calibration)(nil)
	if c.calNode != nil {
		keepCal = c.calNode.Calibration()
	}

	chain := pipeline.NewChain(4)
	calNode := pipeline.NewCalApply()
	for _, node := range []pipeline.Node{ddc, pipeline.NewSParam(), calNode, pipeline.NewTraceSink(c.results)} {
		if err := chain.Append(node); err != nil {
			return err
		}
	}

	c.cfg = cfg
	c.chain = chain
	c.calNode = calNode
	c.grid = make([]float64, cfg.Points)
	for k := range c.grid {
		c.grid[k] = c.FrequencyAtPoint(k)
	}

	if keepCal != nil && keepCal.Points() == cfg.Points {
		calNode.SetCalibration(keepCal)
	}

	if !c.subscribed && c.opts.Bus != nil {
		c.opts.Bus.Subscribe(event.SourceReceiver, c.onReceiverEvent)
		c.subscribed = true
	}

	c.point = 0
	c.freq = c.FrequencyAtPoint(0)
	c.configured = true
	return nil
}

// Config returns the active sweep configuration.
func (c *Channel) Config() Config { return c.cfg }

// State returns the current FSM state.
func (c *Channel) State() State { return c.state }

// CurrentPoint returns the sweep point the FSM is working on.
func (c *Channel) CurrentPoint() int { return c.point }

// CurrentFrequency returns the stimulus frequency for the current point.
func (c *Channel) CurrentFrequency() float64 { return c.freq }

// Results returns the channel's trace buffer.
func (c *Channel) Results() *TraceBuffer { return c.results }

// FrequencyAtPoint interpolates the stimulus frequency for point k.
func (c *Channel) FrequencyAtPoint(k int) float64 {
	if c.cfg.Points <= 1 {
		return c.cfg.Start
	}
	return c.cfg.Start + float64(k)*(c.cfg.Stop-c.cfg.Start)/float64(c.cfg.Points-1)
}

// SetCalibration attaches a computed calibration, or detaches with nil.
// The channel only borrows the reference; the caller owns its lifetime.
func (c *Channel) SetCalibration(calib *cal.Calibration) error {
	if !c.configured {
		return errors.New("channel not configured")
	}
	if calib != nil && calib.Points() != c.cfg.Points {
		return fmt.Errorf("calibration has %d points, sweep has %d", calib.Points(), c.cfg.Points)
	}
	c.calNode.SetCalibration(calib)
	return nil
}

// Calibration returns the borrowed calibration reference, possibly nil.
func (c *Channel) Calibration() *cal.Calibration {
	if c.calNode == nil {
		return nil
	}
	return c.calNode.Calibration()
}

// StartSweep begins a sweep. Legal only from idle; the configuration is
// revalidated so a stale buffer cannot fail mid-sweep.
func (c *Channel) StartSweep() error {
	if c.state != StateIdle {
		return ErrNotIdle
	}
	if !c.configured {
		return errors.New("channel not configured")
	}
	if err := c.cfg.Validate(c.opts.MaxPoints); err != nil {
		return err
	}

	c.chain.Reset()
	calibrated := c.Calibration() != nil && c.Calibration().Computed()
	c.results.Reset(c.cfg, c.grid, calibrated)

	c.point = 0
	c.freq = c.FrequencyAtPoint(0)
	c.dataReady = false
	c.driverBuf = nil
	c.pendingErr = nil
	c.processed = false

	if c.opts.Synthesizer != nil {
		if err := c.opts.Synthesizer.EnableOutput(true); err != nil {
			return fmt.Errorf("failed to enable stimulus: %w", err)
		}
	}

	c.state = StateSetup
	c.publish(event.Event{Source: event.SourceChannel, Type: event.TypeStateChanged})
	return nil
}

// Abort forces the channel back to idle at this tick boundary, discarding
// in-flight data. An already-triggered capture is the receiver's problem to
// wind down.
func (c *Channel) Abort() {
	if c.state == StateIdle {
		return
	}
	if c.opts.Receiver != nil {
		c.opts.Receiver.Stop()
	}
	c.dataReady = false
	c.driverBuf = nil
	c.pendingErr = nil
	c.processed = false
	c.state = StateIdle
	c.publish(event.Event{Source: event.SourceChannel, Type: event.TypeStateChanged})
}

// onReceiverEvent is the bus callback: the only writer of the data-ready
// flag and the hand-off buffer pointer.
func (c *Channel) onReceiverEvent(ev event.Event) {
	switch ev.Type {
	case event.TypeDataReady:
		c.dataReady = true
		c.driverBuf = ev.Buffer
	case event.TypeError:
		c.pendingErr = ev.Err
	}
}

// Tick advances the state machine by at most one transition. It never
// blocks; wait states re-check on the next tick.
func (c *Channel) Tick() error {
	started := time.Now()
	defer func() {
		tickDuration.Observe(time.Since(started).Seconds())
	}()

	switch c.state {
	case StateIdle:
		return nil

	case StateSetup:
		if err := c.opts.Synthesizer.SetFrequency(c.freq); err != nil {
			c.abortWith(fmt.Errorf("synthesizer at point %d: %w", c.point, err))
			return nil
		}
		c.lockPolls = 0
		c.state = StateWaitLock

	case StateWaitLock:
		if c.opts.Synthesizer.Locked() {
			c.state = StateAcquire
			return nil
		}
		c.lockPolls++
		if c.lockPolls > c.opts.LockBudget {
			c.abortWith(fmt.Errorf("lock timeout at %.0f Hz", c.freq))
		}

	case StateAcquire:
		c.dataReady = false
		c.driverBuf = nil
		if err := c.opts.Receiver.Start(c.raw); err != nil {
			c.abortWith(fmt.Errorf("receiver at point %d: %w", c.point, err))
			return nil
		}
		c.state = StateWaitData

	case StateWaitData:
		if c.pendingErr != nil {
			err := c.pendingErr
			c.pendingErr = nil
			c.abortWith(fmt.Errorf("capture failed: %w", err))
			return nil
		}
		if c.dataReady {
			c.dataReady = false
			c.state = StateProcess
		}

	case StateProcess:
		if !c.processed {
			if err := c.runChain(); err != nil {
				// The point is lost but the sweep still terminates
				// cleanly through Next.
				pointErrors.Inc()
				c.publish(event.Event{
					Source: event.SourceChannel,
					Type:   event.TypeError,
					Point:  c.point,
					Err:    err,
				})
				c.state = StateNext
				return nil
			}
			c.processed = true
			pointsProcessed.Inc()
		}
		// Completion publish honors queue back-pressure: on busy, retry
		// on the next tick.
		err := c.opts.Bus.Publish(event.Event{
			Source:    event.SourceChannel,
			Type:      event.TypeDataReady,
			Point:     c.point,
			Frequency: c.freq,
		})
		if errors.Is(err, event.ErrBusy) {
			publishBusy.Inc()
			return nil
		}
		c.processed = false
		c.state = StateNext

	case StateNext:
		c.point++
		if c.point >= c.cfg.Points {
			c.state = StateIdle
			sweepsCompleted.Inc()
			c.publish(event.Event{Source: event.SourceChannel, Type: event.TypeSweepComplete})
			c.publish(event.Event{Source: event.SourceChannel, Type: event.TypeStateChanged})
			return nil
		}
		c.freq = c.FrequencyAtPoint(c.point)
		c.state = StateSetup
	}

	return nil
}

// runChain borrows the capture buffer (preferring a driver hand-off) for
// exactly one chain execution.
func (c *Channel) runChain() error {
	buf := c.raw
	handoff := c.driverBuf
	if handoff != nil {
		buf = handoff
		c.driverBuf = nil
	}

	block := pipeline.DataBlock{
		SourceID: c.opts.ID,
		Sequence: c.point,
		IQ:       buf,
	}
	_, err := c.chain.Run(&block)

	if handoff != nil {
		if rec, ok := c.opts.Receiver.(bufferRecycler); ok {
			rec.Recycle(handoff)
		}
	}
	return err
}

func (c *Channel) abortWith(err error) {
	c.publish(event.Event{
		Source: event.SourceChannel,
		Type:   event.TypeError,
		Point:  c.point,
		Err:    err,
	})
	c.Abort()
}

// publish is best-effort for notifications that have no retry path; busy
// only costs a metric.
func (c *Channel) publish(ev event.Event) {
	if c.opts.Bus == nil {
		return
	}
	if err := c.opts.Bus.Publish(ev); errors.Is(err, event.ErrBusy) {
		publishBusy.Inc()
	}
}
