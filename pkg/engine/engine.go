// Package engine wires the measurement core together: hardware manager,
// event bus, sweep channel, calibration engine and trace store, driven by
// a single cooperative main loop. A unix-socket line protocol exposes the
// engine to local clients.
package engine

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/openvna/vnad/pkg/cal"
	"github.com/openvna/vnad/pkg/config"
	"github.com/openvna/vnad/pkg/event"
	"github.com/openvna/vnad/pkg/hardware"
	"github.com/openvna/vnad/pkg/logging"
	"github.com/openvna/vnad/pkg/protocol"
	"github.com/openvna/vnad/pkg/storage"
	"github.com/openvna/vnad/pkg/sweep"
)

// Version is the daemon version reported by STATUS.
const Version = "0.3.0"

const busCapacity = 64

// Engine is the instrument application core.
type Engine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	startTime  time.Time

	// mutex serializes socket command handlers against the main loop.
	mutex   sync.RWMutex
	running bool

	bus     *event.Bus
	hw      *hardware.Manager
	channel *sweep.Channel
	store   *storage.TraceStore

	// calibration is owned here; the channel only borrows it.
	calibration *cal.Calibration

	// measuring, when non-nil, marks the running sweep as a calibration
	// sweep recording this standard.
	measuring *cal.Standard

	subMutex    sync.Mutex
	subscribers []chan sweep.Result

	// conns holds accepted client connections so Stop can close them out
	// from under blocked readers.
	connMutex sync.Mutex
	conns     map[net.Conn]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEngine creates an engine from configuration.
func NewEngine(cfg *config.Config) *Engine {
	bus := event.NewBus(busCapacity)
	hwCfg := hardware.Config{
		UseMock:         cfg.Hardware.UseMock,
		SynthDevice:     cfg.Hardware.SynthDevice,
		ReceiverDevice:  cfg.Hardware.ReceiverDevice,
		BaudRate:        cfg.Hardware.BaudRate,
		SampleRate:      cfg.Hardware.SampleRate,
		Decimation:      cfg.Hardware.Decimation,
		SamplesPerPoint: cfg.Hardware.SamplesPerPoint,
		IFFrequencyHz:   cfg.Hardware.IFFrequencyHz,
	}

	return &Engine{
		config:     cfg,
		socketPath: cfg.API.UnixSocket,
		startTime:  time.Now(),
		bus:        bus,
		hw:         hardware.NewManager(hwCfg, bus),
		conns:      make(map[net.Conn]struct{}),
		stop:       make(chan struct{}),
	}
}

// Start initializes hardware and storage, configures the channel, and
// launches the main loop and the socket server.
func (e *Engine) Start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running {
		return errors.New("engine already running")
	}

	store, err := storage.NewTraceStore(e.config.Storage.DatabasePath, e.config.Storage.MaxSweeps)
	if err != nil {
		return fmt.Errorf("failed to open trace store: %w", err)
	}
	e.store = store

	if err := e.hw.Initialize(); err != nil {
		store.Close()
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	e.channel = sweep.NewChannel(sweep.Options{
		ID:              1,
		Bus:             e.bus,
		Synthesizer:     e.hw.Synthesizer(),
		Receiver:        e.hw.Receiver(),
		SampleRate:      e.config.Hardware.SampleRate,
		Decimation:      e.config.Hardware.Decimation,
		SamplesPerPoint: e.config.Hardware.SamplesPerPoint,
		IFFrequencyHz:   e.config.Hardware.IFFrequencyHz,
		MaxPoints:       e.config.Sweep.MaxPoints,
		LockBudget:      e.config.Hardware.LockBudget,
	})
	sweepCfg := sweep.Config{
		Start:  e.config.Sweep.StartHz,
		Stop:   e.config.Sweep.StopHz,
		Points: e.config.Sweep.Points,
	}
	if err := e.channel.Configure(sweepCfg); err != nil {
		store.Close()
		return fmt.Errorf("invalid sweep configuration: %w", err)
	}

	e.bus.Subscribe(event.SourceChannel, e.onChannelEvent)

	if name := e.config.Calibration.Autoload; name != "" {
		if loaded, err := e.store.LoadCalibration(name); err != nil {
			logging.Warnf("engine", "calibration autoload %q failed: %v", name, err)
		} else if err := e.channel.SetCalibration(loaded); err != nil {
			logging.Warnf("engine", "calibration %q does not fit sweep: %v", name, err)
		} else {
			e.calibration = loaded
			logging.Infof("engine", "calibration %q loaded", name)
		}
	}

	os.Remove(e.socketPath)
	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create unix socket: %w", err)
	}
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "failed to set socket permissions: %v", err)
	}
	e.listener = listener

	e.running = true

	e.wg.Add(2)
	go e.acceptLoop()
	go e.mainLoop()

	logging.Infof("engine", "engine listening on %s", e.socketPath)
	return nil
}

// Stop shuts the engine down.
func (e *Engine) Stop() {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return
	}
	e.running = false
	e.channel.Abort()
	e.mutex.Unlock()

	close(e.stop)
	e.listener.Close()
	e.connMutex.Lock()
	for conn := range e.conns {
		conn.Close()
	}
	e.connMutex.Unlock()
	e.wg.Wait()

	e.hw.Close()
	e.store.Close()
	os.Remove(e.socketPath)

	e.subMutex.Lock()
	for _, sub := range e.subscribers {
		close(sub)
	}
	e.subscribers = nil
	e.subMutex.Unlock()

	logging.Info("engine", "engine stopped")
}

// mainLoop is the cooperative tick loop: dispatch queued events, then tick
// the channel state machine, both under the engine mutex so socket
// handlers never interleave with a tick.
func (e *Engine) mainLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mutex.Lock()
			// Batch transitions so a sweep is not paced at one
			// transition per millisecond.
			for i := 0; i < 64; i++ {
				e.bus.Dispatch()
				if err := e.channel.Tick(); err != nil {
					logging.Errorf("engine", "tick failed: %v", err)
				}
				if e.channel.State() == sweep.StateIdle {
					break
				}
			}
			// Deliver anything the last tick published before a client
			// can observe the idle state.
			e.bus.Dispatch()
			e.mutex.Unlock()
		}
	}
}

// onChannelEvent runs during bus dispatch on the main loop, with the
// engine mutex already held by mainLoop.
func (e *Engine) onChannelEvent(ev event.Event) {
	switch ev.Type {
	case event.TypeSweepComplete:
		e.finishSweep()
	case event.TypeError:
		logging.Errorf("engine", "sweep error at point %d: %v", ev.Point, ev.Err)
	}
}

func (e *Engine) finishSweep() {
	res := e.channel.Results().Snapshot()

	if e.measuring != nil {
		std := *e.measuring
		e.measuring = nil
		if err := e.calibration.SetStandardTrace(std, res.S11); err != nil {
			logging.Errorf("engine", "failed to record %s standard: %v", std, err)
			return
		}
		logging.Infof("engine", "recorded %s standard over %d points", std, res.Points)
		return
	}

	if _, err := e.store.SaveSweep(res); err != nil {
		logging.Errorf("engine", "failed to store sweep: %v", err)
	}

	e.subMutex.Lock()
	for _, sub := range e.subscribers {
		select {
		case sub <- res:
		default: // slow subscriber, drop
		}
	}
	e.subMutex.Unlock()

	logging.Debugf("engine", "sweep complete: %d points %.0f..%.0f Hz", res.Points, res.Start, res.Stop)
}

// Subscribe returns a channel receiving a Result per finished measurement
// sweep. Slow subscribers miss results rather than stalling the loop.
func (e *Engine) Subscribe() chan sweep.Result {
	sub := make(chan sweep.Result, 4)
	e.subMutex.Lock()
	e.subscribers = append(e.subscribers, sub)
	e.subMutex.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription channel.
func (e *Engine) Unsubscribe(sub chan sweep.Result) {
	e.subMutex.Lock()
	defer e.subMutex.Unlock()
	for i, s := range e.subscribers {
		if s == sub {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// acceptLoop serves the unix-socket control protocol.
func (e *Engine) acceptLoop() {
	defer e.wg.Done()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-e.stop:
				return
			default:
				logging.Warnf("engine", "accept failed: %v", err)
				continue
			}
		}
		e.connMutex.Lock()
		select {
		case <-e.stop:
			// Shutdown already swept the connection table.
			e.connMutex.Unlock()
			conn.Close()
			return
		default:
		}
		e.conns[conn] = struct{}{}
		e.connMutex.Unlock()
		e.wg.Add(1)
		go e.handleConnection(conn)
	}
}

// Status reports the engine state for the protocol and the web API.
func (e *Engine) Status() protocol.Status {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() protocol.Status {
	cfg := e.channel.Config()
	calib := e.channel.Calibration()
	return protocol.Status{
		Instrument: e.config.Instrument.Name,
		State:      e.channel.State().String(),
		Point:      e.channel.CurrentPoint(),
		Points:     cfg.Points,
		StartHz:    cfg.Start,
		StopHz:     cfg.Stop,
		Frequency:  e.channel.CurrentFrequency(),
		Calibrated: calib != nil && calib.Computed(),
		Uptime:     protocol.FormatUptime(e.startTime),
		StartTime:  e.startTime,
		Version:    Version,
	}
}

// StartSweep begins a measurement sweep.
func (e *Engine) StartSweep() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.measuring = nil
	return e.channel.StartSweep()
}

// AbortSweep aborts any running sweep.
func (e *Engine) AbortSweep() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.measuring = nil
	e.channel.Abort()
}

// LatestResult snapshots the current trace buffer.
func (e *Engine) LatestResult() sweep.Result {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.channel.Results().Snapshot()
}

// Store exposes the trace store to the web layer.
func (e *Engine) Store() *storage.TraceStore {
	return e.store
}

// SetSweepRange reconfigures the sweep. Only legal while idle; a
// calibration that no longer fits the point count is detached.
func (e *Engine) SetSweepRange(startHz, stopHz float64, points int) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.setSweepRangeLocked(startHz, stopHz, points)
}

func (e *Engine) setSweepRangeLocked(startHz, stopHz float64, points int) error {
	cfg := sweep.Config{Start: startHz, Stop: stopHz, Points: points}
	if err := e.channel.Configure(cfg); err != nil {
		return err
	}
	if e.calibration != nil && e.calibration.Points() != points {
		logging.Warn("engine", "sweep change detached the active calibration")
		e.calibration = nil
		e.channel.SetCalibration(nil)
	}
	e.config.Sweep.StartHz = startHz
	e.config.Sweep.StopHz = stopHz
	e.config.Sweep.Points = points
	return nil
}

// RestartCalibration begins a fresh calibration run sized to the sweep.
func (e *Engine) RestartCalibration() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c, err := cal.New(e.channel.Config().Points)
	if err != nil {
		return err
	}
	e.calibration = c
	e.channel.SetCalibration(nil)
	return nil
}

// MeasureStandard runs a raw sweep against the given standard and records
// it into the active calibration run.
func (e *Engine) MeasureStandard(std cal.Standard) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.calibration == nil {
		return errors.New("no calibration run; use CAL:restart first")
	}
	if e.calibration.Computed() {
		return cal.ErrComputed
	}
	// Standards are measured raw: corrections stay detached until compute.
	if err := e.channel.SetCalibration(nil); err != nil {
		return err
	}
	if err := e.channel.StartSweep(); err != nil {
		return err
	}
	e.measuring = &std
	return nil
}

// ComputeCalibration derives the error terms and attaches the correction.
func (e *Engine) ComputeCalibration() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.calibration == nil {
		return errors.New("no calibration run; use CAL:restart first")
	}
	if err := e.calibration.Compute(); err != nil {
		return err
	}
	return e.channel.SetCalibration(e.calibration)
}

// DetachCalibration turns the correction off without discarding it.
func (e *Engine) DetachCalibration() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.channel.SetCalibration(nil)
}

// SaveCalibration persists the computed calibration under a name.
func (e *Engine) SaveCalibration(name string) error {
	e.mutex.RLock()
	calib := e.calibration
	e.mutex.RUnlock()

	if calib == nil {
		return errors.New("no calibration to save")
	}
	return e.store.SaveCalibration(name, calib)
}

// LoadCalibration restores a named calibration and attaches it.
func (e *Engine) LoadCalibration(name string) error {
	loaded, err := e.store.LoadCalibration(name)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if err := e.channel.SetCalibration(loaded); err != nil {
		return err
	}
	e.calibration = loaded
	return nil
}

// configValue maps protocol CONFIG keys onto the sweep configuration.
func (e *Engine) configValue(key string) (interface{}, error) {
	cfg := e.channel.Config()
	switch key {
	case "start_hz":
		return cfg.Start, nil
	case "stop_hz":
		return cfg.Stop, nil
	case "points":
		return cfg.Points, nil
	case "max_points":
		return e.config.Sweep.MaxPoints, nil
	}
	return nil, fmt.Errorf("unknown config key %q", key)
}

func (e *Engine) setConfigValue(key, value string) error {
	cfg := e.channel.Config()
	switch key {
	case "start_hz", "stop_hz":
		hz, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid frequency %q", value)
		}
		if key == "start_hz" {
			return e.setSweepRangeLocked(hz, cfg.Stop, cfg.Points)
		}
		return e.setSweepRangeLocked(cfg.Start, hz, cfg.Points)
	case "points":
		points, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid point count %q", value)
		}
		return e.setSweepRangeLocked(cfg.Start, cfg.Stop, points)
	}
	return fmt.Errorf("unknown config key %q", key)
}
