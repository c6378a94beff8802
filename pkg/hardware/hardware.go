// Package hardware holds the narrow contracts the measurement core uses to
// drive the instrument front-end (synthesizer and receiver), plus the mock
// and serial-port implementations of those contracts.
package hardware

import (
	"fmt"
	"log"
	"sync"

	"github.com/openvna/vnad/pkg/event"
)

// Synthesizer programs the stimulus source. SetFrequency must not block
// waiting for PLL lock; lock progress is observed through Locked.
type Synthesizer interface {
	SetFrequency(hz float64) error
	EnableOutput(on bool) error
	Locked() bool
}

// Receiver captures IQ samples. Start is asynchronous: completion is
// signaled by a data-ready event on the bus, never by the return value.
// When buf is nil the driver captures into a buffer of its own and hands it
// off through the event payload.
type Receiver interface {
	Configure(sampleRate, decimation int) error
	Start(buf []complex128) error
	Stop() error
}

// Config selects and parameterizes the front-end drivers.
type Config struct {
	UseMock bool

	// Serial devices, used when UseMock is false.
	SynthDevice    string
	ReceiverDevice string
	BaudRate       int

	SampleRate      int
	Decimation      int
	SamplesPerPoint int
	IFFrequencyHz   float64

	// Mock behavior knobs.
	MockLockTicks  int
	MockReflection complex128
	MockHandOff    bool
}

// Manager owns the front-end drivers and their lifecycle, building either
// the mock pair or the serial pair from config.
type Manager struct {
	config Config
	bus    *event.Bus

	mutex       sync.RWMutex
	initialized bool

	synth    Synthesizer
	receiver Receiver
	closers  []func() error
}

// NewManager creates a manager; drivers are not built until Initialize.
func NewManager(config Config, bus *event.Bus) *Manager {
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.Decimation == 0 {
		config.Decimation = 1
	}
	if config.SamplesPerPoint == 0 {
		config.SamplesPerPoint = 256
	}
	return &Manager{config: config, bus: bus}
}

// Initialize builds and configures the drivers. Safe to call twice.
func (m *Manager) Initialize() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.initialized {
		return nil
	}

	if m.config.UseMock {
		log.Printf("hardware: using mock front-end")
		synth := NewMockSynthesizer(m.config.MockLockTicks)
		recv := NewMockReceiver(m.bus, m.config)
		m.synth = synth
		m.receiver = recv
	} else {
		log.Printf("hardware: opening serial front-end (synth=%s receiver=%s)",
			m.config.SynthDevice, m.config.ReceiverDevice)
		synth, err := OpenSerialSynthesizer(m.config.SynthDevice, m.config.BaudRate)
		if err != nil {
			return fmt.Errorf("failed to open synthesizer: %w", err)
		}
		recv, err := OpenSerialReceiver(m.config.ReceiverDevice, m.config.BaudRate, m.bus)
		if err != nil {
			synth.Close()
			return fmt.Errorf("failed to open receiver: %w", err)
		}
		m.synth = synth
		m.receiver = recv
		m.closers = append(m.closers, synth.Close, recv.Close)
	}

	if err := m.receiver.Configure(m.config.SampleRate, m.config.Decimation); err != nil {
		return fmt.Errorf("failed to configure receiver: %w", err)
	}

	m.initialized = true
	return nil
}

// IsInitialized reports whether Initialize completed.
func (m *Manager) IsInitialized() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.initialized
}

// Synthesizer returns the active synthesizer driver.
func (m *Manager) Synthesizer() Synthesizer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.synth
}

// Receiver returns the active receiver driver.
func (m *Manager) Receiver() Receiver {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.receiver
}

// Close tears down the drivers.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.initialized {
		return nil
	}

	var firstErr error
	for _, c := range m.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	m.initialized = false
	return firstErr
}
