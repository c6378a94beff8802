package hardware

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/openvna/vnad/pkg/event"
)

// MockReceiver implements Receiver for testing and bench use. Each Start
// synthesizes an interleaved two-lane capture (reference lane carries the
// IF tone, reflected lane the configured reflection times that tone) and
// publishes a data-ready event, either into the caller's buffer or, when
// configured for hand-off, into a driver-owned buffer carried by the event.
type MockReceiver struct {
	bus *event.Bus

	mutex      sync.Mutex
	sampleRate int
	decimation int
	configured bool
	running    bool

	samplesPerPoint int
	ifFreq          float64
	reflection      complex128
	handOff         bool
	own             []complex128
	sequence        int

	// Synchronous, when true, publishes the completion from inside Start
	// instead of a goroutine. Tests use this to keep ticking deterministic.
	Synchronous bool

	pool *CapturePool
}

// NewMockReceiver creates a mock receiver publishing on the given bus.
func NewMockReceiver(bus *event.Bus, cfg Config) *MockReceiver {
	reflection := cfg.MockReflection
	spp := cfg.SamplesPerPoint
	if spp <= 0 {
		spp = 256
	}
	return &MockReceiver{
		bus:             bus,
		samplesPerPoint: spp,
		ifFreq:          cfg.IFFrequencyHz,
		reflection:      reflection,
		handOff:         cfg.MockHandOff,
		own:             make([]complex128, 2*spp),
		Synchronous:     true,
		pool:            NewCapturePool(2 * spp),
	}
}

// Configure records the capture parameters.
func (r *MockReceiver) Configure(sampleRate, decimation int) error {
	if sampleRate <= 0 || decimation <= 0 {
		return errors.New("invalid receiver configuration")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sampleRate = sampleRate
	r.decimation = decimation
	r.configured = true
	return nil
}

// SetReflection changes the simulated device-under-test reflection.
func (r *MockReceiver) SetReflection(gamma complex128) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reflection = gamma
}

// Start begins a capture. With hand-off enabled the capture lands in a
// pool buffer that rides the event payload; otherwise it fills buf.
func (r *MockReceiver) Start(buf []complex128) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.configured {
		return errors.New("receiver not configured")
	}
	if r.running {
		return errors.New("capture already in progress")
	}

	target := buf
	var payload []complex128
	if r.handOff || buf == nil {
		target = r.pool.Get()[:2*r.samplesPerPoint]
		payload = target
	}
	if len(target) < 2*r.samplesPerPoint {
		return errors.New("capture buffer too small")
	}

	r.fill(target[:2*r.samplesPerPoint])
	seq := r.sequence
	r.sequence++

	ev := event.Event{
		Source:   event.SourceReceiver,
		Type:     event.TypeDataReady,
		Sequence: seq,
		Buffer:   payload,
	}

	if r.Synchronous {
		return r.bus.Publish(ev)
	}
	r.running = true
	go func() {
		// Completion path: non-blocking publish, busy is dropped here
		// because the FSM will re-trigger the capture on its next pass.
		r.bus.Publish(ev)
		r.mutex.Lock()
		r.running = false
		r.mutex.Unlock()
	}()
	return nil
}

func (r *MockReceiver) fill(target []complex128) {
	fs := float64(r.sampleRate) / float64(r.decimation)
	for k := 0; k < len(target)/2; k++ {
		tone := cmplx.Exp(complex(0, 2*math.Pi*r.ifFreq*float64(k)/fs))
		target[2*k] = tone
		target[2*k+1] = r.reflection * tone
	}
}

// Stop cancels a capture. The mock has nothing in flight to cancel.
func (r *MockReceiver) Stop() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.running = false
	return nil
}

// Recycle returns a handed-off capture buffer to the pool once the
// processing pass is done with it.
func (r *MockReceiver) Recycle(buf []complex128) {
	r.pool.Put(buf)
}
