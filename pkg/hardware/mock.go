package hardware

import (
	"fmt"
	"sync"
)

// MockSynthesizer implements Synthesizer for testing. It reports lock after
// a configurable number of Locked polls following each retune.
type MockSynthesizer struct {
	mutex sync.Mutex

	frequency float64
	output    bool

	lockTicks int
	polls     int

	// FailFrequency, when non-zero, makes SetFrequency error at that
	// frequency so driver-failure paths can be exercised.
	FailFrequency float64
}

// NewMockSynthesizer creates a mock that needs lockTicks Locked polls
// before reporting lock.
func NewMockSynthesizer(lockTicks int) *MockSynthesizer {
	return &MockSynthesizer{lockTicks: lockTicks}
}

// SetFrequency records the frequency and restarts the lock countdown.
func (s *MockSynthesizer) SetFrequency(hz float64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.FailFrequency != 0 && hz == s.FailFrequency {
		return fmt.Errorf("synthesizer rejected %.0f Hz", hz)
	}
	s.frequency = hz
	s.polls = 0
	return nil
}

// EnableOutput records the output state.
func (s *MockSynthesizer) EnableOutput(on bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.output = on
	return nil
}

// Locked reports lock once enough polls have elapsed since the last retune.
func (s *MockSynthesizer) Locked() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.polls < s.lockTicks {
		s.polls++
		return false
	}
	return true
}

// Frequency returns the last programmed frequency.
func (s *MockSynthesizer) Frequency() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.frequency
}

// OutputEnabled returns the recorded output state.
func (s *MockSynthesizer) OutputEnabled() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.output
}
