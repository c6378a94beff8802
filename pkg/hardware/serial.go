package hardware

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/openvna/vnad/pkg/event"
)

// serialPort is the subset of go.bug.st/serial.Port the drivers use, split
// out so tests can substitute a pipe.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

func openPort(device string, baud int) (serialPort, error) {
	if device == "" {
		return nil, errors.New("no serial device configured")
	}
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}
	return port, nil
}

// SerialSynthesizer drives a line-protocol synthesizer board:
//
//	freq <hz>      -> ok
//	output on|off  -> ok
//	locked?        -> 0|1
type SerialSynthesizer struct {
	mutex  sync.Mutex
	port   serialPort
	reader *bufio.Reader
}

// OpenSerialSynthesizer opens the synthesizer on the given device.
func OpenSerialSynthesizer(device string, baud int) (*SerialSynthesizer, error) {
	port, err := openPort(device, baud)
	if err != nil {
		return nil, err
	}
	return NewSerialSynthesizer(port), nil
}

// NewSerialSynthesizer wraps an already-open port.
func NewSerialSynthesizer(port serialPort) *SerialSynthesizer {
	return &SerialSynthesizer{port: port, reader: bufio.NewReader(port)}
}

func (s *SerialSynthesizer) command(cmd string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("no reply to %q: %w", cmd, err)
	}
	return strings.TrimSpace(line), nil
}

// SetFrequency programs the stimulus frequency. Returns as soon as the
// board acknowledges; lock is observed separately through Locked.
func (s *SerialSynthesizer) SetFrequency(hz float64) error {
	reply, err := s.command(fmt.Sprintf("freq %.0f", hz))
	if err != nil {
		return err
	}
	if reply != "ok" {
		return fmt.Errorf("synthesizer refused freq: %q", reply)
	}
	return nil
}

// EnableOutput switches the stimulus output.
func (s *SerialSynthesizer) EnableOutput(on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	reply, err := s.command("output " + state)
	if err != nil {
		return err
	}
	if reply != "ok" {
		return fmt.Errorf("synthesizer refused output: %q", reply)
	}
	return nil
}

// Locked polls the PLL lock detect. Any error reads as unlocked; the FSM's
// lock timeout catches a dead board.
func (s *SerialSynthesizer) Locked() bool {
	reply, err := s.command("locked?")
	return err == nil && reply == "1"
}

// Close closes the underlying port.
func (s *SerialSynthesizer) Close() error {
	return s.port.Close()
}

// SerialReceiver drives a line-protocol capture board:
//
//	rate <sample_rate> <decimation>  (no reply)
//	capture <pairs>                  -> <pairs> lines "refRe refIm reflRe reflIm"
//	stop                             (no reply)
//
// Capture completion is published on the event bus from a reader
// goroutine; Start never blocks on the transfer.
type SerialReceiver struct {
	mutex    sync.Mutex
	port     serialPort
	reader   *bufio.Reader
	bus      *event.Bus
	pairs    int
	sequence int
	running  bool
	pool     *CapturePool
}

// OpenSerialReceiver opens the receiver on the given device.
func OpenSerialReceiver(device string, baud int, bus *event.Bus) (*SerialReceiver, error) {
	port, err := openPort(device, baud)
	if err != nil {
		return nil, err
	}
	return NewSerialReceiver(port, bus), nil
}

// NewSerialReceiver wraps an already-open port.
func NewSerialReceiver(port serialPort, bus *event.Bus) *SerialReceiver {
	return &SerialReceiver{port: port, reader: bufio.NewReader(port), bus: bus, pairs: 256}
}

// Configure sets the capture rate and decimation.
func (r *SerialReceiver) Configure(sampleRate, decimation int) error {
	if sampleRate <= 0 || decimation <= 0 {
		return errors.New("invalid receiver configuration")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cmd := fmt.Sprintf("rate %d %d\n", sampleRate, decimation)
	if _, err := r.port.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return nil
}

// SetCapturePairs sets how many lane pairs one capture transfers.
func (r *SerialReceiver) SetCapturePairs(pairs int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pairs = pairs
	r.pool = nil
}

// Start triggers an asynchronous capture. With a nil buf the samples land
// in a pool buffer that is handed off through the event payload.
func (r *SerialReceiver) Start(buf []complex128) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.running {
		return errors.New("capture already in progress")
	}

	want := 2 * r.pairs
	var payload []complex128
	target := buf
	if target == nil {
		if r.pool == nil {
			r.pool = NewCapturePool(want)
		}
		target = r.pool.Get()
		payload = target
	}
	if len(target) < want {
		return errors.New("capture buffer too small")
	}

	cmd := fmt.Sprintf("capture %d\n", r.pairs)
	if _, err := r.port.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("trigger capture: %w", err)
	}

	r.running = true
	seq := r.sequence
	r.sequence++

	go r.readCapture(target[:want], payload, seq)
	return nil
}

func (r *SerialReceiver) readCapture(target, payload []complex128, seq int) {
	err := r.parseCapture(target)

	r.mutex.Lock()
	r.running = false
	r.mutex.Unlock()

	ev := event.Event{
		Source:   event.SourceReceiver,
		Sequence: seq,
		Buffer:   payload,
	}
	if err != nil {
		ev.Type = event.TypeError
		ev.Err = err
	} else {
		ev.Type = event.TypeDataReady
	}
	// Busy means the main loop is behind; the capture is lost and the FSM
	// will re-trigger.
	r.bus.Publish(ev)
}

// parseCapture reads one capture off the shared port reader. The reader
// persists across captures so bytes it buffered past the current reply are
// not lost.
func (r *SerialReceiver) parseCapture(target []complex128) error {
	pairs := len(target) / 2
	for i := 0; i < pairs; i++ {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("capture truncated at line %d of %d: %w", i+1, pairs, err)
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return fmt.Errorf("capture line %d has %d fields, want 4", i+1, len(fields))
		}
		vals := make([]float64, 4)
		for j, f := range fields[:4] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("capture line %d field %d: %w", i+1, j+1, err)
			}
			vals[j] = v
		}
		target[2*i] = complex(vals[0], vals[1])
		target[2*i+1] = complex(vals[2], vals[3])
	}
	return nil
}

// Stop asks the board to abandon an in-flight capture.
func (r *SerialReceiver) Stop() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, err := r.port.Write([]byte("stop\n")); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	r.running = false
	return nil
}

// Recycle returns a handed-off capture buffer to the pool.
func (r *SerialReceiver) Recycle(buf []complex128) {
	r.mutex.Lock()
	pool := r.pool
	r.mutex.Unlock()
	if pool != nil {
		pool.Put(buf)
	}
}

// Close closes the underlying port.
func (r *SerialReceiver) Close() error {
	return r.port.Close()
}
