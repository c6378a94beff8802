package hardware

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openvna/vnad/pkg/event"
)

// fakePort scripts the device side of the line protocol.
type fakePort struct {
	mutex  sync.Mutex
	reply  *bytes.Buffer
	wrote  *bytes.Buffer
	closed bool
}

func newFakePort(replies string) *fakePort {
	return &fakePort{
		reply: bytes.NewBufferString(replies),
		wrote: &bytes.Buffer{},
	}
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.reply.Read(p)
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.wrote.Write(p)
}

func (f *fakePort) SetReadTimeout(t time.Duration) error { return nil }

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func (f *fakePort) commands() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return strings.Fields(strings.ReplaceAll(f.wrote.String(), "\n", " "))
}

func TestSerialSynthesizerCommands(t *testing.T) {
	port := newFakePort("ok\nok\n1\n")
	synth := NewSerialSynthesizer(port)

	if err := synth.SetFrequency(1000000); err != nil {
		t.Fatalf("set frequency failed: %v", err)
	}
	if err := synth.EnableOutput(true); err != nil {
		t.Fatalf("enable output failed: %v", err)
	}
	if !synth.Locked() {
		t.Error("expected locked")
	}

	got := port.commands()
	want := []string{"freq", "1000000", "output", "on", "locked?"}
	if len(got) != len(want) {
		t.Fatalf("wrote %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command token %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestSerialSynthesizerRefusal(t *testing.T) {
	port := newFakePort("err out-of-range\n")
	synth := NewSerialSynthesizer(port)
	if err := synth.SetFrequency(99e9); err == nil {
		t.Error("expected refusal to surface as an error")
	}
}

func TestSerialReceiverCapture(t *testing.T) {
	// Two lane pairs: ref=(1,0) refl=(0.5,0) then ref=(0,1) refl=(0,0.5).
	port := newFakePort("1 0 0.5 0\n0 1 0 0.5\n")
	bus := event.NewBus(4)
	recv := NewSerialReceiver(port, bus)
	recv.SetCapturePairs(2)

	if err := recv.Configure(48000, 4); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	buf := make([]complex128, 4)
	if err := recv.Start(buf); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Completion arrives from the reader goroutine.
	deadline := time.Now().Add(time.Second)
	for bus.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	var got *event.Event
	bus.Subscribe(event.SourceReceiver, func(ev event.Event) { got = &ev })
	bus.Dispatch()

	if got == nil {
		t.Fatal("expected a completion event")
	}
	if got.Type != event.TypeDataReady {
		t.Fatalf("expected data-ready, got %v (err=%v)", got.Type, got.Err)
	}
	if buf[0] != complex(1, 0) || buf[1] != complex(0.5, 0) {
		t.Errorf("first pair wrong: %v %v", buf[0], buf[1])
	}
	if buf[2] != complex(0, 1) || buf[3] != complex(0, 0.5) {
		t.Errorf("second pair wrong: %v %v", buf[2], buf[3])
	}
}

func TestSerialReceiverTruncatedCapture(t *testing.T) {
	port := newFakePort("1 0 0.5 0\n") // one line, two expected
	bus := event.NewBus(4)
	recv := NewSerialReceiver(port, bus)
	recv.SetCapturePairs(2)
	recv.Configure(48000, 1)

	if err := recv.Start(make([]complex128, 4)); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for bus.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	var got *event.Event
	bus.Subscribe(event.SourceReceiver, func(ev event.Event) { got = &ev })
	bus.Dispatch()

	if got == nil || got.Type != event.TypeError {
		t.Fatal("expected an error event for a truncated capture")
	}
}

func TestSerialReceiverBackToBackCaptures(t *testing.T) {
	// Both replies are already queued on the port; the first capture must
	// not swallow buffered bytes that belong to the second.
	port := newFakePort("1 0 0.5 0\n0 1 0 0.5\n")
	bus := event.NewBus(4)
	recv := NewSerialReceiver(port, bus)
	recv.SetCapturePairs(1)
	recv.Configure(48000, 4)

	var got []event.Event
	bus.Subscribe(event.SourceReceiver, func(ev event.Event) { got = append(got, ev) })

	first := make([]complex128, 2)
	if err := recv.Start(first); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for bus.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Dispatch()

	// The reader goroutine clears the in-progress flag just before it
	// publishes, so retry until the next capture is accepted.
	second := make([]complex128, 2)
	deadline = time.Now().Add(time.Second)
	for {
		if err := recv.Start(second); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second capture was never accepted")
		}
		time.Sleep(time.Millisecond)
	}
	deadline = time.Now().Add(time.Second)
	for bus.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Dispatch()

	if len(got) != 2 {
		t.Fatalf("expected 2 completion events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Type != event.TypeDataReady {
			t.Fatalf("capture %d: expected data-ready, got %v (err=%v)", i+1, ev.Type, ev.Err)
		}
	}
	if first[0] != complex(1, 0) || first[1] != complex(0.5, 0) {
		t.Errorf("first capture wrong: %v %v", first[0], first[1])
	}
	if second[0] != complex(0, 1) || second[1] != complex(0, 0.5) {
		t.Errorf("second capture wrong: %v %v", second[0], second[1])
	}
}
