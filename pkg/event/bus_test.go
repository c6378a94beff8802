package event

import (
	"testing"
)

func TestBusPublishDispatch(t *testing.T) {
	bus := NewBus(4)

	var got []Event
	bus.Subscribe(SourceAny, func(ev Event) {
		got = append(got, ev)
	})

	t.Run("FIFO Order", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := bus.Publish(Event{Source: SourceChannel, Type: TypeDataReady, Sequence: i}); err != nil {
				t.Fatalf("publish %d failed: %v", i, err)
			}
		}

		if n := bus.Dispatch(); n != 3 {
			t.Errorf("expected 3 dispatched, got %d", n)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 delivered, got %d", len(got))
		}
		for i, ev := range got {
			if ev.Sequence != i {
				t.Errorf("event %d out of order: sequence %d", i, ev.Sequence)
			}
		}
	})
}

func TestBusBackPressure(t *testing.T) {
	bus := NewBus(2)

	// Fill the queue to capacity.
	for i := 0; i < bus.Capacity(); i++ {
		if err := bus.Publish(Event{Sequence: i}); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	// Full queue reports busy rather than blocking or dropping.
	if err := bus.Publish(Event{Sequence: 99}); err != ErrBusy {
		t.Fatalf("expected ErrBusy on full queue, got %v", err)
	}

	// Dispatching one item frees exactly one slot.
	if !bus.DispatchOne() {
		t.Fatal("expected an event to dispatch")
	}
	if err := bus.Publish(Event{Sequence: 2}); err != nil {
		t.Errorf("expected publish to succeed after dispatch, got %v", err)
	}
	if err := bus.Publish(Event{Sequence: 3}); err != ErrBusy {
		t.Errorf("expected ErrBusy again, got %v", err)
	}
}

func TestBusSourceFilter(t *testing.T) {
	bus := NewBus(8)

	var fromReceiver, fromAll int
	bus.Subscribe(SourceReceiver, func(ev Event) { fromReceiver++ })
	bus.Subscribe(SourceAny, func(ev Event) { fromAll++ })

	bus.Publish(Event{Source: SourceReceiver})
	bus.Publish(Event{Source: SourceChannel})
	bus.Publish(Event{Source: SourceEngine})
	bus.Dispatch()

	if fromReceiver != 1 {
		t.Errorf("receiver subscriber saw %d events, want 1", fromReceiver)
	}
	if fromAll != 3 {
		t.Errorf("catch-all subscriber saw %d events, want 3", fromAll)
	}
}

func TestBusDispatchEmpty(t *testing.T) {
	bus := NewBus(4)
	if bus.DispatchOne() {
		t.Error("expected no event on empty queue")
	}
	if bus.Pending() != 0 {
		t.Errorf("expected 0 pending, got %d", bus.Pending())
	}
}
