package realtime

import (
	"context"
	"testing"
	"time"

	"clinicops/pkg/model"
)

func TestDispatcher_DeliversWithoutBlockingCaller(t *testing.T) {
	hub := NewHub(8, testLog())
	dispatcher := NewDispatcher(hub, nil, 32, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	sub := hub.Subscribe("vet-1", "2030-06-10", "sess-b")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		dispatcher.HoldCreated(testHold("sess-a"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("enqueue must not block the mutation path")
	}

	event := receive(t, sub)
	if event.Type != EventHoldCreated {
		t.Errorf("expected hold-created, got %s", event.Type)
	}
	if event.IsOwn {
		t.Error("foreign watcher must see is_own=false")
	}
}

func TestDispatcher_StopFlushesQueue(t *testing.T) {
	hub := NewHub(8, testLog())
	dispatcher := NewDispatcher(hub, nil, 32, testLog())

	sub := hub.Subscribe("vet-1", "2030-06-10", "sess-b")
	defer sub.Close()

	appointment := &model.Appointment{
		VetID:       "vet-1",
		Date:        "2030-06-10",
		StartTime:   "10:00",
		DurationMin: 30,
		Status:      model.AppointmentScheduled,
	}
	dispatcher.SlotBooked(appointment)

	go dispatcher.Run(context.Background())
	dispatcher.Stop()

	event := receive(t, sub)
	if event.Type != EventSlotBooked {
		t.Errorf("expected slot-booked after flush, got %s", event.Type)
	}
}
