package realtime

import (
	"testing"
	"time"

	"clinicops/pkg/logger"
	"clinicops/pkg/model"
)

func testLog() *logger.Logger {
	return logger.New(logger.Config{
		Level:   "error",
		Format:  logger.JSON,
		Service: "test",
	})
}

func testHold(sessionID string) *model.Hold {
	return &model.Hold{
		ID:          "hold-1",
		VetID:       "vet-1",
		Date:        "2030-06-10",
		StartTime:   "10:00",
		DurationMin: 30,
		Status:      model.HoldPending,
		SessionID:   sessionID,
		ExpiresAt:   time.Now().UTC().Add(5 * time.Minute),
	}
}

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case event := <-sub.C:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_RoomIsolation(t *testing.T) {
	hub := NewHub(8, testLog())

	inRoom := hub.Subscribe("vet-1", "2030-06-10", "sess-a")
	otherDate := hub.Subscribe("vet-1", "2030-06-11", "sess-b")
	otherVet := hub.Subscribe("vet-2", "2030-06-10", "sess-c")
	defer inRoom.Close()
	defer otherDate.Close()
	defer otherVet.Close()

	hub.Publish(newHoldCreatedEvent(testHold("sess-x")))

	event := receive(t, inRoom)
	if event.Type != EventHoldCreated {
		t.Errorf("expected hold-created, got %s", event.Type)
	}

	select {
	case event := <-otherDate.C:
		t.Errorf("wrong-date subscriber received %s", event.Type)
	case event := <-otherVet.C:
		t.Errorf("wrong-vet subscriber received %s", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_IsOwnPerRecipient(t *testing.T) {
	hub := NewHub(8, testLog())

	owner := hub.Subscribe("vet-1", "2030-06-10", "sess-a")
	watcher := hub.Subscribe("vet-1", "2030-06-10", "sess-b")
	defer owner.Close()
	defer watcher.Close()

	hub.Publish(newHoldCreatedEvent(testHold("sess-a")))

	if event := receive(t, owner); !event.IsOwn {
		t.Error("owner must see is_own=true")
	}
	if event := receive(t, watcher); event.IsOwn {
		t.Error("other sessions must see is_own=false")
	}
}

func TestHub_SlowSubscriberDropsNotBlocks(t *testing.T) {
	hub := NewHub(1, testLog())

	slow := hub.Subscribe("vet-1", "2030-06-10", "sess-a")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Publish(newHoldCreatedEvent(testHold("sess-x")))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	// The buffer held exactly one event; the rest were dropped.
	if len(slow.C) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(slow.C))
	}
}

func TestHub_CloseRemovesFromRoom(t *testing.T) {
	hub := NewHub(8, testLog())

	sub := hub.Subscribe("vet-1", "2030-06-10", "sess-a")
	if size := hub.RoomSize("vet-1", "2030-06-10"); size != 1 {
		t.Fatalf("expected room size 1, got %d", size)
	}

	sub.Close()
	sub.Close() // repeat close is a no-op

	if size := hub.RoomSize("vet-1", "2030-06-10"); size != 0 {
		t.Errorf("expected empty room after close, got %d", size)
	}

	hub.Publish(newHoldCreatedEvent(testHold("sess-x")))
	select {
	case event := <-sub.C:
		t.Errorf("closed subscriber received %s", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_MintAndValidate(t *testing.T) {
	registry := NewRegistry(testLog())
	defer registry.Stop()

	session := registry.Mint()
	if session.ID == "" {
		t.Fatal("expected minted token")
	}

	if !registry.Valid(session.ID) {
		t.Error("minted token must validate")
	}
	if registry.Valid("") {
		t.Error("empty token must not validate")
	}
	if registry.Valid("forged-token") {
		t.Error("unknown token must not validate")
	}

	registry.Remove(session.ID)
	if registry.Valid(session.ID) {
		t.Error("removed token must not validate")
	}
}

// A session watching two rooms keeps its holds until the second stream
// drops; only the last close reports the session as disconnected.
func TestRegistry_LastStreamCloseWins(t *testing.T) {
	registry := NewRegistry(testLog())
	defer registry.Stop()

	session := registry.Mint()
	registry.StreamOpened(session.ID)
	registry.StreamOpened(session.ID)

	if registry.StreamClosed(session.ID) {
		t.Error("first close must not count as disconnect while a stream remains")
	}
	if !registry.StreamClosed(session.ID) {
		t.Error("last close must count as disconnect")
	}

	if !registry.StreamClosed("unknown-token") {
		t.Error("unknown session must report as fully closed")
	}
}
