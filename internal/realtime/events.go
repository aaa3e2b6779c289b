package realtime

import (
	"time"

	"clinicops/pkg/model"
)

type EventType string

const (
	EventHoldCreated          EventType = "hold-created"
	EventHoldReleased         EventType = "hold-released"
	EventSlotBooked           EventType = "slot-booked"
	EventSlotCancelled        EventType = "slot-cancelled"
	EventAvailabilitySnapshot EventType = "availability-snapshot"
)

// Event is one room broadcast. IsOwn is recomputed per recipient at
// delivery time; OwnerSessionID never reaches clients.
type Event struct {
	Type      EventType      `json:"type"`
	VetID     string         `json:"vet_id"`
	Date      string         `json:"date"`
	Data      map[string]any `json:"data,omitempty"`
	IsOwn     bool           `json:"is_own"`
	Timestamp time.Time      `json:"ts"`

	OwnerSessionID string `json:"-"`
}

func (e Event) Room() string {
	return model.RoomKey(e.VetID, e.Date)
}

func newHoldCreatedEvent(hold *model.Hold) Event {
	return Event{
		Type:  EventHoldCreated,
		VetID: hold.VetID,
		Date:  hold.Date,
		Data: map[string]any{
			"hold_id":      hold.ID,
			"start_time":   hold.StartTime,
			"duration_min": hold.DurationMin,
			"expires_at":   hold.ExpiresAt,
		},
		Timestamp:      time.Now().UTC(),
		OwnerSessionID: hold.SessionID,
	}
}

func newHoldReleasedEvent(hold *model.Hold, reason string) Event {
	return Event{
		Type:  EventHoldReleased,
		VetID: hold.VetID,
		Date:  hold.Date,
		Data: map[string]any{
			"hold_id":    hold.ID,
			"start_time": hold.StartTime,
			"reason":     reason,
		},
		Timestamp:      time.Now().UTC(),
		OwnerSessionID: hold.SessionID,
	}
}

func newSlotBookedEvent(appointment *model.Appointment) Event {
	return Event{
		Type:  EventSlotBooked,
		VetID: appointment.VetID,
		Date:  appointment.Date,
		Data: map[string]any{
			"start_time":   appointment.StartTime,
			"duration_min": appointment.DurationMin,
		},
		Timestamp: time.Now().UTC(),
	}
}

func newSlotCancelledEvent(appointment *model.Appointment) Event {
	return Event{
		Type:  EventSlotCancelled,
		VetID: appointment.VetID,
		Date:  appointment.Date,
		Data: map[string]any{
			"start_time":   appointment.StartTime,
			"duration_min": appointment.DurationMin,
		},
		Timestamp: time.Now().UTC(),
	}
}

func newSnapshotEvent(vetID, date, sessionID string, holds []*model.Hold) Event {
	slots := make([]map[string]any, 0, len(holds))
	for _, hold := range holds {
		slots = append(slots, map[string]any{
			"hold_id":      hold.ID,
			"start_time":   hold.StartTime,
			"duration_min": hold.DurationMin,
			"expires_at":   hold.ExpiresAt,
			"is_own":       hold.SessionID == sessionID,
		})
	}

	return Event{
		Type:  EventAvailabilitySnapshot,
		VetID: vetID,
		Date:  date,
		Data: map[string]any{
			"holds": slots,
		},
		Timestamp: time.Now().UTC(),
	}
}
