package model

import "time"

// Hold statuses. Pending is the only live state; the other three are
// terminal and a hold never leaves them.
const (
	HoldPending   = "pending"
	HoldConfirmed = "confirmed"
	HoldReleased  = "released"
	HoldExpired   = "expired"
)

// Hold is a short-lived, TTL-bound claim on one vet/date/time slot.
// It is owned by exactly one realtime session and is reclaimed by the
// sweeper once ExpiresAt passes without a confirm or release.
type Hold struct {
	ID          string     `json:"id" bson:"_id" validate:"omitempty,uuid4"`
	VetID       string     `json:"vet_id" bson:"vet_id" validate:"required,min=1,max=64"`
	Date        string     `json:"date" bson:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string     `json:"start_time" bson:"start_time" validate:"required,datetime=15:04"`
	DurationMin int        `json:"duration_min" bson:"duration_min" validate:"required,min=5,max=480"`
	Status      string     `json:"status" bson:"status" validate:"required,oneof=pending confirmed released expired"`
	SessionID   string     `json:"session_id" bson:"session_id" validate:"required"`
	ClientID    string     `json:"client_id,omitempty" bson:"client_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at" bson:"expires_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" bson:"confirmed_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty" bson:"released_at,omitempty"`
}

// HoldRequest is the create-hold payload. SessionID is never read from
// the body; the handler fills it from the session token header.
type HoldRequest struct {
	VetID       string `json:"vet_id" validate:"required,min=1,max=64"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time" validate:"required,datetime=15:04"`
	DurationMin int    `json:"duration_min" validate:"required,min=5,max=480"`
	ClientID    string `json:"client_id,omitempty" validate:"omitempty,max=64"`
	SessionID   string `json:"-"`
}

// IsLive reports whether the hold still blocks the slot: pending and unexpired.
func (h *Hold) IsLive(now time.Time) bool {
	return h.Status == HoldPending && h.ExpiresAt.After(now)
}

// Remaining returns the whole seconds left on the hold's TTL, never negative.
func (h *Hold) Remaining(now time.Time) int {
	remaining := int(h.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
