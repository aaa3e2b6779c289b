package model

import "time"

const (
	AppointmentScheduled = "scheduled"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// Appointment is the durable booking. It is created only by the booking
// coordinator, never directly from a hold.
type Appointment struct {
	ID          string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,uuid4"`
	VetID       string    `json:"vet_id" bson:"vet_id" validate:"required,min=1,max=64"`
	Date        string    `json:"date" bson:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string    `json:"start_time" bson:"start_time" validate:"required,datetime=15:04"`
	DurationMin int       `json:"duration_min" bson:"duration_min" validate:"required,min=5,max=480"`
	Status      string    `json:"status" bson:"status" validate:"required,oneof=scheduled completed cancelled"`
	ClientName  string    `json:"client_name" bson:"client_name" validate:"required,min=2,max=100"`
	PetName     string    `json:"pet_name" bson:"pet_name" validate:"required,min=1,max=100"`
	Reason      string    `json:"reason,omitempty" bson:"reason,omitempty" validate:"omitempty,max=500"`
	// PendingApproval marks bookings awaiting staff review; written in the
	// same transaction as the appointment itself.
	PendingApproval bool      `json:"pending_approval" bson:"pending_approval"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// Blocks reports whether the appointment still occupies its slot.
func (a *Appointment) Blocks() bool {
	return a.Status != AppointmentCancelled
}

// AppointmentRequest is the payload of a single booking attempt. SessionID
// is optional; when present, holds owned by that session do not count
// against the attempt.
type AppointmentRequest struct {
	VetID       string `json:"vet_id" validate:"required,min=1,max=64"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time" validate:"required,datetime=15:04"`
	DurationMin int    `json:"duration_min" validate:"required,min=5,max=480"`
	ClientName  string `json:"client_name" validate:"required,min=2,max=100"`
	PetName     string `json:"pet_name" validate:"required,min=1,max=100"`
	Reason      string `json:"reason,omitempty" validate:"omitempty,max=500"`
	SessionID   string `json:"-"`
}

// Alternative is one free slot proposed after a booking conflict.
type Alternative struct {
	VetID       string `json:"vet_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	DurationMin int    `json:"duration_min"`
	// DistanceMin is the absolute distance in minutes from the originally
	// requested slot, the sort key for suggestions.
	DistanceMin int `json:"distance_min"`
}

// BatchResult is the outcome of a batch booking: a created/skipped split,
// never all-or-nothing.
type BatchResult struct {
	Created []*Appointment `json:"created"`
	Skipped []SkippedEntry `json:"skipped"`
}

type SkippedEntry struct {
	Index  int    `json:"index"`
	VetID  string `json:"vet_id"`
	Date   string `json:"date"`
	Start  string `json:"start_time"`
	Reason string `json:"reason"`
}
