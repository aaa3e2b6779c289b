package model

import "time"

// SlotLock is an advisory lock serializing booking attempts on one slot.
// Acquisition is a unique _id insert; a duplicate key means another attempt
// is in flight. ExpiresAt backs a TTL index so a crashed holder cannot
// wedge the slot.
type SlotLock struct {
	ID        string    `bson:"_id" json:"id"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
