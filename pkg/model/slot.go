package model

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ParseClock converts an "HH:MM" wall-clock string to minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes since midnight back to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a "YYYY-MM-DD" calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Overlaps reports whether two half-open minute intervals
// [start1, start1+dur1) and [start2, start2+dur2) intersect.
func Overlaps(start1, dur1, start2, dur2 int) bool {
	return start1 < start2+dur2 && start1+dur1 > start2
}

// SlotKey builds the canonical identity of one bookable slot.
func SlotKey(vetID, date, startTime string) string {
	return fmt.Sprintf("%s_%s_%s", vetID, date, startTime)
}

// RoomKey identifies a broadcast room and the advisory-lock scope: all
// booking attempts for one vet on one date serialize on this key.
func RoomKey(vetID, date string) string {
	return fmt.Sprintf("%s_%s", vetID, date)
}

// TimeRange is a half-open [StartMin, EndMin) window in minutes since
// midnight.
type TimeRange struct {
	StartMin int `json:"start_min"`
	EndMin   int `json:"end_min"`
}

func (r TimeRange) Fits(startMin, durationMin int) bool {
	return startMin >= r.StartMin && startMin+durationMin <= r.EndMin
}
