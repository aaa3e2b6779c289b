package availability

import (
	"context"
	"testing"
	"time"

	"clinicops/pkg/config"
	"clinicops/pkg/logger"
	"clinicops/pkg/model"
)

type mockScheduleRepo struct {
	findFunc func(ctx context.Context, vetID string) (*model.VetSchedule, error)
}

func (m *mockScheduleRepo) FindByVetID(ctx context.Context, vetID string) (*model.VetSchedule, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, vetID)
	}
	return nil, ErrScheduleNotFound
}

type mockAppointmentReader struct {
	appointments []*model.Appointment
}

func (m *mockAppointmentReader) FindActiveByVetAndDate(context.Context, string, string) ([]*model.Appointment, error) {
	return m.appointments, nil
}

type mockHoldReader struct {
	holds []*model.Hold
}

func (m *mockHoldReader) FindLiveByRoom(context.Context, string, string, time.Time) ([]*model.Hold, error) {
	return m.holds, nil
}

func availabilityConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:   "error",
			Format:  logger.JSON,
			Service: "test",
		}),
		ReadTimeout:       5 * time.Second,
		DefaultStartOfDay: "09:00",
		DefaultEndOfDay:   "18:00",
		DefaultBreakStart: "13:00",
		DefaultBreakEnd:   "14:00",
	}
}

func newTestCalculator(appts []*model.Appointment, holds []*model.Hold, sched *mockScheduleRepo) *Calculator {
	if sched == nil {
		sched = &mockScheduleRepo{}
	}
	return NewCalculator(
		sched,
		&mockAppointmentReader{appointments: appts},
		&mockHoldReader{holds: holds},
		availabilityConfig(),
	)
}

// 2030-06-10 is a Monday.
const testDate = "2030-06-10"

func TestFreeIntervals_DefaultScheduleWithBreak(t *testing.T) {
	calc := newTestCalculator(nil, nil, nil)

	intervals, err := calc.FreeIntervals(context.Background(), "vet-1", testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.TimeRange{
		{StartMin: 9 * 60, EndMin: 13 * 60},
		{StartMin: 14 * 60, EndMin: 18 * 60},
	}
	if len(intervals) != len(want) {
		t.Fatalf("expected %d intervals, got %d: %v", len(want), len(intervals), intervals)
	}
	for i, interval := range intervals {
		if interval != want[i] {
			t.Errorf("interval %d: expected %v, got %v", i, want[i], interval)
		}
	}
}

func TestFreeIntervals_SubtractsAppointmentsAndHolds(t *testing.T) {
	appts := []*model.Appointment{
		{VetID: "vet-1", Date: testDate, StartTime: "10:00", DurationMin: 30, Status: model.AppointmentScheduled},
	}
	holds := []*model.Hold{
		{VetID: "vet-1", Date: testDate, StartTime: "15:00", DurationMin: 60, Status: model.HoldPending},
	}
	calc := newTestCalculator(appts, holds, nil)

	intervals, err := calc.FreeIntervals(context.Background(), "vet-1", testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.TimeRange{
		{StartMin: 9 * 60, EndMin: 10 * 60},
		{StartMin: 10*60 + 30, EndMin: 13 * 60},
		{StartMin: 14 * 60, EndMin: 15 * 60},
		{StartMin: 16 * 60, EndMin: 18 * 60},
	}
	if len(intervals) != len(want) {
		t.Fatalf("expected %d intervals, got %d: %v", len(want), len(intervals), intervals)
	}
	for i, interval := range intervals {
		if interval != want[i] {
			t.Errorf("interval %d: expected %v, got %v", i, want[i], interval)
		}
	}
}

func TestFreeIntervals_DayOff(t *testing.T) {
	sched := &mockScheduleRepo{
		findFunc: func(context.Context, string) (*model.VetSchedule, error) {
			return &model.VetSchedule{
				VetID:      "vet-1",
				StartOfDay: "09:00",
				EndOfDay:   "18:00",
				DaysOff:    []string{"Monday"},
			}, nil
		},
	}
	calc := newTestCalculator(nil, nil, sched)

	intervals, err := calc.FreeIntervals(context.Background(), "vet-1", testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(intervals) != 0 {
		t.Errorf("expected no free time on a day off, got %v", intervals)
	}
}

func TestSlotFree(t *testing.T) {
	appts := []*model.Appointment{
		{VetID: "vet-1", Date: testDate, StartTime: "10:00", DurationMin: 30, Status: model.AppointmentScheduled},
	}
	calc := newTestCalculator(appts, nil, nil)

	cases := []struct {
		name     string
		startMin int
		duration int
		want     bool
	}{
		{"free morning slot", 9 * 60, 30, true},
		{"taken by appointment", 10 * 60, 30, false},
		{"partial overlap", 9*60 + 45, 30, false},
		{"inside break", 13 * 60, 30, false},
		{"after hours", 18 * 60, 30, false},
		{"straddles closing", 17*60 + 45, 30, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := calc.SlotFree(context.Background(), "vet-1", testDate, tc.startMin, tc.duration)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("SlotFree(%d, %d) = %v, want %v", tc.startMin, tc.duration, got, tc.want)
			}
		})
	}
}
