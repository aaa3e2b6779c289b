package availability

import (
	"context"
	"errors"
	"sort"
	"time"

	"clinicops/pkg/config"
	"clinicops/pkg/model"
)

// AppointmentReader is the slice of the appointments repository the
// calculator needs.
type AppointmentReader interface {
	FindActiveByVetAndDate(ctx context.Context, vetID, date string) ([]*model.Appointment, error)
}

// HoldReader is the slice of the holds repository the calculator needs.
type HoldReader interface {
	FindLiveByRoom(ctx context.Context, vetID, date string, now time.Time) ([]*model.Hold, error)
}

// Calculator computes a vet's free time on a given date: working hours
// minus breaks minus non-cancelled appointments minus live holds.
type Calculator struct {
	schedules    ScheduleRepository
	appointments AppointmentReader
	holds        HoldReader
	cfg          *config.Config
}

func NewCalculator(
	schedules ScheduleRepository,
	appointments AppointmentReader,
	holds HoldReader,
	cfg *config.Config,
) *Calculator {
	return &Calculator{
		schedules:    schedules,
		appointments: appointments,
		holds:        holds,
		cfg:          cfg,
	}
}

// FreeIntervals returns the vet's free windows on the date, sorted and
// non-overlapping. A day off yields an empty result.
func (c *Calculator) FreeIntervals(ctx context.Context, vetID, date string) ([]model.TimeRange, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}

	schedule, err := c.loadSchedule(ctx, vetID)
	if err != nil {
		return nil, err
	}

	for _, off := range schedule.DaysOff {
		if off == weekdayName(day) {
			return nil, nil
		}
	}

	working, err := workingWindows(schedule)
	if err != nil {
		return nil, err
	}
	if len(working) == 0 {
		return nil, nil
	}

	busy, err := c.busyIntervals(ctx, vetID, date)
	if err != nil {
		return nil, err
	}

	return subtract(working, busy), nil
}

// SlotFree reports whether [startMin, startMin+durationMin) lies entirely
// inside one free interval.
func (c *Calculator) SlotFree(ctx context.Context, vetID, date string, startMin, durationMin int) (bool, error) {
	intervals, err := c.FreeIntervals(ctx, vetID, date)
	if err != nil {
		return false, err
	}

	for _, interval := range intervals {
		if interval.Fits(startMin, durationMin) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Calculator) loadSchedule(ctx context.Context, vetID string) (*model.VetSchedule, error) {
	schedule, err := c.schedules.FindByVetID(ctx, vetID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return &model.VetSchedule{
				VetID:      vetID,
				StartOfDay: c.cfg.DefaultStartOfDay,
				EndOfDay:   c.cfg.DefaultEndOfDay,
				BreakStart: c.cfg.DefaultBreakStart,
				BreakEnd:   c.cfg.DefaultBreakEnd,
			}, nil
		}
		return nil, err
	}
	return schedule, nil
}

// workingWindows splits the working day around the break, if any.
func workingWindows(schedule *model.VetSchedule) ([]model.TimeRange, error) {
	start, err := model.ParseClock(schedule.StartOfDay)
	if err != nil {
		return nil, err
	}
	end, err := model.ParseClock(schedule.EndOfDay)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, nil
	}

	if schedule.BreakStart == "" || schedule.BreakEnd == "" {
		return []model.TimeRange{{StartMin: start, EndMin: end}}, nil
	}

	breakStart, err := model.ParseClock(schedule.BreakStart)
	if err != nil {
		return nil, err
	}
	breakEnd, err := model.ParseClock(schedule.BreakEnd)
	if err != nil {
		return nil, err
	}

	if breakEnd <= breakStart || breakStart >= end || breakEnd <= start {
		return []model.TimeRange{{StartMin: start, EndMin: end}}, nil
	}

	var windows []model.TimeRange
	if breakStart > start {
		windows = append(windows, model.TimeRange{StartMin: start, EndMin: breakStart})
	}
	if breakEnd < end {
		windows = append(windows, model.TimeRange{StartMin: breakEnd, EndMin: end})
	}
	return windows, nil
}

func (c *Calculator) busyIntervals(ctx context.Context, vetID, date string) ([]model.TimeRange, error) {
	var busy []model.TimeRange

	appointments, err := c.appointments.FindActiveByVetAndDate(ctx, vetID, date)
	if err != nil {
		return nil, err
	}
	for _, appt := range appointments {
		start, err := model.ParseClock(appt.StartTime)
		if err != nil {
			continue
		}
		busy = append(busy, model.TimeRange{StartMin: start, EndMin: start + appt.DurationMin})
	}

	holds, err := c.holds.FindLiveByRoom(ctx, vetID, date, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, hold := range holds {
		start, err := model.ParseClock(hold.StartTime)
		if err != nil {
			continue
		}
		busy = append(busy, model.TimeRange{StartMin: start, EndMin: start + hold.DurationMin})
	}

	return busy, nil
}

// subtract removes busy intervals from working windows, returning the
// remaining free ranges in order.
func subtract(working, busy []model.TimeRange) []model.TimeRange {
	if len(busy) == 0 {
		return working
	}

	sort.Slice(busy, func(i, j int) bool { return busy[i].StartMin < busy[j].StartMin })

	var free []model.TimeRange
	for _, window := range working {
		cursor := window.StartMin
		for _, b := range busy {
			if b.EndMin <= cursor || b.StartMin >= window.EndMin {
				continue
			}
			if b.StartMin > cursor {
				free = append(free, model.TimeRange{StartMin: cursor, EndMin: b.StartMin})
			}
			if b.EndMin > cursor {
				cursor = b.EndMin
			}
		}
		if cursor < window.EndMin {
			free = append(free, model.TimeRange{StartMin: cursor, EndMin: window.EndMin})
		}
	}

	return free
}
