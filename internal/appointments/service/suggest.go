package service

import (
	"context"
	"sort"
	"time"

	"clinicops/internal/availability"
	"clinicops/pkg/config"
	"clinicops/pkg/model"
)

const minutesPerDay = 24 * 60

// Suggester proposes nearby free slots after a booking conflict. It is
// read-only and deliberately unserialized against the booking
// coordinator: a suggestion may be stale by the time the client acts on
// it, and the coordinator re-checks authoritatively.
type Suggester struct {
	availability *availability.Calculator
	cfg          *config.Config
}

func NewSuggester(calc *availability.Calculator, cfg *config.Config) *Suggester {
	return &Suggester{
		availability: calc,
		cfg:          cfg,
	}
}

// Suggest searches the same day and then subsequent days up to the
// configured horizon, returning up to the configured number of free
// slots ordered by absolute time distance from the requested slot.
func (s *Suggester) Suggest(ctx context.Context, vetID, date, startTime string, durationMin int) []model.Alternative {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil
	}
	reqStart, err := model.ParseClock(startTime)
	if err != nil {
		return nil
	}

	var candidates []model.Alternative
	for offset := 0; offset <= s.cfg.SuggestionHorizonDays; offset++ {
		candidateDate := day.AddDate(0, 0, offset).Format(model.DateLayout)

		intervals, err := s.availability.FreeIntervals(ctx, vetID, candidateDate)
		if err != nil {
			s.cfg.Log.Warn("Failed to compute availability for suggestions",
				"vet_id", vetID,
				"date", candidateDate,
				"error", err,
			)
			continue
		}

		for _, interval := range intervals {
			for start := alignUp(interval.StartMin, s.cfg.SlotStepMin); interval.Fits(start, durationMin); start += s.cfg.SlotStepMin {
				if offset == 0 && start == reqStart {
					continue
				}
				candidates = append(candidates, model.Alternative{
					VetID:       vetID,
					Date:        candidateDate,
					StartTime:   model.FormatClock(start),
					DurationMin: durationMin,
					DistanceMin: abs(offset*minutesPerDay + start - reqStart),
				})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DistanceMin != candidates[j].DistanceMin {
			return candidates[i].DistanceMin < candidates[j].DistanceMin
		}
		if candidates[i].Date != candidates[j].Date {
			return candidates[i].Date < candidates[j].Date
		}
		return candidates[i].StartTime < candidates[j].StartTime
	})

	if len(candidates) > s.cfg.SuggestionLimit {
		candidates = candidates[:s.cfg.SuggestionLimit]
	}
	return candidates
}

// SuggestWithDeadline bounds the search so a slow availability read
// cannot delay the conflict response it decorates.
func (s *Suggester) SuggestWithDeadline(ctx context.Context, vetID, date, startTime string, durationMin int, timeout time.Duration) []model.Alternative {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Suggest(ctx, vetID, date, startTime, durationMin)
}

func alignUp(value, step int) int {
	if step <= 0 {
		return value
	}
	if rem := value % step; rem != 0 {
		return value + step - rem
	}
	return value
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
