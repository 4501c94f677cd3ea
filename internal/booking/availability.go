package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/schedule"
)

// Slot is one bookable start. Start is the absolute instant; Label is the
// business-local wall clock shown to the caller.
type Slot struct {
	Start time.Time `json:"start"`
	Label string    `json:"label"`
}

// DayAvailability is the ordered slot list for one local date.
type DayAvailability struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// Availability computes the bookable slots for a professional and service
// over days consecutive local dates starting at from. Each date is computed
// independently; two calls with no intervening state change return identical
// results.
func (s *Service) Availability(ctx context.Context, professionalID, serviceID uuid.UUID, from schedule.LocalDate, days int) ([]DayAvailability, error) {
	if days < 1 || days > maxAvailabilityDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrValidation, maxAvailabilityDays)
	}

	prof, err := s.store.GetProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.BusinessID != prof.BusinessID {
		return nil, fmt.Errorf("%w: service does not belong to the professional's business", ErrValidation)
	}
	biz, err := s.store.GetBusiness(ctx, prof.BusinessID)
	if err != nil {
		return nil, err
	}

	hours, err := schedule.ParseWeeklyHours(biz.OpeningHours)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.clk.Now()
	out := make([]DayAvailability, 0, days)

	for i := 0; i < days; i++ {
		date := from.AddDays(i)

		slots, err := s.availableForDate(ctx, prof.ID, biz.Timezone, hours, date, svc.DurationMin, now)
		if err != nil {
			return nil, err
		}
		out = append(out, DayAvailability{Date: date.String(), Slots: slots})
	}

	s.logger.Debug("availability computed",
		zap.String("professional_id", professionalID.String()),
		zap.String("service_id", serviceID.String()),
		zap.String("from", from.String()),
		zap.Int("days", days),
	)
	return out, nil
}

func (s *Service) availableForDate(ctx context.Context, professionalID uuid.UUID, tz string, hours schedule.WeeklyHours, date schedule.LocalDate, durationMin int, now time.Time) ([]Slot, error) {
	ranges := hours.RangesFor(date)
	if len(ranges) == 0 {
		return []Slot{}, nil
	}

	candidates, err := schedule.CandidateStarts(s.conv, ranges, date, tz, durationMin, now)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Slot{}, nil
	}

	busy, err := s.busyIntervals(ctx, professionalID, tz, date, nil)
	if err != nil {
		return nil, err
	}

	dur := time.Duration(durationMin) * time.Minute
	slots := make([]Slot, 0, len(candidates))
	for _, start := range candidates {
		end := start.Add(dur)
		if anyOverlap(busy, start, end) {
			continue
		}
		label, err := s.conv.FormatWallClock(start, tz)
		if err != nil {
			return nil, err
		}
		slots = append(slots, Slot{Start: start, Label: label})
	}
	return slots, nil
}

// busyIntervals collects the pending/confirmed appointments and manual
// blocks intersecting the local day, each reported in its own stored
// timezone. All-day blocks expand to the full local day under the block's
// own zone.
func (s *Service) busyIntervals(ctx context.Context, professionalID uuid.UUID, tz string, date schedule.LocalDate, excludeID *uuid.UUID) ([]schedule.Interval, error) {
	dayStart, dayEnd, err := s.conv.DayBounds(date, tz)
	if err != nil {
		return nil, err
	}

	appts, err := s.store.ListActiveAppointmentsInRange(ctx, professionalID, dayStart, dayEnd, excludeID)
	if err != nil {
		return nil, err
	}
	blocks, err := s.store.ListManualBlocksInRange(ctx, professionalID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	busy := make([]schedule.Interval, 0, len(appts)+len(blocks))
	for _, a := range appts {
		busy = append(busy, schedule.Interval{Start: a.StartAt, End: a.EndAt, Timezone: a.Timezone})
	}
	for _, b := range blocks {
		iv, err := s.blockInterval(b)
		if err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, nil
}

func (s *Service) blockInterval(b *db.ManualBlock) (schedule.Interval, error) {
	if !b.AllDay {
		return schedule.Interval{Start: b.StartAt, End: b.EndAt, Timezone: b.Timezone}, nil
	}

	startDate, err := s.conv.LocalDateOf(b.StartAt, b.Timezone)
	if err != nil {
		return schedule.Interval{}, err
	}
	// End is exclusive; back off a nanosecond so a block ending exactly at
	// midnight does not swallow the following day.
	endDate, err := s.conv.LocalDateOf(b.EndAt.Add(-time.Nanosecond), b.Timezone)
	if err != nil {
		return schedule.Interval{}, err
	}

	start, _, err := s.conv.DayBounds(startDate, b.Timezone)
	if err != nil {
		return schedule.Interval{}, err
	}
	_, end, err := s.conv.DayBounds(endDate, b.Timezone)
	if err != nil {
		return schedule.Interval{}, err
	}
	return schedule.Interval{Start: start, End: end, Timezone: b.Timezone}, nil
}

func anyOverlap(busy []schedule.Interval, start, end time.Time) bool {
	for _, iv := range busy {
		if iv.OverlapsSpan(start, end) {
			return true
		}
	}
	return false
}
