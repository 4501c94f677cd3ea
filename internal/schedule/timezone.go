// Package schedule holds the calendar math for the booking core: timezone
// conversion, opening-hours resolution, slot generation and the single
// interval-overlap predicate shared by availability and conflict checks.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownTimezone is returned when a timezone id is not in the tzdata.
var ErrUnknownTimezone = errors.New("unknown timezone")

const localDateLayout = "2006-01-02"

// LocalDate is a calendar day with no zone attached. It only becomes a point
// in time when combined with a timezone through the Converter.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseLocalDate parses a YYYY-MM-DD string.
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(localDateLayout, s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("parse local date %q: %w", s, err)
	}
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// AddDays returns the date n calendar days later. Normalization is delegated
// to time.Date, which handles month and year rollover.
func (d LocalDate) AddDays(n int) LocalDate {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Weekday returns the day of week. A calendar date has the same weekday in
// every zone, so UTC is safe here.
func (d LocalDate) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

// Converter turns business-local wall-clock values into absolute instants
// and back, deferring all DST rules to the IANA tz database. Locations are
// cached per zone id.
type Converter struct {
	mu   sync.RWMutex
	locs map[string]*time.Location
}

// NewConverter creates a Converter with an empty location cache.
func NewConverter() *Converter {
	return &Converter{locs: make(map[string]*time.Location)}
}

// Location resolves a zone id through the cache.
func (c *Converter) Location(tz string) (*time.Location, error) {
	c.mu.RLock()
	loc, ok := c.locs[tz]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, tz)
	}

	c.mu.Lock()
	c.locs[tz] = loc
	c.mu.Unlock()
	return loc, nil
}

// At combines a local date and an HH:mm wall-clock value under tz into an
// absolute instant.
func (c *Converter) At(d LocalDate, hhmm string, tz string) (time.Time, error) {
	loc, err := c.Location(tz)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse wall-clock %q: %w", hhmm, err)
	}
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// DayBounds returns the [local-midnight, next-local-midnight) instants for a
// date under tz. The upper bound is computed through time.Date so a DST
// transition still lands on the real next midnight.
func (c *Converter) DayBounds(d LocalDate, tz string) (time.Time, time.Time, error) {
	loc, err := c.Location(tz)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	end := time.Date(d.Year, d.Month, d.Day+1, 0, 0, 0, 0, loc)
	return start, end, nil
}

// LocalDateOf projects an instant onto the calendar under tz.
func (c *Converter) LocalDateOf(t time.Time, tz string) (LocalDate, error) {
	loc, err := c.Location(tz)
	if err != nil {
		return LocalDate{}, err
	}
	lt := t.In(loc)
	return LocalDate{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}, nil
}

// SameLocalDay reports whether two instants fall on the same calendar day
// under tz. Both are formatted in the same zone; raw instants are never
// compared for this.
func (c *Converter) SameLocalDay(a, b time.Time, tz string) (bool, error) {
	loc, err := c.Location(tz)
	if err != nil {
		return false, err
	}
	return a.In(loc).Format(localDateLayout) == b.In(loc).Format(localDateLayout), nil
}

// FormatWallClock renders an instant as HH:mm under tz, for slot labels.
func (c *Converter) FormatWallClock(t time.Time, tz string) (string, error) {
	loc, err := c.Location(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format("15:04"), nil
}
