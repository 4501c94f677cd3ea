package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidHours marks a malformed weekly opening-hours configuration.
var ErrInvalidHours = errors.New("invalid opening hours")

// HourRange is one open window of a day, as wall-clock HH:mm values.
type HourRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DayHours is the configuration for one weekday.
type DayHours struct {
	Closed bool        `json:"closed"`
	Ranges []HourRange `json:"ranges"`
}

// WeeklyHours is the validated opening-hours value object. It is parsed and
// checked once, at the business-edit boundary; every reader consumes the
// already-validated structure instead of re-parsing the stored blob.
type WeeklyHours struct {
	days map[time.Weekday]DayHours
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeeklyHours decodes and validates the stored JSON blob, keyed by
// lowercase weekday name. Unknown keys are rejected; every range must be a
// valid HH:mm pair with start strictly before end.
func ParseWeeklyHours(raw []byte) (WeeklyHours, error) {
	if len(raw) == 0 {
		return WeeklyHours{days: map[time.Weekday]DayHours{}}, nil
	}

	var decoded map[string]DayHours
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return WeeklyHours{}, fmt.Errorf("%w: %v", ErrInvalidHours, err)
	}

	days := make(map[time.Weekday]DayHours, len(decoded))
	for name, dh := range decoded {
		wd, ok := weekdayNames[name]
		if !ok {
			return WeeklyHours{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidHours, name)
		}
		if !dh.Closed {
			for _, r := range dh.Ranges {
				if err := validateRange(r); err != nil {
					return WeeklyHours{}, fmt.Errorf("%w: %s: %v", ErrInvalidHours, name, err)
				}
			}
		}
		days[wd] = dh
	}

	return WeeklyHours{days: days}, nil
}

func validateRange(r HourRange) error {
	start, err := time.Parse("15:04", r.Start)
	if err != nil {
		return fmt.Errorf("bad start %q", r.Start)
	}
	end, err := time.Parse("15:04", r.End)
	if err != nil {
		return fmt.Errorf("bad end %q", r.End)
	}
	if !start.Before(end) {
		return fmt.Errorf("start %s not before end %s", r.Start, r.End)
	}
	return nil
}

// RangesFor resolves the open windows for one local date, in configured
// order. A weekday with no entry is closed — never open by default.
func (w WeeklyHours) RangesFor(d LocalDate) []HourRange {
	dh, ok := w.days[d.Weekday()]
	if !ok || dh.Closed {
		return nil
	}
	return dh.Ranges
}
