package schedule

import (
	"fmt"
	"time"
)

// CandidateStarts expands the open ranges of one local date into fixed-stride
// slot start instants for a service of durationMin minutes.
//
// Within each range the stride equals the service duration, so candidates
// never overlap each other (not a sliding window). A range shorter than the
// duration yields nothing. When the target date is "today" in the business
// zone, starts at or before now are discarded — no past bookings. Ranges are
// walked in configuration order and are not re-sorted.
func CandidateStarts(conv *Converter, ranges []HourRange, d LocalDate, tz string, durationMin int, now time.Time) ([]time.Time, error) {
	if durationMin <= 0 {
		return nil, fmt.Errorf("service duration must be positive, got %d", durationMin)
	}

	isToday, err := isSameDayAsNow(conv, d, tz, now)
	if err != nil {
		return nil, err
	}

	dur := time.Duration(durationMin) * time.Minute
	var starts []time.Time

	for _, r := range ranges {
		rStart, err := conv.At(d, r.Start, tz)
		if err != nil {
			return nil, err
		}
		rEnd, err := conv.At(d, r.End, tz)
		if err != nil {
			return nil, err
		}

		for cur := rStart; !cur.Add(dur).After(rEnd); cur = cur.Add(dur) {
			if isToday && !cur.After(now) {
				continue
			}
			starts = append(starts, cur)
		}
	}

	return starts, nil
}

func isSameDayAsNow(conv *Converter, d LocalDate, tz string, now time.Time) (bool, error) {
	nowDate, err := conv.LocalDateOf(now, tz)
	if err != nil {
		return false, err
	}
	return nowDate == d, nil
}
