package schedule

import "time"

// Interval is a half-open [Start, End) span of absolute time. The Timezone
// is the zone the interval was booked under; it travels with the interval
// because an appointment may carry a different zone than the business's
// current one.
type Interval struct {
	Start    time.Time
	End      time.Time
	Timezone string
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap: an interval ending exactly where another starts
// leaves both bookable.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// OverlapsSpan is Overlaps against a raw (start, end) pair.
func (iv Interval) OverlapsSpan(start, end time.Time) bool {
	return iv.Start.Before(end) && iv.End.After(start)
}
