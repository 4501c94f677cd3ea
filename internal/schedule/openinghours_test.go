package schedule

import (
	"errors"
	"testing"
)

func TestParseWeeklyHours_Valid(t *testing.T) {
	raw := []byte(`{
		"monday":  {"closed": false, "ranges": [{"start": "09:00", "end": "12:00"}, {"start": "14:00", "end": "18:00"}]},
		"tuesday": {"closed": true, "ranges": []}
	}`)

	wh, err := ParseWeeklyHours(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	monday := LocalDate{Year: 2026, Month: 3, Day: 2} // a Monday
	ranges := wh.RangesFor(monday)
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(ranges))
	}
	if ranges[0].Start != "09:00" || ranges[1].End != "18:00" {
		t.Errorf("ranges out of configured order: %+v", ranges)
	}
}

func TestRangesFor_ClosedDay(t *testing.T) {
	raw := []byte(`{"tuesday": {"closed": true, "ranges": [{"start": "09:00", "end": "12:00"}]}}`)
	wh, err := ParseWeeklyHours(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tuesday := LocalDate{Year: 2026, Month: 3, Day: 3}
	if got := wh.RangesFor(tuesday); got != nil {
		t.Errorf("closed day should yield no ranges, got %+v", got)
	}
}

func TestRangesFor_MissingDayIsClosed(t *testing.T) {
	raw := []byte(`{"monday": {"closed": false, "ranges": [{"start": "09:00", "end": "12:00"}]}}`)
	wh, err := ParseWeeklyHours(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No entry for Wednesday: fail-safe-closed, never open.
	wednesday := LocalDate{Year: 2026, Month: 3, Day: 4}
	if got := wh.RangesFor(wednesday); got != nil {
		t.Errorf("missing day should be closed, got %+v", got)
	}
}

func TestParseWeeklyHours_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown weekday", `{"funday": {"closed": false, "ranges": []}}`},
		{"malformed time", `{"monday": {"closed": false, "ranges": [{"start": "9am", "end": "12:00"}]}}`},
		{"start not before end", `{"monday": {"closed": false, "ranges": [{"start": "12:00", "end": "09:00"}]}}`},
		{"zero-length range", `{"monday": {"closed": false, "ranges": [{"start": "10:00", "end": "10:00"}]}}`},
		{"not json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWeeklyHours([]byte(tt.raw))
			if !errors.Is(err, ErrInvalidHours) {
				t.Errorf("expected ErrInvalidHours, got %v", err)
			}
		})
	}
}

func TestParseWeeklyHours_Empty(t *testing.T) {
	wh, err := ParseWeeklyHours(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := wh.RangesFor(LocalDate{Year: 2026, Month: 3, Day: 2}); got != nil {
		t.Errorf("empty config should be closed everywhere, got %+v", got)
	}
}
