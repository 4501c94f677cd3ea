package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/clock"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/schedule"
)

const bizZone = "America/Sao_Paulo"

// fakeStore is an in-memory Store that mirrors the repository's overlap
// semantics, including the conditional reserve.
type fakeStore struct {
	business      *db.Business
	professionals map[uuid.UUID]*db.Professional
	services      map[uuid.UUID]*db.Service
	appointments  map[uuid.UUID]*db.Appointment
	blocks        []*db.ManualBlock
	statusUpdates []string
}

func newFakeStore(openingHours string) *fakeStore {
	return &fakeStore{
		business: &db.Business{
			ID:           uuid.New(),
			Slug:         "studio-glow",
			Name:         "Studio Glow",
			Timezone:     bizZone,
			OpeningHours: []byte(openingHours),
		},
		professionals: make(map[uuid.UUID]*db.Professional),
		services:      make(map[uuid.UUID]*db.Service),
		appointments:  make(map[uuid.UUID]*db.Appointment),
	}
}

func (f *fakeStore) addProfessional() *db.Professional {
	p := &db.Professional{ID: uuid.New(), BusinessID: f.business.ID, Name: "Ana"}
	f.professionals[p.ID] = p
	return p
}

func (f *fakeStore) addService(durationMin int) *db.Service {
	s := &db.Service{ID: uuid.New(), BusinessID: f.business.ID, Name: "Cut", DurationMin: durationMin}
	f.services[s.ID] = s
	return s
}

func (f *fakeStore) GetBusiness(_ context.Context, id uuid.UUID) (*db.Business, error) {
	if f.business.ID != id {
		return nil, fmt.Errorf("business %s: %w", id, db.ErrNotFound)
	}
	return f.business, nil
}

func (f *fakeStore) GetProfessional(_ context.Context, id uuid.UUID) (*db.Professional, error) {
	p, ok := f.professionals[id]
	if !ok {
		return nil, fmt.Errorf("professional %s: %w", id, db.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) GetService(_ context.Context, id uuid.UUID) (*db.Service, error) {
	s, ok := f.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", id, db.ErrNotFound)
	}
	return s, nil
}

func (f *fakeStore) GetAppointment(_ context.Context, id uuid.UUID) (*db.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, db.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListActiveAppointmentsInRange(_ context.Context, professionalID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*db.Appointment, error) {
	var out []*db.Appointment
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID || !a.IsActive() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.StartAt.Before(to) && a.EndAt.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListManualBlocksInRange(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]*db.ManualBlock, error) {
	var out []*db.ManualBlock
	for _, b := range f.blocks {
		if b.ProfessionalID == professionalID && b.StartAt.Before(to) && b.EndAt.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) overlapsExisting(professionalID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) bool {
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID || !a.IsActive() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.StartAt.Before(end) && a.EndAt.After(start) {
			return true
		}
	}
	for _, b := range f.blocks {
		if b.ProfessionalID != professionalID {
			continue
		}
		bs, be := blockSpan(b)
		if bs.Before(end) && be.After(start) {
			return true
		}
	}
	return false
}

// blockSpan mirrors the repository's conflict predicate: all-day blocks
// cover their whole local day regardless of the stored clock times.
func blockSpan(b *db.ManualBlock) (time.Time, time.Time) {
	if !b.AllDay {
		return b.StartAt, b.EndAt
	}
	conv := schedule.NewConverter()
	startDate, _ := conv.LocalDateOf(b.StartAt, b.Timezone)
	endDate, _ := conv.LocalDateOf(b.EndAt.Add(-time.Nanosecond), b.Timezone)
	dayStart, _, _ := conv.DayBounds(startDate, b.Timezone)
	_, dayEnd, _ := conv.DayBounds(endDate, b.Timezone)
	return dayStart, dayEnd
}

func (f *fakeStore) ReserveAppointment(_ context.Context, appt *db.Appointment) error {
	if f.overlapsExisting(appt.ProfessionalID, appt.StartAt, appt.EndAt, nil) {
		return db.ErrOverlap
	}
	cp := *appt
	f.appointments[appt.ID] = &cp
	return nil
}

func (f *fakeStore) RescheduleAppointment(_ context.Context, appt *db.Appointment) error {
	if f.overlapsExisting(appt.ProfessionalID, appt.StartAt, appt.EndAt, &appt.ID) {
		return db.ErrOverlap
	}
	existing, ok := f.appointments[appt.ID]
	if !ok || !existing.IsActive() {
		return db.ErrNotFound
	}
	existing.StartAt = appt.StartAt
	existing.EndAt = appt.EndAt
	existing.Timezone = appt.Timezone
	return nil
}

func (f *fakeStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, status string) error {
	a, ok := f.appointments[id]
	if !ok {
		return db.ErrNotFound
	}
	a.Status = status
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

// recordingPlanner records planner calls made by the booking service.
type recordingPlanner struct {
	planned   []uuid.UUID
	replanned []uuid.UUID
	canceled  map[uuid.UUID]string
}

func newRecordingPlanner() *recordingPlanner {
	return &recordingPlanner{canceled: make(map[uuid.UUID]string)}
}

func (p *recordingPlanner) PlanForAppointment(_ context.Context, id uuid.UUID) error {
	p.planned = append(p.planned, id)
	return nil
}

func (p *recordingPlanner) ReplanForAppointment(_ context.Context, id uuid.UUID) error {
	p.replanned = append(p.replanned, id)
	return nil
}

func (p *recordingPlanner) CancelForAppointment(_ context.Context, id uuid.UUID, reason string) error {
	p.canceled[id] = reason
	return nil
}

const mondayMorning = `{"monday": {"closed": false, "ranges": [{"start": "09:00", "end": "12:00"}]}}`

func setupService(t *testing.T, openingHours string, now time.Time) (*Service, *fakeStore, *recordingPlanner) {
	t.Helper()
	store := newFakeStore(openingHours)
	planner := newRecordingPlanner()
	svc := NewService(store, planner, schedule.NewConverter(), clock.NewFixed(now), zap.NewNop())
	return svc, store, planner
}

func localInstant(t *testing.T, date schedule.LocalDate, hhmm string) time.Time {
	t.Helper()
	conv := schedule.NewConverter()
	ts, err := conv.At(date, hhmm, bizZone)
	if err != nil {
		t.Fatalf("build instant: %v", err)
	}
	return ts
}

var monday = schedule.LocalDate{Year: 2026, Month: 3, Day: 2}

func TestAvailability_OpenDayNoBookings(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	days, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(days))
	}

	var labels []string
	for _, s := range days[0].Slots {
		labels = append(labels, s.Label)
	}
	want := []string{"09:00", "10:00", "11:00"}
	if len(labels) != len(want) {
		t.Fatalf("expected %v, got %v", want, labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("slot %d: expected %s, got %s", i, want[i], labels[i])
		}
	}
}

func TestAvailability_ConfirmedAppointmentBlocksSlot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	store.appointments[uuid.New()] = &db.Appointment{
		ID:             uuid.New(),
		ProfessionalID: prof.ID,
		StartAt:        localInstant(t, monday, "10:00"),
		EndAt:          localInstant(t, monday, "11:00"),
		Timezone:       bizZone,
		Status:         db.AppointmentConfirmed,
	}

	days, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var labels []string
	for _, s := range days[0].Slots {
		labels = append(labels, s.Label)
	}
	if len(labels) != 2 || labels[0] != "09:00" || labels[1] != "11:00" {
		t.Errorf("expected [09:00 11:00], got %v", labels)
	}
}

func TestAvailability_CanceledAppointmentNeverBlocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	id := uuid.New()
	store.appointments[id] = &db.Appointment{
		ID:             id,
		ProfessionalID: prof.ID,
		StartAt:        localInstant(t, monday, "10:00"),
		EndAt:          localInstant(t, monday, "11:00"),
		Timezone:       bizZone,
		Status:         db.AppointmentCanceled,
	}

	days, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days[0].Slots) != 3 {
		t.Errorf("canceled appointment should not block; got %d slots", len(days[0].Slots))
	}
}

func TestAvailability_TouchingAppointmentDoesNotBlock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	// Ends exactly at 09:00: must not block the 09:00 slot. Starts exactly
	// at 12:00: cannot block 11:00-12:00 either.
	for _, span := range [][2]string{{"08:00", "09:00"}, {"12:00", "13:00"}} {
		id := uuid.New()
		store.appointments[id] = &db.Appointment{
			ID:             id,
			ProfessionalID: prof.ID,
			StartAt:        localInstant(t, monday, span[0]),
			EndAt:          localInstant(t, monday, span[1]),
			Timezone:       bizZone,
			Status:         db.AppointmentConfirmed,
		}
	}

	days, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days[0].Slots) != 3 {
		t.Errorf("touching endpoints must not conflict; got %d slots", len(days[0].Slots))
	}
}

func TestAvailability_AllDayBlockClosesDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	// Stored with narrow clock times but flagged all-day: it must still
	// cover the whole local date.
	store.blocks = append(store.blocks, &db.ManualBlock{
		ID:             uuid.New(),
		ProfessionalID: prof.ID,
		StartAt:        localInstant(t, monday, "13:00"),
		EndAt:          localInstant(t, monday, "13:30"),
		Timezone:       bizZone,
		AllDay:         true,
	})

	days, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days[0].Slots) != 0 {
		t.Errorf("all-day block should leave no slots, got %d", len(days[0].Slots))
	}
}

func TestAvailability_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	first, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Availability(context.Background(), prof.ID, service.ID, monday, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("day counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Date != second[i].Date || len(first[i].Slots) != len(second[i].Slots) {
			t.Fatalf("day %d differs between calls", i)
		}
		for j := range first[i].Slots {
			if !first[i].Slots[j].Start.Equal(second[i].Slots[j].Start) {
				t.Errorf("day %d slot %d differs", i, j)
			}
		}
	}
}

func TestBook_Success(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, planner := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	appt, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID,
		ServiceID:      service.ID,
		CustomerID:     uuid.New(),
		Date:           monday,
		Start:          "09:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if appt.Status != db.AppointmentPending {
		t.Errorf("expected pending status, got %s", appt.Status)
	}
	if got := appt.EndAt.Sub(appt.StartAt); got != time.Hour {
		t.Errorf("duration snapshot wrong: %v", got)
	}
	if len(planner.planned) != 1 || planner.planned[0] != appt.ID {
		t.Errorf("planner not invoked for new appointment")
	}
}

func TestBook_ConflictSurfacesAsErrConflict(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, planner := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	req := BookRequest{
		ProfessionalID: prof.ID,
		ServiceID:      service.ID,
		CustomerID:     uuid.New(),
		Date:           monday,
		Start:          "09:00",
	}
	if _, err := svc.Book(context.Background(), req); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	_, err := svc.Book(context.Background(), req)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(planner.planned) != 1 {
		t.Errorf("planner must not run for a conflicting booking")
	}
}

func TestBook_AllDayBlockConflictsAcrossWholeDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, planner := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	// The block's stored clock times sit in the afternoon; all_day means
	// the morning is closed too.
	store.blocks = append(store.blocks, &db.ManualBlock{
		ID:             uuid.New(),
		ProfessionalID: prof.ID,
		StartAt:        localInstant(t, monday, "13:00"),
		EndAt:          localInstant(t, monday, "13:30"),
		Timezone:       bizZone,
		AllDay:         true,
	})

	_, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID,
		ServiceID:      service.ID,
		CustomerID:     uuid.New(),
		Date:           monday,
		Start:          "09:00",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict against an all-day block, got %v", err)
	}
	if len(planner.planned) != 0 {
		t.Errorf("planner must not run for a blocked booking")
	}
}

func TestBook_PastStartRejected(t *testing.T) {
	// Now is 10:00 local on the target Monday.
	now := localInstant(t, monday, "10:00")
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	_, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID,
		ServiceID:      service.ID,
		CustomerID:     uuid.New(),
		Date:           monday,
		Start:          "09:00",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for past start, got %v", err)
	}
}

func TestReschedule_ExcludesSelfFromConflictCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, planner := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	appt, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID,
		ServiceID:      service.ID,
		CustomerID:     uuid.New(),
		Date:           monday,
		Start:          "09:00",
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	// Moving by 30 minutes overlaps the appointment's own old interval;
	// excluding itself makes this legal.
	moved, err := svc.Reschedule(context.Background(), appt.ID, monday, "09:30")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if got, _ := schedule.NewConverter().FormatWallClock(moved.StartAt, bizZone); got != "09:30" {
		t.Errorf("expected 09:30 start, got %s", got)
	}
	if len(planner.replanned) != 1 {
		t.Errorf("planner must replan after reschedule")
	}
}

func TestReschedule_ConflictWithOtherAppointment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	first, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID, ServiceID: service.ID, CustomerID: uuid.New(),
		Date: monday, Start: "09:00",
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID, ServiceID: service.ID, CustomerID: uuid.New(),
		Date: monday, Start: "10:00",
	}); err != nil {
		t.Fatalf("second booking failed: %v", err)
	}

	_, err = svc.Reschedule(context.Background(), first.ID, monday, "10:30")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCancel_CancelsRemindersToo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, planner := setupService(t, mondayMorning, now)
	prof := store.addProfessional()
	service := store.addService(60)

	appt, err := svc.Book(context.Background(), BookRequest{
		ProfessionalID: prof.ID, ServiceID: service.ID, CustomerID: uuid.New(),
		Date: monday, Start: "09:00",
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	if err := svc.Cancel(context.Background(), appt.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if reason, ok := planner.canceled[appt.ID]; !ok || reason != db.ReasonApptCanceled {
		t.Errorf("expected reminder cancelation with reason %q, got %q (present=%v)",
			db.ReasonApptCanceled, reason, ok)
	}
	stored, _ := store.GetAppointment(context.Background(), appt.ID)
	if stored.Status != db.AppointmentCanceled {
		t.Errorf("expected canceled status, got %s", stored.Status)
	}
}
