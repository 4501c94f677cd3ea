package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/clock"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
)

func seedAppointment(store *memStore, startAt time.Time) *db.Appointment {
	appt := &db.Appointment{
		ID:             uuid.New(),
		BusinessID:     uuid.New(),
		ProfessionalID: uuid.New(),
		ServiceID:      uuid.New(),
		CustomerID:     uuid.New(),
		StartAt:        startAt,
		EndAt:          startAt.Add(time.Hour),
		Timezone:       "America/Sao_Paulo",
		Status:         db.AppointmentConfirmed,
	}
	store.appointments[appt.ID] = appt
	return appt
}

func seedSettings(store *memStore, businessID uuid.UUID, channels []string, offsets []int) {
	store.settings[businessID] = &db.ReminderSettings{
		BusinessID: businessID,
		Active:     true,
		Channels:   channels,
		OffsetsMin: offsets,
	}
}

func TestPlanner_CreatesChannelOffsetMatrix(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	seedSettings(store, appt.BusinessID, []string{"push", "email"}, []int{1440, 60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	if len(store.jobs) != 4 {
		t.Fatalf("expected 4 jobs (2 channels x 2 offsets), got %d", len(store.jobs))
	}
	for _, job := range store.jobs {
		wantDue := appt.StartAt.Add(-time.Duration(job.OffsetMin) * time.Minute)
		if !job.DueAt.Equal(wantDue) {
			t.Errorf("job %s/%d due %v, want %v", job.Channel, job.OffsetMin, job.DueAt, wantDue)
		}
		if job.Status != db.JobPending {
			t.Errorf("new job must be pending, got %s", job.Status)
		}
	}
}

func TestPlanner_SkipsPastOffsets(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Appointment 90 minutes out: the 24h offset is already behind now.
	appt := seedAppointment(store, now.Add(90*time.Minute))
	seedSettings(store, appt.BusinessID, []string{"push"}, []int{1440, 60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	if len(store.jobs) != 1 {
		t.Fatalf("expected only the 60min job, got %d jobs", len(store.jobs))
	}
	if store.jobs[0].OffsetMin != 60 {
		t.Errorf("expected 60min offset, got %d", store.jobs[0].OffsetMin)
	}
}

func TestPlanner_NoSettingsMeansNoJobs(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("missing settings must not be an error: %v", err)
	}
	if len(store.jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(store.jobs))
	}
}

func TestPlanner_InactiveSettingsMeansNoJobs(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	seedSettings(store, appt.BusinessID, []string{"push"}, []int{60})
	store.settings[appt.BusinessID].Active = false

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(store.jobs) != 0 {
		t.Errorf("inactive settings must plan nothing, got %d jobs", len(store.jobs))
	}
}

func TestPlanner_IgnoresUnknownChannels(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	seedSettings(store, appt.BusinessID, []string{"fax", "email"}, []int{60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(store.jobs) != 1 || store.jobs[0].Channel != "email" {
		t.Errorf("expected one email job, got %+v", store.jobs)
	}
}

func TestPlanner_PlanIsIdempotent(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	seedSettings(store, appt.BusinessID, []string{"push"}, []int{60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	for i := 0; i < 2; i++ {
		if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
			t.Fatalf("plan %d failed: %v", i, err)
		}
	}
	if len(store.jobs) != 1 {
		t.Errorf("double plan must not duplicate live jobs, got %d", len(store.jobs))
	}
}

func TestPlanner_ReplanCancelsOldAndPlansNew(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	seedSettings(store, appt.BusinessID, []string{"push"}, []int{60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	oldDue := store.jobs[0].DueAt

	appt.StartAt = appt.StartAt.Add(3 * time.Hour)
	appt.EndAt = appt.EndAt.Add(3 * time.Hour)
	if err := planner.ReplanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("replan failed: %v", err)
	}

	if len(store.jobs) != 2 {
		t.Fatalf("expected canceled old job + new job, got %d", len(store.jobs))
	}
	old, fresh := store.jobs[0], store.jobs[1]
	if old.Status != db.JobCanceled || old.Reason != db.ReasonRescheduled {
		t.Errorf("old job should be canceled(appointment_rescheduled), got %s(%s)", old.Status, old.Reason)
	}
	if !fresh.DueAt.Equal(oldDue.Add(3 * time.Hour)) {
		t.Errorf("new job due %v, want %v", fresh.DueAt, oldDue.Add(3*time.Hour))
	}
}

func TestPlanner_CancelLeavesTerminalJobsAlone(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	seedSettings(store, appt.BusinessID, []string{"push", "email"}, []int{60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	sentAt := now
	if ok, _ := store.MarkJobSent(context.Background(), store.jobs[0].ID, sentAt); !ok {
		t.Fatal("seed transition failed")
	}

	if err := planner.CancelForAppointment(context.Background(), appt.ID, db.ReasonApptCanceled); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if store.jobs[0].Status != db.JobSent {
		t.Errorf("sent job must stay sent, got %s", store.jobs[0].Status)
	}
	if store.jobs[1].Status != db.JobCanceled || store.jobs[1].Reason != db.ReasonApptCanceled {
		t.Errorf("live job should be canceled(appointment_canceled), got %s(%s)",
			store.jobs[1].Status, store.jobs[1].Reason)
	}
}

func TestPlanner_InactiveAppointmentPlansNothing(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appt := seedAppointment(store, now.Add(48*time.Hour))
	appt.Status = db.AppointmentCanceled
	seedSettings(store, appt.BusinessID, []string{"push"}, []int{60})

	planner := NewPlanner(store, clock.NewFixed(now), zap.NewNop())
	if err := planner.PlanForAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(store.jobs) != 0 {
		t.Errorf("canceled appointment must plan nothing, got %d jobs", len(store.jobs))
	}
}
