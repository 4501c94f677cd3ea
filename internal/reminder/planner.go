// Package reminder plans and dispatches appointment reminders. The planner
// materializes one job per (channel, offset) when an appointment is booked;
// the dispatcher drains due jobs on a fixed tick under a cross-instance lock.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/clock"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/metrics"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/notify"
)

// PlanStore is the persistence surface the planner needs.
type PlanStore interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*db.Appointment, error)
	GetReminderSettings(ctx context.Context, businessID uuid.UUID) (*db.ReminderSettings, error)
	CreateReminderJobs(ctx context.Context, jobs []*db.ReminderJob) error
	CancelReminderJobs(ctx context.Context, appointmentID uuid.UUID, reason string) (int64, error)
}

// Planner turns an appointment plus its business's reminder policy into
// concrete reminder jobs.
type Planner struct {
	store  PlanStore
	clk    clock.Clock
	logger *zap.Logger
}

func NewPlanner(store PlanStore, clk clock.Clock, logger *zap.Logger) *Planner {
	return &Planner{store: store, clk: clk, logger: logger}
}

// PlanForAppointment creates one pending job per (channel, offset) of the
// business's settings, due at start minus offset. Offsets already in the past
// are not planned. A business without settings, or with reminders disabled,
// yields no jobs. Re-planning the same appointment is a no-op for job
// combinations that already have a live row.
func (p *Planner) PlanForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	appt, err := p.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !appt.IsActive() {
		return nil
	}

	settings, err := p.store.GetReminderSettings(ctx, appt.BusinessID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !settings.Active {
		return nil
	}

	now := p.clk.Now()
	var jobs []*db.ReminderJob
	planned := make(map[string]int)

	for _, channel := range settings.Channels {
		if !notify.KnownChannel(channel) {
			p.logger.Warn("skipping unknown reminder channel",
				zap.String("channel", channel),
				zap.String("business_id", appt.BusinessID.String()),
			)
			continue
		}
		for _, offset := range settings.OffsetsMin {
			if offset <= 0 {
				continue
			}
			due := appt.StartAt.Add(-time.Duration(offset) * time.Minute)
			if !due.After(now) {
				continue
			}
			jobs = append(jobs, &db.ReminderJob{
				ID:            uuid.New(),
				AppointmentID: appt.ID,
				CustomerID:    appt.CustomerID,
				BusinessID:    appt.BusinessID,
				Channel:       channel,
				OffsetMin:     offset,
				DueAt:         due,
				Status:        db.JobPending,
			})
			planned[channel]++
		}
	}

	if len(jobs) == 0 {
		return nil
	}
	if err := p.store.CreateReminderJobs(ctx, jobs); err != nil {
		return fmt.Errorf("plan reminders for appointment %s: %w", appointmentID, err)
	}
	for channel, count := range planned {
		metrics.RecordJobsPlanned(channel, count)
	}
	return nil
}

// ReplanForAppointment cancels the outstanding jobs of the old schedule and
// plans a fresh set against the current start time. Jobs already terminal are
// left as history.
func (p *Planner) ReplanForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	canceled, err := p.store.CancelReminderJobs(ctx, appointmentID, db.ReasonRescheduled)
	if err != nil {
		return err
	}
	if canceled > 0 {
		p.logger.Info("canceled reminder jobs before replan",
			zap.Int64("count", canceled),
			zap.String("appointment_id", appointmentID.String()),
		)
	}
	return p.PlanForAppointment(ctx, appointmentID)
}

// CancelForAppointment cancels every live job of the appointment with the
// given reason.
func (p *Planner) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) error {
	canceled, err := p.store.CancelReminderJobs(ctx, appointmentID, reason)
	if err != nil {
		return err
	}
	if canceled > 0 {
		p.logger.Info("reminder jobs canceled",
			zap.Int64("count", canceled),
			zap.String("appointment_id", appointmentID.String()),
			zap.String("reason", reason),
		)
	}
	return nil
}
