// Package booking implements the availability engine and the
// conflict-guarded booking operations. Both sides share one overlap
// predicate (schedule.Interval) and one busy-interval collector, so a slot
// the engine offers is exactly a slot the guard would accept, racing writers
// aside.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/clock"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/schedule"
)

const maxAvailabilityDays = 31

// Store is the persistence surface the booking service needs.
type Store interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*db.Business, error)
	GetProfessional(ctx context.Context, id uuid.UUID) (*db.Professional, error)
	GetService(ctx context.Context, id uuid.UUID) (*db.Service, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*db.Appointment, error)
	ListActiveAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*db.Appointment, error)
	ListManualBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]*db.ManualBlock, error)
	ReserveAppointment(ctx context.Context, appt *db.Appointment) error
	RescheduleAppointment(ctx context.Context, appt *db.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) error
}

// ReminderPlanner is the slice of the reminder planner the booking service
// drives after each write.
type ReminderPlanner interface {
	PlanForAppointment(ctx context.Context, appointmentID uuid.UUID) error
	ReplanForAppointment(ctx context.Context, appointmentID uuid.UUID) error
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) error
}

// Service exposes availability queries and the book/reschedule/cancel
// operations.
type Service struct {
	store   Store
	planner ReminderPlanner
	conv    *schedule.Converter
	clk     clock.Clock
	logger  *zap.Logger
}

// NewService creates the booking service.
func NewService(store Store, planner ReminderPlanner, conv *schedule.Converter, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		planner: planner,
		conv:    conv,
		clk:     clk,
		logger:  logger,
	}
}

// BookRequest describes a booking attempt: a professional, a service, and a
// business-local date plus HH:mm start.
type BookRequest struct {
	ProfessionalID uuid.UUID
	ServiceID      uuid.UUID
	CustomerID     uuid.UUID
	Date           schedule.LocalDate
	Start          string
}

// Book reserves the requested slot. The service duration is snapshotted onto
// the appointment at creation; later edits to the service do not move
// existing bookings. On success the reminder planner runs for the new
// appointment; a planner failure is logged but does not undo the booking.
func (s *Service) Book(ctx context.Context, req BookRequest) (*db.Appointment, error) {
	prof, err := s.store.GetProfessional(ctx, req.ProfessionalID)
	if err != nil {
		return nil, err
	}
	svc, err := s.store.GetService(ctx, req.ServiceID)
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

	start, err := s.conv.At(req.Date, req.Start, biz.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !start.After(s.clk.Now()) {
		return nil, fmt.Errorf("%w: start is in the past", ErrValidation)
	}
	end := start.Add(time.Duration(svc.DurationMin) * time.Minute)

	appt := &db.Appointment{
		ID:             uuid.New(),
		BusinessID:     biz.ID,
		ProfessionalID: prof.ID,
		ServiceID:      svc.ID,
		CustomerID:     req.CustomerID,
		StartAt:        start,
		EndAt:          end,
		Timezone:       biz.Timezone,
		Status:         db.AppointmentPending,
	}

	if err := s.store.ReserveAppointment(ctx, appt); err != nil {
		if errors.Is(err, db.ErrOverlap) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("professional_id", prof.ID.String()),
		zap.Time("start_at", appt.StartAt),
	)

	if err := s.planner.PlanForAppointment(ctx, appt.ID); err != nil {
		s.logger.Warn("reminder planning failed after booking",
			zap.Error(err),
			zap.String("appointment_id", appt.ID.String()),
		)
	}
	return appt, nil
}

// Reschedule moves an active appointment to a new business-local start,
// keeping the duration snapshotted at booking time. The conflict check
// excludes the appointment itself. Reminder jobs for the old time are
// canceled and a fresh set is planned against the new start.
func (s *Service) Reschedule(ctx context.Context, appointmentID uuid.UUID, date schedule.LocalDate, startHHMM string) (*db.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsActive() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrValidation, appt.Status)
	}

	start, err := s.conv.At(date, startHHMM, appt.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !start.After(s.clk.Now()) {
		return nil, fmt.Errorf("%w: start is in the past", ErrValidation)
	}

	duration := appt.EndAt.Sub(appt.StartAt)
	appt.StartAt = start
	appt.EndAt = start.Add(duration)

	if err := s.store.RescheduleAppointment(ctx, appt); err != nil {
		if errors.Is(err, db.ErrOverlap) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID.String()),
		zap.Time("start_at", appt.StartAt),
	)

	if err := s.planner.ReplanForAppointment(ctx, appt.ID); err != nil {
		s.logger.Warn("reminder replanning failed after reschedule",
			zap.Error(err),
			zap.String("appointment_id", appt.ID.String()),
		)
	}
	return appt, nil
}

// Cancel transitions an appointment to canceled and cancels its outstanding
// reminder jobs so a reminder for a dead appointment can never fire.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) error {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !appt.IsActive() {
		return fmt.Errorf("%w: appointment is %s", ErrValidation, appt.Status)
	}

	if err := s.store.UpdateAppointmentStatus(ctx, appointmentID, db.AppointmentCanceled); err != nil {
		return err
	}

	s.logger.Info("appointment canceled",
		zap.String("appointment_id", appointmentID.String()),
	)

	if err := s.planner.CancelForAppointment(ctx, appointmentID, db.ReasonApptCanceled); err != nil {
		s.logger.Warn("reminder cancelation failed after appointment cancel",
			zap.Error(err),
			zap.String("appointment_id", appointmentID.String()),
		)
	}
	return nil
}
