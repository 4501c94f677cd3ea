package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles all store operations for the scheduling core. The
// interval-overlap predicate appears in exactly one SQL shape — half-open,
// exclusive endpoints: start_at < range_end AND end_at > range_start — so
// availability and conflict checks cannot drift apart.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a repository over the shared pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetBusiness retrieves a business by id.
func (r *Repository) GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error) {
	query := `
		SELECT id, slug, name, timezone, opening_hours, created_at, updated_at
		FROM businesses
		WHERE id = $1
	`

	var b Business
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&b.ID, &b.Slug, &b.Name, &b.Timezone, &b.OpeningHours, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query business: %w", err)
	}
	return &b, nil
}

// GetProfessional retrieves a professional by id.
func (r *Repository) GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	query := `
		SELECT id, business_id, name, created_at
		FROM professionals
		WHERE id = $1
	`

	var p Professional
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&p.ID, &p.BusinessID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("professional %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query professional: %w", err)
	}
	return &p, nil
}

// GetService retrieves a service by id.
func (r *Repository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	query := `
		SELECT id, business_id, name, duration_min, created_at
		FROM services
		WHERE id = $1
	`

	var s Service
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMin, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query service: %w", err)
	}
	return &s, nil
}

// GetCustomer retrieves a customer by id.
func (r *Repository) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	query := `
		SELECT id, business_id, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(push_token, ''), created_at
		FROM customers
		WHERE id = $1
	`

	var c Customer
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID, &c.BusinessID, &c.Name, &c.Phone, &c.Email, &c.PushToken, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &c, nil
}

// GetAppointment retrieves an appointment by id.
func (r *Repository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `
		SELECT id, business_id, professional_id, service_id, customer_id,
			start_at, end_at, timezone, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`

	var a Appointment
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&a.ID, &a.BusinessID, &a.ProfessionalID, &a.ServiceID, &a.CustomerID,
		&a.StartAt, &a.EndAt, &a.Timezone, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query appointment: %w", err)
	}
	return &a, nil
}

// ListActiveAppointmentsInRange returns pending/confirmed appointments for a
// professional whose interval intersects [from, to). Completed and canceled
// rows never block. excludeID, when non-nil, drops the appointment being
// rescheduled from the result.
func (r *Repository) ListActiveAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*Appointment, error) {
	query := `
		SELECT id, business_id, professional_id, service_id, customer_id,
			start_at, end_at, timezone, status, created_at, updated_at
		FROM appointments
		WHERE professional_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_at < $3 AND end_at > $2
			AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY start_at
	`

	rows, err := r.db.Pool().Query(ctx, query, professionalID, from, to, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query appointments in range: %w", err)
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.BusinessID, &a.ProfessionalID, &a.ServiceID, &a.CustomerID,
			&a.StartAt, &a.EndAt, &a.Timezone, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return appts, nil
}

// ListManualBlocksInRange returns manual blocks for a professional whose
// interval intersects [from, to).
func (r *Repository) ListManualBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]*ManualBlock, error) {
	query := `
		SELECT id, professional_id, start_at, end_at, timezone, all_day, created_at
		FROM manual_blocks
		WHERE professional_id = $1
			AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`

	rows, err := r.db.Pool().Query(ctx, query, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query manual blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*ManualBlock
	for rows.Next() {
		var b ManualBlock
		if err := rows.Scan(&b.ID, &b.ProfessionalID, &b.StartAt, &b.EndAt, &b.Timezone, &b.AllDay, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan manual block: %w", err)
		}
		blocks = append(blocks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manual blocks: %w", err)
	}
	return blocks, nil
}

// ReserveAppointment inserts the appointment if its interval is free.
//
// The overlap check and the insert run inside one transaction holding a
// transaction-scoped advisory lock on the professional id, so two concurrent
// bookings for the same professional serialize instead of both passing the
// check and double-booking.
func (r *Repository) ReserveAppointment(ctx context.Context, appt *Appointment) error {
	return r.withProfessionalLock(ctx, appt.ProfessionalID, func(tx pgx.Tx) error {
		free, err := intervalFree(ctx, tx, appt.ProfessionalID, appt.StartAt, appt.EndAt, nil)
		if err != nil {
			return err
		}
		if !free {
			return ErrOverlap
		}

		insert := `
			INSERT INTO appointments (
				id, business_id, professional_id, service_id, customer_id,
				start_at, end_at, timezone, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at
		`
		err = tx.QueryRow(ctx, insert,
			appt.ID, appt.BusinessID, appt.ProfessionalID, appt.ServiceID, appt.CustomerID,
			appt.StartAt, appt.EndAt, appt.Timezone, appt.Status,
		).Scan(&appt.CreatedAt, &appt.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
}

// RescheduleAppointment moves an active appointment to a new interval,
// re-running the conflict check with the appointment itself excluded. Same
// locking discipline as ReserveAppointment.
func (r *Repository) RescheduleAppointment(ctx context.Context, appt *Appointment) error {
	return r.withProfessionalLock(ctx, appt.ProfessionalID, func(tx pgx.Tx) error {
		free, err := intervalFree(ctx, tx, appt.ProfessionalID, appt.StartAt, appt.EndAt, &appt.ID)
		if err != nil {
			return err
		}
		if !free {
			return ErrOverlap
		}

		update := `
			UPDATE appointments
			SET start_at = $2, end_at = $3, timezone = $4, updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'confirmed')
			RETURNING updated_at
		`
		err = tx.QueryRow(ctx, update, appt.ID, appt.StartAt, appt.EndAt, appt.Timezone).Scan(&appt.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("appointment %s not active: %w", appt.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
}

// UpdateAppointmentStatus transitions an appointment's status.
func (r *Repository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE appointments
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}

	r.logger.Info("appointment status updated",
		zap.String("appointment_id", id.String()),
		zap.String("status", status),
	)
	return nil
}

func (r *Repository) withProfessionalLock(ctx context.Context, professionalID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Held until commit/rollback; serializes all reserving writes per
	// professional.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, professionalID); err != nil {
		return fmt.Errorf("acquire professional lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func intervalFree(ctx context.Context, tx pgx.Tx, professionalID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	// All-day blocks cover their whole local day regardless of the stored
	// clock times, mirroring the availability engine's expansion. The
	// microsecond backoff keeps a block ending exactly at local midnight
	// from swallowing the following day.
	query := `
		SELECT NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE professional_id = $1
				AND status IN ('pending', 'confirmed')
				AND start_at < $3 AND end_at > $2
				AND ($4::uuid IS NULL OR id <> $4)
		) AND NOT EXISTS (
			SELECT 1 FROM manual_blocks
			WHERE professional_id = $1
				AND CASE WHEN all_day
					THEN date_trunc('day', start_at AT TIME ZONE timezone) AT TIME ZONE timezone < $3
						AND (date_trunc('day', (end_at - interval '1 microsecond') AT TIME ZONE timezone) + interval '1 day') AT TIME ZONE timezone > $2
					ELSE start_at < $3 AND end_at > $2
				END
		)
	`

	var free bool
	if err := tx.QueryRow(ctx, query, professionalID, start, end, excludeID).Scan(&free); err != nil {
		return false, fmt.Errorf("check interval: %w", err)
	}
	return free, nil
}
