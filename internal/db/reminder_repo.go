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

// GetReminderSettings retrieves the per-business reminder policy.
func (r *Repository) GetReminderSettings(ctx context.Context, businessID uuid.UUID) (*ReminderSettings, error) {
	query := `
		SELECT business_id, active, channels, offsets_min, updated_at
		FROM reminder_settings
		WHERE business_id = $1
	`

	var s ReminderSettings
	err := r.db.Pool().QueryRow(ctx, query, businessID).Scan(
		&s.BusinessID, &s.Active, &s.Channels, &s.OffsetsMin, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reminder settings for business %s: %w", businessID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder settings: %w", err)
	}
	return &s, nil
}

// CreateReminderJobs inserts a batch of planned jobs. A partial unique index
// on (appointment_id, channel, offset_min) over live rows backs the
// at-most-one-non-terminal invariant; a conflicting insert is dropped
// silently rather than failing the batch.
func (r *Repository) CreateReminderJobs(ctx context.Context, jobs []*ReminderJob) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert := `
		INSERT INTO reminder_jobs (
			id, appointment_id, customer_id, business_id,
			channel, offset_min, due_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`

	for _, job := range jobs {
		if _, err := tx.Exec(ctx, insert,
			job.ID, job.AppointmentID, job.CustomerID, job.BusinessID,
			job.Channel, job.OffsetMin, job.DueAt, job.Status,
		); err != nil {
			return fmt.Errorf("insert reminder job: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("reminder jobs created",
		zap.Int("count", len(jobs)),
		zap.String("appointment_id", jobs[0].AppointmentID.String()),
	)
	return nil
}

// CancelReminderJobs moves every non-terminal job of an appointment to
// canceled with the given reason. Terminal jobs are untouched. Returns how
// many rows transitioned.
func (r *Repository) CancelReminderJobs(ctx context.Context, appointmentID uuid.UUID, reason string) (int64, error) {
	query := `
		UPDATE reminder_jobs
		SET status = 'canceled', reason = $2, updated_at = NOW()
		WHERE appointment_id = $1 AND status IN ('pending', 'scheduled')
	`

	result, err := r.db.Pool().Exec(ctx, query, appointmentID, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel reminder jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// SweepStaleJobs marks every live job whose due_at fell behind the grace
// cutoff as skipped(late_due) and returns the affected jobs for auditing.
// Protects against firing reminders after an outage.
func (r *Repository) SweepStaleJobs(ctx context.Context, cutoff time.Time) ([]*ReminderJob, error) {
	query := `
		UPDATE reminder_jobs
		SET status = 'skipped', reason = 'late_due', updated_at = NOW()
		WHERE status IN ('pending', 'scheduled') AND due_at < $1
		RETURNING id, appointment_id, customer_id, business_id,
			channel, offset_min, due_at, status, reason, attempts,
			last_error, sent_at, created_at, updated_at
	`

	rows, err := r.db.Pool().Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep stale jobs: %w", err)
	}
	defer rows.Close()

	return scanReminderJobs(rows)
}

// DueCursor is the stable paging position over (due_at, id).
type DueCursor struct {
	DueAt time.Time
	ID    uuid.UUID
}

// ListDueJobs returns up to limit live jobs with due_at in [from, to],
// ordered by (due_at, id), strictly after the cursor. A zero cursor starts
// from the beginning of the window.
func (r *Repository) ListDueJobs(ctx context.Context, from, to time.Time, cursor DueCursor, limit int) ([]*ReminderJob, error) {
	query := `
		SELECT id, appointment_id, customer_id, business_id,
			channel, offset_min, due_at, status, reason, attempts,
			last_error, sent_at, created_at, updated_at
		FROM reminder_jobs
		WHERE status IN ('pending', 'scheduled')
			AND due_at >= $1 AND due_at <= $2
			AND (due_at, id) > ($3, $4)
		ORDER BY due_at, id
		LIMIT $5
	`

	cursorDue := cursor.DueAt
	if cursorDue.IsZero() {
		// Strictly before any real due_at in the window.
		cursorDue = from.Add(-time.Second)
	}

	rows, err := r.db.Pool().Query(ctx, query, from, to, cursorDue, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	return scanReminderJobs(rows)
}

// MarkJobSent transitions a live job to sent. Returns false when the job was
// already terminal (lost to a concurrent transition), in which case nothing
// changed.
func (r *Repository) MarkJobSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	query := `
		UPDATE reminder_jobs
		SET status = 'sent', sent_at = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled')
	`

	result, err := r.db.Pool().Exec(ctx, query, id, sentAt)
	if err != nil {
		return false, fmt.Errorf("mark job sent: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkJobFailed transitions a live job to failed, recording the transport
// error and bumping the attempt counter.
func (r *Repository) MarkJobFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	query := `
		UPDATE reminder_jobs
		SET status = 'failed', last_error = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled')
	`

	result, err := r.db.Pool().Exec(ctx, query, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkJobSkipped transitions a live job to skipped with a reason code.
func (r *Repository) MarkJobSkipped(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE reminder_jobs
		SET status = 'skipped', reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled')
	`

	result, err := r.db.Pool().Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark job skipped: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// DeferJob moves a live job's due_at forward and sets it to scheduled; used
// by the channel stagger policy.
func (r *Repository) DeferJob(ctx context.Context, id uuid.UUID, until time.Time) (bool, error) {
	query := `
		UPDATE reminder_jobs
		SET status = 'scheduled', due_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled')
	`

	result, err := r.db.Pool().Exec(ctx, query, id, until)
	if err != nil {
		return false, fmt.Errorf("defer job: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// InsertReminderEvent appends one audit record. Events are append-only.
func (r *Repository) InsertReminderEvent(ctx context.Context, ev *ReminderEvent) error {
	query := `
		INSERT INTO reminder_events (id, job_id, appointment_id, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		ev.ID, ev.JobID, ev.AppointmentID, ev.Outcome, ev.Detail,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reminder event: %w", err)
	}
	return nil
}

func scanReminderJobs(rows pgx.Rows) ([]*ReminderJob, error) {
	var jobs []*ReminderJob
	for rows.Next() {
		var j ReminderJob
		if err := rows.Scan(
			&j.ID, &j.AppointmentID, &j.CustomerID, &j.BusinessID,
			&j.Channel, &j.OffsetMin, &j.DueAt, &j.Status, &j.Reason, &j.Attempts,
			&j.LastError, &j.SentAt, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reminder job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminder jobs: %w", err)
	}
	return jobs, nil
}
