package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/clock"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/metrics"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/notify"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/schedule"
)

// DispatchStore is the persistence surface one dispatch tick needs.
type DispatchStore interface {
	SweepStaleJobs(ctx context.Context, cutoff time.Time) ([]*db.ReminderJob, error)
	ListDueJobs(ctx context.Context, from, to time.Time, cursor db.DueCursor, limit int) ([]*db.ReminderJob, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*db.Appointment, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*db.Customer, error)
	MarkJobSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
	MarkJobFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	MarkJobSkipped(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	DeferJob(ctx context.Context, id uuid.UUID, until time.Time) (bool, error)
	InsertReminderEvent(ctx context.Context, ev *db.ReminderEvent) error
}

// Locker serializes dispatch ticks across instances. Acquire returns false
// without error when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NoopLocker always grants the lock. It serves single-instance deployments
// that run without Redis; the in-process mutex still prevents overlapping
// ticks.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLocker) Renew(context.Context) (bool, error)   { return true, nil }
func (NoopLocker) Release(context.Context) error         { return nil }

// Config tunes one dispatch tick.
type Config struct {
	// Grace is how far behind due_at a job may be and still send. Older
	// live jobs are swept to skipped(late_due).
	Grace time.Duration
	// Stagger is the gap added to a secondary channel's due time when the
	// primary channel of the same reminder fires.
	Stagger time.Duration
	// PageSize bounds one ListDueJobs page.
	PageSize int
}

// Dispatcher drains due reminder jobs. One tick sweeps stale jobs, then pages
// through the due window deciding send/defer/skip per job. Ticks are
// single-flight in-process and mutually exclusive across instances via the
// Locker.
type Dispatcher struct {
	store  DispatchStore
	sender notify.Sender
	locker Locker
	conv   *schedule.Converter
	clk    clock.Clock
	cfg    Config
	logger *zap.Logger

	mu sync.Mutex
}

func NewDispatcher(store DispatchStore, sender notify.Sender, locker Locker, conv *schedule.Converter, clk clock.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Grace == 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.Stagger == 0 {
		cfg.Stagger = 2 * time.Minute
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		locker: locker,
		conv:   conv,
		clk:    clk,
		cfg:    cfg,
		logger: logger,
	}
}

// Run ticks the dispatcher on the given interval until the context ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if err := d.RunTick(ctx); err != nil {
				d.logger.Error("dispatch tick failed", zap.Error(err))
			}
		}
	}
}

// RunTick executes one dispatch pass. A tick that finds the in-process or
// cross-instance lock held returns nil immediately; the next tick picks the
// work up.
func (d *Dispatcher) RunTick(ctx context.Context) error {
	if !d.mu.TryLock() {
		d.logger.Debug("previous tick still running, skipping")
		return nil
	}
	defer d.mu.Unlock()

	acquired, err := d.locker.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}
	metrics.RecordLockAttempt(acquired)
	if !acquired {
		d.logger.Debug("dispatch lock held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := d.locker.Release(ctx); err != nil {
			d.logger.Warn("release dispatch lock", zap.Error(err))
		}
	}()

	started := time.Now()
	defer func() { metrics.RecordDispatchTick(time.Since(started)) }()

	now := d.clk.Now()
	cutoff := now.Add(-d.cfg.Grace)

	swept, err := d.store.SweepStaleJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep stale jobs: %w", err)
	}
	for _, job := range swept {
		d.audit(ctx, job, "skipped", db.ReasonLateDue)
		metrics.RecordJobOutcome(db.JobSkipped, job.Channel)
	}
	if len(swept) > 0 {
		d.logger.Warn("swept stale reminder jobs", zap.Int("count", len(swept)))
	}

	var cursor db.DueCursor
	for {
		jobs, err := d.store.ListDueJobs(ctx, cutoff, now, cursor, d.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("list due jobs: %w", err)
		}
		if len(jobs) == 0 {
			break
		}

		if _, err := d.locker.Renew(ctx); err != nil {
			d.logger.Warn("renew dispatch lock", zap.Error(err))
		}

		d.processPage(ctx, now, jobs)

		last := jobs[len(jobs)-1]
		cursor = db.DueCursor{DueAt: last.DueAt, ID: last.ID}
		if len(jobs) < d.cfg.PageSize {
			break
		}
	}
	return nil
}

type groupKey struct {
	appointmentID uuid.UUID
	dueUnixNano   int64
}

// processPage groups the page's jobs by (appointment, due time) and resolves
// each group under the channel policy. Group order follows first appearance
// in the page, which ListDueJobs keeps stable across ticks.
func (d *Dispatcher) processPage(ctx context.Context, now time.Time, jobs []*db.ReminderJob) {
	groups := make(map[groupKey][]*db.ReminderJob)
	var order []groupKey

	for _, job := range jobs {
		key := groupKey{appointmentID: job.AppointmentID, dueUnixNano: job.DueAt.UnixNano()}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], job)
	}

	for _, key := range order {
		d.processGroup(ctx, now, groups[key])
	}
}

func (d *Dispatcher) processGroup(ctx context.Context, now time.Time, group []*db.ReminderJob) {
	appt, err := d.store.GetAppointment(ctx, group[0].AppointmentID)
	if errors.Is(err, db.ErrNotFound) {
		d.skipAll(ctx, group, db.ReasonAppointmentMissing)
		return
	}
	if err != nil {
		d.logger.Error("load appointment for reminder group",
			zap.Error(err),
			zap.String("appointment_id", group[0].AppointmentID.String()),
		)
		return
	}
	if !appt.IsActive() {
		d.skipAll(ctx, group, db.ReasonAppointmentInactive)
		return
	}

	// A pending job whose due time no longer matches start minus offset
	// survived a reschedule race; it must not fire against the old schedule.
	// Scheduled jobs were deferred by the stagger policy and are exempt.
	live := group[:0:len(group)]
	for _, job := range group {
		expected := appt.StartAt.Add(-time.Duration(job.OffsetMin) * time.Minute)
		if job.Status == db.JobPending && !expected.Equal(job.DueAt) {
			d.skipJob(ctx, job, db.ReasonOffsetMismatch)
			continue
		}
		live = append(live, job)
	}
	if len(live) == 0 {
		return
	}

	customer, err := d.store.GetCustomer(ctx, appt.CustomerID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		d.logger.Error("load customer for reminder group",
			zap.Error(err),
			zap.String("customer_id", appt.CustomerID.String()),
		)
		return
	}

	for _, decision := range Decide(live, customer, d.cfg.Stagger, now, appt.StartAt) {
		switch decision.Action {
		case ActionSend:
			d.sendJob(ctx, now, appt, decision)
		case ActionDefer:
			d.deferJob(ctx, decision)
		case ActionSkip:
			d.skipJob(ctx, decision.Job, decision.Reason)
		}
	}
}

func (d *Dispatcher) sendJob(ctx context.Context, now time.Time, appt *db.Appointment, decision Decision) {
	job := decision.Job
	msg, err := d.composeMessage(job, appt, decision.Destination)
	if err != nil {
		d.logger.Error("compose reminder message", zap.Error(err), zap.String("job_id", job.ID.String()))
		return
	}

	if sendErr := d.sender.Send(ctx, msg); sendErr != nil {
		ok, err := d.store.MarkJobFailed(ctx, job.ID, sendErr.Error())
		if err != nil {
			d.logger.Error("mark job failed", zap.Error(err), zap.String("job_id", job.ID.String()))
			return
		}
		if ok {
			d.audit(ctx, job, "failed", sendErr.Error())
			metrics.RecordJobOutcome(db.JobFailed, job.Channel)
		}
		d.logger.Error("reminder send failed",
			zap.Error(sendErr),
			zap.String("job_id", job.ID.String()),
			zap.String("channel", job.Channel),
		)
		return
	}

	ok, err := d.store.MarkJobSent(ctx, job.ID, now)
	if err != nil {
		d.logger.Error("mark job sent", zap.Error(err), zap.String("job_id", job.ID.String()))
		return
	}
	if !ok {
		d.logger.Debug("job transitioned concurrently after send", zap.String("job_id", job.ID.String()))
		return
	}
	d.audit(ctx, job, "sent", "")
	metrics.RecordJobOutcome(db.JobSent, job.Channel)
	d.logger.Info("reminder sent",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", job.Channel),
		zap.String("appointment_id", job.AppointmentID.String()),
	)
}

func (d *Dispatcher) deferJob(ctx context.Context, decision Decision) {
	job := decision.Job
	ok, err := d.store.DeferJob(ctx, job.ID, decision.DeferUntil)
	if err != nil {
		d.logger.Error("defer job", zap.Error(err), zap.String("job_id", job.ID.String()))
		return
	}
	if !ok {
		return
	}
	d.audit(ctx, job, "deferred", decision.DeferUntil.UTC().Format(time.RFC3339))
	d.logger.Debug("reminder deferred behind primary channel",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", job.Channel),
		zap.Time("until", decision.DeferUntil),
	)
}

func (d *Dispatcher) skipAll(ctx context.Context, group []*db.ReminderJob, reason string) {
	for _, job := range group {
		d.skipJob(ctx, job, reason)
	}
}

func (d *Dispatcher) skipJob(ctx context.Context, job *db.ReminderJob, reason string) {
	ok, err := d.store.MarkJobSkipped(ctx, job.ID, reason)
	if err != nil {
		d.logger.Error("mark job skipped", zap.Error(err), zap.String("job_id", job.ID.String()))
		return
	}
	if !ok {
		return
	}
	d.audit(ctx, job, "skipped", reason)
	metrics.RecordJobOutcome(db.JobSkipped, job.Channel)
}

func (d *Dispatcher) composeMessage(job *db.ReminderJob, appt *db.Appointment, destination string) (notify.Message, error) {
	date, err := d.conv.LocalDateOf(appt.StartAt, appt.Timezone)
	if err != nil {
		return notify.Message{}, err
	}
	wall, err := d.conv.FormatWallClock(appt.StartAt, appt.Timezone)
	if err != nil {
		return notify.Message{}, err
	}
	return notify.Message{
		JobID:       job.ID.String(),
		Channel:     job.Channel,
		Destination: destination,
		Subject:     "Appointment reminder",
		Body:        fmt.Sprintf("You have an appointment on %s at %s.", date.String(), wall),
	}, nil
}

func (d *Dispatcher) audit(ctx context.Context, job *db.ReminderJob, outcome, detail string) {
	ev := &db.ReminderEvent{
		ID:            uuid.New(),
		JobID:         job.ID,
		AppointmentID: job.AppointmentID,
		Outcome:       outcome,
		Detail:        detail,
	}
	if err := d.store.InsertReminderEvent(ctx, ev); err != nil {
		d.logger.Warn("record reminder event", zap.Error(err), zap.String("job_id", job.ID.String()))
	}
}
