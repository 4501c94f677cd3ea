package reminder

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/notify"
)

// memStore is an in-memory PlanStore + DispatchStore mirroring the SQL
// semantics: live-row uniqueness on (appointment, channel, offset) and
// conditional transitions that only touch live jobs.
type memStore struct {
	appointments map[uuid.UUID]*db.Appointment
	customers    map[uuid.UUID]*db.Customer
	settings     map[uuid.UUID]*db.ReminderSettings
	jobs         []*db.ReminderJob
	events       []*db.ReminderEvent
}

func newMemStore() *memStore {
	return &memStore{
		appointments: make(map[uuid.UUID]*db.Appointment),
		customers:    make(map[uuid.UUID]*db.Customer),
		settings:     make(map[uuid.UUID]*db.ReminderSettings),
	}
}

func (m *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*db.Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, db.ErrNotFound)
	}
	return a, nil
}

func (m *memStore) GetCustomer(_ context.Context, id uuid.UUID) (*db.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, db.ErrNotFound)
	}
	return c, nil
}

func (m *memStore) GetReminderSettings(_ context.Context, businessID uuid.UUID) (*db.ReminderSettings, error) {
	s, ok := m.settings[businessID]
	if !ok {
		return nil, fmt.Errorf("reminder settings for business %s: %w", businessID, db.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) CreateReminderJobs(_ context.Context, jobs []*db.ReminderJob) error {
	for _, job := range jobs {
		if m.hasLive(job.AppointmentID, job.Channel, job.OffsetMin) {
			continue
		}
		cp := *job
		m.jobs = append(m.jobs, &cp)
	}
	return nil
}

func (m *memStore) hasLive(appointmentID uuid.UUID, channel string, offset int) bool {
	for _, j := range m.jobs {
		if j.AppointmentID == appointmentID && j.Channel == channel && j.OffsetMin == offset && !j.IsTerminal() {
			return true
		}
	}
	return false
}

func (m *memStore) CancelReminderJobs(_ context.Context, appointmentID uuid.UUID, reason string) (int64, error) {
	var n int64
	for _, j := range m.jobs {
		if j.AppointmentID == appointmentID && !j.IsTerminal() {
			j.Status = db.JobCanceled
			j.Reason = reason
			n++
		}
	}
	return n, nil
}

func (m *memStore) SweepStaleJobs(_ context.Context, cutoff time.Time) ([]*db.ReminderJob, error) {
	var swept []*db.ReminderJob
	for _, j := range m.jobs {
		if !j.IsTerminal() && j.DueAt.Before(cutoff) {
			j.Status = db.JobSkipped
			j.Reason = db.ReasonLateDue
			swept = append(swept, j)
		}
	}
	return swept, nil
}

func (m *memStore) ListDueJobs(_ context.Context, from, to time.Time, cursor db.DueCursor, limit int) ([]*db.ReminderJob, error) {
	var out []*db.ReminderJob
	for _, j := range m.jobs {
		if j.IsTerminal() {
			continue
		}
		if j.DueAt.Before(from) || j.DueAt.After(to) {
			continue
		}
		if !cursor.DueAt.IsZero() && !afterCursor(j, cursor) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].DueAt.Equal(out[k].DueAt) {
			return out[i].DueAt.Before(out[k].DueAt)
		}
		return bytes.Compare(out[i].ID[:], out[k].ID[:]) < 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func afterCursor(j *db.ReminderJob, cursor db.DueCursor) bool {
	if j.DueAt.After(cursor.DueAt) {
		return true
	}
	if j.DueAt.Equal(cursor.DueAt) {
		return bytes.Compare(j.ID[:], cursor.ID[:]) > 0
	}
	return false
}

func (m *memStore) find(id uuid.UUID) *db.ReminderJob {
	for _, j := range m.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (m *memStore) transition(id uuid.UUID, fn func(*db.ReminderJob)) bool {
	j := m.find(id)
	if j == nil || j.IsTerminal() {
		return false
	}
	fn(j)
	return true
}

func (m *memStore) MarkJobSent(_ context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	return m.transition(id, func(j *db.ReminderJob) {
		j.Status = db.JobSent
		j.SentAt = &sentAt
		j.Attempts++
	}), nil
}

func (m *memStore) MarkJobFailed(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	return m.transition(id, func(j *db.ReminderJob) {
		j.Status = db.JobFailed
		j.LastError = &errMsg
		j.Attempts++
	}), nil
}

func (m *memStore) MarkJobSkipped(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	return m.transition(id, func(j *db.ReminderJob) {
		j.Status = db.JobSkipped
		j.Reason = reason
	}), nil
}

func (m *memStore) DeferJob(_ context.Context, id uuid.UUID, until time.Time) (bool, error) {
	return m.transition(id, func(j *db.ReminderJob) {
		j.Status = db.JobScheduled
		j.DueAt = until
	}), nil
}

func (m *memStore) InsertReminderEvent(_ context.Context, ev *db.ReminderEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) jobsByChannel() map[string]*db.ReminderJob {
	out := make(map[string]*db.ReminderJob)
	for _, j := range m.jobs {
		out[j.Channel] = j
	}
	return out
}

// stubSender records sends and can fail selected channels.
type stubSender struct {
	sent        []notify.Message
	failChannel string
}

func (s *stubSender) Send(_ context.Context, msg notify.Message) error {
	if msg.Channel == s.failChannel {
		return fmt.Errorf("provider rejected %s", msg.Channel)
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubSender) SupportsChannel(string) bool { return true }

// memLocker is a Locker shared by cooperating dispatcher instances in tests.
type memLocker struct {
	holder string
	name   string
	shared *string
}

func newLockerPair() (*memLocker, *memLocker) {
	var holder string
	return &memLocker{name: "a", shared: &holder}, &memLocker{name: "b", shared: &holder}
}

func newMemLocker() *memLocker {
	var holder string
	return &memLocker{name: "solo", shared: &holder}
}

func (l *memLocker) Acquire(context.Context) (bool, error) {
	if *l.shared != "" && *l.shared != l.name {
		return false, nil
	}
	*l.shared = l.name
	return true, nil
}

func (l *memLocker) Renew(context.Context) (bool, error) {
	return *l.shared == l.name, nil
}

func (l *memLocker) Release(context.Context) error {
	if *l.shared == l.name {
		*l.shared = ""
	}
	return nil
}
