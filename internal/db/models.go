package db

import (
	"time"

	"github.com/google/uuid"
)

// Business is one tenant: a timezone plus the weekly opening-hours blob.
// OpeningHours is validated by schedule.ParseWeeklyHours at the edit
// boundary; readers receive the already-checked structure.
type Business struct {
	ID           uuid.UUID `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	Timezone     string    `json:"timezone"`
	OpeningHours []byte    `json:"opening_hours"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Professional is a bookable person within a business.
type Professional struct {
	ID         uuid.UUID `json:"id"`
	BusinessID uuid.UUID `json:"business_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Service is a bookable offering; DurationMin is snapshotted onto each
// appointment at creation time.
type Service struct {
	ID          uuid.UUID `json:"id"`
	BusinessID  uuid.UUID `json:"business_id"`
	Name        string    `json:"name"`
	DurationMin int       `json:"duration_min"`
	CreatedAt   time.Time `json:"created_at"`
}

// Customer is the person an appointment is booked for. The per-channel
// destination fields may each be empty.
type Customer struct {
	ID         uuid.UUID `json:"id"`
	BusinessID uuid.UUID `json:"business_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email"`
	PushToken  string    `json:"push_token"`
	CreatedAt  time.Time `json:"created_at"`
}

// Appointment statuses. Only pending and confirmed block the calendar.
const (
	AppointmentPending   = "pending"
	AppointmentConfirmed = "confirmed"
	AppointmentCompleted = "completed"
	AppointmentCanceled  = "canceled"
)

// Appointment is a reserved interval. StartAt/EndAt are absolute instants;
// Timezone is the business-local zone the booking was made under and stays
// with the row even if the business later changes zones.
type Appointment struct {
	ID             uuid.UUID `json:"id"`
	BusinessID     uuid.UUID `json:"business_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	ServiceID      uuid.UUID `json:"service_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Timezone       string    `json:"timezone"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsActive reports whether the appointment still blocks the calendar and is
// still a valid reminder target.
func (a *Appointment) IsActive() bool {
	return a.Status == AppointmentPending || a.Status == AppointmentConfirmed
}

// ManualBlock is a professional's hand-placed busy interval. AllDay blocks
// cover the whole local day in the block's own timezone regardless of the
// stored clock times.
type ManualBlock struct {
	ID             uuid.UUID `json:"id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Timezone       string    `json:"timezone"`
	AllDay         bool      `json:"all_day"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReminderSettings is the per-business reminder policy.
type ReminderSettings struct {
	BusinessID uuid.UUID `json:"business_id"`
	Active     bool      `json:"active"`
	Channels   []string  `json:"channels"`
	OffsetsMin []int     `json:"offsets_min"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReminderJob statuses. Pending and scheduled are the only live states; the
// other four are terminal and never mutated again.
const (
	JobPending   = "pending"
	JobScheduled = "scheduled"
	JobSent      = "sent"
	JobFailed    = "failed"
	JobSkipped   = "skipped"
	JobCanceled  = "canceled"
)

// Reason codes recorded on skipped/canceled jobs.
const (
	ReasonLateDue             = "late_due"
	ReasonNoDestination       = "no_destination"
	ReasonAppointmentMissing  = "appointment_missing"
	ReasonAppointmentInactive = "appointment_inactive"
	ReasonOffsetMismatch      = "offset_mismatch"
	ReasonRescheduled         = "appointment_rescheduled"
	ReasonApptCanceled        = "appointment_canceled"
)

// ReminderJob is one planned delivery of one reminder over one channel.
type ReminderJob struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	CustomerID    uuid.UUID  `json:"customer_id"`
	BusinessID    uuid.UUID  `json:"business_id"`
	Channel       string     `json:"channel"`
	OffsetMin     int        `json:"offset_min"`
	DueAt         time.Time  `json:"due_at"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job has reached one of the four final
// states. Terminal jobs are never mutated again except for bookkeeping.
func (j *ReminderJob) IsTerminal() bool {
	switch j.Status {
	case JobSent, JobFailed, JobSkipped, JobCanceled:
		return true
	}
	return false
}

// ReminderEvent is one append-only audit record for a job transition.
type ReminderEvent struct {
	ID            uuid.UUID `json:"id"`
	JobID         uuid.UUID `json:"job_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
