package reminder

import (
	"sort"
	"time"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/notify"
)

// Action is the dispatcher's verdict for one due job.
type Action int

const (
	// ActionSend delivers the job now over its channel.
	ActionSend Action = iota
	// ActionDefer pushes the job's due time forward without sending.
	ActionDefer
	// ActionSkip terminates the job with a reason code and no delivery.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionSend:
		return "send"
	case ActionDefer:
		return "defer"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// Decision pairs a job with the action to take on it.
type Decision struct {
	Job         *db.ReminderJob
	Action      Action
	Destination string
	Reason      string
	DeferUntil  time.Time
}

// Decide resolves a group of jobs for the same (appointment, due time)
// against the channel policy: the highest-priority channel with a usable
// destination sends now, the remaining deliverable channels are staggered
// after it, and channels without a destination are skipped. The stagger is
// anchored on the job's due time or the tick time, whichever is later, so a
// late tick never lands the deferred due inside its own dispatch window. A
// defer that would cross the appointment start skips instead.
func Decide(group []*db.ReminderJob, customer *db.Customer, stagger time.Duration, now, startAt time.Time) []Decision {
	byJob := make(map[*db.ReminderJob]int, len(group))
	for i, job := range group {
		byJob[job] = i
	}

	ordered := make([]*db.ReminderJob, len(group))
	copy(ordered, group)
	sort.SliceStable(ordered, func(i, j int) bool {
		return notify.ChannelRank(ordered[i].Channel) < notify.ChannelRank(ordered[j].Channel)
	})

	decisions := make([]Decision, 0, len(group))
	primaryChosen := false

	for _, job := range ordered {
		dest := DestinationFor(customer, job.Channel)
		if dest == "" {
			decisions = append(decisions, Decision{
				Job:    job,
				Action: ActionSkip,
				Reason: db.ReasonNoDestination,
			})
			continue
		}
		if !primaryChosen {
			primaryChosen = true
			decisions = append(decisions, Decision{
				Job:         job,
				Action:      ActionSend,
				Destination: dest,
			})
			continue
		}
		anchor := job.DueAt
		if now.After(anchor) {
			anchor = now
		}
		deferUntil := anchor.Add(stagger)
		if !deferUntil.Before(startAt) {
			decisions = append(decisions, Decision{
				Job:    job,
				Action: ActionSkip,
				Reason: db.ReasonLateDue,
			})
			continue
		}
		decisions = append(decisions, Decision{
			Job:         job,
			Action:      ActionDefer,
			Destination: dest,
			DeferUntil:  deferUntil,
		})
	}

	// Report decisions in the caller's original job order.
	sort.SliceStable(decisions, func(i, j int) bool {
		return byJob[decisions[i].Job] < byJob[decisions[j].Job]
	})
	return decisions
}

// DestinationFor maps a channel to the customer's destination for it.
// Returns empty when the customer has none.
func DestinationFor(customer *db.Customer, channel string) string {
	if customer == nil {
		return ""
	}
	switch channel {
	case notify.ChannelPush:
		return customer.PushToken
	case notify.ChannelWhatsApp:
		return customer.Phone
	case notify.ChannelEmail:
		return customer.Email
	}
	return ""
}
