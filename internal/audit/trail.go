package audit

import (
	"context"

	"go.uber.org/zap"
)

// Publisher is the outbound side of the trail; *Stream implements it.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Trail emits domain events. With no publisher configured it degrades to
// logging only, so environments without the analytics queue still work.
type Trail struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewTrail creates an audit trail. publisher may be nil.
func NewTrail(publisher Publisher, logger *zap.Logger) *Trail {
	return &Trail{publisher: publisher, logger: logger}
}

// Emit records one event, best effort.
func (t *Trail) Emit(ctx context.Context, ev Event) {
	t.logger.Info("audit event",
		zap.String("kind", ev.Kind),
		zap.String("appointment_id", ev.AppointmentID),
		zap.String("outcome", ev.Outcome),
	)
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, ev); err != nil {
		t.logger.Warn("audit event publish failed",
			zap.Error(err),
			zap.String("kind", ev.Kind),
		)
	}
}
