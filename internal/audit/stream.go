// Package audit fans booking and reminder events out to the analytics queue.
// Publishing is best effort: a queue failure is logged and never fails the
// operation that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// StreamConfig holds the analytics queue configuration.
type StreamConfig struct {
	Region   string
	QueueURL string
}

// Event is the payload published to the analytics queue.
type Event struct {
	Kind          string `json:"kind"`
	BusinessID    string `json:"business_id,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	Channel       string `json:"channel,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Detail        string `json:"detail,omitempty"`
	EmittedAt     int64  `json:"emitted_at"`
}

// Event kinds.
const (
	KindAppointmentBooked      = "appointment_booked"
	KindAppointmentRescheduled = "appointment_rescheduled"
	KindAppointmentCanceled    = "appointment_canceled"
	KindReminderOutcome        = "reminder_outcome"
)

// Stream publishes events to SQS.
type Stream struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewStream creates the analytics event stream.
func NewStream(ctx context.Context, cfg StreamConfig, logger *zap.Logger) (*Stream, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("audit stream initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Stream{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish sends one event to the queue. Errors are returned for the caller to
// log; callers must not fail their operation on a publish error.
func (s *Stream) Publish(ctx context.Context, ev Event) error {
	if ev.EmittedAt == 0 {
		ev.EmittedAt = time.Now().UnixNano()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := s.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	s.logger.Debug("audit event published",
		zap.String("kind", ev.Kind),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}
