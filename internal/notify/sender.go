package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Reminder delivery channels.
const (
	ChannelPush     = "push"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// channelPriority orders channels for primary selection when several jobs of
// the same reminder come due together. Lower is better.
var channelPriority = map[string]int{
	ChannelPush:     0,
	ChannelWhatsApp: 1,
	ChannelEmail:    2,
}

// ChannelRank returns the priority rank of a channel; unknown channels sort
// last.
func ChannelRank(channel string) int {
	if p, ok := channelPriority[channel]; ok {
		return p
	}
	return len(channelPriority)
}

// KnownChannel reports whether the channel has a configured sender path.
func KnownChannel(channel string) bool {
	_, ok := channelPriority[channel]
	return ok
}

// Message is one reminder delivery: the destination is channel-specific (push
// token, phone number in E.164, or email address).
type Message struct {
	JobID       string
	Channel     string
	Destination string
	Subject     string
	Body        string
}

// Sender delivers a reminder message over one or more channels.
// Implementations: push (SNS), WhatsApp (Twilio), email (SES).
type Sender interface {
	Send(ctx context.Context, msg Message) error
	SupportsChannel(channel string) bool
}

// MultiSender routes messages to the first underlying sender that supports
// the channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

// Send routes the message to the appropriate sender based on channel.
func (m *MultiSender) Send(ctx context.Context, msg Message) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(msg.Channel) {
			m.logger.Debug("routing reminder to sender",
				zap.String("channel", msg.Channel),
				zap.String("job_id", msg.JobID),
			)
			return sender.Send(ctx, msg)
		}
	}
	return fmt.Errorf("no sender found for channel: %s", msg.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs reminders instead of delivering them (for development).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("logging reminder (development mode)",
		zap.String("job_id", msg.JobID),
		zap.String("channel", msg.Channel),
		zap.String("destination", msg.Destination),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return KnownChannel(channel)
}
