package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// TwilioSender delivers WhatsApp reminders via the Twilio messaging API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
	logger *zap.Logger
}

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
}

func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	return &TwilioSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from:   cfg.WhatsAppNumber,
		logger: logger,
	}
}

func (s *TwilioSender) Send(_ context.Context, msg Message) error {
	if msg.Channel != ChannelWhatsApp {
		return fmt.Errorf("twilio sender only supports whatsapp, got: %s", msg.Channel)
	}
	if msg.Destination == "" {
		return fmt.Errorf("whatsapp reminder missing phone number")
	}

	to := msg.Destination
	if !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom("whatsapp:" + s.from)
	params.SetBody(msg.Body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.Info("reminder whatsapp sent via Twilio",
		zap.String("job_id", msg.JobID),
		zap.String("to", msg.Destination),
		zap.String("message_sid", sid),
	)
	return nil
}

func (s *TwilioSender) SupportsChannel(channel string) bool {
	return channel == ChannelWhatsApp
}
