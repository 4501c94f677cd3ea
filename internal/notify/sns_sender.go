package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSSender delivers push reminders via AWS SNS. The message destination is
// the platform endpoint ARN registered for the customer's device token.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelPush {
		return fmt.Errorf("SNS sender only supports push, got: %s", msg.Channel)
	}
	if msg.Destination == "" {
		return fmt.Errorf("push reminder missing endpoint ARN")
	}

	payload, err := json.Marshal(map[string]string{
		"default": msg.Body,
		"title":   msg.Subject,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	input := &sns.PublishInput{
		TargetArn:        aws.String(msg.Destination),
		Message:          aws.String(string(payload)),
		MessageStructure: aws.String("json"),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("reminder push sent via SNS",
		zap.String("job_id", msg.JobID),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == ChannelPush
}
