package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlerter emails alerts to a fixed operator list
type SESAlerter struct {
	client sesAPI
	from   string
	to     []string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	Endpoint  string
	FromEmail string
	To        []string
}

func NewSESAlerter(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESAlerter, error) {
	if cfg.FromEmail == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("ses alerter requires a sender and at least one recipient")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &SESAlerter{
		client: client,
		from:   cfg.FromEmail,
		to:     cfg.To,
		logger: logger,
	}, nil
}

// Alert sends a as a plain-text email
func (s *SESAlerter) Alert(ctx context.Context, a Alert) error {
	body := a.Body
	if a.Source != "" {
		body = fmt.Sprintf("%s\n\nsource: %s\nseverity: %s", a.Body, a.Source, a.Severity)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: s.to,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("[pulse] " + a.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("alert emailed via SES",
		zap.String("subject", a.Subject),
		zap.Int("recipients", len(s.to)),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
