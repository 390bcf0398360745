package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSender sends plain-text mail through SES.
type EmailSender struct {
	api  SESAPI
	from string
}

func NewEmailSender(cfg awssdk.Config, from string) *EmailSender {
	return &EmailSender{api: ses.NewFromConfig(cfg), from: from}
}

// NewEmailSenderWithAPI allows injecting a fake SES client.
func NewEmailSenderWithAPI(api SESAPI, from string) *EmailSender {
	return &EmailSender{api: api, from: from}
}

// SendEmail returns the SES message id.
func (s *EmailSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	out, err := s.api.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: awssdk.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: awssdk.String(body)},
			},
		},
		Source: awssdk.String(s.from),
	})
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}
	return awssdk.ToString(out.MessageId), nil
}
