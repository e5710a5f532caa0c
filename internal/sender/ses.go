package sender

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/reachforge/outreach-engine/internal/config"
)

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
}

// NewSESSender creates an SES adapter for one provider mailbox. Static
// credentials from the provider config take precedence; with none set the
// default AWS credential chain applies.
func NewSESSender(pc config.ProviderConfig) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(pc.SESRegion),
	}
	if pc.SESAccessKey != "" && pc.SESSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(pc.SESAccessKey, pc.SESSecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{
		client:    sesv2.NewFromConfig(cfg),
		fromName:  pc.FromName,
		fromEmail: pc.FromEmail,
	}, nil
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, toEmail, subject, htmlBody string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{toEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
