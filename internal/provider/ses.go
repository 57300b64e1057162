package provider

import (
	"context"
	"fmt"
	"strings"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

const SESName = "SES"

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SES struct {
	api         SESAPI
	from        string
	accessKeyID string
}

// NewSES builds the client from config. Static credentials are used when an
// access key is configured, otherwise the default AWS credential chain applies.
func NewSES(ctx context.Context) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Conf.AWSRegion),
	}

	if config.Conf.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.Conf.AWSAccessKeyID, config.Conf.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSESWithAPI(sesv2.NewFromConfig(awsCfg), config.Conf.SESFromEmail, config.Conf.AWSAccessKeyID), nil
}

func NewSESWithAPI(api SESAPI, from, accessKeyID string) *SES {
	return &SES{api: api, from: from, accessKeyID: accessKeyID}
}

func (s *SES) Name() string {
	return SESName
}

func (s *SES) Send(ctx context.Context, msg Message) (Receipt, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{
					Html: &sestypes.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if msg.CorrelationID != "" {
		input.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("CorrelationID"), Value: aws.String(sanitizeTag(msg.CorrelationID))},
		}
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		logging.Logger.Error("SES send failed",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("error", err.Error()),
		)

		return Receipt{}, err
	}

	receipt := Receipt{MessageID: aws.ToString(out.MessageId)}

	logging.Logger.Info("SES email sent",
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("message_id", receipt.MessageID),
	)

	return receipt, nil
}

func (s *SES) CheckHealth(context.Context) bool {
	return s.accessKeyID != "" && !strings.Contains(s.accessKeyID, "test_")
}

// SES tag values accept only ASCII letters, digits, underscore and dash.
func sanitizeTag(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, value)
}
