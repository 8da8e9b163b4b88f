package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultRegion            = "us-east-1"
	defaultWaitSeconds       = 20
	defaultVisibilitySeconds = 1200
	maxReceiveBatch          = 10
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSOptions configures an SQSClient.
type SQSOptions struct {
	QueueURL          string
	Region            string
	VisibilitySeconds int
}

// SQSClient sends and receives dispatch messages through AWS SQS.
type SQSClient struct {
	api               SQSAPI
	queueURL          string
	visibilitySeconds int
}

// NewSQSClient constructs an SQS-backed queue client from the default AWS
// credential chain.
func NewSQSClient(ctx context.Context, opts SQSOptions) (*SQSClient, error) {
	if strings.TrimSpace(opts.QueueURL) == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSClientWithAPI(sqs.NewFromConfig(cfg), opts), nil
}

// NewSQSClientWithAPI wraps an existing SQS API implementation.
func NewSQSClientWithAPI(api SQSAPI, opts SQSOptions) *SQSClient {
	visibility := opts.VisibilitySeconds
	if visibility <= 0 {
		visibility = defaultVisibilitySeconds
	}
	return &SQSClient{api: api, queueURL: strings.TrimSpace(opts.QueueURL), visibilitySeconds: visibility}
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max messages.
func (s *SQSClient) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > maxReceiveBatch {
		max = maxReceiveBatch
	}
	resp, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     defaultWaitSeconds,
		VisibilityTimeout:   int32(s.visibilitySeconds),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Delivery{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			ReceiveCount:  receiveCount(m),
		})
	}
	return out, nil
}

// Delete acknowledges a received message.
func (s *SQSClient) Delete(ctx context.Context, receiptHandle string) error {
	if strings.TrimSpace(receiptHandle) == "" {
		return fmt.Errorf("missing receipt handle")
	}
	if _, err := s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

func receiveCount(msg sqstypes.Message) int {
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
)
