package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends booking transitions to an SQS queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	fifo     bool
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Publish sends t. FIFO queues group messages per booking so a booking's
// transitions arrive in commit order.
func (p *SQSPublisher) Publish(ctx context.Context, t Transition) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(t.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type":  {DataType: aws.String("String"), StringValue: aws.String(t.Type)},
			"event_id":    {DataType: aws.String("String"), StringValue: aws.String(t.ID.String())},
			"provider_id": {DataType: aws.String("String"), StringValue: aws.String(t.ProviderID)},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(t.BookingID)
		input.MessageDeduplicationId = aws.String(t.ID.String())
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("events: send %s for booking %s: %w", t.Type, t.BookingID, err)
	}
	return nil
}
