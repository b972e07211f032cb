package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ivs-moderation/internal/moderation"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	awstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

const s3TestEvent = "s3:TestEvent"

type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventHandler processes one bucket notification.
type EventHandler interface {
	HandleEvent(ctx context.Context, event lambdaevents.S3Event) (moderation.Outcome, error)
}

// SQSConsumer feeds bucket notifications delivered through a queue to the thumbnail
// handler. Messages whose outcome is retryable are left for redelivery.
type SQSConsumer struct {
	sqsClient    SQSAPI
	queueURL     string
	handler      EventHandler
	logger       *zap.Logger
	errorBackoff time.Duration
}

func NewSQSConsumer(client SQSAPI, queueURL string, handler EventHandler, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		sqsClient:    client,
		queueURL:     queueURL,
		handler:      handler,
		logger:       logger,
		errorBackoff: 5 * time.Second,
	}
}

func (c *SQSConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting SQS consumer", zap.String("queue_url", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS consumer stopping")
			return ctx.Err()
		default:
			if err := c.pollMessages(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Error("Error polling messages", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(c.errorBackoff):
				}
			}
		}
	}
}

func (c *SQSConsumer) pollMessages(ctx context.Context) error {
	result, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, message := range result.Messages {
		done, err := c.processMessage(ctx, message)
		if err != nil {
			c.logger.Error("Failed to process message",
				zap.Error(err),
				zap.String("message_id", aws.ToString(message.MessageId)))
		}
		if !done {
			continue
		}

		_, err = c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: message.ReceiptHandle,
		})
		if err != nil {
			c.logger.Error("Failed to delete message",
				zap.Error(err),
				zap.String("message_id", aws.ToString(message.MessageId)))
		}
	}

	return nil
}

// processMessage reports whether the message is finished with and can be deleted.
func (c *SQSConsumer) processMessage(ctx context.Context, message awstypes.Message) (bool, error) {
	body := []byte(aws.ToString(message.Body))

	var probe struct {
		Event string `json:"Event"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		// undecodable messages never succeed on redelivery
		return true, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if probe.Event == s3TestEvent {
		c.logger.Info("Ignoring S3 test event", zap.String("message_id", aws.ToString(message.MessageId)))
		return true, nil
	}

	var event lambdaevents.S3Event
	if err := json.Unmarshal(body, &event); err != nil {
		return true, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	c.logger.Info("Processing bucket notification",
		zap.String("message_id", aws.ToString(message.MessageId)),
		zap.Int("records", len(event.Records)))

	outcome, err := c.handler.HandleEvent(ctx, event)
	if err != nil {
		return false, err
	}
	if outcome.Retryable() {
		c.logger.Warn("Leaving message for redelivery",
			zap.Int("status_code", outcome.StatusCode),
			zap.String("body", outcome.Body))
		return false, nil
	}
	return true, nil
}
