package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"feedbackgate/internal/external"
	"feedbackgate/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueSender implements external.EmailProvider by enqueueing the email for
// the email worker. Success means the message was accepted by SQS; the
// returned ID is the SQS message ID.
type QueueSender struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewQueueSender creates a QueueSender targeting queueURL.
func NewQueueSender(client SQSSender, queueURL string, logger *slog.Logger) *QueueSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSender{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Send serializes the input as a types.EmailQueueMessage and enqueues it.
func (q *QueueSender) Send(ctx context.Context, input types.SendInput) (string, error) {
	msg := types.EmailQueueMessage{
		ReferenceID: input.ReferenceID,
		Kind:        input.Kind,
		To:          input.To,
		FromName:    input.From.Name,
		FromEmail:   input.From.Address,
		TemplateID:  input.TemplateID,
		Subject:     input.Subject,
		BodyText:    input.BodyText,
		Payload:     input.TemplateData,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("email queue: failed to marshal message: %w", err)
	}

	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(input.Kind),
			},
		},
	})
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("email queue: failed to send message to %s", q.queueURL),
			err,
		)
	}

	msgID := aws.ToString(out.MessageId)
	q.logger.DebugContext(ctx, "email message enqueued",
		"kind", input.Kind,
		"reference_id", input.ReferenceID,
		"message_id", msgID,
	)
	return msgID, nil
}

var _ external.EmailProvider = (*QueueSender)(nil)
