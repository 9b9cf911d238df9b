package sqsqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pfingest/internal/application/port"
)

// SQS limits.
const (
	maxBatch = 10
	maxWait  = 20 * time.Second
	maxDelay = 15 * time.Minute
)

// API is the subset of the SQS client used by Queue.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type Queue struct {
	api        API
	url        string
	visibility time.Duration
}

// New wraps the queue at url. A zero visibility keeps the queue's own setting.
func New(api API, url string, visibility time.Duration) (*Queue, error) {
	if url == "" {
		return nil, errors.New("sqsqueue: queue url is required")
	}
	return &Queue{api: api, url: url, visibility: visibility}, nil
}

func (q *Queue) Name() string { return q.url }

func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	}
	if delay > 0 {
		in.DelaySeconds = int32(min(delay, maxDelay) / time.Second)
	}
	if _, err := q.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]port.Message, error) {
	if max <= 0 || max > maxBatch {
		max = maxBatch
	}
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(min(max0(wait), maxWait) / time.Second),
	}
	if q.visibility > 0 {
		in.VisibilityTimeout = int32(q.visibility / time.Second)
	}
	out, err := q.api.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	msgs := make([]port.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, port.Message{
			Handle: aws.ToString(m.ReceiptHandle),
			Body:   []byte(aws.ToString(m.Body)),
		})
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, handle string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

func max0(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

var _ port.Queue = (*Queue)(nil)
