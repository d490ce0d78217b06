package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SQSAPI is the part of the SQS client the dispatcher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// maxVisibility is the SQS ceiling for a message visibility timeout.
const maxVisibility = 12 * time.Hour

type SQSOptions struct {
	// BaseURL is suffixed with -<kind> to get each kind's queue URL.
	BaseURL      string
	LeaseGrace   time.Duration
	PollInterval time.Duration
}

type sqsMessage struct {
	TaskID     string `json:"task_id"`
	Kind       Kind   `json:"kind"`
	JobID      string `json:"job_id"`
	TimeoutNs  int64  `json:"timeout_ns"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// SQSDispatcher uses one SQS queue per task kind and polls them round robin.
// SQS visibility timeouts provide the lease; DeleteMessage is the ack.
type SQSDispatcher struct {
	api  SQSAPI
	opts SQSOptions
	log  *logrus.Logger
	mu   sync.Mutex
	next int
	quit chan struct{}
	once sync.Once
}

var _ Dispatcher = (*SQSDispatcher)(nil)

func NewSQSDispatcher(api SQSAPI, opts SQSOptions, log *logrus.Logger) *SQSDispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &SQSDispatcher{
		api:  api,
		opts: opts,
		log:  log,
		quit: make(chan struct{}),
	}
}

func (d *SQSDispatcher) queueURL(kind Kind) string {
	return d.opts.BaseURL + "-" + string(kind)
}

func (d *SQSDispatcher) Enqueue(ctx context.Context, kind Kind, jobID string, timeout time.Duration) (*Task, error) {
	if kindIndex(kind) < 0 {
		return nil, ErrUnknownTask
	}

	task := &Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		JobID:      jobID,
		Timeout:    timeout,
		EnqueuedAt: time.Now(),
	}

	body, err := json.Marshal(sqsMessage{
		TaskID:     task.ID,
		Kind:       kind,
		JobID:      jobID,
		TimeoutNs:  int64(timeout),
		EnqueuedAt: task.EnqueuedAt.UnixNano(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode task")
	}

	_, err = d.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL(kind)),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "send %s task for %s", kind, jobID)
	}
	return task, nil
}

func (d *SQSDispatcher) Dequeue(ctx context.Context) (*Task, error) {
	for {
		d.mu.Lock()
		start := d.next
		d.mu.Unlock()

		for i := 0; i < len(Kinds); i++ {
			kind := Kinds[(start+i)%len(Kinds)]
			task, err := d.receive(ctx, kind)
			if err != nil {
				return nil, err
			}
			if task != nil {
				d.mu.Lock()
				d.next = (start + i + 1) % len(Kinds)
				d.mu.Unlock()
				return task, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.quit:
			return nil, ErrClosed
		case <-time.After(d.opts.PollInterval):
		}
	}
}

func (d *SQSDispatcher) receive(ctx context.Context, kind Kind) (*Task, error) {
	url := d.queueURL(kind)
	out, err := d.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     0,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "receive from %s", url)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	receipt := aws.ToString(msg.ReceiptHandle)

	var body sqsMessage
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &body); err != nil {
		// A message we cannot decode will never succeed; drop it.
		d.log.WithError(err).WithField("queue", url).Error("Dropping malformed task message")
		d.delete(ctx, url, receipt)
		return nil, nil
	}

	task := &Task{
		ID:         body.TaskID,
		Kind:       body.Kind,
		JobID:      body.JobID,
		Timeout:    time.Duration(body.TimeoutNs),
		EnqueuedAt: time.Unix(0, body.EnqueuedAt),
		Attempt:    1,
		receipt:    receipt,
	}
	if n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		task.Attempt = n
	}

	lease := leaseFor(task.Timeout, d.opts.LeaseGrace)
	if lease > maxVisibility {
		lease = maxVisibility
	}
	_, err = d.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(lease / time.Second),
	})
	if err != nil {
		d.log.WithError(err).WithField("task_id", task.ID).Warn("Failed to extend task visibility")
	}
	return task, nil
}

func (d *SQSDispatcher) Ack(ctx context.Context, task *Task) error {
	return d.delete(ctx, d.queueURL(task.Kind), task.receipt)
}

func (d *SQSDispatcher) delete(ctx context.Context, url, receipt string) error {
	_, err := d.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	return nil
}

func (d *SQSDispatcher) Close() error {
	d.once.Do(func() { close(d.quit) })
	return nil
}
