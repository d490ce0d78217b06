package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

type stubMessage struct {
	id        string
	body      string
	receipt   string
	receives  int
	visibleAt time.Time
}

// stubSQS is an in-memory SQS keyed by queue URL.
type stubSQS struct {
	mu     sync.Mutex
	queues map[string][]*stubMessage
}

func newStubSQS() *stubSQS {
	return &stubSQS{queues: make(map[string][]*stubMessage)}
}

func (s *stubSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := aws.ToString(in.QueueUrl)
	msg := &stubMessage{id: uuid.New().String(), body: aws.ToString(in.MessageBody)}
	s.queues[url] = append(s.queues[url], msg)
	return &sqs.SendMessageOutput{MessageId: aws.String(msg.id)}, nil
}

func (s *stubSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, msg := range s.queues[aws.ToString(in.QueueUrl)] {
		if now.Before(msg.visibleAt) {
			continue
		}
		msg.receives++
		msg.receipt = uuid.New().String()
		msg.visibleAt = now.Add(30 * time.Second)
		return &sqs.ReceiveMessageOutput{Messages: []types.Message{{
			MessageId:     aws.String(msg.id),
			Body:          aws.String(msg.body),
			ReceiptHandle: aws.String(msg.receipt),
			Attributes: map[string]string{
				string(types.MessageSystemAttributeNameApproximateReceiveCount): strconv.Itoa(msg.receives),
			},
		}}}, nil
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (s *stubSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.queues[aws.ToString(in.QueueUrl)] {
		if msg.receipt == aws.ToString(in.ReceiptHandle) {
			msg.visibleAt = time.Now().Add(time.Duration(in.VisibilityTimeout) * time.Second)
		}
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (s *stubSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := aws.ToString(in.QueueUrl)
	msgs := s.queues[url]
	for i, msg := range msgs {
		if msg.receipt == aws.ToString(in.ReceiptHandle) {
			s.queues[url] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}
