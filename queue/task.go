package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrClosed      = errors.New("dispatcher is closed")
	ErrUnknownTask = errors.New("unknown task")
)

// Kind is the closed set of task types a worker can receive.
type Kind string

const (
	KindPrepare    Kind = "prepare"
	KindTranscribe Kind = "transcribe"
	KindCrawl      Kind = "crawl"
	KindEnrich     Kind = "enrich"
)

// Kinds lists every kind in dequeue rotation order.
var Kinds = []Kind{KindPrepare, KindTranscribe, KindCrawl, KindEnrich}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

func kindIndex(k Kind) int {
	for i, kk := range Kinds {
		if kk == k {
			return i
		}
	}
	return -1
}

// Task is one delivery of work. JobID holds the crawl id for crawl tasks.
type Task struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	JobID      string        `json:"job_id"`
	Timeout    time.Duration `json:"timeout"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueued_at"`

	// receipt identifies this delivery to the backend that produced it.
	receipt string
}

// Dispatcher delivers tasks at least once. A dequeued task is leased to the
// caller until Ack; if the lease runs out first the task is delivered again.
// Dispatchers never redeliver because a handler failed, only because it did
// not ack in time.
type Dispatcher interface {
	Enqueue(ctx context.Context, kind Kind, jobID string, timeout time.Duration) (*Task, error)
	// Dequeue blocks until a task is available or ctx is done. Kinds are
	// served round robin so one busy kind cannot starve the others.
	Dequeue(ctx context.Context) (*Task, error)
	Ack(ctx context.Context, task *Task) error
	Close() error
}

// leaseFor is how long a delivered task stays invisible to other workers.
func leaseFor(timeout, grace time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return timeout + grace
}
