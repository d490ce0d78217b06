package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/queue"
)

// Handler processes one delivered task. A nil return lets the pool ack it.
type Handler interface {
	Handle(ctx context.Context, task *queue.Task) error
}

type HandlerFunc func(ctx context.Context, task *queue.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *queue.Task) error {
	return f(ctx, task)
}

// Pool runs a fixed number of workers pulling from one dispatcher.
type Pool struct {
	dispatcher queue.Dispatcher
	handler    Handler
	workers    int
	backoff    time.Duration
	log        *logrus.Logger

	mu     sync.Mutex
	active map[string]time.Time
}

func NewPool(dispatcher queue.Dispatcher, handler Handler, workers int, log *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		dispatcher: dispatcher,
		handler:    handler,
		workers:    workers,
		backoff:    time.Second,
		log:        log,
		active:     make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled or the dispatcher closes, then waits for
// in-flight tasks to return.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

// Active returns the start time of every task currently being handled.
func (p *Pool) Active() map[string]time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]time.Time, len(p.active))
	for id, start := range p.active {
		out[id] = start
	}
	return out
}

func (p *Pool) worker(ctx context.Context, id int) {
	log := p.log.WithField("worker_id", id)
	log.Info("Starting worker")
	defer log.Info("Worker shutting down")

	for {
		task, err := p.dispatcher.Dequeue(ctx)
		if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
			return
		}
		if err != nil {
			log.WithError(err).Error("Failed to dequeue task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}

		p.process(ctx, task, log)
	}
}

func (p *Pool) process(ctx context.Context, task *queue.Task, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
		"record":  task.JobID,
	})

	startTime := time.Now()
	p.mu.Lock()
	p.active[task.ID] = startTime
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, task.ID)
		p.mu.Unlock()
	}()

	err := p.handle(ctx, task)
	duration := time.Since(startTime)
	if err != nil {
		// Left unacked: the lease runs out and the task is delivered again.
		log.WithError(err).WithField("duration_ms", duration.Milliseconds()).Error("Task processing failed")
		return
	}

	if err := p.dispatcher.Ack(context.WithoutCancel(ctx), task); err != nil {
		log.WithError(err).Warn("Failed to ack task")
		return
	}
	log.WithField("duration_ms", duration.Milliseconds()).Info("Task processing succeeded")
}

// handle converts a handler panic into an error so one bad task cannot take
// the worker down.
func (p *Pool) handle(ctx context.Context, task *queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling task: %v", r)
		}
	}()
	return p.handler.Handle(ctx, task)
}
