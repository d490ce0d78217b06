package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type MemoryOptions struct {
	MaxPending      int
	LeaseGrace      time.Duration
	ReclaimInterval time.Duration
}

// MemoryDispatcher keeps tasks in process. Leased tasks whose deadline has
// passed are put back at the front of their kind's queue by a reclaimer.
type MemoryDispatcher struct {
	opts    MemoryOptions
	log     *logrus.Logger
	mu      sync.Mutex
	pending map[Kind][]*Task
	leased  map[string]*lease
	next    int
	notify  chan struct{}
	quit    chan struct{}
	closed  bool
	once    sync.Once
}

type lease struct {
	task     *Task
	deadline time.Time
}

var _ Dispatcher = (*MemoryDispatcher)(nil)

func NewMemoryDispatcher(opts MemoryOptions, log *logrus.Logger) *MemoryDispatcher {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 1000
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 30 * time.Second
	}

	d := &MemoryDispatcher{
		opts:    opts,
		log:     log,
		pending: make(map[Kind][]*Task),
		leased:  make(map[string]*lease),
		notify:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}

	go d.monitorLeases()
	return d
}

func (d *MemoryDispatcher) Enqueue(ctx context.Context, kind Kind, jobID string, timeout time.Duration) (*Task, error) {
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

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if d.pendingCount() >= d.opts.MaxPending {
		d.mu.Unlock()
		return nil, ErrQueueFull
	}
	d.pending[kind] = append(d.pending[kind], task)
	d.mu.Unlock()

	d.signal()
	return task, nil
}

func (d *MemoryDispatcher) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, more, err := d.pop()
		if err != nil {
			return nil, err
		}
		if task != nil {
			if more {
				d.signal()
			}
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.quit:
			return nil, ErrClosed
		case <-d.notify:
		}
	}
}

func (d *MemoryDispatcher) Ack(ctx context.Context, task *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.leased[task.receipt]; !ok {
		return ErrUnknownTask
	}
	delete(d.leased, task.receipt)
	return nil
}

// Close shuts down the dispatcher. Pending and leased tasks are dropped.
func (d *MemoryDispatcher) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.quit)
	})
	return nil
}

// Len returns the number of tasks waiting and the number leased out.
func (d *MemoryDispatcher) Len() (pending, leased int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingCount(), len(d.leased)
}

// pop takes the next task, rotating the starting kind on every call.
func (d *MemoryDispatcher) pop() (*Task, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false, ErrClosed
	}

	for i := 0; i < len(Kinds); i++ {
		kind := Kinds[(d.next+i)%len(Kinds)]
		queue := d.pending[kind]
		if len(queue) == 0 {
			continue
		}

		task := queue[0]
		d.pending[kind] = queue[1:]
		d.next = (d.next + i + 1) % len(Kinds)

		task.Attempt++
		task.receipt = uuid.New().String()
		d.leased[task.receipt] = &lease{
			task:     task,
			deadline: time.Now().Add(leaseFor(task.Timeout, d.opts.LeaseGrace)),
		}

		delivered := *task
		return &delivered, d.pendingCount() > 0, nil
	}
	return nil, false, nil
}

func (d *MemoryDispatcher) pendingCount() int {
	n := 0
	for _, q := range d.pending {
		n += len(q)
	}
	return n
}

func (d *MemoryDispatcher) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// monitorLeases periodically returns expired leases to the queue
func (d *MemoryDispatcher) monitorLeases() {
	ticker := time.NewTicker(d.opts.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			if d.reclaimExpired(time.Now()) > 0 {
				d.signal()
			}
		}
	}
}

func (d *MemoryDispatcher) reclaimExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	reclaimed := 0
	for receipt, l := range d.leased {
		if now.Before(l.deadline) {
			continue
		}
		delete(d.leased, receipt)
		d.pending[l.task.Kind] = append([]*Task{l.task}, d.pending[l.task.Kind]...)
		reclaimed++

		d.log.WithFields(logrus.Fields{
			"task_id":  l.task.ID,
			"job_id":   l.task.JobID,
			"kind":     l.task.Kind,
			"attempts": l.task.Attempt,
		}).Warn("Task lease expired, redelivering")
	}
	return reclaimed
}
