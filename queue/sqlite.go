package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/repository/sqlite"
)

const tasksSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    job_id TEXT NOT NULL,
    timeout_ns INTEGER NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 0,
    receipt TEXT NOT NULL DEFAULT '',
    enqueued_at INTEGER NOT NULL,
    visible_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_kind_visible ON tasks(kind, visible_at, enqueued_at)
`

const (
	insertTaskQuery = `
        INSERT INTO tasks (id, kind, job_id, timeout_ns, attempt, receipt, enqueued_at, visible_at)
        VALUES (?, ?, ?, ?, 0, '', ?, ?)
    `

	nextVisibleTaskQuery = `
        SELECT id FROM tasks
        WHERE kind = ? AND visible_at <= ?
        ORDER BY enqueued_at, id
        LIMIT 1
    `

	claimTaskQuery = `
        UPDATE tasks SET
            visible_at = ?,
            attempt = attempt + 1,
            receipt = ?
        WHERE id = ? AND visible_at <= ?
    `

	getTaskQuery = `
        SELECT id, kind, job_id, timeout_ns, attempt, receipt, enqueued_at
        FROM tasks WHERE id = ?
    `

	ackTaskQuery = `DELETE FROM tasks WHERE id = ? AND receipt = ?`
)

type SQLiteOptions struct {
	LeaseGrace   time.Duration
	PollInterval time.Duration
}

// SQLiteDispatcher persists tasks in the job database so queued work
// survives a restart. A claim pushes visible_at past the lease; an unacked
// task becomes visible again once that time passes.
type SQLiteDispatcher struct {
	db     *sql.DB
	opts   SQLiteOptions
	log    *logrus.Logger
	mu     sync.Mutex
	next   int
	notify chan struct{}
	quit   chan struct{}
	once   sync.Once
}

var _ Dispatcher = (*SQLiteDispatcher)(nil)

func NewSQLiteDispatcher(db *sql.DB, opts SQLiteOptions, log *logrus.Logger) (*SQLiteDispatcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if err := sqlite.ExecSchema(db, tasksSchema); err != nil {
		return nil, err
	}
	return &SQLiteDispatcher{
		db:     db,
		opts:   opts,
		log:    log,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}, nil
}

func (d *SQLiteDispatcher) Enqueue(ctx context.Context, kind Kind, jobID string, timeout time.Duration) (*Task, error) {
	if kindIndex(kind) < 0 {
		return nil, ErrUnknownTask
	}

	now := time.Now()
	task := &Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		JobID:      jobID,
		Timeout:    timeout,
		EnqueuedAt: now,
	}

	_, err := d.db.ExecContext(ctx, insertTaskQuery,
		task.ID, string(kind), jobID, int64(timeout), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, errors.Wrapf(err, "enqueue %s task for %s", kind, jobID)
	}

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return task, nil
}

func (d *SQLiteDispatcher) Dequeue(ctx context.Context) (*Task, error) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		task, err := d.claimNext(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.quit:
			return nil, ErrClosed
		case <-d.notify:
		case <-ticker.C:
		}
	}
}

func (d *SQLiteDispatcher) claimNext(ctx context.Context) (*Task, error) {
	d.mu.Lock()
	start := d.next
	d.mu.Unlock()

	for i := 0; i < len(Kinds); i++ {
		kind := Kinds[(start+i)%len(Kinds)]
		task, err := d.claim(ctx, kind)
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
	return nil, nil
}

// claim leases the oldest visible task of kind. Losing the race to another
// worker is not an error; the caller just moves on.
func (d *SQLiteDispatcher) claim(ctx context.Context, kind Kind) (*Task, error) {
	now := time.Now()

	var id string
	err := d.db.QueryRowContext(ctx, nextVisibleTaskQuery, string(kind), now.UnixNano()).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select next task")
	}

	var timeoutNs int64
	if err := d.db.QueryRowContext(ctx, `SELECT timeout_ns FROM tasks WHERE id = ?`, id).Scan(&timeoutNs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read task timeout")
	}

	receipt := uuid.New().String()
	visibleAt := now.Add(leaseFor(time.Duration(timeoutNs), d.opts.LeaseGrace))
	res, err := d.db.ExecContext(ctx, claimTaskQuery, visibleAt.UnixNano(), receipt, id, now.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "claim task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	task := &Task{}
	var (
		kindStr    string
		enqueuedAt int64
	)
	err = d.db.QueryRowContext(ctx, getTaskQuery, id).Scan(
		&task.ID, &kindStr, &task.JobID, &timeoutNs, &task.Attempt, &task.receipt, &enqueuedAt)
	if err != nil {
		return nil, errors.Wrap(err, "load claimed task")
	}
	task.Kind = Kind(kindStr)
	task.Timeout = time.Duration(timeoutNs)
	task.EnqueuedAt = time.Unix(0, enqueuedAt)

	if task.Attempt > 1 {
		d.log.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"job_id":   task.JobID,
			"kind":     task.Kind,
			"attempts": task.Attempt,
		}).Warn("Redelivering task after expired lease")
	}
	return task, nil
}

// Ack deletes the task. It fails with ErrUnknownTask when the lease was lost
// and the task has since been handed to another worker.
func (d *SQLiteDispatcher) Ack(ctx context.Context, task *Task) error {
	res, err := d.db.ExecContext(ctx, ackTaskQuery, task.ID, task.receipt)
	if err != nil {
		return errors.Wrapf(err, "ack task %s", task.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownTask
	}
	return nil
}

// Close stops blocked Dequeue calls. The database handle belongs to the caller.
func (d *SQLiteDispatcher) Close() error {
	d.once.Do(func() { close(d.quit) })
	return nil
}
