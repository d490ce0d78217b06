package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/repository"
)

// Monitor periodically reports jobs that have been processing for too long.
// It only logs; the dispatcher lease is what brings a stuck task back.
type Monitor struct {
	jobs     repository.JobRepository
	timeout  time.Duration
	interval time.Duration
	log      *logrus.Logger
	now      func() time.Time
}

func NewMonitor(jobs repository.JobRepository, timeout, interval time.Duration, log *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{jobs: jobs, timeout: timeout, interval: interval, log: log, now: time.Now}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.log.WithError(err).Error("Failed to check for stuck jobs")
			}
		}
	}
}

// Check returns the jobs found stuck in processing.
func (m *Monitor) Check(ctx context.Context) ([]*models.Job, error) {
	now := m.now()
	stuck, err := m.jobs.ListStaleJobs(ctx, models.StatusProcessing, now.Add(-m.timeout))
	if err != nil {
		return nil, err
	}

	for _, job := range stuck {
		m.log.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"stage":    job.Stage,
			"duration": now.Sub(job.UpdatedAt).Round(time.Second),
		}).Warn("Found stuck job")
	}
	return stuck, nil
}
