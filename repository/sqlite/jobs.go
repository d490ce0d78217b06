package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, r.config, func() error {
		var err error
		res, err = r.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	const op = "JobRepository.CreateJob"

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := r.exec(ctx, insertJobQuery,
		job.ID,
		string(job.Status),
		string(job.Stage),
		string(job.SourceKind),
		job.SourceURL,
		job.Locator,
		job.Language,
		job.Engine,
		job.Enrich,
		job.Title,
		job.DurationSeconds,
		nullString(job.ParentCrawlID),
		job.Error,
		string(job.ErrorKind),
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict(op, err, "Job already exists")
		}
		return errors.Internal(op, err, "Failed to create job")
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	const op = "JobRepository.GetJob"

	job, err := scanJob(r.db.QueryRowContext(ctx, getJobQuery, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Job not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query job")
	}
	return job, nil
}

func (r *Repository) SaveJob(ctx context.Context, job *models.Job) error {
	const op = "JobRepository.SaveJob"

	updatedAt := time.Now().UTC()
	res, err := r.exec(ctx, updateJobQuery,
		string(job.Status),
		string(job.Stage),
		job.Locator,
		job.Language,
		job.Engine,
		job.Enrich,
		job.Title,
		job.DurationSeconds,
		job.Error,
		string(job.ErrorKind),
		updatedAt,
		job.ID,
		job.Version,
	)
	if err != nil {
		return errors.Internal(op, err, "Failed to save job")
	}

	if err := r.checkVersioned(ctx, op, res, jobExistsQuery, job.ID, "Job"); err != nil {
		return err
	}

	job.Version++
	job.UpdatedAt = updatedAt
	return nil
}

func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	const op = "JobRepository.DeleteJob"

	res, err := r.exec(ctx, deleteJobQuery, id)
	if err != nil {
		return errors.Internal(op, err, "Failed to delete job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(op, nil, "Job not found")
	}
	return nil
}

func (r *Repository) ListJobsByCrawl(ctx context.Context, crawlID string) ([]*models.Job, error) {
	const op = "JobRepository.ListJobsByCrawl"

	jobs, err := r.queryJobs(ctx, listJobsByCrawlQuery, crawlID)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to list crawl jobs")
	}
	return jobs, nil
}

func (r *Repository) CountJobsByCrawl(ctx context.Context, crawlID string) (int, error) {
	const op = "JobRepository.CountJobsByCrawl"

	var n int
	if err := r.db.QueryRowContext(ctx, countJobsByCrawlQuery, crawlID).Scan(&n); err != nil {
		return 0, errors.Internal(op, err, "Failed to count crawl jobs")
	}
	return n, nil
}

func (r *Repository) ListStaleJobs(ctx context.Context, status models.Status, before time.Time) ([]*models.Job, error) {
	const op = "JobRepository.ListStaleJobs"

	jobs, err := r.queryJobs(ctx, getStaleJobsQuery, string(status), before.UTC())
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to list stale jobs")
	}
	return jobs, nil
}

func (r *Repository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// checkVersioned turns a zero-row optimistic update into NotFound or Conflict.
func (r *Repository) checkVersioned(
	ctx context.Context,
	op string,
	res sql.Result,
	existsQuery string,
	id string,
	entity string,
) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Internal(op, err, "Failed to read affected rows")
	}
	if n > 0 {
		return nil
	}

	var one int
	err = r.db.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if err == sql.ErrNoRows {
		return errors.NotFound(op, nil, entity+" not found")
	}
	if err != nil {
		return errors.Internal(op, err, "Failed to check "+entity)
	}
	return errors.Conflict(op, nil, entity+" was modified concurrently")
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var (
		status, stage, sourceKind, errorKind string
		parentCrawlID                        sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&status,
		&stage,
		&sourceKind,
		&job.SourceURL,
		&job.Locator,
		&job.Language,
		&job.Engine,
		&job.Enrich,
		&job.Title,
		&job.DurationSeconds,
		&parentCrawlID,
		&job.Error,
		&errorKind,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.Status(status)
	job.Stage = models.Stage(stage)
	job.SourceKind = models.SourceKind(sourceKind)
	job.ErrorKind = models.ErrorKind(errorKind)
	job.ParentCrawlID = parentCrawlID.String
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
