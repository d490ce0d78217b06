package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	apperrors "github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/repository"
)

// ErrDeadlineExceeded is returned when a stage outlives its task timeout.
// Nothing is persisted and the task is left unacked so its lease expires
// and it is delivered again.
var ErrDeadlineExceeded = errors.New("task deadline exceeded")

// Timeouts holds the per-kind task timeouts used when scheduling work.
type Timeouts struct {
	Prepare    time.Duration
	Transcribe time.Duration
	Crawl      time.Duration
	Enrich     time.Duration
}

func (t Timeouts) For(kind queue.Kind) time.Duration {
	switch kind {
	case queue.KindPrepare:
		return t.Prepare
	case queue.KindTranscribe:
		return t.Transcribe
	case queue.KindCrawl:
		return t.Crawl
	case queue.KindEnrich:
		return t.Enrich
	}
	return 0
}

func stageFor(kind queue.Kind) models.Stage {
	switch kind {
	case queue.KindPrepare:
		return models.StagePrepare
	case queue.KindTranscribe:
		return models.StageTranscribe
	case queue.KindEnrich:
		return models.StageEnrich
	}
	return models.StageComplete
}

type Executors struct {
	Prepare    JobExecutor
	Transcribe JobExecutor
	Enrich     JobExecutor
	Crawl      CrawlRunner
}

// Controller runs the executor for each delivered task and records the
// outcome. It never retries: a failed stage is persisted as an error.
// Handle returning nil means the task may be acked.
type Controller struct {
	store      repository.Store
	dispatcher queue.Dispatcher
	executors  Executors
	timeouts   Timeouts
	log        *logrus.Logger
}

func NewController(store repository.Store, dispatcher queue.Dispatcher, executors Executors, timeouts Timeouts, log *logrus.Logger) *Controller {
	return &Controller{
		store:      store,
		dispatcher: dispatcher,
		executors:  executors,
		timeouts:   timeouts,
		log:        log,
	}
}

func (c *Controller) Handle(ctx context.Context, task *queue.Task) error {
	log := c.log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
		"record":  task.JobID,
		"attempt": task.Attempt,
	})

	switch task.Kind {
	case queue.KindPrepare:
		return c.handleJob(ctx, task, models.StagePrepare, c.executors.Prepare, log)
	case queue.KindTranscribe:
		return c.handleJob(ctx, task, models.StageTranscribe, c.executors.Transcribe, log)
	case queue.KindEnrich:
		return c.handleEnrich(ctx, task, log)
	case queue.KindCrawl:
		return c.handleCrawl(ctx, task, log)
	default:
		log.Error("Dropping task of unknown kind")
		return nil
	}
}

// run executes fn under the task timeout and reports whether the timeout
// (rather than the parent context) cut it short.
func run[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T) (T, error) {
	execCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	out := fn(execCtx)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return out, ErrDeadlineExceeded
	}
	return out, nil
}

func (c *Controller) loadJob(ctx context.Context, id string, log *logrus.Entry) (*models.Job, bool, error) {
	job, err := c.store.GetJob(ctx, id)
	if apperrors.IsNotFound(err) {
		log.Warn("Record no longer exists, dropping task")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (c *Controller) handleJob(ctx context.Context, task *queue.Task, stage models.Stage, exec JobExecutor, log *logrus.Entry) error {
	job, ok, err := c.loadJob(ctx, task.JobID, log)
	if !ok {
		return err
	}
	if next, ok := pendingKind(job, stage); ok {
		return c.reschedule(ctx, job, next, log)
	}
	if job.Status.IsTerminal() {
		log.WithField("status", job.Status).Info("Job already finished, skipping")
		return nil
	}
	if job.Stage != stage {
		log.WithField("stage", job.Stage).Info("Stage already handled, skipping")
		return nil
	}

	job.Status = models.StatusProcessing
	job.Error = ""
	job.ErrorKind = ""
	if err := c.store.SaveJob(ctx, job); err != nil {
		if lostRace(err) {
			log.WithError(err).Info("Job claimed elsewhere, skipping")
			return nil
		}
		return err
	}

	start := time.Now()
	result, err := run(ctx, task.Timeout, func(ctx context.Context) Result {
		return exec.Execute(ctx, job)
	})
	if err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start)).Error("Stage did not finish")
		return err
	}

	log = log.WithFields(logrus.Fields{
		"outcome": result.Outcome,
		"elapsed": time.Since(start).Round(time.Millisecond),
	})
	return c.applyJobResult(ctx, job, stage, result, log)
}

func (c *Controller) applyJobResult(ctx context.Context, job *models.Job, stage models.Stage, result Result, log *logrus.Entry) error {
	switch result.Outcome {
	case OutcomeAdvance:
		job.Status = models.StatusQueued
		job.Stage = stageFor(result.Next)
		if err := c.store.SaveJob(ctx, job); err != nil {
			if lostRace(err) {
				log.WithError(err).Warn("Job changed while processing, discarding result")
				return nil
			}
			return err
		}
		// Only enqueue once the stage change is durable, so the next
		// worker always sees the prepared job.
		if _, err := c.dispatcher.Enqueue(ctx, result.Next, job.ID, c.timeouts.For(result.Next)); err != nil {
			log.WithError(err).Error("Failed to schedule next stage")
			job.MarkFailed(models.ErrorInternal, "Failed to schedule the next processing stage.")
			return c.saveJob(ctx, job, log)
		}
		log.WithField("next", result.Next).Info("Stage advanced")
		return nil

	case OutcomeComplete:
		if stage == models.StageTranscribe && result.Detail == nil {
			log.Error("Transcription completed without a detail")
			job.MarkFailed(models.ErrorInternal, transcriptionFailed)
			return c.saveJob(ctx, job, log)
		}

		updated := *job
		updated.Status = models.StatusDone
		updated.Stage = models.StageComplete
		chainEnrich := stage == models.StageTranscribe && job.Enrich && c.executors.Enrich != nil
		if chainEnrich {
			updated.Stage = models.StageEnrich
		}

		saved, err := c.commitJob(ctx, updated, result)
		if lostRace(err) {
			log.WithError(err).Warn("Job changed while processing, discarding result")
			return nil
		}
		if err != nil {
			return err
		}
		*job = saved
		log.Info("Job completed")

		if chainEnrich {
			if _, err := c.dispatcher.Enqueue(ctx, queue.KindEnrich, job.ID, c.timeouts.Enrich); err != nil {
				log.WithError(err).Warn("Failed to schedule post-processing")
			}
		}
		return nil

	case OutcomeFail:
		stageErr := result.Err
		if stageErr == nil {
			stageErr = stageError(models.ErrorInternal, "", nil)
		}
		job.MarkFailed(stageErr.Kind, stageErr.Cause)
		log.WithError(stageErr).WithField("error_kind", stageErr.Kind).Warn("Job failed")
		return c.saveJob(ctx, job, log)
	}

	log.Error("Executor returned no outcome")
	job.MarkFailed(models.ErrorInternal, "")
	return c.saveJob(ctx, job, log)
}

// commitJob writes the result's artifacts and saves job in one transaction.
// SaveJob bumps the version, so each attempt of a retried transaction starts
// from a fresh copy of job.
func (c *Controller) commitJob(ctx context.Context, job models.Job, result Result) (models.Job, error) {
	var saved models.Job
	err := c.store.WithTx(ctx, func(tx repository.Repository) error {
		saved = job
		if err := writeArtifacts(ctx, tx, result); err != nil {
			return err
		}
		return tx.SaveJob(ctx, &saved)
	})
	return saved, err
}

// pendingKind reports the task a job still waits for when a redelivered
// task of an earlier stage finds the job already moved on. The worker that
// committed the move may have died before scheduling it.
func pendingKind(job *models.Job, handled models.Stage) (queue.Kind, bool) {
	switch {
	case handled == models.StagePrepare && job.IsQueued() && job.Stage == models.StageTranscribe:
		return queue.KindTranscribe, true
	case handled == models.StageTranscribe && job.IsDone() && job.Stage == models.StageEnrich:
		return queue.KindEnrich, true
	}
	return "", false
}

// reschedule enqueues the stage a job is waiting for. When the first task was
// scheduled after all, the version check on save keeps a single result.
func (c *Controller) reschedule(ctx context.Context, job *models.Job, next queue.Kind, log *logrus.Entry) error {
	if next == queue.KindEnrich && c.executors.Enrich == nil {
		return nil
	}
	if _, err := c.dispatcher.Enqueue(ctx, next, job.ID, c.timeouts.For(next)); err != nil {
		return errors.Wrap(err, "reschedule pending stage")
	}
	log.WithField("next", next).Info("Rescheduled pending stage")
	return nil
}

// writeArtifacts stores a stage's detail and images. Images of the same type
// are replaced so a re-run leaves one set.
func writeArtifacts(ctx context.Context, tx repository.Repository, result Result) error {
	if result.Detail != nil {
		if err := tx.UpsertDetail(ctx, result.Detail); err != nil {
			return err
		}
	}

	replaced := make(map[models.ImageType]bool)
	for _, img := range result.Images {
		if !replaced[img.Type] {
			if err := tx.DeleteImages(ctx, img.JobID, img.Type); err != nil {
				return err
			}
			replaced[img.Type] = true
		}
		if err := tx.CreateImage(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

// saveJob treats a lost optimistic write as already handled.
func (c *Controller) saveJob(ctx context.Context, job *models.Job, log *logrus.Entry) error {
	err := c.store.SaveJob(ctx, job)
	if lostRace(err) {
		log.WithError(err).Warn("Job changed while processing, discarding result")
		return nil
	}
	return err
}

// handleEnrich runs post-processing on a finished job. The job stays done
// whatever happens here.
func (c *Controller) handleEnrich(ctx context.Context, task *queue.Task, log *logrus.Entry) error {
	if c.executors.Enrich == nil {
		log.Warn("Post-processing is not configured, dropping task")
		return nil
	}

	job, ok, err := c.loadJob(ctx, task.JobID, log)
	if !ok {
		return err
	}
	if job.Status != models.StatusDone || job.Stage != models.StageEnrich {
		log.WithField("status", job.Status).Info("Nothing to post-process, skipping")
		return nil
	}

	result, err := run(ctx, task.Timeout, func(ctx context.Context) Result {
		return c.executors.Enrich.Execute(ctx, job)
	})
	if err != nil {
		log.WithError(err).Error("Post-processing did not finish")
		return err
	}

	updated := *job
	updated.Stage = models.StageComplete

	if result.Outcome != OutcomeComplete {
		log.WithError(result.Err).Warn("Post-processing failed")
		return c.saveJob(ctx, &updated, log)
	}

	_, err = c.commitJob(ctx, updated, result)
	if lostRace(err) {
		log.WithError(err).Warn("Job changed while post-processing, discarding result")
		return nil
	}
	if err != nil {
		return err
	}
	log.WithField("images", len(result.Images)).Info("Post-processing completed")
	return nil
}

func (c *Controller) handleCrawl(ctx context.Context, task *queue.Task, log *logrus.Entry) error {
	crawl, err := c.store.GetCrawl(ctx, task.JobID)
	if apperrors.IsNotFound(err) {
		log.Warn("Crawl no longer exists, dropping task")
		return nil
	}
	if err != nil {
		return err
	}
	if crawl.Status.IsTerminal() {
		log.WithField("status", crawl.Status).Info("Crawl already finished, skipping")
		return nil
	}

	crawl.Status = models.StatusProcessing
	crawl.Error = ""
	if err := c.store.SaveCrawl(ctx, crawl); err != nil {
		if lostRace(err) {
			log.WithError(err).Info("Crawl claimed elsewhere, skipping")
			return nil
		}
		return err
	}

	result, err := run(ctx, task.Timeout, func(ctx context.Context) Result {
		return c.executors.Crawl.Execute(ctx, crawl)
	})
	if err != nil {
		log.WithError(err).Error("Crawl did not finish")
		return err
	}

	switch result.Outcome {
	case OutcomeComplete:
		crawl.Status = models.StatusDone
		log.WithFields(logrus.Fields{
			"found":   crawl.TotalVideosFound,
			"created": crawl.TotalJobsCreated,
		}).Info("Crawl completed")
	default:
		cause := "Crawl failed."
		if result.Err != nil && result.Err.Cause != "" {
			cause = result.Err.Cause
		}
		crawl.Status = models.StatusError
		crawl.Error = cause
		log.WithError(result.Err).Warn("Crawl failed")
	}
	return c.saveCrawl(ctx, crawl, log)
}

func (c *Controller) saveCrawl(ctx context.Context, crawl *models.Crawl, log *logrus.Entry) error {
	err := c.store.SaveCrawl(ctx, crawl)
	if lostRace(err) {
		log.WithError(err).Warn("Crawl changed while processing, discarding update")
		return nil
	}
	return err
}

// lostRace reports a write that found the record changed or gone.
func lostRace(err error) bool {
	return apperrors.IsConflict(err) || apperrors.IsNotFound(err)
}
