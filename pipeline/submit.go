package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	apperrors "github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/repository"
	"github.com/nijaru/transcribe-pipeline/storage"
	"github.com/nijaru/transcribe-pipeline/validation"
)

// JobOptions are the caller's choices for a new job.
type JobOptions struct {
	Language string
	Engine   string
	Enrich   bool
}

// Submitter creates records and schedules their first task.
type Submitter struct {
	store      repository.Store
	dispatcher queue.Dispatcher
	objects    storage.ObjectStore
	validator  *validation.Validator
	timeouts   Timeouts
	log        *logrus.Logger
}

func NewSubmitter(store repository.Store, dispatcher queue.Dispatcher, objects storage.ObjectStore, validator *validation.Validator, timeouts Timeouts, log *logrus.Logger) *Submitter {
	return &Submitter{
		store:      store,
		dispatcher: dispatcher,
		objects:    objects,
		validator:  validator,
		timeouts:   timeouts,
		log:        log,
	}
}

func (s *Submitter) validateOptions(opts *JobOptions) error {
	if opts.Language == "" {
		opts.Language = models.DefaultLanguage
	}
	if opts.Engine == "" {
		opts.Engine = models.DefaultEngine
	}
	if err := s.validator.ValidateLanguage(opts.Language); err != nil {
		return err
	}
	return s.validator.ValidateEngine(opts.Engine)
}

// SubmitYouTube queues a job that starts with audio preparation.
func (s *Submitter) SubmitYouTube(ctx context.Context, url string, opts JobOptions) (*models.Job, error) {
	if err := s.validator.ValidateURL(url); err != nil {
		return nil, err
	}
	if err := s.validateOptions(&opts); err != nil {
		return nil, err
	}

	job := newJob(opts)
	job.SourceKind = models.SourceYouTube
	job.SourceURL = url
	job.Stage = models.StagePrepare
	if err := s.createAndEnqueue(ctx, job, queue.KindPrepare); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitUpload queues transcription of audio already in the object store.
func (s *Submitter) SubmitUpload(ctx context.Context, fileKey string, opts JobOptions) (*models.Job, error) {
	return s.submitUpload(ctx, fileKey, filepath.Base(fileKey), opts)
}

func (s *Submitter) submitUpload(ctx context.Context, fileKey, title string, opts JobOptions) (*models.Job, error) {
	const op = "Submitter.SubmitUpload"

	if fileKey == "" {
		return nil, apperrors.InvalidInput(op, nil, "File key is required")
	}
	if err := s.validateOptions(&opts); err != nil {
		return nil, err
	}

	job := newJob(opts)
	job.SourceKind = models.SourceUpload
	job.Locator = fileKey
	job.Title = title
	job.Stage = models.StageTranscribe
	if err := s.createAndEnqueue(ctx, job, queue.KindTranscribe); err != nil {
		return nil, err
	}
	return job, nil
}

// UploadAudio stores a local audio file and submits it.
func (s *Submitter) UploadAudio(ctx context.Context, path string, opts JobOptions) (*models.Job, error) {
	const op = "Submitter.UploadAudio"

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.InvalidInput(op, err, "Cannot read audio file")
	}
	defer f.Close()

	key := storage.UploadKey(path)
	if err := s.objects.Put(ctx, key, f, storage.ContentType(key)); err != nil {
		return nil, apperrors.Internal(op, err, "Failed to store audio file")
	}

	return s.submitUpload(ctx, key, filepath.Base(path), opts)
}

// SubmitCrawl queues a channel crawl after applying defaults.
func (s *Submitter) SubmitCrawl(ctx context.Context, crawl *models.Crawl) (*models.Crawl, error) {
	const op = "Submitter.SubmitCrawl"

	crawl.ApplyDefaults()
	if err := s.validator.ValidateCrawl(crawl); err != nil {
		return nil, err
	}

	crawl.ID = uuid.New().String()
	crawl.Status = models.StatusQueued
	crawl.TotalVideosFound = 0
	crawl.TotalJobsCreated = 0
	if err := s.store.CreateCrawl(ctx, crawl); err != nil {
		return nil, err
	}

	if _, err := s.dispatcher.Enqueue(ctx, queue.KindCrawl, crawl.ID, s.timeouts.Crawl); err != nil {
		crawl.Status = models.StatusError
		crawl.Error = "Failed to schedule crawl."
		if saveErr := s.store.SaveCrawl(ctx, crawl); saveErr != nil {
			s.log.WithError(saveErr).WithField("crawl_id", crawl.ID).Error("Failed to record scheduling failure")
		}
		return nil, apperrors.Internal(op, err, "Failed to schedule crawl")
	}

	s.log.WithFields(logrus.Fields{
		"crawl_id":   crawl.ID,
		"channel":    crawl.ChannelURL,
		"max_videos": crawl.MaxVideos,
		"video_type": crawl.VideoType,
	}).Info("Crawl submitted")
	return crawl, nil
}

func newJob(opts JobOptions) *models.Job {
	return &models.Job{
		ID:       uuid.New().String(),
		Status:   models.StatusQueued,
		Language: opts.Language,
		Engine:   opts.Engine,
		Enrich:   opts.Enrich,
	}
}

func (s *Submitter) createAndEnqueue(ctx context.Context, job *models.Job, kind queue.Kind) error {
	const op = "Submitter.createAndEnqueue"

	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	if _, err := s.dispatcher.Enqueue(ctx, kind, job.ID, s.timeouts.For(kind)); err != nil {
		job.MarkFailed(models.ErrorInternal, "Failed to schedule job.")
		if saveErr := s.store.SaveJob(ctx, job); saveErr != nil {
			s.log.WithError(saveErr).WithField("job_id", job.ID).Error("Failed to record scheduling failure")
		}
		if errors.Is(err, queue.ErrQueueFull) {
			return apperrors.Internal(op, err, "Job queue is full")
		}
		return apperrors.Internal(op, err, "Failed to schedule job")
	}

	s.log.WithFields(logrus.Fields{
		"job_id": job.ID,
		"source": job.SourceKind,
		"engine": job.Engine,
	}).Info("Job submitted")
	return nil
}
