package pipeline

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/media"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/storage"
)

// PrepareExecutor downloads a YouTube job's audio and stores it so the
// transcription stage can read it like an upload.
type PrepareExecutor struct {
	fetcher media.Fetcher
	objects storage.ObjectStore
	log     *logrus.Logger
}

func NewPrepareExecutor(fetcher media.Fetcher, objects storage.ObjectStore, log *logrus.Logger) *PrepareExecutor {
	return &PrepareExecutor{fetcher: fetcher, objects: objects, log: log}
}

func (e *PrepareExecutor) Execute(ctx context.Context, job *models.Job) Result {
	if job.SourceKind != models.SourceYouTube || job.SourceURL == "" {
		return Fail(stageError(models.ErrorInternal, "Only YouTube jobs can be prepared.", nil))
	}

	audio, err := e.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		return Fail(fetchFailure(err))
	}
	defer func() {
		if err := audio.Close(); err != nil {
			e.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to remove downloaded audio")
		}
	}()

	f, err := audio.Open()
	if err != nil {
		return Fail(stageError(models.ErrorInternal, "Failed to read downloaded audio.", err))
	}
	defer f.Close()

	// The key depends only on the job id so a re-run overwrites the object.
	key := storage.YouTubeAudioKey(job.ID)
	if err := e.objects.Put(ctx, key, f, "audio/mpeg"); err != nil {
		return Fail(stageError(models.ErrorTransient, "Failed to store downloaded audio.", err))
	}

	job.Locator = key
	if audio.Title != "" {
		job.Title = audio.Title
	}
	job.DurationSeconds = int(math.Round(audio.DurationSeconds))

	return Advance(queue.KindTranscribe)
}

func fetchFailure(err error) *StageError {
	var fetchErr *media.FetchError
	if errors.As(err, &fetchErr) {
		kind := models.ErrorPermanent
		if fetchErr.Kind.Transient() {
			kind = models.ErrorTransient
		}
		return stageError(kind, fetchErr.Kind.Message(), err)
	}
	return stageError(models.ErrorTransient, media.FetchUnknown.Message(), err)
}
