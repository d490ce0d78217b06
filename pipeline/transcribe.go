package pipeline

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/speech"
	"github.com/nijaru/transcribe-pipeline/storage"
)

const transcriptionFailed = "Transcription failed."

// Engines resolves a job's engine tag.
type Engines interface {
	Get(tag string) (speech.Engine, error)
}

type TranscribeExecutor struct {
	objects storage.ObjectStore
	engines Engines
	tempDir string
	log     *logrus.Logger
}

func NewTranscribeExecutor(objects storage.ObjectStore, engines Engines, tempDir string, log *logrus.Logger) *TranscribeExecutor {
	return &TranscribeExecutor{objects: objects, engines: engines, tempDir: tempDir, log: log}
}

func (e *TranscribeExecutor) Execute(ctx context.Context, job *models.Job) Result {
	if job.Locator == "" {
		return Fail(stageError(models.ErrorInternal, "Job has no audio to transcribe.", nil))
	}

	engine, err := e.engines.Get(job.Engine)
	if err != nil {
		return Fail(stageError(models.ErrorPermanent, "Unsupported transcription engine.", err))
	}

	audioPath, err := e.download(ctx, job.Locator)
	if err != nil {
		return Fail(stageError(models.ErrorTransient, transcriptionFailed, err))
	}
	defer func() {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			e.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to remove temporary audio")
		}
	}()

	start := time.Now()
	transcript, err := engine.Transcribe(ctx, audioPath, job.LanguageHint())
	if err != nil {
		return Fail(stageError(models.ErrorInternal, transcriptionFailed, err))
	}

	text := models.JoinSegments(transcript.Segments)
	language := transcript.Language
	if language == "" {
		language = job.Language
	}

	return Complete(&models.Detail{
		JobID:             job.ID,
		FormattedText:     text,
		Segments:          transcript.Segments,
		Language:          language,
		WordCount:         models.WordCount(text),
		ProcessingSeconds: time.Since(start).Seconds(),
		Confidence:        transcript.Confidence,
	})
}

// download copies the object into a temp file owned by this task. The file
// is removed here on failure and by the caller otherwise.
func (e *TranscribeExecutor) download(ctx context.Context, key string) (string, error) {
	rc, err := e.objects.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(e.tempDir, "audio-*"+path.Ext(key))
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
