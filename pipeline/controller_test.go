package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/transcribe-pipeline/enrich"
	apperrors "github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/media"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/speech"
	"github.com/nijaru/transcribe-pipeline/storage"
)

const videoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestYouTubeJobRunsToDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.submitter.SubmitYouTube(ctx, videoURL, JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StagePrepare, job.Stage)

	task, err := env.handle(t)
	require.NoError(t, err)
	assert.Equal(t, queue.KindPrepare, task.Kind)

	prepared := env.job(t, job.ID)
	assert.Equal(t, models.StatusQueued, prepared.Status)
	assert.Equal(t, models.StageTranscribe, prepared.Stage)
	assert.Equal(t, storage.YouTubeAudioKey(job.ID), prepared.Locator)
	assert.Equal(t, "A video", prepared.Title)
	assert.Equal(t, 42, prepared.DurationSeconds)

	pending, _ := env.dispatcher.Len()
	require.Equal(t, 1, pending, "transcribe task should be queued after preparation")

	rc, err := env.objects.Get(ctx, prepared.Locator)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "fake mp3 data", string(data))

	task, err = env.handle(t)
	require.NoError(t, err)
	assert.Equal(t, queue.KindTranscribe, task.Kind)

	done := env.job(t, job.ID)
	assert.Equal(t, models.StatusDone, done.Status)
	assert.Equal(t, models.StageComplete, done.Stage)
	assert.Empty(t, done.Error)

	detail, err := env.store.GetDetail(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi there !", detail.FormattedText)
	assert.Equal(t, 3, detail.WordCount)
	assert.Equal(t, "en", detail.Language)
	assert.Len(t, detail.Segments, 3)
	assert.Equal(t, "", env.engine.language, "auto language should not be passed as a hint")
}

func TestRateLimitedFetchFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.FetchFunc = func(ctx context.Context, locator string) (*media.Audio, error) {
		return nil, media.NewFetchError("ERROR: [youtube] dQw4w9WgXcQ: HTTP Error 429: Too Many Requests", errors.New("exit status 1"))
	}

	job, err := env.submitter.SubmitYouTube(ctx, videoURL, JobOptions{})
	require.NoError(t, err)

	_, err = env.handle(t)
	require.NoError(t, err)

	failed := env.job(t, job.ID)
	assert.Equal(t, models.StatusError, failed.Status)
	assert.Equal(t, media.FetchRateLimited.Message(), failed.Error)
	assert.Equal(t, models.ErrorTransient, failed.ErrorKind)

	_, err = env.store.GetDetail(ctx, job.ID)
	assert.True(t, apperrors.IsNotFound(err), "no detail expected, got %v", err)

	pending, leased := env.dispatcher.Len()
	assert.Zero(t, pending)
	assert.Zero(t, leased)
}

func TestUnavailableVideoIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.FetchFunc = func(ctx context.Context, locator string) (*media.Audio, error) {
		return nil, media.NewFetchError("ERROR: Private video. Sign in if you've been granted access", nil)
	}

	job, err := env.submitter.SubmitYouTube(context.Background(), videoURL, JobOptions{})
	require.NoError(t, err)
	env.drain(t)

	failed := env.job(t, job.ID)
	assert.Equal(t, models.StatusError, failed.Status)
	assert.Equal(t, models.ErrorPermanent, failed.ErrorKind)
	assert.Equal(t, media.FetchUnavailable.Message(), failed.Error)
}

func TestTranscriptionFailureUsesGenericCause(t *testing.T) {
	env := newTestEnv(t)
	env.engine.TranscribeFunc = func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
		return nil, errors.New("CUDA out of memory")
	}

	job, err := env.submitter.UploadAudio(context.Background(), writeAudio(t, "", 0).Path, JobOptions{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "audio.mp3", job.Title)

	_, err = env.handle(t)
	require.NoError(t, err)

	failed := env.job(t, job.ID)
	assert.Equal(t, models.StatusError, failed.Status)
	assert.Equal(t, "Transcription failed.", failed.Error)
	assert.Equal(t, "en", env.engine.language)
	assert.Zero(t, env.countRows(t, "SELECT COUNT(*) FROM job_details WHERE job_id = ?", job.ID))
}

func TestUnknownEngineFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.submitter.SubmitUpload(ctx, "audios/missing.mp3", JobOptions{})
	require.NoError(t, err)
	job.Engine = "removed"
	require.NoError(t, env.store.SaveJob(ctx, job))

	_, err = env.handle(t)
	require.NoError(t, err)

	failed := env.job(t, job.ID)
	assert.Equal(t, models.StatusError, failed.Status)
	assert.Equal(t, models.ErrorPermanent, failed.ErrorKind)
}

func TestTranscriptionRerunKeepsOneDetail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.submitter.UploadAudio(ctx, writeAudio(t, "", 0).Path, JobOptions{})
	require.NoError(t, err)
	env.drain(t)
	require.Equal(t, models.StatusDone, env.job(t, job.ID).Status)

	// Simulate a redelivery of a task whose worker died after writing.
	stuck := env.job(t, job.ID)
	stuck.Status = models.StatusProcessing
	stuck.Stage = models.StageTranscribe
	require.NoError(t, env.store.SaveJob(ctx, stuck))
	_, err = env.dispatcher.Enqueue(ctx, queue.KindTranscribe, job.ID, time.Minute)
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, 2, env.engine.calls)
	assert.Equal(t, models.StatusDone, env.job(t, job.ID).Status)
	assert.Equal(t, 1, env.countRows(t, "SELECT COUNT(*) FROM job_details WHERE job_id = ?", job.ID))
}

func TestRedeliveredTaskForFinishedStageIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.submitter.SubmitYouTube(ctx, videoURL, JobOptions{})
	require.NoError(t, err)

	prepareTask := env.next(t)
	require.NoError(t, env.controller.Handle(ctx, prepareTask))
	before := env.job(t, job.ID)

	// Same prepare task again: the job has moved on to transcription.
	require.NoError(t, env.controller.Handle(ctx, prepareTask))
	after := env.job(t, job.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, models.StageTranscribe, after.Stage)
	pending, _ := env.dispatcher.Len()
	assert.Equal(t, 2, pending, "the transcription stage is scheduled again")

	env.drain(t)
	done := env.job(t, job.ID)
	require.Equal(t, models.StatusDone, done.Status)

	// Terminal jobs ignore further deliveries.
	require.NoError(t, env.controller.Handle(ctx, prepareTask))
	assert.Equal(t, done.Version, env.job(t, job.ID).Version)
}

func TestDeadlineExceededLeavesTaskUnacked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.engine.TranscribeFunc = func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	job, err := env.submitter.SubmitUpload(ctx, "audios/slow.mp3", JobOptions{})
	require.NoError(t, err)
	require.NoError(t, env.objects.Put(ctx, "audios/slow.mp3", strings.NewReader("data"), "audio/mpeg"))

	task := env.next(t)
	task.Timeout = 50 * time.Millisecond
	err = env.controller.Handle(ctx, task)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)

	stuck := env.job(t, job.ID)
	assert.Equal(t, models.StatusProcessing, stuck.Status)
	assert.Empty(t, stuck.Error)

	_, leased := env.dispatcher.Len()
	assert.Equal(t, 1, leased)
}

func TestMissingRecordIsAcked(t *testing.T) {
	env := newTestEnv(t)

	for _, kind := range queue.Kinds {
		err := env.controller.Handle(context.Background(), &queue.Task{ID: "t", Kind: kind, JobID: "no-such-id"})
		assert.NoError(t, err, kind)
	}
}

func TestUnknownKindIsDropped(t *testing.T) {
	env := newTestEnv(t)
	err := env.controller.Handle(context.Background(), &queue.Task{ID: "t", Kind: "thumbnail", JobID: "x"})
	assert.NoError(t, err)
}

func TestEnrichmentChainsAfterTranscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.submitter.UploadAudio(ctx, writeAudio(t, "", 0).Path, JobOptions{Enrich: true})
	require.NoError(t, err)

	_, err = env.handle(t)
	require.NoError(t, err)

	transcribed := env.job(t, job.ID)
	assert.Equal(t, models.StatusDone, transcribed.Status)
	assert.Equal(t, models.StageEnrich, transcribed.Stage)

	task, err := env.handle(t)
	require.NoError(t, err)
	assert.Equal(t, queue.KindEnrich, task.Kind)

	enriched := env.job(t, job.ID)
	assert.Equal(t, models.StatusDone, enriched.Status)
	assert.Equal(t, models.StageComplete, enriched.Stage)

	detail, err := env.store.GetDetail(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Speaker1: hi there !", detail.Dialogue)
	assert.Equal(t, "A scene depicting: Speaker1: hi there !...", detail.ImagePrompt)
	assert.Equal(t, "hi there !", detail.FormattedText)

	images, err := env.store.ListImages(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, models.ImageGenerated, images[0].Type)
	assert.Equal(t, storage.ImageKey(job.ID, images[0].ID, "png"), images[0].FileKey)

	// A second enrichment run replaces the generated image.
	enriched.Stage = models.StageEnrich
	require.NoError(t, env.store.SaveJob(ctx, enriched))
	_, err = env.dispatcher.Enqueue(ctx, queue.KindEnrich, job.ID, time.Minute)
	require.NoError(t, err)
	env.drain(t)

	images, err = env.store.ListImages(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

func TestEnrichmentFailureKeepsJobDone(t *testing.T) {
	env := newTestEnv(t)
	env.processor.DialogueFunc = func(ctx context.Context, text string) (string, error) {
		return "", errors.New("model overloaded")
	}

	job, err := env.submitter.UploadAudio(context.Background(), writeAudio(t, "", 0).Path, JobOptions{Enrich: true})
	require.NoError(t, err)
	env.drain(t)

	done := env.job(t, job.ID)
	assert.Equal(t, models.StatusDone, done.Status)
	assert.Equal(t, models.StageComplete, done.Stage)
	assert.Empty(t, done.Error)

	detail, err := env.store.GetDetail(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Dialogue)
}

func TestImageFailureKeepsDialogue(t *testing.T) {
	env := newTestEnv(t)
	env.processor.ImageFunc = func(ctx context.Context, prompt string) (*enrich.GeneratedImage, error) {
		return nil, errors.New("content policy")
	}

	job, err := env.submitter.UploadAudio(context.Background(), writeAudio(t, "", 0).Path, JobOptions{Enrich: true})
	require.NoError(t, err)
	env.drain(t)

	detail, err := env.store.GetDetail(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Speaker1: hi there !", detail.Dialogue)

	images, err := env.store.ListImages(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestDoneJobsAlwaysHaveDetailAndFailedJobsAMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	calls := 0
	env.engine.TranscribeFunc = func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
		calls++
		if calls%2 == 0 {
			return nil, errors.New("boom")
		}
		return &speech.Transcript{Segments: []models.Segment{{Text: "ok"}}}, nil
	}

	var ids []string
	for i := 0; i < 6; i++ {
		job, err := env.submitter.UploadAudio(ctx, writeAudio(t, "", 0).Path, JobOptions{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	env.drain(t)

	for _, id := range ids {
		job := env.job(t, id)
		switch job.Status {
		case models.StatusDone:
			_, err := env.store.GetDetail(ctx, id)
			assert.NoError(t, err, "done job %s has no detail", id)
		case models.StatusError:
			assert.NotEmpty(t, job.Error)
		default:
			t.Fatalf("job %s left in %s", id, job.Status)
		}
	}
}
