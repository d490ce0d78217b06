package pipeline

import (
	"bytes"
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/enrich"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/repository"
	"github.com/nijaru/transcribe-pipeline/storage"
)

// EnrichExecutor turns a finished transcript into dialogue form and
// generates an illustration for it.
type EnrichExecutor struct {
	processor enrich.Processor
	details   repository.DetailRepository
	objects   storage.ObjectStore
	log       *logrus.Logger
}

func NewEnrichExecutor(processor enrich.Processor, details repository.DetailRepository, objects storage.ObjectStore, log *logrus.Logger) *EnrichExecutor {
	return &EnrichExecutor{processor: processor, details: details, objects: objects, log: log}
}

func (e *EnrichExecutor) Execute(ctx context.Context, job *models.Job) Result {
	detail, err := e.details.GetDetail(ctx, job.ID)
	if err != nil {
		return Fail(stageError(models.ErrorInternal, "Transcript not available for post-processing.", err))
	}
	if strings.TrimSpace(detail.FormattedText) == "" {
		return Fail(stageError(models.ErrorPermanent, "Transcript is empty.", nil))
	}

	dialogue, err := e.processor.FormatDialogue(ctx, detail.FormattedText)
	if err != nil {
		return Fail(stageError(models.ErrorTransient, "Post-processing failed.", err))
	}
	detail.Dialogue = dialogue
	detail.ImagePrompt = e.processor.ImagePrompt(ctx, dialogue)

	image, err := e.generateImage(ctx, job.ID, detail.ImagePrompt)
	if err != nil {
		// The dialogue is still worth keeping.
		e.log.WithError(err).WithField("job_id", job.ID).Warn("Image generation failed")
		return Complete(detail)
	}
	return Complete(detail, image)
}

func (e *EnrichExecutor) generateImage(ctx context.Context, jobID, prompt string) (*models.Image, error) {
	generated, err := e.processor.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, err
	}

	mimeType := generated.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	ext := "png"
	if mimeType == "image/jpeg" {
		ext = "jpg"
	}

	imageID := uuid.New().String()
	key := storage.ImageKey(jobID, imageID, ext)
	if err := e.objects.Put(ctx, key, bytes.NewReader(generated.Data), mimeType); err != nil {
		return nil, err
	}

	return &models.Image{
		ID:          imageID,
		JobID:       jobID,
		Type:        models.ImageGenerated,
		FileKey:     key,
		MimeType:    mimeType,
		FileSize:    int64(len(generated.Data)),
		Width:       generated.Width,
		Height:      generated.Height,
		Description: prompt,
	}, nil
}
