package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
)

func (r *Repository) CreateImage(ctx context.Context, image *models.Image) error {
	const op = "ImageRepository.CreateImage"

	if !image.Type.Valid() {
		return errors.InvalidInput(op, nil, fmt.Sprintf("Unknown image type %q", image.Type))
	}
	if image.ID == "" {
		image.ID = uuid.New().String()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}

	_, err := r.exec(ctx, insertImageQuery,
		image.ID,
		image.JobID,
		string(image.Type),
		image.FileKey,
		image.MimeType,
		image.FileSize,
		image.Width,
		image.Height,
		image.Description,
		image.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return errors.NotFound(op, err, "Job not found")
		}
		return errors.Internal(op, err, "Failed to save image")
	}
	return nil
}

func (r *Repository) ListImages(ctx context.Context, jobID string) ([]*models.Image, error) {
	const op = "ImageRepository.ListImages"

	rows, err := r.db.QueryContext(ctx, listImagesQuery, jobID)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to list images")
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img := &models.Image{}
		var imageType string
		if err := rows.Scan(
			&img.ID,
			&img.JobID,
			&imageType,
			&img.FileKey,
			&img.MimeType,
			&img.FileSize,
			&img.Width,
			&img.Height,
			&img.Description,
			&img.CreatedAt,
		); err != nil {
			return nil, errors.Internal(op, err, "Failed to scan image")
		}
		img.Type = models.ImageType(imageType)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal(op, err, "Failed to list images")
	}
	return images, nil
}

func (r *Repository) DeleteImages(ctx context.Context, jobID string, imageType models.ImageType) error {
	const op = "ImageRepository.DeleteImages"

	if _, err := r.exec(ctx, deleteImagesQuery, jobID, string(imageType)); err != nil {
		return errors.Internal(op, err, "Failed to delete images")
	}
	return nil
}
