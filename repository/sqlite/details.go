package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
)

func (r *Repository) UpsertDetail(ctx context.Context, detail *models.Detail) error {
	const op = "DetailRepository.UpsertDetail"

	if detail.ID == "" {
		detail.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = now
	}
	detail.UpdatedAt = now

	segments := detail.Segments
	if segments == nil {
		segments = []models.Segment{}
	}
	raw, err := json.Marshal(segments)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode segments")
	}

	_, err = r.exec(ctx, upsertDetailQuery,
		detail.JobID,
		detail.ID,
		detail.FormattedText,
		string(raw),
		detail.Language,
		detail.WordCount,
		detail.ProcessingSeconds,
		detail.Confidence,
		detail.Dialogue,
		detail.ImagePrompt,
		detail.CreatedAt,
		detail.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return errors.NotFound(op, err, "Job not found")
		}
		return errors.Internal(op, err, "Failed to save job detail")
	}
	return nil
}

func (r *Repository) GetDetail(ctx context.Context, jobID string) (*models.Detail, error) {
	const op = "DetailRepository.GetDetail"

	detail := &models.Detail{}
	var raw string
	err := r.db.QueryRowContext(ctx, getDetailQuery, jobID).Scan(
		&detail.JobID,
		&detail.ID,
		&detail.FormattedText,
		&raw,
		&detail.Language,
		&detail.WordCount,
		&detail.ProcessingSeconds,
		&detail.Confidence,
		&detail.Dialogue,
		&detail.ImagePrompt,
		&detail.CreatedAt,
		&detail.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Job detail not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query job detail")
	}

	if err := json.Unmarshal([]byte(raw), &detail.Segments); err != nil {
		return nil, errors.Internal(op, err, "Failed to decode segments")
	}
	return detail, nil
}
