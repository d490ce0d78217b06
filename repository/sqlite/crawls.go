package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
)

func (r *Repository) CreateCrawl(ctx context.Context, crawl *models.Crawl) error {
	const op = "CrawlRepository.CreateCrawl"

	now := time.Now().UTC()
	if crawl.CreatedAt.IsZero() {
		crawl.CreatedAt = now
	}
	crawl.UpdatedAt = now

	_, err := r.exec(ctx, insertCrawlQuery,
		crawl.ID,
		crawl.ChannelURL,
		crawl.Language,
		crawl.Engine,
		crawl.MaxVideos,
		string(crawl.VideoType),
		crawl.TotalVideosFound,
		crawl.TotalJobsCreated,
		string(crawl.Status),
		crawl.Error,
		crawl.Version,
		crawl.CreatedAt,
		crawl.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict(op, err, "Crawl already exists")
		}
		return errors.Internal(op, err, "Failed to create crawl")
	}
	return nil
}

func (r *Repository) GetCrawl(ctx context.Context, id string) (*models.Crawl, error) {
	const op = "CrawlRepository.GetCrawl"

	crawl := &models.Crawl{}
	var videoType, status string
	err := r.db.QueryRowContext(ctx, getCrawlQuery, id).Scan(
		&crawl.ID,
		&crawl.ChannelURL,
		&crawl.Language,
		&crawl.Engine,
		&crawl.MaxVideos,
		&videoType,
		&crawl.TotalVideosFound,
		&crawl.TotalJobsCreated,
		&status,
		&crawl.Error,
		&crawl.Version,
		&crawl.CreatedAt,
		&crawl.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Crawl not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query crawl")
	}

	crawl.VideoType = models.VideoType(videoType)
	crawl.Status = models.Status(status)
	return crawl, nil
}

func (r *Repository) SaveCrawl(ctx context.Context, crawl *models.Crawl) error {
	const op = "CrawlRepository.SaveCrawl"

	updatedAt := time.Now().UTC()
	res, err := r.exec(ctx, updateCrawlQuery,
		crawl.TotalVideosFound,
		crawl.TotalJobsCreated,
		string(crawl.Status),
		crawl.Error,
		updatedAt,
		crawl.ID,
		crawl.Version,
	)
	if err != nil {
		return errors.Internal(op, err, "Failed to save crawl")
	}

	if err := r.checkVersioned(ctx, op, res, crawlExistsQuery, crawl.ID, "Crawl"); err != nil {
		return err
	}

	crawl.Version++
	crawl.UpdatedAt = updatedAt
	return nil
}
