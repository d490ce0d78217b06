package repository

import (
	"context"
	"time"

	"github.com/nijaru/transcribe-pipeline/models"
)

type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// SaveJob writes job if its Version still matches the stored row and
	// bumps the version; otherwise it returns a Conflict error.
	SaveJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobsByCrawl(ctx context.Context, crawlID string) ([]*models.Job, error)
	CountJobsByCrawl(ctx context.Context, crawlID string) (int, error)
	ListStaleJobs(ctx context.Context, status models.Status, before time.Time) ([]*models.Job, error)
}

type DetailRepository interface {
	// UpsertDetail creates the job's detail or overwrites the existing one.
	UpsertDetail(ctx context.Context, detail *models.Detail) error
	GetDetail(ctx context.Context, jobID string) (*models.Detail, error)
}

type ImageRepository interface {
	CreateImage(ctx context.Context, image *models.Image) error
	ListImages(ctx context.Context, jobID string) ([]*models.Image, error)
	DeleteImages(ctx context.Context, jobID string, imageType models.ImageType) error
}

type CrawlRepository interface {
	CreateCrawl(ctx context.Context, crawl *models.Crawl) error
	GetCrawl(ctx context.Context, id string) (*models.Crawl, error)
	SaveCrawl(ctx context.Context, crawl *models.Crawl) error
}

type Repository interface {
	JobRepository
	DetailRepository
	ImageRepository
	CrawlRepository
}

// Store is a Repository that can also run a group of writes atomically.
// WithTx may call fn again after a rolled back attempt, so fn must not carry
// state between calls.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}
