package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	apperrors "github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/media"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/repository"
)

var errChildExists = errors.New("child job already exists")

// CrawlExecutor lists a channel and creates one YouTube job per matching item.
type CrawlExecutor struct {
	fetcher        media.Fetcher
	store          repository.Store
	dispatcher     queue.Dispatcher
	prepareTimeout time.Duration
	log            *logrus.Logger
}

func NewCrawlExecutor(fetcher media.Fetcher, store repository.Store, dispatcher queue.Dispatcher, prepareTimeout time.Duration, log *logrus.Logger) *CrawlExecutor {
	return &CrawlExecutor{
		fetcher:        fetcher,
		store:          store,
		dispatcher:     dispatcher,
		prepareTimeout: prepareTimeout,
		log:            log,
	}
}

// ChildJobID is stable for a crawl and video so a redelivered crawl task
// finds the jobs it already created instead of duplicating them.
func ChildJobID(crawlID, videoID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(crawlID+"/"+videoID)).String()
}

// listingOverscan widens the listing for filtered crawls so that up to
// MaxVideos items can still match after filtering.
const listingOverscan = 2

func listingLimit(crawl *models.Crawl) int {
	if crawl.MaxVideos <= 0 || crawl.VideoType == models.VideoTypeAll {
		return crawl.MaxVideos
	}
	return crawl.MaxVideos * listingOverscan
}

func (e *CrawlExecutor) Execute(ctx context.Context, crawl *models.Crawl) Result {
	log := e.log.WithField("crawl_id", crawl.ID)

	listURL := media.ChannelListURL(crawl.ChannelURL, crawl.VideoType)
	items, err := e.fetcher.List(ctx, listURL, listingLimit(crawl))
	if err != nil {
		kind := models.ErrorTransient
		var fetchErr *media.FetchError
		if errors.As(err, &fetchErr) && !fetchErr.Kind.Transient() {
			kind = models.ErrorPermanent
		}
		return Fail(stageError(kind, err.Error(), err))
	}

	retained := make([]media.Item, 0, len(items))
	for _, item := range items {
		if crawl.VideoType.Matches(item.DurationSeconds) {
			retained = append(retained, item)
		}
	}
	found := len(items)
	if crawl.MaxVideos > 0 {
		found = min(found, crawl.MaxVideos)
		if len(retained) > crawl.MaxVideos {
			retained = retained[:crawl.MaxVideos]
		}
	}

	crawl.TotalVideosFound = max(found, crawl.TotalJobsCreated)
	if err := e.store.SaveCrawl(ctx, crawl); err != nil {
		return Fail(stageError(models.ErrorInternal, "Failed to record crawl progress.", err))
	}

	log.WithFields(logrus.Fields{
		"listed":     len(items),
		"retained":   len(retained),
		"video_type": crawl.VideoType,
	}).Info("Channel listed")

	for _, item := range retained {
		if err := e.createChild(ctx, crawl, item); err != nil {
			log.WithError(err).WithField("video_id", item.ID).Warn("Skipping crawl item")
		}
	}

	log.WithField("created", crawl.TotalJobsCreated).Info("Crawl fan-out finished")
	return Complete(nil)
}

// createChild inserts the child job and bumps the crawl counter in one
// transaction, then schedules its preparation.
func (e *CrawlExecutor) createChild(ctx context.Context, crawl *models.Crawl, item media.Item) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	job := &models.Job{
		ID:              ChildJobID(crawl.ID, item.ID),
		Status:          models.StatusQueued,
		Stage:           models.StagePrepare,
		SourceKind:      models.SourceYouTube,
		SourceURL:       item.URL,
		Language:        crawl.Language,
		Engine:          crawl.Engine,
		Title:           item.Title,
		DurationSeconds: int(math.Round(item.DurationSeconds)),
		ParentCrawlID:   crawl.ID,
	}

	// SaveCrawl bumps the version, so every attempt of a retried transaction
	// starts from the crawl as loaded.
	var updated models.Crawl
	err := e.store.WithTx(ctx, func(tx repository.Repository) error {
		updated = *crawl
		if err := tx.CreateJob(ctx, job); err != nil {
			if apperrors.IsConflict(err) {
				return errChildExists
			}
			return err
		}
		n, err := tx.CountJobsByCrawl(ctx, crawl.ID)
		if err != nil {
			return err
		}
		updated.TotalJobsCreated = n
		if updated.TotalVideosFound < n {
			updated.TotalVideosFound = n
		}
		return tx.SaveCrawl(ctx, &updated)
	})

	switch {
	case errors.Is(err, errChildExists):
		// A previous delivery created it. Schedule it again only if it never
		// got past the queue.
		existing, err := e.store.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if existing.Status != models.StatusQueued || existing.Stage != models.StagePrepare {
			return nil
		}
	case err != nil:
		return err
	default:
		*crawl = updated
	}

	if _, err := e.dispatcher.Enqueue(ctx, queue.KindPrepare, job.ID, e.prepareTimeout); err != nil {
		return errors.Wrap(err, "enqueue prepare task")
	}
	return nil
}
