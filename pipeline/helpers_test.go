package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nijaru/transcribe-pipeline/enrich"
	"github.com/nijaru/transcribe-pipeline/logger"
	"github.com/nijaru/transcribe-pipeline/media"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/repository"
	"github.com/nijaru/transcribe-pipeline/repository/sqlite"
	"github.com/nijaru/transcribe-pipeline/speech"
	"github.com/nijaru/transcribe-pipeline/storage"
	"github.com/nijaru/transcribe-pipeline/validation"
)

type fakeFetcher struct {
	FetchFunc func(ctx context.Context, locator string) (*media.Audio, error)
	ListFunc  func(ctx context.Context, channelURL string, max int) ([]media.Item, error)

	mu      sync.Mutex
	listURL string
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (*media.Audio, error) {
	return f.FetchFunc(ctx, locator)
}

func (f *fakeFetcher) List(ctx context.Context, channelURL string, max int) ([]media.Item, error) {
	f.mu.Lock()
	f.listURL = channelURL
	f.mu.Unlock()
	return f.ListFunc(ctx, channelURL, max)
}

type fakeEngine struct {
	TranscribeFunc func(ctx context.Context, audioPath, language string) (*speech.Transcript, error)

	mu       sync.Mutex
	calls    int
	language string
}

func (e *fakeEngine) Transcribe(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
	e.mu.Lock()
	e.calls++
	e.language = language
	e.mu.Unlock()
	return e.TranscribeFunc(ctx, audioPath, language)
}

type fakeProcessor struct {
	DialogueFunc func(ctx context.Context, text string) (string, error)
	ImageFunc    func(ctx context.Context, prompt string) (*enrich.GeneratedImage, error)
}

func (p *fakeProcessor) FormatDialogue(ctx context.Context, text string) (string, error) {
	return p.DialogueFunc(ctx, text)
}

func (p *fakeProcessor) ImagePrompt(ctx context.Context, dialogue string) string {
	return enrich.FallbackPrompt(dialogue)
}

func (p *fakeProcessor) GenerateImage(ctx context.Context, prompt string) (*enrich.GeneratedImage, error) {
	return p.ImageFunc(ctx, prompt)
}

type testEnv struct {
	store      *sqlite.Store
	dispatcher *queue.MemoryDispatcher
	objects    *storage.LocalStore
	fetcher    *fakeFetcher
	engine     *fakeEngine
	processor  *fakeProcessor
	tempDir    string
	timeouts   Timeouts
	executors  Executors
	controller *Controller
	submitter  *Submitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()

	cfg := sqlite.DefaultDBConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "jobs.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := queue.NewMemoryDispatcher(queue.MemoryOptions{MaxPending: 100, ReclaimInterval: time.Hour}, log)
	t.Cleanup(func() { dispatcher.Close() })

	objects, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	env := &testEnv{
		store:      store,
		dispatcher: dispatcher,
		objects:    objects,
		fetcher: &fakeFetcher{
			FetchFunc: func(ctx context.Context, locator string) (*media.Audio, error) {
				return writeAudio(t, "A video", 42.4), nil
			},
			ListFunc: func(ctx context.Context, channelURL string, max int) ([]media.Item, error) {
				return nil, nil
			},
		},
		engine: &fakeEngine{
			TranscribeFunc: func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
				return &speech.Transcript{
					Language: "en",
					Segments: []models.Segment{
						{ID: 0, Start: 0, End: 1, Text: " hi "},
						{ID: 1, Start: 1, End: 2, Text: "there"},
						{ID: 2, Start: 2, End: 3, Text: " ! "},
					},
					Confidence: "0.90",
				}, nil
			},
		},
		processor: &fakeProcessor{
			DialogueFunc: func(ctx context.Context, text string) (string, error) {
				return "Speaker1: " + text, nil
			},
			ImageFunc: func(ctx context.Context, prompt string) (*enrich.GeneratedImage, error) {
				return &enrich.GeneratedImage{Data: []byte("png"), MimeType: "image/png", Width: 1024, Height: 1024}, nil
			},
		},
		timeouts: Timeouts{
			Prepare:    time.Minute,
			Transcribe: time.Minute,
			Crawl:      time.Minute,
			Enrich:     time.Minute,
		},
	}

	registry := speech.NewRegistry()
	registry.Register(models.DefaultEngine, env.engine)

	env.tempDir = t.TempDir()
	env.executors = Executors{
		Prepare:    NewPrepareExecutor(env.fetcher, objects, log),
		Transcribe: NewTranscribeExecutor(objects, registry, env.tempDir, log),
		Enrich:     NewEnrichExecutor(env.processor, store, objects, log),
		Crawl:      NewCrawlExecutor(env.fetcher, store, dispatcher, env.timeouts.Prepare, log),
	}
	env.controller = env.newController(store, dispatcher)
	env.submitter = NewSubmitter(store, dispatcher, objects, validation.NewValidator(registry.Tags()), env.timeouts, log)
	return env
}

// newController builds a controller over the env executors.
func (e *testEnv) newController(store repository.Store, dispatcher queue.Dispatcher) *Controller {
	return NewController(store, dispatcher, e.executors, e.timeouts, logger.Discard())
}

// writeAudio creates a downloaded file the way the yt-dlp fetcher leaves it.
func writeAudio(t *testing.T, title string, duration float64) *media.Audio {
	t.Helper()
	dir, err := os.MkdirTemp(t.TempDir(), "dl-")
	require.NoError(t, err)
	path := filepath.Join(dir, "audio.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake mp3 data"), 0o644))
	return media.NewAudio(path, dir, title, duration)
}

// next dequeues the next task, failing the test if none arrives.
func (e *testEnv) next(t *testing.T) *queue.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := e.dispatcher.Dequeue(ctx)
	require.NoError(t, err)
	return task
}

// handle delivers the next task and acks it when the controller succeeds.
func (e *testEnv) handle(t *testing.T) (*queue.Task, error) {
	t.Helper()
	task := e.next(t)
	err := e.controller.Handle(context.Background(), task)
	if err == nil {
		require.NoError(t, e.dispatcher.Ack(context.Background(), task))
	}
	return task, err
}

// drain handles tasks until nothing is pending.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	for {
		pending, _ := e.dispatcher.Len()
		if pending == 0 {
			return
		}
		_, err := e.handle(t)
		require.NoError(t, err)
	}
}

func (e *testEnv) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (e *testEnv) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, e.store.DB().QueryRow(query, args...).Scan(&n))
	return n
}
