package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/transcribe-pipeline/logger"
	"github.com/nijaru/transcribe-pipeline/media"
	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/speech"
	"github.com/nijaru/transcribe-pipeline/storage"
)

// brokenStore serves objects that fail partway through the read and
// rejects every write.
type brokenStore struct{}

func (brokenStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	return errors.New("bucket unavailable")
}

func (brokenStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(
		strings.NewReader("partial audio"),
		iotest.ErrReader(errors.New("connection reset")),
	)), nil
}

func TestTranscriptionRemovesTemporaryAudio(t *testing.T) {
	const key = "audios/a.mp3"

	tests := []struct {
		name    string
		objects func(t *testing.T) storage.ObjectStore
		engine  func(ctx context.Context, audioPath, language string) (*speech.Transcript, error)
		want    Outcome
		runs    bool
	}{
		{
			name: "success",
			objects: func(t *testing.T) storage.ObjectStore {
				return storeWith(t, key)
			},
			engine: func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
				return &speech.Transcript{Segments: []models.Segment{{Text: "hello"}}}, nil
			},
			want: OutcomeComplete,
			runs: true,
		},
		{
			name: "engine failure",
			objects: func(t *testing.T) storage.ObjectStore {
				return storeWith(t, key)
			},
			engine: func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
				return nil, errors.New("model crashed")
			},
			want: OutcomeFail,
			runs: true,
		},
		{
			name: "storage failure",
			objects: func(t *testing.T) storage.ObjectStore {
				return brokenStore{}
			},
			engine: func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
				return nil, errors.New("no audio")
			},
			want: OutcomeFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			var seen string
			engine := &fakeEngine{TranscribeFunc: func(ctx context.Context, audioPath, language string) (*speech.Transcript, error) {
				seen = audioPath
				_, err := os.Stat(audioPath)
				require.NoError(t, err, "audio is on disk while the engine runs")
				return tt.engine(ctx, audioPath, language)
			}}
			registry := speech.NewRegistry()
			registry.Register(models.DefaultEngine, engine)

			exec := NewTranscribeExecutor(tt.objects(t), registry, tempDir, logger.Discard())
			result := exec.Execute(context.Background(), &models.Job{
				ID:       "job-1",
				Locator:  key,
				Engine:   models.DefaultEngine,
				Language: models.DefaultLanguage,
			})
			assert.Equal(t, tt.want, result.Outcome)
			if tt.runs {
				assert.Equal(t, tempDir, filepath.Dir(seen))
			} else {
				assert.Empty(t, seen, "engine runs only with complete audio")
			}

			entries, err := os.ReadDir(tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestPreparationRemovesDownload(t *testing.T) {
	tests := []struct {
		name    string
		objects func(t *testing.T) storage.ObjectStore
		want    Outcome
	}{
		{
			name: "stored",
			objects: func(t *testing.T) storage.ObjectStore {
				return storeWith(t)
			},
			want: OutcomeAdvance,
		},
		{
			name: "storage failure",
			objects: func(t *testing.T) storage.ObjectStore {
				return brokenStore{}
			},
			want: OutcomeFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audio := writeAudio(t, "A video", 12)
			fetcher := &fakeFetcher{FetchFunc: func(ctx context.Context, locator string) (*media.Audio, error) {
				return audio, nil
			}}

			exec := NewPrepareExecutor(fetcher, tt.objects(t), logger.Discard())
			result := exec.Execute(context.Background(), &models.Job{
				ID:         "job-1",
				SourceKind: models.SourceYouTube,
				SourceURL:  videoURL,
			})
			assert.Equal(t, tt.want, result.Outcome)

			_, err := os.Stat(filepath.Dir(audio.Path))
			assert.True(t, os.IsNotExist(err), "download directory removed")
		})
	}
}

func storeWith(t *testing.T, keys ...string) storage.ObjectStore {
	t.Helper()
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range keys {
		require.NoError(t, objects.Put(context.Background(), key, strings.NewReader("audio"), "audio/mpeg"))
	}
	return objects
}
