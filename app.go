package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/transcribe-pipeline/config"
	"github.com/nijaru/transcribe-pipeline/enrich"
	"github.com/nijaru/transcribe-pipeline/logger"
	"github.com/nijaru/transcribe-pipeline/media"
	"github.com/nijaru/transcribe-pipeline/pipeline"
	"github.com/nijaru/transcribe-pipeline/queue"
	"github.com/nijaru/transcribe-pipeline/repository/sqlite"
	"github.com/nijaru/transcribe-pipeline/speech"
	"github.com/nijaru/transcribe-pipeline/storage"
	"github.com/nijaru/transcribe-pipeline/validation"
)

// application holds the wired components shared by every command.
type application struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      *sqlite.Store
	dispatcher queue.Dispatcher
	objects    storage.ObjectStore
	engines    *speech.Registry
	timeouts   pipeline.Timeouts
	submitter  *pipeline.Submitter
}

func newApplication(ctx context.Context, envFile string) (*application, error) {
	if envFile != "" {
		os.Setenv("ENV_FILE", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(logger.Options{
		Dir:   cfg.LogDir,
		Level: cfg.LogLevel,
		JSON:  cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := sqlite.Open(cfg.Database.Path, sqlite.DBConfig{
		MaxRetries:         3,
		RetryDelay:         sqlite.DefaultDBConfig().RetryDelay,
		MaxConnections:     cfg.Database.MaxConnections,
		MaxIdleConnections: cfg.Database.MaxIdleConnections,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &application{
		cfg:   cfg,
		log:   log,
		store: store,
		timeouts: pipeline.Timeouts{
			Prepare:    cfg.Worker.PrepareTimeout,
			Transcribe: cfg.Worker.TranscribeTimeout,
			Crawl:      cfg.Worker.CrawlTimeout,
			Enrich:     cfg.Worker.EnrichTimeout,
		},
	}

	if a.dispatcher, err = newDispatcher(ctx, cfg, store, log); err != nil {
		a.Close()
		return nil, err
	}
	if a.objects, err = newObjectStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	if a.engines, err = newEngines(cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	a.submitter = pipeline.NewSubmitter(
		store,
		a.dispatcher,
		a.objects,
		validation.NewValidator(a.engines.Tags()),
		a.timeouts,
		log,
	)
	return a, nil
}

func (a *application) Close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close dispatcher")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, store *sqlite.Store, log *logrus.Logger) (queue.Dispatcher, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return queue.NewMemoryDispatcher(queue.MemoryOptions{
			MaxPending: cfg.Queue.MaxPending,
			LeaseGrace: cfg.Queue.LeaseGrace,
		}, log), nil

	case "sqs":
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Region)
		if err != nil {
			return nil, err
		}
		return queue.NewSQSDispatcher(sqs.NewFromConfig(awsCfg), queue.SQSOptions{
			BaseURL:      cfg.Queue.SQSQueueURL,
			LeaseGrace:   cfg.Queue.LeaseGrace,
			PollInterval: cfg.Queue.PollInterval,
		}, log), nil

	default:
		return queue.NewSQLiteDispatcher(store.DB(), queue.SQLiteOptions{
			LeaseGrace:   cfg.Queue.LeaseGrace,
			PollInterval: cfg.Queue.PollInterval,
		}, log)
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Backend == "local" {
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
		Endpoint:  cfg.Storage.Endpoint,
		Bucket:    cfg.Storage.Bucket,
	})
}

// newEngines registers every engine that is configured. The default engine
// must be among them.
func newEngines(cfg *config.Config, log *logrus.Logger) (*speech.Registry, error) {
	registry := speech.NewRegistry()

	whisper, err := speech.NewWhisper(speech.WhisperConfig{
		PythonPath:  cfg.Speech.PythonPath,
		ScriptsPath: cfg.Speech.ScriptsPath,
		Model:       cfg.Speech.Model,
		Environment: cfg.Speech.Environment,
	}, log)
	if err != nil {
		log.WithError(err).Warn("Local whisper engine unavailable")
	} else {
		registry.Register("local", whisper)
	}

	if cfg.Enrich.OpenAIAPIKey != "" {
		registry.Register("openai", speech.NewOpenAI(speech.OpenAIConfig{
			APIKey:            cfg.Enrich.OpenAIAPIKey,
			BaseURL:           cfg.Enrich.OpenAIBaseURL,
			Model:             cfg.Speech.OpenAIModel,
			RequestsPerMinute: cfg.Enrich.RequestsPerMinute,
		}))
	}

	if !registry.Has(cfg.Speech.DefaultEngine) {
		return nil, fmt.Errorf("default speech engine %q is not available", cfg.Speech.DefaultEngine)
	}
	return registry, nil
}

// newController wires the stage executors for a worker process.
func (a *application) newController() *pipeline.Controller {
	fetcher := media.NewYtDlp(media.YtDlpConfig{
		Path:              a.cfg.Fetcher.YtDlpPath,
		TempDir:           a.cfg.TempDir,
		RequestsPerMinute: a.cfg.Fetcher.RequestsPerMinute,
		BurstSize:         a.cfg.Fetcher.BurstSize,
	}, a.log)

	executors := pipeline.Executors{
		Prepare:    pipeline.NewPrepareExecutor(fetcher, a.objects, a.log),
		Transcribe: pipeline.NewTranscribeExecutor(a.objects, a.engines, a.cfg.TempDir, a.log),
		Crawl:      pipeline.NewCrawlExecutor(fetcher, a.store, a.dispatcher, a.timeouts.Prepare, a.log),
	}

	if a.cfg.Enrich.OpenAIAPIKey != "" {
		processor := enrich.NewOpenAI(enrich.OpenAIConfig{
			APIKey:            a.cfg.Enrich.OpenAIAPIKey,
			BaseURL:           a.cfg.Enrich.OpenAIBaseURL,
			ChatModel:         a.cfg.Enrich.ChatModel,
			ImageModel:        a.cfg.Enrich.ImageModel,
			RequestsPerMinute: a.cfg.Enrich.RequestsPerMinute,
		}, a.log)
		executors.Enrich = pipeline.NewEnrichExecutor(processor, a.store, a.objects, a.log)
	} else {
		a.log.Info("OPENAI_API_KEY not set, post-processing disabled")
	}

	return pipeline.NewController(a.store, a.dispatcher, executors, a.timeouts, a.log)
}
