package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Debug    bool   `json:"debug"`
	LogLevel string `json:"log_level"`
	Env      string `json:"env"`

	// Application paths
	LogDir  string `json:"log_dir"`
	TempDir string `json:"temp_dir"`

	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Worker   WorkerConfig   `json:"worker"`
	Storage  StorageConfig  `json:"storage"`
	Fetcher  FetcherConfig  `json:"fetcher"`
	Speech   SpeechConfig   `json:"speech"`
	Enrich   EnrichConfig   `json:"enrich"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path               string        `json:"path"`
	MaxConnections     int           `json:"max_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
}

type QueueConfig struct {
	Backend      string        `json:"backend"`
	MaxPending   int           `json:"max_pending"`
	LeaseGrace   time.Duration `json:"lease_grace"`
	PollInterval time.Duration `json:"poll_interval"`
	// SQSQueueURL is the base queue URL; one queue per task kind is used,
	// named <base>-<kind>.
	SQSQueueURL string `json:"sqs_queue_url"`
}

type WorkerConfig struct {
	Count             int           `json:"count"`
	PrepareTimeout    time.Duration `json:"prepare_timeout"`
	TranscribeTimeout time.Duration `json:"transcribe_timeout"`
	CrawlTimeout      time.Duration `json:"crawl_timeout"`
	EnrichTimeout     time.Duration `json:"enrich_timeout"`
	StaleJobTimeout   time.Duration `json:"stale_job_timeout"`
	MonitorInterval   time.Duration `json:"monitor_interval"`
}

type StorageConfig struct {
	// Backend is "s3" or "local".
	Backend   string `json:"backend"`
	LocalDir  string `json:"local_dir"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
}

type FetcherConfig struct {
	YtDlpPath         string `json:"ytdlp_path"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	BurstSize         int    `json:"burst_size"`
}

type SpeechConfig struct {
	DefaultEngine string   `json:"default_engine"`
	PythonPath    string   `json:"python_path"`
	ScriptsPath   string   `json:"scripts_path"`
	Model         string   `json:"model"`
	Environment   []string `json:"environment"`
	OpenAIModel   string   `json:"openai_model"`
}

type EnrichConfig struct {
	OpenAIAPIKey      string `json:"-"`
	OpenAIBaseURL     string `json:"openai_base_url"`
	ChatModel         string `json:"chat_model"`
	ImageModel        string `json:"image_model"`
	RequestsPerMinute int    `json:"requests_per_minute"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory (or ENV_FILE) is applied first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		Debug:    getEnvAsBool("DEBUG", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("ENV", "development"),

		LogDir:  getEnv("LOG_DIR", "/var/log/transcribe-pipeline"),
		TempDir: getEnv("TEMP_DIR", "/tmp/transcribe-pipeline"),

		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		Database: DatabaseConfig{
			Path:               getEnv("DB_PATH", "/var/lib/transcribe-pipeline/data.db"),
			MaxConnections:     getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},

		Queue: QueueConfig{
			Backend:      getEnv("QUEUE_BACKEND", "sqlite"),
			MaxPending:   getEnvAsInt("QUEUE_MAX_PENDING", 1000),
			LeaseGrace:   getEnvAsDuration("QUEUE_LEASE_GRACE", time.Minute),
			PollInterval: getEnvAsDuration("QUEUE_POLL_INTERVAL", time.Second),
			SQSQueueURL:  getEnv("SQS_QUEUE_URL", ""),
		},

		// Task deadlines follow the job timeouts used by the web tier: two
		// hours for media work, one hour for a crawl.
		Worker: WorkerConfig{
			Count:             getEnvAsInt("WORKER_COUNT", 2),
			PrepareTimeout:    getEnvAsDuration("PREPARE_TIMEOUT", 2*time.Hour),
			TranscribeTimeout: getEnvAsDuration("TRANSCRIBE_TIMEOUT", 2*time.Hour),
			CrawlTimeout:      getEnvAsDuration("CRAWL_TIMEOUT", time.Hour),
			EnrichTimeout:     getEnvAsDuration("ENRICH_TIMEOUT", 10*time.Minute),
			StaleJobTimeout:   getEnvAsDuration("STALE_JOB_TIMEOUT", 3*time.Hour),
			MonitorInterval:   getEnvAsDuration("MONITOR_INTERVAL", 5*time.Minute),
		},

		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "s3"),
			LocalDir:  getEnv("STORAGE_DIR", "/var/lib/transcribe-pipeline/objects"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Bucket:    getEnv("S3_BUCKET", "transcribe"),
		},

		Fetcher: FetcherConfig{
			YtDlpPath:         getEnv("YTDLP_PATH", "yt-dlp"),
			RequestsPerMinute: getEnvAsInt("FETCH_RPM", 20),
			BurstSize:         getEnvAsInt("FETCH_BURST", 2),
		},

		Speech: SpeechConfig{
			DefaultEngine: getEnv("SPEECH_ENGINE", "local"),
			PythonPath:    getEnv("PYTHON_PATH", "uv"),
			ScriptsPath:   getEnv("SCRIPTS_PATH", "./scripts"),
			Model:         getEnv("WHISPER_MODEL", "large-v3-turbo"),
			Environment:   getEnvAsStringSlice("SCRIPT_ENV", nil),
			OpenAIModel:   getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		},

		Enrich: EnrichConfig{
			OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
			ChatModel:         getEnv("OPENAI_CHAT_MODEL", "gpt-4"),
			ImageModel:        getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
			RequestsPerMinute: getEnvAsInt("OPENAI_RPM", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}

	if err := validateTimeouts(c); err != nil {
		return err
	}

	if err := validateServices(c); err != nil {
		return err
	}

	return nil
}

func validatePaths(c *Config) error {
	paths := []struct {
		path string
		name string
	}{
		{c.LogDir, "log directory"},
		{c.TempDir, "temp directory"},
		{filepath.Dir(c.Database.Path), "database directory"},
	}

	for _, p := range paths {
		if err := os.MkdirAll(p.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}

	return nil
}

func validateTimeouts(c *Config) error {
	timeouts := []struct {
		value time.Duration
		name  string
	}{
		{c.Worker.PrepareTimeout, "prepare timeout"},
		{c.Worker.TranscribeTimeout, "transcribe timeout"},
		{c.Worker.CrawlTimeout, "crawl timeout"},
		{c.Worker.EnrichTimeout, "enrich timeout"},
		{c.Worker.StaleJobTimeout, "stale job timeout"},
		{c.Queue.PollInterval, "queue poll interval"},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return fmt.Errorf("%s must be positive", t.name)
		}
	}
	return nil
}

func validateServices(c *Config) error {
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be positive")
	}

	switch c.Queue.Backend {
	case "memory", "sqlite":
	case "sqs":
		if c.Queue.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required for the sqs queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("STORAGE_DIR is required for the local storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Fetcher.RequestsPerMinute <= 0 {
		return fmt.Errorf("fetch rate limit must be positive")
	}
	return nil
}

// Helper functions for reading environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			return strings.Split(value, ",")
		}
	}
	return defaultValue
}
