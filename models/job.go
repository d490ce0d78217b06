package models

import (
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

type SourceKind string

const (
	SourceUpload  SourceKind = "uploaded-file"
	SourceYouTube SourceKind = "youtube"
)

// Stage names the pipeline step a job is queued for or running.
type Stage string

const (
	StagePrepare    Stage = "prepare"
	StageTranscribe Stage = "transcribe"
	StageEnrich     Stage = "enrich"

	// StageComplete means no further stage is pending.
	StageComplete Stage = "complete"
)

type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorPermanent ErrorKind = "permanent"
	ErrorInternal  ErrorKind = "internal"
)

const (
	DefaultLanguage = "auto"
	DefaultEngine   = "local"
)

type Job struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	Stage           Stage      `json:"stage"`
	SourceKind      SourceKind `json:"source_kind"`
	SourceURL       string     `json:"source_url,omitempty"`
	Locator         string     `json:"locator,omitempty"`
	Language        string     `json:"language"`
	Engine          string     `json:"engine"`
	Enrich          bool       `json:"enrich"`
	Title           string     `json:"title,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	ParentCrawlID   string     `json:"parent_crawl_id,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	Version         int64      `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Status check methods
func (j *Job) IsQueued() bool { return j.Status == StatusQueued }
func (j *Job) IsDone() bool   { return j.Status == StatusDone }
func (j *Job) IsFailed() bool { return j.Status == StatusError }

// IsStale checks if the job has been stuck in processing for too long
func (j *Job) IsStale(timeout time.Duration) bool {
	if j.Status != StatusProcessing {
		return false
	}
	return time.Since(j.UpdatedAt) > timeout
}

// MarkFailed records a terminal failure. An empty cause is replaced so the
// error field is never blank on a failed job.
func (j *Job) MarkFailed(kind ErrorKind, cause string) {
	if cause == "" {
		cause = "Job failed."
	}
	j.Status = StatusError
	j.Error = cause
	j.ErrorKind = kind
}

// LanguageHint returns the language passed to a speech engine, empty for auto-detect.
func (j *Job) LanguageHint() string {
	if j.Language == "" || j.Language == DefaultLanguage {
		return ""
	}
	return j.Language
}
