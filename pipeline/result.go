package pipeline

import (
	"context"
	"fmt"

	"github.com/nijaru/transcribe-pipeline/models"
	"github.com/nijaru/transcribe-pipeline/queue"
)

type Outcome int

const (
	OutcomeAdvance Outcome = iota + 1
	OutcomeComplete
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvance:
		return "advance"
	case OutcomeComplete:
		return "complete"
	case OutcomeFail:
		return "fail"
	}
	return "unknown"
}

// Result is what a stage executor hands back to the Controller. Executors
// mutate the record they were given in place; the Controller persists it.
type Result struct {
	Outcome Outcome
	Next    queue.Kind
	Detail  *models.Detail
	Images  []*models.Image
	Err     *StageError
}

func Advance(next queue.Kind) Result {
	return Result{Outcome: OutcomeAdvance, Next: next}
}

func Complete(detail *models.Detail, images ...*models.Image) Result {
	return Result{Outcome: OutcomeComplete, Detail: detail, Images: images}
}

func Fail(err *StageError) Result {
	return Result{Outcome: OutcomeFail, Err: err}
}

// StageError carries the user-facing cause persisted on the record and the
// underlying error for logs.
type StageError struct {
	Kind  models.ErrorKind
	Cause string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Cause, e.Err)
	}
	return e.Cause
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(kind models.ErrorKind, cause string, err error) *StageError {
	return &StageError{Kind: kind, Cause: cause, Err: err}
}

// JobExecutor runs one stage for a job.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) Result
}

// CrawlRunner enumerates a crawl and fans it out into jobs.
type CrawlRunner interface {
	Execute(ctx context.Context, crawl *models.Crawl) Result
}
