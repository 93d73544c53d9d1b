package supervisor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/JonMunkholm/snapimport/internal/core"
)

// Error types attached to non-retryable application errors.
const (
	ErrTypePrecondition = "Precondition"
	ErrTypeConflict     = "StateConflict"
)

// Activities exposes the import service to Temporal workers.
type Activities struct {
	svc core.Runner
}

// NewActivities wraps svc.
func NewActivities(svc core.Runner) *Activities {
	return &Activities{svc: svc}
}

// RunImportJob starts or resumes a job and returns the file tasks to run.
func (a *Activities) RunImportJob(ctx context.Context, jobID uuid.UUID) ([]core.FileTask, error) {
	activity.GetLogger(ctx).Info("running import job", "job_id", jobID.String())
	tasks, err := a.svc.RunJob(ctx, jobID)
	return tasks, classify(err)
}

// ImportFile imports one file and re-aggregates its job. A retried attempt
// resumes from the progress the previous attempt persisted.
func (a *Activities) ImportFile(ctx context.Context, task core.FileTask) error {
	info := activity.GetInfo(ctx)
	activity.GetLogger(ctx).Info("importing file",
		"job_id", task.JobID.String(),
		"file_id", task.FileID.String(),
		"file", task.FileName,
		"attempt", info.Attempt,
	)
	return classify(a.svc.ImportFile(ctx, task))
}

// classify marks errors a retry cannot fix.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case core.IsPrecondition(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePrecondition, err)
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConflict, err)
	default:
		return err
	}
}
