package supervisor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/JonMunkholm/snapimport/internal/core"
)

// WorkflowOptions tunes the activity options of ImportWorkflow.
type WorkflowOptions struct {
	JobTimeout       time.Duration `json:"jobTimeout"`
	FileTimeout      time.Duration `json:"fileTimeout"`
	HeartbeatTimeout time.Duration `json:"heartbeatTimeout"`
	MaxAttempts      int32         `json:"maxAttempts"`
}

// DefaultWorkflowOptions are used for zero fields.
var DefaultWorkflowOptions = WorkflowOptions{
	JobTimeout:       10 * time.Minute,
	FileTimeout:      6 * time.Hour,
	HeartbeatTimeout: 2 * time.Minute,
	MaxAttempts:      5,
}

func (o WorkflowOptions) withDefaults() WorkflowOptions {
	d := DefaultWorkflowOptions
	if o.JobTimeout <= 0 {
		o.JobTimeout = d.JobTimeout
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = d.FileTimeout
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	return o
}

// ImportInput is the argument of ImportWorkflow.
type ImportInput struct {
	JobID   uuid.UUID       `json:"jobId"`
	Options WorkflowOptions `json:"options"`
}

// ImportWorkflow runs a job: it spawns the job's FileUnits and then imports
// every file as its own heartbeating activity. A file that stops
// heartbeating is retried and resumes from its persisted progress.
func ImportWorkflow(ctx workflow.Context, in ImportInput) error {
	logger := workflow.GetLogger(ctx)
	opts := in.Options.withDefaults()
	retry := &temporal.RetryPolicy{
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    opts.MaxAttempts,
		NonRetryableErrorTypes: []string{
			ErrTypePrecondition,
			ErrTypeConflict,
		},
	}

	var a *Activities

	jobCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: opts.JobTimeout,
		RetryPolicy:         retry,
	})
	var tasks []core.FileTask
	if err := workflow.ExecuteActivity(jobCtx, a.RunImportJob, in.JobID).Get(ctx, &tasks); err != nil {
		logger.Error("import job failed", "job_id", in.JobID.String(), "error", err)
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	fileCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: opts.FileTimeout,
		HeartbeatTimeout:    opts.HeartbeatTimeout,
		RetryPolicy:         retry,
	})
	futures := make([]workflow.Future, len(tasks))
	for i, task := range tasks {
		futures[i] = workflow.ExecuteActivity(fileCtx, a.ImportFile, task)
	}

	failed := 0
	for i, f := range futures {
		if err := f.Get(ctx, nil); err != nil {
			failed++
			logger.Error("file activity failed", "file_id", tasks[i].FileID.String(), "error", err)
		}
	}
	if failed > 0 {
		return temporal.NewApplicationError(
			fmt.Sprintf("%d of %d file activities failed", failed, len(tasks)), "FileActivities")
	}

	logger.Info("import workflow complete", "job_id", in.JobID.String(), "files", len(tasks))
	return nil
}
