package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/JonMunkholm/snapimport/internal/core"
)

// DefaultTaskQueue is the Temporal task queue for import workflows.
const DefaultTaskQueue = "snapshot-import"

// WorkflowID returns the workflow id of a job. Scheduling the same job twice
// is rejected by Temporal while the first run is open.
func WorkflowID(jobID uuid.UUID) string {
	return "import-" + jobID.String()
}

// Starter is the part of client.Client the scheduler uses.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalScheduler is a core.JobScheduler that starts ImportWorkflow.
type TemporalScheduler struct {
	client    Starter
	taskQueue string
	opts      WorkflowOptions
}

// NewTemporalScheduler returns a scheduler starting workflows on taskQueue.
func NewTemporalScheduler(c Starter, taskQueue string, opts WorkflowOptions) *TemporalScheduler {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalScheduler{client: c, taskQueue: taskQueue, opts: opts}
}

// ScheduleJob implements core.JobScheduler.
func (s *TemporalScheduler) ScheduleJob(ctx context.Context, jobID uuid.UUID) error {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(jobID),
		TaskQueue: s.taskQueue,
	}, ImportWorkflow, ImportInput{JobID: jobID, Options: s.opts})
	if err != nil {
		return fmt.Errorf("start import workflow: %w", err)
	}
	slog.Info("import workflow started", "job_id", jobID, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}

// NewWorker registers the import workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, svc core.Runner, opts worker.Options) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, opts)
	w.RegisterWorkflow(ImportWorkflow)
	w.RegisterActivity(NewActivities(svc))
	return w
}
