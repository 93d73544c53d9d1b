package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoFilesMessage prefixes the informational message of a job whose bucket
// held no export files.
const NoFilesMessage = "No files found in the bucket: "

// JobController discovers a job's files, spawns one FileUnit per file and
// folds the FileUnits' terminal states into the job's outcome.
type JobController struct {
	repo    Repository
	tenants Tenants
	origins OriginFactory
	files   FileScheduler
	opts    Options

	locks sync.Map // job id -> *sync.Mutex
}

// Run starts a SCHEDULED job and returns the tasks it handed to the file
// scheduler. A job that is already STARTED is resumed: its non-terminal files
// are returned and rescheduled without creating new FileUnits. A terminal
// job yields no tasks.
//
// Precondition failures mark the job FAILED and are returned.
func (c *JobController) Run(ctx context.Context, jobID uuid.UUID) ([]FileTask, error) {
	log := slog.With("job_id", jobID)

	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	switch {
	case job.State.Terminal():
		log.Info("job already complete, skipping", "state", job.State)
		return nil, nil
	case job.State == StateStarted:
		return c.resume(ctx, job, log)
	}

	if err := job.Transition(StateStarted); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job.StartedAt = &now
	job.ErrorMessage = ""
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}

	cfg := job.Config
	names, err := c.discover(ctx, cfg)
	if err != nil {
		return nil, c.fail(ctx, job, err, log)
	}

	if len(names) == 0 {
		job.ErrorMessage = NoFilesMessage + cfg.Storage.Bucket
		if err := job.Transition(StateFinished); err != nil {
			return nil, err
		}
		if err := c.repo.UpdateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("finish job: %w", err)
		}
		log.Info("no files to import", "bucket", cfg.Storage.Bucket)
		return nil, nil
	}

	// Every FileUnit exists and is linked before the first one is scheduled,
	// so aggregation never sees a partial set.
	units := make([]*FileUnit, 0, len(names))
	for _, name := range names {
		f := &FileUnit{
			ID:             uuid.New(),
			FileName:       name,
			OrganizationID: cfg.OrganizationID,
			ScopeID:        cfg.ApplicationID,
			CollectionName: cfg.CollectionName,
			State:          StateCreated,
		}
		if err := c.repo.CreateFileUnit(ctx, f); err != nil {
			return nil, fmt.Errorf("create file unit %s: %w", name, err)
		}
		if err := c.repo.LinkFile(ctx, job.ID, f.ID); err != nil {
			return nil, fmt.Errorf("link file unit %s: %w", name, err)
		}
		units = append(units, f)
		job.Files = append(job.Files, FileRef{FileName: name, FileID: f.ID})
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record job files: %w", err)
	}

	tasks := make([]FileTask, 0, len(units))
	for _, f := range units {
		if err := f.Transition(StateScheduled); err != nil {
			return nil, err
		}
		if err := c.repo.UpdateFileUnit(ctx, f); err != nil {
			return nil, fmt.Errorf("schedule file unit %s: %w", f.FileName, err)
		}
		task := FileTask{JobID: job.ID, FileID: f.ID, FileName: f.FileName}
		if err := c.files.ScheduleFile(ctx, task); err != nil {
			return nil, fmt.Errorf("schedule file %s: %w", f.FileName, err)
		}
		tasks = append(tasks, task)
	}

	log.Info("job started", "files", len(tasks), "bucket", cfg.Storage.Bucket)
	return tasks, nil
}

func (c *JobController) discover(ctx context.Context, cfg ImportConfig) ([]string, error) {
	if err := c.tenants.ResolveOrganization(ctx, cfg.OrganizationID); err != nil {
		return nil, precondition("resolve organization", err)
	}
	if _, err := c.tenants.ResolveScope(ctx, cfg.OrganizationID, cfg.ApplicationID); err != nil {
		return nil, precondition("resolve scope", err)
	}

	origin, err := c.origins(cfg.Storage)
	if err != nil {
		return nil, precondition("open origin", err)
	}
	names, err := origin.ListFiles(ctx, cfg.Storage.Bucket, c.opts.FileSuffix)
	if err != nil {
		return nil, precondition("list files", err)
	}
	return names, nil
}

func (c *JobController) fail(ctx context.Context, job *Job, cause error, log *slog.Logger) error {
	log.Error("job failed", "error", cause)
	job.ErrorMessage = cause.Error()
	if err := job.Transition(StateFailed); err != nil {
		return err
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return cause
}

func (c *JobController) resume(ctx context.Context, job *Job, log *slog.Logger) ([]FileTask, error) {
	files, err := c.repo.ListLinkedFiles(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list job files: %w", err)
	}

	var tasks []FileTask
	for _, f := range files {
		if f.State.Terminal() {
			continue
		}
		task := FileTask{JobID: job.ID, FileID: f.ID, FileName: f.FileName}
		if err := c.files.ScheduleFile(ctx, task); err != nil {
			return nil, fmt.Errorf("reschedule file %s: %w", f.FileName, err)
		}
		tasks = append(tasks, task)
	}

	log.Info("job resumed", "pending_files", len(tasks), "files", len(files))
	if len(tasks) == 0 {
		return nil, c.Aggregate(ctx, job.ID)
	}
	return tasks, nil
}

// Aggregate folds the linked FileUnits into the job's state. It does nothing
// while any FileUnit is still running; once all are terminal the job becomes
// FAILED if any file failed and FINISHED otherwise. It never changes a
// FileUnit.
func (c *JobController) Aggregate(ctx context.Context, jobID uuid.UUID) error {
	mu, _ := c.locks.LoadOrStore(jobID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	files, err := c.repo.ListLinkedFiles(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list job files: %w", err)
	}

	failed := 0
	for _, f := range files {
		if !f.State.Terminal() {
			return nil
		}
		if f.State == StateFailed {
			failed++
		}
	}

	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.State.Terminal() || len(files) == 0 {
		return nil
	}

	next := StateFinished
	if failed > 0 {
		next = StateFailed
		job.ErrorMessage = fmt.Sprintf("%d of %d files failed", failed, len(files))
	}
	if err := job.Transition(next); err != nil {
		return err
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, ErrInvalidTransition) && c.finishedElsewhere(ctx, jobID) {
			c.locks.Delete(jobID)
			return nil
		}
		return fmt.Errorf("update job: %w", err)
	}
	c.locks.Delete(jobID)

	slog.Info("job complete", "job_id", jobID, "state", job.State, "files", len(files), "failed_files", failed)
	return nil
}

// finishedElsewhere reports whether another process already moved the job to
// a terminal state. The in-process lock does not cover other workers sharing
// the repository.
func (c *JobController) finishedElsewhere(ctx context.Context, jobID uuid.UUID) bool {
	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	if job.State.Terminal() {
		slog.Info("job already aggregated", "job_id", jobID, "state", job.State)
		return true
	}
	return false
}
