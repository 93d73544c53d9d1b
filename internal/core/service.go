package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/progress"
)

// DefaultFileSuffix selects export files in a bucket.
const DefaultFileSuffix = ".json"

// Options tunes the pipeline. Zero values select the defaults.
type Options struct {
	Workers           int
	HeartbeatEvery    int
	FailureSample     int
	FileSuffix        string
	ResolveTargetByID bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = executor.DefaultWorkers
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = progress.DefaultHeartbeatEvery
	}
	if o.FailureSample <= 0 {
		o.FailureSample = progress.DefaultSampleSize
	}
	if o.FileSuffix == "" {
		o.FileSuffix = DefaultFileSuffix
	}
	return o
}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo        Repository
	Tenants     Tenants
	Origins     OriginFactory
	Heartbeater progress.Heartbeater
}

// Service is the entry point for scheduling imports and querying them.
type Service struct {
	repo  Repository
	jobs  JobScheduler
	sched FileScheduler
	ctl   *JobController
	files *FileController
}

// NewService wires the controllers. jobs runs scheduled jobs; files runs the
// FileUnits a job spawns.
func NewService(deps Deps, opts Options, jobs JobScheduler, files FileScheduler) *Service {
	opts = opts.withDefaults()
	if files == nil {
		files = DeferredFiles{}
	}
	return &Service{
		repo:  deps.Repo,
		jobs:  jobs,
		sched: files,
		ctl: &JobController{
			repo:    deps.Repo,
			tenants: deps.Tenants,
			origins: deps.Origins,
			files:   files,
			opts:    opts,
		},
		files: &FileController{
			repo:    deps.Repo,
			tenants: deps.Tenants,
			origins: deps.Origins,
			hb:      deps.Heartbeater,
			opts:    opts,
		},
	}
}

// Schedule validates the configuration bag, records a new job and hands it to
// the job scheduler. The bag is not used past this call.
func (s *Service) Schedule(ctx context.Context, bag map[string]any) (uuid.UUID, error) {
	if s.jobs == nil {
		return uuid.Nil, ErrNoScheduler
	}

	cfg, err := ParseImportConfig(bag)
	if err != nil {
		return uuid.Nil, err
	}

	job := &Job{ID: uuid.New(), State: StateCreated, Config: cfg}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	if err := job.Transition(StateScheduled); err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("schedule job: %w", err)
	}

	if err := s.jobs.ScheduleJob(ctx, job.ID); err != nil {
		job.ErrorMessage = err.Error()
		if terr := job.Transition(StateFailed); terr == nil {
			if uerr := s.repo.UpdateJob(ctx, job); uerr != nil {
				slog.Error("record scheduling failure", "job_id", job.ID, "error", uerr)
			}
		}
		return uuid.Nil, fmt.Errorf("schedule job: %w", err)
	}

	slog.Info("import scheduled",
		"job_id", job.ID,
		"organization_id", cfg.OrganizationID,
		"application_id", cfg.ApplicationID,
		"bucket", cfg.Storage.Bucket,
	)
	return job.ID, nil
}

// RunJob starts or resumes a job. See JobController.Run.
func (s *Service) RunJob(ctx context.Context, jobID uuid.UUID) ([]FileTask, error) {
	return s.ctl.Run(ctx, jobID)
}

// ImportFile runs one FileUnit and then re-aggregates its job.
func (s *Service) ImportFile(ctx context.Context, task FileTask) error {
	if err := s.files.Run(ctx, task); err != nil {
		return err
	}
	return s.ctl.Aggregate(ctx, task.JobID)
}

// Aggregate re-evaluates a job's state from its files.
func (s *Service) Aggregate(ctx context.Context, jobID uuid.UUID) error {
	return s.ctl.Aggregate(ctx, jobID)
}

// GetJob returns a job.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// GetState returns a job's state.
func (s *Service) GetState(ctx context.Context, jobID uuid.UUID) (State, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.State, nil
}

// GetErrorMessage returns a job's error or informational message.
func (s *Service) GetErrorMessage(ctx context.Context, jobID uuid.UUID) (string, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.ErrorMessage, nil
}

// ListFiles returns the FileUnits a job includes.
func (s *Service) ListFiles(ctx context.Context, jobID uuid.UUID) ([]FileUnit, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.repo.ListLinkedFiles(ctx, jobID)
}

// GetFile returns one FileUnit.
func (s *Service) GetFile(ctx context.Context, fileID uuid.UUID) (*FileUnit, error) {
	return s.repo.GetFileUnit(ctx, fileID)
}

// RecoveryConfig configures the stale-file sweeper.
type RecoveryConfig struct {
	LeaseTimeout  time.Duration // files silent this long are rescheduled (default: 10m)
	CheckInterval time.Duration // how often to sweep (default: 1m)
}

// StartRecoveryScheduler reschedules files whose heartbeat lease expired,
// typically because the process running them died. It runs immediately,
// then every CheckInterval, until ctx is cancelled.
func (s *Service) StartRecoveryScheduler(ctx context.Context, cfg RecoveryConfig) {
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	slog.Info("recovery scheduler started",
		"lease_timeout", cfg.LeaseTimeout.String(),
		"check_interval", cfg.CheckInterval.String(),
	)

	s.Recover(ctx, cfg.LeaseTimeout)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("recovery scheduler stopped")
			return
		case <-ticker.C:
			s.Recover(ctx, cfg.LeaseTimeout)
		}
	}
}

// Recover reschedules every file whose lease is older than leaseTimeout and
// returns how many were handed to the file scheduler.
func (s *Service) Recover(ctx context.Context, leaseTimeout time.Duration) int {
	tasks, err := s.repo.ListStale(ctx, time.Now().UTC().Add(-leaseTimeout))
	if err != nil {
		slog.Error("list stale files failed", "error", err)
		return 0
	}

	n := 0
	for _, task := range tasks {
		if err := s.sched.ScheduleFile(ctx, task); err != nil {
			slog.Error("reschedule stale file failed", "file_id", task.FileID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		slog.Info("rescheduled stale files", "count", n)
	}
	return n
}
