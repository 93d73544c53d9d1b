package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/parser"
	"github.com/JonMunkholm/snapimport/internal/progress"
)

// FileController imports one FileUnit in two ordered passes: every entity
// first, then every relationship and dictionary. The second pass never starts
// before the first has drained.
type FileController struct {
	repo    Repository
	tenants Tenants
	origins OriginFactory
	hb      progress.Heartbeater
	opts    Options
}

// Run imports the file named by task. A file already FINISHED or FAILED is
// left untouched. Failures of the file itself are recorded on the FileUnit
// and Run returns nil; an error return means the FileUnit could not be
// loaded or saved, or ctx ended, in which case the file stays STARTED and a
// later Run resumes it.
func (c *FileController) Run(ctx context.Context, task FileTask) error {
	log := slog.With("job_id", task.JobID, "file_id", task.FileID, "file", task.FileName)

	f, err := c.repo.GetFileUnit(ctx, task.FileID)
	if err != nil {
		return fmt.Errorf("load file unit: %w", err)
	}
	if f.State.Terminal() {
		log.Info("file already complete, skipping", "state", f.State)
		return nil
	}

	job, err := c.repo.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if f.State == StateStarted {
		log.Info("resuming file import",
			"entities_done", f.Progress.TotalEntities(),
			"connections_done", f.Progress.TotalConnections(),
		)
	} else {
		if err := f.Transition(StateStarted); err != nil {
			return err
		}
		if err := c.repo.UpdateFileUnit(ctx, f); err != nil {
			return fmt.Errorf("start file: %w", err)
		}
	}

	start := time.Now()
	runErr := c.importFile(ctx, job.Config.Storage, f, log)
	if runErr != nil && ctx.Err() != nil {
		log.Warn("file import interrupted", "error", runErr)
		return ctx.Err()
	}

	next := StateFinished
	if runErr != nil {
		next = StateFailed
		f.ErrorMessage = runErr.Error()
		log.Error("file import failed", "error", runErr)
	}
	if err := f.Transition(next); err != nil {
		return err
	}
	if err := c.repo.UpdateFileUnit(ctx, f); err != nil {
		return fmt.Errorf("finish file: %w", err)
	}

	log.Info("file import complete",
		"state", f.State,
		"entities_written", f.Progress.EntitiesWritten,
		"entities_failed", f.Progress.EntitiesFailed,
		"connections_written", f.Progress.ConnectionsWritten,
		"connections_failed", f.Progress.ConnectionsFailed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *FileController) importFile(ctx context.Context, storage StorageInfo, f *FileUnit, log *slog.Logger) error {
	scope, err := c.tenants.ResolveScope(ctx, f.OrganizationID, f.ScopeID)
	if err != nil {
		return precondition("resolve scope", err)
	}

	origin, err := c.origins(storage)
	if err != nil {
		return precondition("open origin", err)
	}
	handle, err := origin.FetchFile(ctx, storage.Bucket, f.FileName)
	if err != nil {
		return precondition("fetch file", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Warn("release fetched file", "error", err)
		}
	}()

	exec := executor.New(scope, executor.Config{
		Workers:           c.opts.Workers,
		ResolveTargetByID: c.opts.ResolveTargetByID,
		Logger:            log,
	})

	for _, mode := range []parser.Mode{parser.EntitiesOnly, parser.RelationshipsOnly} {
		if err := c.pass(ctx, f, handle, exec, mode, log); err != nil {
			return err
		}
	}
	return nil
}

// pass runs one scan of the file. Each pass gets its own parser so the two
// scans share no state.
func (c *FileController) pass(ctx context.Context, f *FileUnit, handle Handle, exec *executor.Executor, mode parser.Mode, log *slog.Logger) error {
	log = log.With("pass", mode.String())

	rc, err := handle.Open()
	if err != nil {
		return precondition("open file", err)
	}
	defer rc.Close()

	counter := parser.NewCountingReader(rc, handle.Size())
	tracker := progress.New(f.ID, f.Snapshot(), c.repo, c.hb, progress.Config{
		HeartbeatEvery: c.opts.HeartbeatEvery,
		SampleSize:     c.opts.FailureSample,
		Logger:         log,
	})
	skip := f.Progress.Offset(mode.Kind())

	log.Info("pass started", "skip", skip)
	res, runErr := exec.Run(ctx, parser.New(counter, mode), skip, tracker)
	if runErr != nil && ctx.Err() != nil {
		return runErr
	}

	// Every dispatched event has completed here, so the counters are safe to
	// persist even when the scan stopped on a structural error.
	if err := tracker.Complete(ctx); err != nil {
		return err
	}
	f.Progress = tracker.Counts()
	f.Failures = tracker.Failures()

	if runErr != nil {
		return fmt.Errorf("%s pass: %w", mode, runErr)
	}

	log.Info("pass complete",
		"skipped", res.Skipped,
		"dispatched", res.Dispatched,
		"bytes", counter.BytesRead(),
		"percent", counter.Percent(),
	)
	return nil
}
