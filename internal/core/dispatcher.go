package core

// dispatcher.go runs jobs and files on goroutines of this process.
//
// Jobs start immediately. Files wait for a FileLimiter slot; a file that
// cannot get one within the limiter's wait keeps waiting, logging each
// timeout, because a dropped task would leave its job unfinished forever.
// A file already running in this process is not started twice.

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Runner is the work a Dispatcher drives. *Service implements it.
type Runner interface {
	RunJob(ctx context.Context, jobID uuid.UUID) ([]FileTask, error)
	ImportFile(ctx context.Context, task FileTask) error
}

// Dispatcher is an in-process JobScheduler and FileScheduler.
type Dispatcher struct {
	ctx     context.Context
	limiter *FileLimiter

	mu      sync.Mutex
	runner  Runner
	running map[uuid.UUID]struct{}

	wg sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose work lives as long as ctx.
func NewDispatcher(ctx context.Context, limiter *FileLimiter) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		limiter: limiter,
		running: make(map[uuid.UUID]struct{}),
	}
}

// Bind sets the runner. It must be called before anything is scheduled.
func (d *Dispatcher) Bind(r Runner) {
	d.mu.Lock()
	d.runner = r
	d.mu.Unlock()
}

func (d *Dispatcher) getRunner() Runner {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runner
}

// ScheduleJob implements JobScheduler.
func (d *Dispatcher) ScheduleJob(_ context.Context, jobID uuid.UUID) error {
	r := d.getRunner()
	if r == nil {
		return ErrNoScheduler
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.recoverPanic("job", jobID)
		if _, err := r.RunJob(d.ctx, jobID); err != nil {
			slog.Error("job run failed", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// ScheduleFile implements FileScheduler.
func (d *Dispatcher) ScheduleFile(_ context.Context, task FileTask) error {
	r := d.getRunner()
	if r == nil {
		return ErrNoScheduler
	}

	d.mu.Lock()
	if _, ok := d.running[task.FileID]; ok {
		d.mu.Unlock()
		slog.Debug("file already running", "file_id", task.FileID)
		return nil
	}
	d.running[task.FileID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, task.FileID)
			d.mu.Unlock()
		}()
		defer d.recoverPanic("file", task.FileID)

		if !d.acquire(task) {
			return
		}
		defer d.limiter.Release()

		if err := r.ImportFile(d.ctx, task); err != nil {
			slog.Error("file run failed", "job_id", task.JobID, "file_id", task.FileID, "error", err)
		}
	}()
	return nil
}

func (d *Dispatcher) acquire(task FileTask) bool {
	for {
		err := d.limiter.Acquire(d.ctx)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrTooManyFiles) {
			return false
		}
		slog.Info("waiting for a file slot", "file_id", task.FileID, "status", d.limiter.Status())
	}
}

// Running reports whether fileID is running in this process.
func (d *Dispatcher) Running(fileID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[fileID]
	return ok
}

// Wait blocks until every dispatched job and file has returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) recoverPanic(kind string, id uuid.UUID) {
	if r := recover(); r != nil {
		slog.Error("panic in "+kind+" run", "id", id, "panic", r)
	}
}
