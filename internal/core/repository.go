package core

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/progress"
)

// Repository persists jobs and file units. Updates of a record whose stored
// state is terminal fail with ErrInvalidTransition.
type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error

	CreateFileUnit(ctx context.Context, f *FileUnit) error
	GetFileUnit(ctx context.Context, id uuid.UUID) (*FileUnit, error)
	UpdateFileUnit(ctx context.Context, f *FileUnit) error

	// LinkFile records that job includes file. Called once per file, before
	// the file is scheduled.
	LinkFile(ctx context.Context, jobID, fileID uuid.UUID) error
	ListLinkedFiles(ctx context.Context, jobID uuid.UUID) ([]FileUnit, error)

	// ListStale returns tasks for non-terminal files whose heartbeat lease
	// is older than before.
	ListStale(ctx context.Context, before time.Time) ([]FileTask, error)

	progress.Store
	TouchFileUnit(ctx context.Context, fileID uuid.UUID, at time.Time) error
}

// Tenants resolves the organization and target scope of an import.
type Tenants interface {
	ResolveOrganization(ctx context.Context, orgID uuid.UUID) error
	ResolveScope(ctx context.Context, orgID, appID uuid.UUID) (executor.Store, error)
}

// Handle is a fetched source file. Each pass opens it again.
type Handle interface {
	Open() (io.ReadCloser, error)
	Size() int64
	Close() error
}

// Origin lists and fetches source files.
type Origin interface {
	ListFiles(ctx context.Context, bucket, suffix string) ([]string, error)
	FetchFile(ctx context.Context, bucket, name string) (Handle, error)
}

// OriginFactory opens the origin described by a job's storage info.
type OriginFactory func(StorageInfo) (Origin, error)

// JobScheduler hands a SCHEDULED job to whatever runs it.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, jobID uuid.UUID) error
}

// FileScheduler hands a file task to whatever runs it.
type FileScheduler interface {
	ScheduleFile(ctx context.Context, task FileTask) error
}

// DeferredFiles is a FileScheduler for supervisors that dispatch the tasks
// returned by RunJob themselves.
type DeferredFiles struct{}

func (DeferredFiles) ScheduleFile(context.Context, FileTask) error { return nil }
