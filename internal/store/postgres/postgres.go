// Package postgres stores jobs, file units and imported entities in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/progress"
)

//go:embed schema.sql
var schema string

// Store implements core.Repository and core.Tenants.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ core.Repository = (*Store)(nil)
	_ core.Tenants    = (*Store)(nil)
)

// New returns a store on pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const terminalStates = `('FINISHED', 'FAILED')`

// CreateJob implements core.Repository.
func (s *Store) CreateJob(ctx context.Context, job *core.Job) error {
	config, files, err := encodeJob(job)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (id, state, config, started_at, error_message, files)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		job.ID, string(job.State), config, job.StartedAt, job.ErrorMessage, files,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob implements core.Repository.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	var (
		job           core.Job
		state         string
		config, files []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, state, config, started_at, error_message, files, created_at, updated_at
		FROM import_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &state, &config, &job.StartedAt, &job.ErrorMessage, &files, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job.State = core.State(state)
	if err := json.Unmarshal(config, &job.Config); err != nil {
		return nil, fmt.Errorf("decode job config: %w", err)
	}
	if err := json.Unmarshal(files, &job.Files); err != nil {
		return nil, fmt.Errorf("decode job files: %w", err)
	}
	return &job, nil
}

// UpdateJob implements core.Repository. A job whose stored state is
// terminal is not changed.
func (s *Store) UpdateJob(ctx context.Context, job *core.Job) error {
	config, files, err := encodeJob(job)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		UPDATE import_jobs
		SET state = $2, config = $3, started_at = $4, error_message = $5, files = $6, updated_at = now()
		WHERE id = $1 AND state NOT IN `+terminalStates+`
		RETURNING updated_at`,
		job.ID, string(job.State), config, job.StartedAt, job.ErrorMessage, files,
	).Scan(&job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.rejected(ctx, "job", "import_jobs", job.ID, job.State)
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func encodeJob(job *core.Job) (config, files []byte, err error) {
	if config, err = json.Marshal(job.Config); err != nil {
		return nil, nil, fmt.Errorf("encode job config: %w", err)
	}
	refs := job.Files
	if refs == nil {
		refs = []core.FileRef{}
	}
	if files, err = json.Marshal(refs); err != nil {
		return nil, nil, fmt.Errorf("encode job files: %w", err)
	}
	return config, files, nil
}

// rejected explains why a guarded update matched no row.
func (s *Store) rejected(ctx context.Context, kind, table string, id uuid.UUID, to core.State) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM `+table+` WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select %s state: %w", kind, err)
	}
	return &core.TransitionError{Kind: kind, ID: id, From: core.State(state), To: to}
}

const fileColumns = `id, file_name, organization_id, scope_id, collection_name, state,
	progress, failures, error_message, heartbeat_at, created_at, updated_at`

// CreateFileUnit implements core.Repository.
func (s *Store) CreateFileUnit(ctx context.Context, f *core.FileUnit) error {
	prog, failures, err := encodeProgress(f.Progress, f.Failures)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO file_imports (id, file_name, organization_id, scope_id, collection_name, state,
			progress, failures, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		f.ID, f.FileName, f.OrganizationID, f.ScopeID, f.CollectionName, string(f.State),
		prog, failures, f.ErrorMessage,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file unit: %w", err)
	}
	return nil
}

// GetFileUnit implements core.Repository.
func (s *Store) GetFileUnit(ctx context.Context, id uuid.UUID) (*core.FileUnit, error) {
	f, err := scanFile(s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_imports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("file unit %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select file unit: %w", err)
	}
	return f, nil
}

// UpdateFileUnit implements core.Repository. The heartbeat lease belongs to
// TouchFileUnit and is left alone.
func (s *Store) UpdateFileUnit(ctx context.Context, f *core.FileUnit) error {
	prog, failures, err := encodeProgress(f.Progress, f.Failures)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		UPDATE file_imports
		SET state = $2, progress = $3, failures = $4, error_message = $5, updated_at = now()
		WHERE id = $1 AND state NOT IN `+terminalStates+`
		RETURNING updated_at`,
		f.ID, string(f.State), prog, failures, f.ErrorMessage,
	).Scan(&f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.rejected(ctx, "file", "file_imports", f.ID, f.State)
	}
	if err != nil {
		return fmt.Errorf("update file unit: %w", err)
	}
	return nil
}

// LinkFile implements core.Repository. Linking twice is a no-op.
func (s *Store) LinkFile(ctx context.Context, jobID, fileID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_files (job_id, file_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, jobID, fileID)
	if err != nil {
		return fmt.Errorf("link file: %w", err)
	}
	return nil
}

// ListLinkedFiles implements core.Repository. Files come back in link order.
func (s *Store) ListLinkedFiles(ctx context.Context, jobID uuid.UUID) ([]core.FileUnit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.file_name, f.organization_id, f.scope_id, f.collection_name, f.state,
			f.progress, f.failures, f.error_message, f.heartbeat_at, f.created_at, f.updated_at
		FROM job_files jf
		JOIN file_imports f ON f.id = jf.file_id
		WHERE jf.job_id = $1
		ORDER BY jf.position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select job files: %w", err)
	}
	defer rows.Close()

	var files []core.FileUnit
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file unit: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// ListStale implements core.Repository.
func (s *Store) ListStale(ctx context.Context, before time.Time) ([]core.FileTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT jf.job_id, f.id, f.file_name
		FROM file_imports f
		JOIN job_files jf ON jf.file_id = f.id
		WHERE f.state IN ('SCHEDULED', 'STARTED')
		  AND GREATEST(f.updated_at, COALESCE(f.heartbeat_at, f.updated_at)) < $1
		ORDER BY f.file_name`, before)
	if err != nil {
		return nil, fmt.Errorf("select stale files: %w", err)
	}
	defer rows.Close()

	var tasks []core.FileTask
	for rows.Next() {
		var t core.FileTask
		if err := rows.Scan(&t.JobID, &t.FileID, &t.FileName); err != nil {
			return nil, fmt.Errorf("scan stale file: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveProgress implements progress.Store.
func (s *Store) SaveProgress(ctx context.Context, fileID uuid.UUID, c progress.Counts, failures []string) error {
	prog, fails, err := encodeProgress(c, failures)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE file_imports SET progress = $2, failures = $3, updated_at = now()
		WHERE id = $1`, fileID, prog, fails)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file unit %s: %w", fileID, core.ErrNotFound)
	}
	return nil
}

// TouchFileUnit implements core.Repository.
func (s *Store) TouchFileUnit(ctx context.Context, fileID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE file_imports SET heartbeat_at = $2 WHERE id = $1`, fileID, at)
	if err != nil {
		return fmt.Errorf("touch file unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file unit %s: %w", fileID, core.ErrNotFound)
	}
	return nil
}

func encodeProgress(c progress.Counts, failures []string) (prog, fails []byte, err error) {
	if prog, err = json.Marshal(c); err != nil {
		return nil, nil, fmt.Errorf("encode progress: %w", err)
	}
	if failures == nil {
		failures = []string{}
	}
	if fails, err = json.Marshal(failures); err != nil {
		return nil, nil, fmt.Errorf("encode failures: %w", err)
	}
	return prog, fails, nil
}

func scanFile(row pgx.Row) (*core.FileUnit, error) {
	var (
		f              core.FileUnit
		state          string
		prog, failures []byte
	)
	err := row.Scan(&f.ID, &f.FileName, &f.OrganizationID, &f.ScopeID, &f.CollectionName, &state,
		&prog, &failures, &f.ErrorMessage, &f.HeartbeatAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.State = core.State(state)
	if err := json.Unmarshal(prog, &f.Progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if err := json.Unmarshal(failures, &f.Failures); err != nil {
		return nil, fmt.Errorf("decode failures: %w", err)
	}
	if len(f.Failures) == 0 {
		f.Failures = nil
	}
	return &f, nil
}
