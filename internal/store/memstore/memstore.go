// Package memstore keeps jobs, file units and entity scopes in memory. It
// backs the "memory" store mode and the pipeline tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/progress"
)

// Store implements core.Repository and core.Tenants.
type Store struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]core.Job
	files  map[uuid.UUID]core.FileUnit
	links  map[uuid.UUID][]uuid.UUID
	owners map[uuid.UUID]uuid.UUID // file id -> job id
	orgs   map[uuid.UUID]map[uuid.UUID]*Entities

	now func() time.Time
}

var (
	_ core.Repository = (*Store)(nil)
	_ core.Tenants    = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:   make(map[uuid.UUID]core.Job),
		files:  make(map[uuid.UUID]core.FileUnit),
		links:  make(map[uuid.UUID][]uuid.UUID),
		owners: make(map[uuid.UUID]uuid.UUID),
		orgs:   make(map[uuid.UUID]map[uuid.UUID]*Entities),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddOrganization registers an organization.
func (s *Store) AddOrganization(orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[orgID]; !ok {
		s.orgs[orgID] = make(map[uuid.UUID]*Entities)
	}
}

// AddApplication registers an application scope under an organization and
// returns its entity store.
func (s *Store) AddApplication(orgID, appID uuid.UUID) *Entities {
	s.mu.Lock()
	defer s.mu.Unlock()
	apps, ok := s.orgs[orgID]
	if !ok {
		apps = make(map[uuid.UUID]*Entities)
		s.orgs[orgID] = apps
	}
	if apps[appID] == nil {
		apps[appID] = newEntities()
	}
	return apps[appID]
}

// ResolveOrganization implements core.Tenants.
func (s *Store) ResolveOrganization(ctx context.Context, orgID uuid.UUID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[orgID]; !ok {
		return fmt.Errorf("organization %s: %w", orgID, core.ErrNotFound)
	}
	return nil
}

// ResolveScope implements core.Tenants.
func (s *Store) ResolveScope(ctx context.Context, orgID, appID uuid.UUID) (executor.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ents := s.orgs[orgID][appID]
	if ents == nil {
		return nil, fmt.Errorf("application %s in organization %s: %w", appID, orgID, core.ErrNotFound)
	}
	return ents, nil
}

func cloneJob(j core.Job) *core.Job {
	j.Files = slices.Clone(j.Files)
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	return &j
}

func cloneFile(f core.FileUnit) *core.FileUnit {
	f.Failures = slices.Clone(f.Failures)
	if f.HeartbeatAt != nil {
		t := *f.HeartbeatAt
		f.HeartbeatAt = &t
	}
	return &f
}

// CreateJob implements core.Repository.
func (s *Store) CreateJob(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	now := s.now()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = *cloneJob(*job)
	return nil
}

// GetJob implements core.Repository.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return cloneJob(j), nil
}

// UpdateJob implements core.Repository.
func (s *Store) UpdateJob(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, core.ErrNotFound)
	}
	if stored.State.Terminal() {
		return &core.TransitionError{Kind: "job", ID: job.ID, From: stored.State, To: job.State}
	}
	job.CreatedAt = stored.CreatedAt
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = *cloneJob(*job)
	return nil
}

// CreateFileUnit implements core.Repository.
func (s *Store) CreateFileUnit(ctx context.Context, f *core.FileUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return fmt.Errorf("file unit %s already exists", f.ID)
	}
	now := s.now()
	f.CreatedAt, f.UpdatedAt = now, now
	s.files[f.ID] = *cloneFile(*f)
	return nil
}

// GetFileUnit implements core.Repository.
func (s *Store) GetFileUnit(ctx context.Context, id uuid.UUID) (*core.FileUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file unit %s: %w", id, core.ErrNotFound)
	}
	return cloneFile(f), nil
}

// UpdateFileUnit implements core.Repository. The heartbeat lease is owned by
// TouchFileUnit and is never overwritten here.
func (s *Store) UpdateFileUnit(ctx context.Context, f *core.FileUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.files[f.ID]
	if !ok {
		return fmt.Errorf("file unit %s: %w", f.ID, core.ErrNotFound)
	}
	if stored.State.Terminal() {
		return &core.TransitionError{Kind: "file", ID: f.ID, From: stored.State, To: f.State}
	}
	next := *cloneFile(*f)
	next.HeartbeatAt = stored.HeartbeatAt
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = s.now()
	s.files[f.ID] = next
	f.UpdatedAt = next.UpdatedAt
	return nil
}

// LinkFile implements core.Repository.
func (s *Store) LinkFile(ctx context.Context, jobID, fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}
	if _, ok := s.files[fileID]; !ok {
		return fmt.Errorf("file unit %s: %w", fileID, core.ErrNotFound)
	}
	if _, linked := s.owners[fileID]; linked {
		return nil
	}
	s.links[jobID] = append(s.links[jobID], fileID)
	s.owners[fileID] = jobID
	return nil
}

// ListLinkedFiles implements core.Repository.
func (s *Store) ListLinkedFiles(ctx context.Context, jobID uuid.UUID) ([]core.FileUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.links[jobID]
	out := make([]core.FileUnit, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneFile(s.files[id]))
	}
	return out, nil
}

// ListStale implements core.Repository. A file that never heartbeated is
// judged by its last update.
func (s *Store) ListStale(ctx context.Context, before time.Time) ([]core.FileTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []core.FileTask
	for id, f := range s.files {
		if f.State != core.StateScheduled && f.State != core.StateStarted {
			continue
		}
		lease := f.UpdatedAt
		if f.HeartbeatAt != nil && f.HeartbeatAt.After(lease) {
			lease = *f.HeartbeatAt
		}
		if !lease.Before(before) {
			continue
		}
		jobID, ok := s.owners[id]
		if !ok {
			continue
		}
		tasks = append(tasks, core.FileTask{JobID: jobID, FileID: id, FileName: f.FileName})
	}
	slices.SortFunc(tasks, func(a, b core.FileTask) int {
		switch {
		case a.FileName < b.FileName:
			return -1
		case a.FileName > b.FileName:
			return 1
		}
		return 0
	})
	return tasks, nil
}

// SaveProgress implements progress.Store.
func (s *Store) SaveProgress(ctx context.Context, fileID uuid.UUID, c progress.Counts, failures []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return fmt.Errorf("file unit %s: %w", fileID, core.ErrNotFound)
	}
	f.Progress = c
	f.Failures = slices.Clone(failures)
	f.UpdatedAt = s.now()
	s.files[fileID] = f
	return nil
}

// TouchFileUnit implements core.Repository.
func (s *Store) TouchFileUnit(ctx context.Context, fileID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return fmt.Errorf("file unit %s: %w", fileID, core.ErrNotFound)
	}
	f.HeartbeatAt = &at
	s.files[fileID] = f
	return nil
}
