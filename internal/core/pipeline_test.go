package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/origin"
	"github.com/JonMunkholm/snapimport/internal/progress"
	"github.com/JonMunkholm/snapimport/internal/record"
	"github.com/JonMunkholm/snapimport/internal/store/memstore"
)

// recordingScope logs every write that reaches the entity store in order.
type recordingScope struct {
	executor.Store
	mu  sync.Mutex
	ops []string
}

func (r *recordingScope) log(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recordingScope) CreateWithID(ctx context.Context, t string, id uuid.UUID, props map[string]any) error {
	r.log("entity")
	return r.Store.CreateWithID(ctx, t, id, props)
}

func (r *recordingScope) CreateRelationship(ctx context.Context, owner record.Ref, rel string, target record.Ref) error {
	r.log("relationship")
	return r.Store.CreateRelationship(ctx, owner, rel, target)
}

func (r *recordingScope) MergeDictionary(ctx context.Context, owner record.Ref, name string, entries map[string]any) error {
	r.log("dictionary")
	return r.Store.MergeDictionary(ctx, owner, name, entries)
}

func (r *recordingScope) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

// recordingTenants hands out one recordingScope per application.
type recordingTenants struct {
	*memstore.Store
	mu     sync.Mutex
	scopes map[uuid.UUID]*recordingScope
}

func (t *recordingTenants) ResolveScope(ctx context.Context, orgID, appID uuid.UUID) (executor.Store, error) {
	inner, err := t.Store.ResolveScope(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scopes == nil {
		t.scopes = make(map[uuid.UUID]*recordingScope)
	}
	if t.scopes[appID] == nil {
		t.scopes[appID] = &recordingScope{Store: inner}
	}
	return t.scopes[appID], nil
}

func (t *recordingTenants) scope(appID uuid.UUID) *recordingScope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scopes[appID]
}

// queue collects scheduled work so tests can run it synchronously.
type queue struct {
	mu    sync.Mutex
	jobs  []uuid.UUID
	files []core.FileTask
}

func (q *queue) ScheduleJob(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, id)
	q.mu.Unlock()
	return nil
}

func (q *queue) ScheduleFile(_ context.Context, task core.FileTask) error {
	q.mu.Lock()
	q.files = append(q.files, task)
	q.mu.Unlock()
	return nil
}

type fixture struct {
	root    string
	bucket  string
	orgID   uuid.UUID
	appID   uuid.UUID
	repo    *memstore.Store
	tenants *recordingTenants
	ents    *memstore.Entities
	q       *queue
	svc     *core.Service
}

func newFixture(t *testing.T, opts core.Options) *fixture {
	t.Helper()
	f := &fixture{
		root:   t.TempDir(),
		bucket: "exports",
		orgID:  uuid.New(),
		appID:  uuid.New(),
		repo:   memstore.New(),
		q:      &queue{},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, f.bucket), 0o755))
	f.repo.AddOrganization(f.orgID)
	f.ents = f.repo.AddApplication(f.orgID, f.appID)
	f.tenants = &recordingTenants{Store: f.repo}
	f.svc = core.NewService(core.Deps{
		Repo:    f.repo,
		Tenants: f.tenants,
		Origins: origin.Factory(origin.Defaults{Endpoint: origin.LocalScheme + f.root}),
	}, opts, f.q, f.q)
	return f
}

func (f *fixture) bag() map[string]any {
	return map[string]any{
		"organizationId": f.orgID.String(),
		"applicationId":  f.appID.String(),
		"properties": map[string]any{
			"storage_info": map[string]any{"bucket_location": f.bucket},
		},
	}
}

func (f *fixture) write(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.root, f.bucket, name), []byte(body), 0o644))
}

// run schedules a job and drives it to completion on the calling goroutine.
func (f *fixture) run(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	jobID, err := f.svc.Schedule(ctx, f.bag())
	require.NoError(t, err)

	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, f.svc.ImportFile(ctx, task))
	}
	return jobID
}

// export renders a collection of n users. Each follows the next one and
// carries a preferences dictionary.
func export(ids []uuid.UUID) string {
	var b strings.Builder
	b.WriteString(`{"collections":{"Users":[`)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		next := ids[(i+1)%len(ids)]
		fmt.Fprintf(&b, `{"Metadata":{"uuid":%q,"name":"user-%d"},`, id, i)
		fmt.Fprintf(&b, `"connections":{"follows":[%q]},`, next)
		fmt.Fprintf(&b, `"dictionaries":{"prefs":{"rank":%d}}}`, i)
	}
	b.WriteString(`]}}`)
	return b.String()
}

func newIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func TestPipeline_ImportsEntitiesBeforeConnections(t *testing.T) {
	f := newFixture(t, core.Options{Workers: 4, HeartbeatEvery: 3})
	ids := newIDs(12)
	f.write(t, "users.json", export(ids))

	jobID := f.run(t)
	ctx := context.Background()

	job, err := f.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, job.State)
	assert.Empty(t, job.ErrorMessage)
	require.Len(t, job.Files, 1)
	assert.Equal(t, "users.json", job.Files[0].FileName)

	files, err := f.svc.ListFiles(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, core.StateFinished, files[0].State)
	assert.Equal(t, progress.Counts{EntitiesWritten: 12, ConnectionsWritten: 24}, files[0].Progress)
	assert.Empty(t, files[0].Failures)

	assert.Equal(t, 12, f.ents.Count("user"))
	ent, ok := f.ents.Get(ids[3])
	require.True(t, ok)
	assert.Equal(t, "user-3", ent.Properties["name"])
	assert.NotNil(t, f.ents.Dictionary(ids[3], "prefs"))

	ops := f.tenants.scope(f.appID).ops
	lastEntity, firstConn := -1, len(ops)
	for i, op := range ops {
		if op == "entity" {
			lastEntity = i
		} else if i < firstConn {
			firstConn = i
		}
	}
	assert.Less(t, lastEntity, firstConn, "a connection was written before the last entity")
}

func TestPipeline_DefaultTargetIsOwner(t *testing.T) {
	f := newFixture(t, core.Options{})
	ids := newIDs(3)
	f.write(t, "users.json", export(ids))
	f.run(t)

	for _, c := range f.ents.Connections() {
		assert.Equal(t, c.Owner.ID, c.Target.ID)
		assert.Equal(t, "user", c.Target.Type)
	}
	assert.Len(t, f.ents.Connections(), 3)
}

func TestPipeline_ResolveTargetByID(t *testing.T) {
	f := newFixture(t, core.Options{ResolveTargetByID: true})
	ids := newIDs(3)
	f.write(t, "users.json", export(ids))
	f.run(t)

	conns := f.ents.Connections()
	require.Len(t, conns, 3)
	for _, c := range conns {
		assert.NotEqual(t, c.Owner.ID, c.Target.ID)
		assert.Equal(t, "follows", c.Relation)
	}
}

func TestPipeline_ZeroFilesFinishes(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.write(t, "README.txt", "not an export")

	jobID := f.run(t)
	ctx := context.Background()

	state, err := f.svc.GetState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, state)

	msg, err := f.svc.GetErrorMessage(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.NoFilesMessage+f.bucket, msg)

	files, err := f.svc.ListFiles(ctx, jobID)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, f.q.files)
}

func TestPipeline_JobWaitsForEveryFile(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.write(t, "a.json", export(newIDs(2)))
	f.write(t, "b.json", export(newIDs(2)))
	ctx := context.Background()

	jobID, err := f.svc.Schedule(ctx, f.bag())
	require.NoError(t, err)
	state, _ := f.svc.GetState(ctx, jobID)
	assert.Equal(t, core.StateScheduled, state)

	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, tasks, f.q.files)

	files, err := f.svc.ListFiles(ctx, jobID)
	require.NoError(t, err)
	for _, file := range files {
		assert.Equal(t, core.StateScheduled, file.State)
	}

	require.NoError(t, f.svc.ImportFile(ctx, tasks[0]))
	state, _ = f.svc.GetState(ctx, jobID)
	assert.Equal(t, core.StateStarted, state)

	require.NoError(t, f.svc.ImportFile(ctx, tasks[1]))
	state, _ = f.svc.GetState(ctx, jobID)
	assert.Equal(t, core.StateFinished, state)
	assert.Equal(t, 4, f.ents.Count("user"))
}

func TestPipeline_StructuralFailureSkipsSecondPass(t *testing.T) {
	f := newFixture(t, core.Options{})
	ids := newIDs(4)
	body := export(ids)
	f.write(t, "good.json", export(newIDs(2)))
	f.write(t, "truncated.json", body[:len(body)/2])

	jobID := f.run(t)
	ctx := context.Background()

	job, err := f.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, job.State)
	assert.Equal(t, "1 of 2 files failed", job.ErrorMessage)
	assert.Equal(t, "PAR001", core.MapMessage(fileNamed(t, f, jobID, "truncated.json").ErrorMessage).Code)

	bad := fileNamed(t, f, jobID, "truncated.json")
	assert.Equal(t, core.StateFailed, bad.State)
	assert.Contains(t, bad.ErrorMessage, "entities pass")
	assert.Zero(t, bad.Progress.ConnectionsWritten)
	assert.Positive(t, bad.Progress.EntitiesWritten)

	good := fileNamed(t, f, jobID, "good.json")
	assert.Equal(t, core.StateFinished, good.State)

	// Only the good file's four connection events reached the store.
	scope := f.tenants.scope(f.appID)
	assert.Equal(t, 2, scope.count("relationship"))
	assert.Equal(t, 2, scope.count("dictionary"))
}

func fileNamed(t *testing.T, f *fixture, jobID uuid.UUID, name string) core.FileUnit {
	t.Helper()
	files, err := f.svc.ListFiles(context.Background(), jobID)
	require.NoError(t, err)
	for _, file := range files {
		if file.FileName == name {
			return file
		}
	}
	t.Fatalf("no file unit named %s", name)
	return core.FileUnit{}
}

func TestPipeline_ResumeSkipsCompletedPass(t *testing.T) {
	f := newFixture(t, core.Options{})
	ids := newIDs(5)
	f.write(t, "users.json", export(ids))
	ctx := context.Background()

	jobID, err := f.svc.Schedule(ctx, f.bag())
	require.NoError(t, err)
	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// A previous attempt finished the entity pass and then died.
	for _, id := range ids {
		require.NoError(t, f.ents.CreateWithID(ctx, "user", id, nil))
	}
	unit, err := f.svc.GetFile(ctx, tasks[0].FileID)
	require.NoError(t, err)
	require.NoError(t, unit.Transition(core.StateStarted))
	unit.Progress = progress.Counts{EntitiesWritten: 5}
	require.NoError(t, f.repo.UpdateFileUnit(ctx, unit))

	require.NoError(t, f.svc.ImportFile(ctx, tasks[0]))

	scope := f.tenants.scope(f.appID)
	assert.Zero(t, scope.count("entity"))
	assert.Equal(t, 5, scope.count("relationship"))
	assert.Equal(t, 5, scope.count("dictionary"))

	unit, err = f.svc.GetFile(ctx, tasks[0].FileID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, unit.State)
	assert.Equal(t, progress.Counts{EntitiesWritten: 5, ConnectionsWritten: 10}, unit.Progress)
}

func TestPipeline_ResumeWithFullOffsetsWritesNothing(t *testing.T) {
	f := newFixture(t, core.Options{HeartbeatEvery: 2})
	f.write(t, "users.json", export(newIDs(5)))
	ctx := context.Background()

	jobID, err := f.svc.Schedule(ctx, f.bag())
	require.NoError(t, err)
	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// Both passes were committed before the process died.
	committed := progress.Counts{EntitiesWritten: 5, ConnectionsWritten: 10}
	unit, err := f.svc.GetFile(ctx, tasks[0].FileID)
	require.NoError(t, err)
	require.NoError(t, unit.Transition(core.StateStarted))
	unit.Progress = committed
	require.NoError(t, f.repo.UpdateFileUnit(ctx, unit))

	require.NoError(t, f.svc.ImportFile(ctx, tasks[0]))

	scope := f.tenants.scope(f.appID)
	assert.Zero(t, scope.count("entity"))
	assert.Zero(t, scope.count("relationship"))
	assert.Zero(t, scope.count("dictionary"))

	unit, err = f.svc.GetFile(ctx, tasks[0].FileID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, unit.State)
	assert.Equal(t, committed, unit.Progress)

	state, err := f.svc.GetState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, state)
}

// racingRepo holds the first two GetJob calls until both have arrived, so
// two aggregators read the same non-terminal job before either writes.
type racingRepo struct {
	*memstore.Store
	arrivals atomic.Int32
	gate     chan struct{}
}

func (r *racingRepo) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	if n := r.arrivals.Add(1); n <= 2 {
		if n == 2 {
			close(r.gate)
		}
		<-r.gate
	}
	return r.Store.GetJob(ctx, id)
}

func TestAggregate_ConcurrentWorkersAgree(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.write(t, "a.json", export(newIDs(2)))
	f.write(t, "b.json", export(newIDs(2)))
	ctx := context.Background()

	jobID, err := f.svc.Schedule(ctx, f.bag())
	require.NoError(t, err)
	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		unit, err := f.svc.GetFile(ctx, task.FileID)
		require.NoError(t, err)
		require.NoError(t, unit.Transition(core.StateStarted))
		require.NoError(t, unit.Transition(core.StateFinished))
		require.NoError(t, f.repo.UpdateFileUnit(ctx, unit))
	}

	shared := &racingRepo{Store: f.repo, gate: make(chan struct{})}
	deps := core.Deps{Repo: shared, Tenants: f.tenants}
	a := core.NewService(deps, core.Options{}, f.q, f.q)
	b := core.NewService(deps, core.Options{}, f.q, f.q)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, svc := range []*core.Service{a, b} {
		i, svc := i, svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Aggregate(ctx, jobID)
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	state, err := f.svc.GetState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, state)
}

func TestPipeline_TerminalRerunIsNoop(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.write(t, "users.json", export(newIDs(3)))
	ctx := context.Background()

	jobID := f.run(t)
	scope := f.tenants.scope(f.appID)
	before := len(scope.ops)

	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	job, err := f.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	for _, ref := range job.Files {
		require.NoError(t, f.svc.ImportFile(ctx, core.FileTask{JobID: jobID, FileID: ref.FileID, FileName: ref.FileName}))
	}

	assert.Len(t, scope.ops, before)
	state, _ := f.svc.GetState(ctx, jobID)
	assert.Equal(t, core.StateFinished, state)
}

func TestPipeline_PreconditionFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, bag map[string]any)
		code    string
		message string
	}{
		{
			name: "unknown organization",
			mutate: func(f *fixture, bag map[string]any) {
				bag["organizationId"] = uuid.NewString()
			},
			code:    "IMP002",
			message: "resolve organization",
		},
		{
			name: "unknown application",
			mutate: func(f *fixture, bag map[string]any) {
				bag["applicationId"] = uuid.NewString()
			},
			code:    "IMP003",
			message: "resolve scope",
		},
		{
			name: "missing bucket",
			mutate: func(f *fixture, bag map[string]any) {
				bag["properties"] = map[string]any{
					"storage_info": map[string]any{"bucket_location": "nope"},
				}
			},
			code:    "SRC001",
			message: "bucket does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, core.Options{})
			ctx := context.Background()
			bag := f.bag()
			tt.mutate(f, bag)

			jobID, err := f.svc.Schedule(ctx, bag)
			require.NoError(t, err)

			_, err = f.svc.RunJob(ctx, jobID)
			require.Error(t, err)
			assert.True(t, core.IsPrecondition(err))

			job, err := f.svc.GetJob(ctx, jobID)
			require.NoError(t, err)
			assert.Equal(t, core.StateFailed, job.State)
			assert.Contains(t, job.ErrorMessage, tt.message)
			assert.Equal(t, tt.code, core.MapMessage(job.ErrorMessage).Code)

			files, err := f.svc.ListFiles(ctx, jobID)
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestSchedule_RejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, core.Options{})
	bag := f.bag()
	delete(bag, "organizationId")

	_, err := f.svc.Schedule(context.Background(), bag)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Empty(t, f.q.jobs)
}

func TestSchedule_WithoutScheduler(t *testing.T) {
	svc := core.NewService(core.Deps{Repo: memstore.New()}, core.Options{}, nil, nil)
	_, err := svc.Schedule(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, core.ErrNoScheduler)
}

type failingScheduler struct{}

func (failingScheduler) ScheduleJob(context.Context, uuid.UUID) error {
	return errors.New("queue unavailable")
}

func TestSchedule_SchedulerFailureFailsJob(t *testing.T) {
	f := newFixture(t, core.Options{})
	repo := f.repo
	svc := core.NewService(core.Deps{Repo: repo, Tenants: repo}, core.Options{}, failingScheduler{}, nil)

	_, err := svc.Schedule(context.Background(), f.bag())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")
}

func TestDispatcher_RunsJobToCompletion(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.write(t, "a.json", export(newIDs(3)))
	f.write(t, "b.json", export(newIDs(3)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := core.NewDispatcher(ctx, core.NewFileLimiter(1, 50*time.Millisecond))
	svc := core.NewService(core.Deps{
		Repo:    f.repo,
		Tenants: f.repo,
		Origins: origin.Factory(origin.Defaults{Endpoint: origin.LocalScheme + f.root}),
	}, core.Options{}, d, d)
	d.Bind(svc)

	jobID, err := svc.Schedule(ctx, f.bag())
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	require.NoError(t, d.Wait(waitCtx))

	state, err := svc.GetState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, state)
	assert.Equal(t, 6, f.ents.Count("user"))
}

func TestDispatcher_UnboundRejects(t *testing.T) {
	d := core.NewDispatcher(context.Background(), core.NewFileLimiter(1, time.Second))
	assert.ErrorIs(t, d.ScheduleJob(context.Background(), uuid.New()), core.ErrNoScheduler)
	assert.ErrorIs(t, d.ScheduleFile(context.Background(), core.FileTask{}), core.ErrNoScheduler)
}

func TestRecover_ReschedulesStaleFiles(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.write(t, "a.json", export(newIDs(1)))
	f.write(t, "b.json", export(newIDs(1)))
	ctx := context.Background()

	f.repo.SetClock(func() time.Time { return time.Now().UTC().Add(-time.Hour) })
	jobID, err := f.svc.Schedule(ctx, f.bag())
	require.NoError(t, err)
	tasks, err := f.svc.RunJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	// A fresh heartbeat keeps a file out of the sweep.
	require.NoError(t, f.repo.TouchFileUnit(ctx, tasks[1].FileID, time.Now().UTC()))

	f.q.files = nil
	n := f.svc.Recover(ctx, 10*time.Minute)
	assert.Equal(t, 1, n)
	require.Len(t, f.q.files, 1)
	assert.Equal(t, tasks[0].FileID, f.q.files[0].FileID)

	f.repo.SetClock(func() time.Time { return time.Now().UTC() })
	require.NoError(t, f.svc.ImportFile(ctx, f.q.files[0]))
	assert.Zero(t, f.svc.Recover(ctx, 2*time.Hour))
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to core.State
		ok       bool
	}{
		{core.StateCreated, core.StateScheduled, true},
		{core.StateScheduled, core.StateStarted, true},
		{core.StateStarted, core.StateFinished, true},
		{core.StateStarted, core.StateFailed, true},
		{core.StateCreated, core.StateFailed, true},
		{core.StateFinished, core.StateStarted, false},
		{core.StateFailed, core.StateFinished, false},
		{core.StateStarted, core.StateScheduled, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			job := &core.Job{ID: uuid.New(), State: tt.from}
			err := job.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, job.State)
				return
			}
			assert.ErrorIs(t, err, core.ErrInvalidTransition)
			assert.Equal(t, tt.from, job.State)
		})
	}
}
