// Package progress counts the outcome of every event in an import pass,
// signals liveness to the job supervisor and persists the counters that a
// later run uses as resume offsets.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/record"
)

const (
	// DefaultHeartbeatEvery is the number of processed events between heartbeats.
	DefaultHeartbeatEvery = 50
	// DefaultSampleSize bounds the per-record failure messages kept per file.
	DefaultSampleSize = 20
)

// Counts are the four monotonic counters of a FileUnit. Dictionary writes are
// counted with relationships.
type Counts struct {
	EntitiesWritten    int64 `json:"entitiesWritten"`
	EntitiesFailed     int64 `json:"entitiesFailed"`
	ConnectionsWritten int64 `json:"connectionsWritten"`
	ConnectionsFailed  int64 `json:"connectionsFailed"`
}

// TotalEntities is the resume offset of the entity pass.
func (c Counts) TotalEntities() int64 { return c.EntitiesWritten + c.EntitiesFailed }

// TotalConnections is the resume offset of the relationship pass.
func (c Counts) TotalConnections() int64 { return c.ConnectionsWritten + c.ConnectionsFailed }

// Offset returns the number of already processed events of kind k.
func (c Counts) Offset(k record.Kind) int64 {
	if k == record.KindEntity {
		return c.TotalEntities()
	}
	return c.TotalConnections()
}

// Snapshot is the persisted progress of one FileUnit.
type Snapshot struct {
	Counts   Counts
	Failures []string
}

// Store persists a FileUnit's progress.
type Store interface {
	SaveProgress(ctx context.Context, fileID uuid.UUID, c Counts, failures []string) error
}

// Heartbeater delivers a liveness signal to the job supervisor.
type Heartbeater interface {
	Heartbeat(ctx context.Context, fileID uuid.UUID, c Counts) error
}

// HeartbeatFunc adapts a function to Heartbeater.
type HeartbeatFunc func(ctx context.Context, fileID uuid.UUID, c Counts) error

func (f HeartbeatFunc) Heartbeat(ctx context.Context, fileID uuid.UUID, c Counts) error {
	return f(ctx, fileID, c)
}

// Config tunes a Tracker. Zero values select the defaults.
type Config struct {
	HeartbeatEvery int
	SampleSize     int
	Logger         *slog.Logger
}

// Tracker is shared by all workers of one pass. Counter updates are atomic;
// heartbeats run on their own goroutine and never block the caller.
type Tracker struct {
	fileID uuid.UUID
	store  Store
	hb     Heartbeater
	every  int64
	sample int
	logger *slog.Logger

	entitiesWritten    atomic.Int64
	entitiesFailed     atomic.Int64
	connectionsWritten atomic.Int64
	connectionsFailed  atomic.Int64
	processed          atomic.Int64
	skipped            atomic.Int64
	heartbeats         atomic.Int64

	mu       sync.Mutex
	failures []string

	inflight sync.WaitGroup
}

// New creates a tracker for fileID seeded with the prior persisted snapshot.
// hb may be nil.
func New(fileID uuid.UUID, prior Snapshot, store Store, hb Heartbeater, cfg Config) *Tracker {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Tracker{
		fileID: fileID,
		store:  store,
		hb:     hb,
		every:  int64(cfg.HeartbeatEvery),
		sample: cfg.SampleSize,
		logger: cfg.Logger,
	}
	t.entitiesWritten.Store(prior.Counts.EntitiesWritten)
	t.entitiesFailed.Store(prior.Counts.EntitiesFailed)
	t.connectionsWritten.Store(prior.Counts.ConnectionsWritten)
	t.connectionsFailed.Store(prior.Counts.ConnectionsFailed)

	if n := len(prior.Failures); n > 0 {
		if n > t.sample {
			n = t.sample
		}
		t.failures = append([]string(nil), prior.Failures[:n]...)
	}
	return t
}

// Written records a successful store call.
func (t *Tracker) Written(ctx context.Context, k record.Kind) {
	if k == record.KindEntity {
		t.entitiesWritten.Add(1)
	} else {
		t.connectionsWritten.Add(1)
	}
	t.tick(ctx)
}

// Failed records a rejected store call.
func (t *Tracker) Failed(ctx context.Context, k record.Kind, err error) {
	if k == record.KindEntity {
		t.entitiesFailed.Add(1)
	} else {
		t.connectionsFailed.Add(1)
	}

	t.mu.Lock()
	if len(t.failures) < t.sample {
		t.failures = append(t.failures, fmt.Sprintf("%s: %v", k, err))
	}
	t.mu.Unlock()

	t.tick(ctx)
}

// Skipped records an event discarded as already committed. The counters are
// untouched; skipping still heartbeats at the same cadence so a long resume
// scan is not mistaken for a stuck file.
func (t *Tracker) Skipped(ctx context.Context) {
	if t.skipped.Add(1)%t.every != 0 {
		return
	}
	t.beat(ctx)
}

// tick fires a heartbeat from whichever caller crosses the cadence boundary.
func (t *Tracker) tick(ctx context.Context) {
	if t.processed.Add(1)%t.every != 0 {
		return
	}
	t.beat(ctx)
}

func (t *Tracker) beat(ctx context.Context) {
	if t.hb == nil {
		return
	}
	t.heartbeats.Add(1)
	counts := t.Counts()

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		if err := t.hb.Heartbeat(ctx, t.fileID, counts); err != nil {
			t.logger.Warn("heartbeat failed", "file_id", t.fileID, "error", err)
		}
	}()
}

// Counts returns a point-in-time copy of the counters.
func (t *Tracker) Counts() Counts {
	return Counts{
		EntitiesWritten:    t.entitiesWritten.Load(),
		EntitiesFailed:     t.entitiesFailed.Load(),
		ConnectionsWritten: t.connectionsWritten.Load(),
		ConnectionsFailed:  t.connectionsFailed.Load(),
	}
}

// Failures returns the sampled failure messages.
func (t *Tracker) Failures() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.failures...)
}

// Processed returns the number of events seen by this tracker.
func (t *Tracker) Processed() int64 { return t.processed.Load() }

// Heartbeats returns the number of heartbeats fired.
func (t *Tracker) Heartbeats() int64 { return t.heartbeats.Load() }

// Complete persists the counters. It must only be called after the pass has
// drained; the persisted totals then become the resume offsets.
func (t *Tracker) Complete(ctx context.Context) error {
	t.inflight.Wait()
	if err := t.store.SaveProgress(ctx, t.fileID, t.Counts(), t.Failures()); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}
