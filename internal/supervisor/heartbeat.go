package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.temporal.io/sdk/activity"

	"github.com/JonMunkholm/snapimport/internal/progress"
)

// Toucher renews the lease of a FileUnit.
type Toucher interface {
	TouchFileUnit(ctx context.Context, fileID uuid.UUID, at time.Time) error
}

// Lease renews the FileUnit's lease on every heartbeat so the recovery
// sweeper leaves a live file alone.
type Lease struct {
	repo Toucher
	now  func() time.Time
}

// NewLease returns a lease heartbeater backed by repo.
func NewLease(repo Toucher) *Lease {
	return &Lease{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Lease) Heartbeat(ctx context.Context, fileID uuid.UUID, _ progress.Counts) error {
	return l.repo.TouchFileUnit(ctx, fileID, l.now())
}

// Activity records a Temporal activity heartbeat carrying the counters. It
// does nothing when ctx does not belong to an activity.
type Activity struct{}

func (Activity) Heartbeat(ctx context.Context, _ uuid.UUID, counts progress.Counts) error {
	if !activity.IsActivity(ctx) {
		return nil
	}
	activity.RecordHeartbeat(ctx, counts)
	return nil
}

// Multi fans a heartbeat out to every member. All members are called even
// when one fails.
type Multi []progress.Heartbeater

func (m Multi) Heartbeat(ctx context.Context, fileID uuid.UUID, counts progress.Counts) error {
	var errs error
	for _, hb := range m {
		if hb == nil {
			continue
		}
		if err := hb.Heartbeat(ctx, fileID, counts); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
