// Package executor applies record events to the entity store with bounded
// parallelism. A failed store call is reported to the observer and the pass
// moves on; only cancellation or a source error stops a run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/snapimport/internal/record"
)

// DefaultWorkers is the pool size used when Config.Workers is unset.
const DefaultWorkers = 8

var (
	// ErrNotFound is returned by Store.ResolveRef for an unknown id.
	ErrNotFound = errors.New("entity not found")
	// ErrNoOwner marks connection events that precede any entity in the file.
	ErrNoOwner = errors.New("no owning entity")
	// ErrNoType marks entities found outside any collection.
	ErrNoType = errors.New("entity has no collection type")
)

// Store is the entity store of one target scope. Every call is atomic.
type Store interface {
	CreateWithID(ctx context.Context, entityType string, id uuid.UUID, props map[string]any) error
	CreateRelationship(ctx context.Context, owner record.Ref, relation string, target record.Ref) error
	MergeDictionary(ctx context.Context, owner record.Ref, name string, entries map[string]any) error
	ResolveRef(ctx context.Context, id uuid.UUID) (record.Ref, error)
}

// Source yields events until io.EOF.
type Source interface {
	Next() (record.Event, error)
}

// Observer is told the outcome of every dispatched event, and of every event
// discarded by the resume skip.
type Observer interface {
	Written(ctx context.Context, k record.Kind)
	Failed(ctx context.Context, k record.Kind, err error)
	Skipped(ctx context.Context)
}

// Config configures an Executor.
type Config struct {
	Workers int

	// ResolveTargetByID looks up an untyped relationship target by its own
	// id. When false the owner id is looked up instead, which is how existing
	// exports have always been replayed.
	ResolveTargetByID bool

	Logger *slog.Logger
}

// Result summarizes a run.
type Result struct {
	Skipped    int64
	Dispatched int64
}

// Executor dispatches events onto a bounded worker pool.
type Executor struct {
	store       Store
	workers     int
	resolveByID bool
	logger      *slog.Logger
}

// New returns an executor writing to store.
func New(store Store, cfg Config) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		store:       store,
		workers:     cfg.Workers,
		resolveByID: cfg.ResolveTargetByID,
		logger:      cfg.Logger,
	}
}

// Run drains src, discarding the first skip events and dispatching the rest.
// It returns once every dispatched event has completed, so a caller can treat
// the return as a barrier. A source error or cancellation ends the run early
// with that error; in-flight writes still finish first.
func (e *Executor) Run(ctx context.Context, src Source, skip int64, obs Observer) (Result, error) {
	var (
		res Result
		g   errgroup.Group
	)
	g.SetLimit(e.workers)

	for {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return res, err
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = g.Wait()
			return res, err
		}

		if res.Skipped < skip {
			res.Skipped++
			obs.Skipped(ctx)
			continue
		}
		res.Dispatched++

		g.Go(func() error {
			e.apply(ctx, ev, obs)
			return nil
		})
	}

	_ = g.Wait()
	return res, nil
}

func (e *Executor) apply(ctx context.Context, ev record.Event, obs Observer) {
	if err := e.write(ctx, ev); err != nil {
		e.logger.Error("record write failed", "kind", ev.Kind().String(), "record", describe(ev), "error", err)
		obs.Failed(ctx, ev.Kind(), err)
		return
	}
	obs.Written(ctx, ev.Kind())
}

func (e *Executor) write(ctx context.Context, ev record.Event) error {
	switch ev := ev.(type) {
	case record.EntityWrite:
		if ev.Type == "" {
			return ErrNoType
		}
		return e.store.CreateWithID(ctx, ev.Type, ev.ID, ev.Properties)

	case record.RelationshipWrite:
		if ev.Owner.ID == uuid.Nil {
			return ErrNoOwner
		}
		target := ev.Target
		if !target.Resolved() {
			lookup := ev.Owner.ID
			if e.resolveByID {
				lookup = target.ID
			}
			ref, err := e.store.ResolveRef(ctx, lookup)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", lookup, err)
			}
			target = ref
		}
		return e.store.CreateRelationship(ctx, ev.Owner, ev.RelationType, target)

	case record.DictionaryWrite:
		if ev.Owner.ID == uuid.Nil {
			return ErrNoOwner
		}
		return e.store.MergeDictionary(ctx, ev.Owner, ev.Name, ev.Entries)

	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func describe(ev record.Event) string {
	switch ev := ev.(type) {
	case record.EntityWrite:
		return record.NewRef(ev.Type, ev.ID).String()
	case record.RelationshipWrite:
		return fmt.Sprintf("%s -%s-> %s", ev.Owner, ev.RelationType, ev.Target)
	case record.DictionaryWrite:
		return fmt.Sprintf("%s[%s]", ev.Owner, ev.Name)
	default:
		return fmt.Sprintf("%T", ev)
	}
}
