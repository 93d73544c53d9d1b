package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/record"
)

// Entity is a stored entity.
type Entity struct {
	Type       string
	ID         uuid.UUID
	Properties map[string]any
}

// Connection is a stored relationship.
type Connection struct {
	Owner    record.Ref
	Relation string
	Target   record.Ref
}

// Entities is the entity store of one application scope.
type Entities struct {
	mu           sync.RWMutex
	entities     map[uuid.UUID]Entity
	connections  map[Connection]struct{}
	dictionaries map[uuid.UUID]map[string]map[string]any
}

func newEntities() *Entities {
	return &Entities{
		entities:     make(map[uuid.UUID]Entity),
		connections:  make(map[Connection]struct{}),
		dictionaries: make(map[uuid.UUID]map[string]map[string]any),
	}
}

var _ executor.Store = (*Entities)(nil)

// CreateWithID stores an entity under its exported id, replacing any entity
// already stored under that id.
func (e *Entities) CreateWithID(ctx context.Context, entityType string, id uuid.UUID, props map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entityType == "" || id == uuid.Nil {
		return fmt.Errorf("create entity: type and id are required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.entities[id] = Entity{Type: entityType, ID: id, Properties: maps.Clone(props)}
	return nil
}

// CreateRelationship links two stored entities. Linking twice is a no-op.
func (e *Entities) CreateRelationship(ctx context.Context, owner record.Ref, relation string, target record.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entities[owner.ID]; !ok {
		return fmt.Errorf("connection owner %s: %w", owner.ID, executor.ErrNotFound)
	}
	if _, ok := e.entities[target.ID]; !ok {
		return fmt.Errorf("connection target %s: %w", target.ID, executor.ErrNotFound)
	}
	e.connections[Connection{Owner: owner, Relation: relation, Target: target}] = struct{}{}
	return nil
}

// MergeDictionary merges entries into the owner's named dictionary.
func (e *Entities) MergeDictionary(ctx context.Context, owner record.Ref, name string, entries map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entities[owner.ID]; !ok {
		return fmt.Errorf("dictionary owner %s: %w", owner.ID, executor.ErrNotFound)
	}
	dicts, ok := e.dictionaries[owner.ID]
	if !ok {
		dicts = make(map[string]map[string]any)
		e.dictionaries[owner.ID] = dicts
	}
	if dicts[name] == nil {
		dicts[name] = make(map[string]any, len(entries))
	}
	maps.Copy(dicts[name], entries)
	return nil
}

// ResolveRef returns the typed reference of a stored entity.
func (e *Entities) ResolveRef(ctx context.Context, id uuid.UUID) (record.Ref, error) {
	if err := ctx.Err(); err != nil {
		return record.Ref{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entities[id]
	if !ok {
		return record.Ref{}, executor.ErrNotFound
	}
	return record.NewRef(ent.Type, id), nil
}

// Get returns a stored entity.
func (e *Entities) Get(id uuid.UUID) (Entity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entities[id]
	return ent, ok
}

// Count returns the number of stored entities of entityType, or of all
// types when entityType is empty.
func (e *Entities) Count(entityType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if entityType == "" {
		return len(e.entities)
	}
	n := 0
	for _, ent := range e.entities {
		if ent.Type == entityType {
			n++
		}
	}
	return n
}

// Connections returns every stored relationship in a stable order.
func (e *Entities) Connections() []Connection {
	e.mu.RLock()
	out := make([]Connection, 0, len(e.connections))
	for c := range e.connections {
		out = append(out, c)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Owner.ID != b.Owner.ID {
			return a.Owner.ID.String() < b.Owner.ID.String()
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		return a.Target.ID.String() < b.Target.ID.String()
	})
	return out
}

// Dictionary returns a copy of the owner's named dictionary.
func (e *Entities) Dictionary(owner uuid.UUID, name string) map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.dictionaries[owner][name])
}
