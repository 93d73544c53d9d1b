// Package record defines the events that flow from the snapshot parser to the
// write executor. Events carry no persistent identity; they are produced and
// consumed within a single pass over a file.
package record

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind separates events into the two families the progress tracker counts.
type Kind int

const (
	// KindEntity covers entity writes (pass 1).
	KindEntity Kind = iota
	// KindConnection covers relationship and dictionary writes (pass 2).
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindConnection:
		return "connection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Ref points at an entity in the target store. Type may be empty when the
// export only carried a bare id; such refs must be resolved before use.
type Ref struct {
	Type string
	ID   uuid.UUID
}

// NewRef returns a typed reference.
func NewRef(entityType string, id uuid.UUID) Ref {
	return Ref{Type: entityType, ID: id}
}

// BareRef returns a reference whose type is not yet known.
func BareRef(id uuid.UUID) Ref {
	return Ref{ID: id}
}

// Resolved reports whether the reference carries a type.
func (r Ref) Resolved() bool {
	return r.Type != ""
}

func (r Ref) String() string {
	if r.Type == "" {
		return r.ID.String()
	}
	return r.Type + ":" + r.ID.String()
}

// Event is one unit of work for the write executor. The concrete types are
// EntityWrite, RelationshipWrite and DictionaryWrite.
type Event interface {
	Kind() Kind
	isEvent()
}

// EntityWrite creates an entity with an explicit id.
type EntityWrite struct {
	ID         uuid.UUID
	Type       string
	Properties map[string]any
}

// RelationshipWrite links Owner to Target under RelationType.
type RelationshipWrite struct {
	Owner        Ref
	RelationType string
	Target       Ref
}

// DictionaryWrite merges Entries into the named dictionary of Owner.
type DictionaryWrite struct {
	Owner   Ref
	Name    string
	Entries map[string]any
}

func (EntityWrite) Kind() Kind       { return KindEntity }
func (RelationshipWrite) Kind() Kind { return KindConnection }
func (DictionaryWrite) Kind() Kind   { return KindConnection }

func (EntityWrite) isEvent()       {}
func (RelationshipWrite) isEvent() {}
func (DictionaryWrite) isEvent()   {}
