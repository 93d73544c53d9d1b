// Package parser turns an exported snapshot file into a lazy sequence of
// record events without materializing the file.
//
// The scanner walks the JSON token stream keeping a stack of open containers
// and the entity type of the collection currently being read. Three object
// keys are meaningful inside a record:
//
//   - "Metadata": the entity itself; its "uuid" identifies the record
//   - "connections": relation name to a list of target ids
//   - "dictionaries": dictionary name to a key/value map
//
// Collections are the arrays directly under the "collections" wrapper; the
// array key is singularized to derive the entity type. Everything else only
// moves the stack.
//
// A Parser runs in one Mode. Entity events are emitted only in EntitiesOnly
// mode and connection/dictionary events only in RelationshipsOnly mode, so a
// file is imported with two independent scans. The sequence is deterministic
// for a given file, which is what lets a resumed pass skip a counted prefix.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"

	"github.com/JonMunkholm/snapimport/internal/record"
)

// Mode selects which events a pass emits.
type Mode int

const (
	EntitiesOnly Mode = iota
	RelationshipsOnly
)

func (m Mode) String() string {
	if m == EntitiesOnly {
		return "entities"
	}
	return "relationships"
}

// Kind returns the event kind emitted in this mode.
func (m Mode) Kind() record.Kind {
	if m == EntitiesOnly {
		return record.KindEntity
	}
	return record.KindConnection
}

const (
	collectionsKey  = "collections"
	metadataKey     = "Metadata"
	connectionsKey  = "connections"
	dictionariesKey = "dictionaries"
	uuidField       = "uuid"
)

// StructuralError reports a malformed token stream. It aborts the pass; it
// is never a per-record failure.
type StructuralError struct {
	Offset int64
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("malformed export at byte %d: %v", e.Offset, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// Singularize derives an entity type from a plural collection name.
func Singularize(collection string) string {
	return inflection.Singular(strings.ToLower(collection))
}

type frame struct {
	array   bool
	name    string
	wantKey bool
}

// Parser is a pull-style iterator over the record events of one file.
// It is not safe for concurrent use.
type Parser struct {
	dec  *json.Decoder
	mode Mode

	stack      []frame
	nextName   string
	entityType string
	last       record.Ref

	queue []record.Event
	err   error
}

// New returns a parser reading r in the given mode.
func New(r io.Reader, mode Mode) *Parser {
	dec := json.NewDecoder(NewBOMSkippingReader(r))
	dec.UseNumber()
	return &Parser{dec: dec, mode: mode}
}

// Mode returns the parser's mode.
func (p *Parser) Mode() Mode { return p.mode }

// Next returns the next event. It returns io.EOF once the input is exhausted
// and a *StructuralError if the token stream is malformed; both are sticky.
func (p *Parser) Next() (record.Event, error) {
	for len(p.queue) == 0 {
		if p.err != nil {
			return nil, p.err
		}
		if err := p.step(); err != nil {
			if errors.Is(err, io.EOF) {
				p.err = io.EOF
			} else {
				p.err = &StructuralError{Offset: p.dec.InputOffset(), Err: err}
			}
		}
	}
	ev := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return ev, nil
}

func (p *Parser) step() error {
	tok, err := p.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) && len(p.stack) > 0 {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{', '[':
			name := p.takeName()
			if t == '[' && p.isCollection(name) {
				p.entityType = Singularize(name)
			}
			p.stack = append(p.stack, frame{array: t == '[', name: name, wantKey: t == '{'})
		case '}', ']':
			p.stack = p.stack[:len(p.stack)-1]
			p.valueDone()
		}
	case string:
		if top := p.top(); top != nil && !top.array && top.wantKey {
			top.wantKey = false
			return p.key(t)
		}
		p.valueDone()
	default:
		p.valueDone()
	}
	return nil
}

func (p *Parser) top() *frame {
	if len(p.stack) == 0 {
		return nil
	}
	return &p.stack[len(p.stack)-1]
}

// takeName returns the key under which the value about to open sits.
func (p *Parser) takeName() string {
	name := p.nextName
	p.nextName = ""
	return name
}

func (p *Parser) valueDone() {
	p.nextName = ""
	if top := p.top(); top != nil && !top.array {
		top.wantKey = true
	}
}

// isCollection reports whether an array named name sits directly under the
// collections wrapper, with the wrapper as the only named ancestor.
func (p *Parser) isCollection(name string) bool {
	top := p.top()
	if name == "" || top == nil || top.array || top.name != collectionsKey {
		return false
	}
	named := 0
	for _, f := range p.stack {
		if f.name != "" {
			named++
		}
	}
	return named == 1
}

func (p *Parser) key(k string) error {
	switch k {
	case metadataKey, connectionsKey, dictionariesKey:
	default:
		p.nextName = k
		return nil
	}

	var raw map[string]any
	if err := p.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%s: %w", k, err)
	}
	p.valueDone()

	switch k {
	case metadataKey:
		return p.metadata(raw)
	case connectionsKey:
		return p.connections(raw)
	default:
		return p.dictionaries(raw)
	}
}

func (p *Parser) metadata(m map[string]any) error {
	s, _ := m[uuidField].(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("%s.%s %q: %w", metadataKey, uuidField, s, err)
	}
	p.last = record.NewRef(p.entityType, id)

	if p.mode == EntitiesOnly {
		p.queue = append(p.queue, record.EntityWrite{ID: id, Type: p.entityType, Properties: m})
	}
	return nil
}

func (p *Parser) connections(m map[string]any) error {
	for _, relation := range sortedKeys(m) {
		targets, ok := m[relation].([]any)
		if !ok && m[relation] != nil {
			return fmt.Errorf("%s.%s: expected a list of ids", connectionsKey, relation)
		}
		for _, t := range targets {
			s, _ := t.(string)
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("%s.%s target %q: %w", connectionsKey, relation, s, err)
			}
			if p.mode == RelationshipsOnly {
				p.queue = append(p.queue, record.RelationshipWrite{
					Owner:        p.last,
					RelationType: relation,
					Target:       record.BareRef(id),
				})
			}
		}
	}
	return nil
}

func (p *Parser) dictionaries(m map[string]any) error {
	for _, name := range sortedKeys(m) {
		entries, ok := m[name].(map[string]any)
		if !ok && m[name] != nil {
			return fmt.Errorf("%s.%s: expected an object", dictionariesKey, name)
		}
		if p.mode == RelationshipsOnly {
			p.queue = append(p.queue, record.DictionaryWrite{Owner: p.last, Name: name, Entries: entries})
		}
	}
	return nil
}

// sortedKeys gives map-backed blocks a stable emission order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
