package parser

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/snapimport/internal/record"
)

const (
	uuid1 = "6f2b8c9e-0d4a-4c1e-9b7a-1e2f3a4b5c6d"
	uuid2 = "a1b2c3d4-e5f6-4a1b-8c9d-0e1f2a3b4c5d"
	uuid3 = "0c8b1f2e-3d4a-4b5c-8d6e-7f8a9b0c1d2e"
)

func collect(t *testing.T, input string, mode Mode) []record.Event {
	t.Helper()
	p := New(strings.NewReader(input), mode)
	var out []record.Event
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

const superappExport = `{
  "collections": {
    "superappCol": [
      {
        "Metadata": {"uuid": "` + uuid1 + `", "name": "first", "size": 3},
        "connections": {"owns": ["` + uuid2 + `"]}
      },
      {
        "Metadata": {"uuid": "` + uuid2 + `", "name": "second"}
      }
    ]
  }
}`

func TestParser_SuperappScenario(t *testing.T) {
	entities := collect(t, superappExport, EntitiesOnly)
	require.Len(t, entities, 2)
	for _, ev := range entities {
		assert.IsType(t, record.EntityWrite{}, ev)
	}

	first := entities[0].(record.EntityWrite)
	assert.Equal(t, uuid.MustParse(uuid1), first.ID)
	assert.Equal(t, "superappcol", first.Type)
	assert.Equal(t, "first", first.Properties["name"])
	assert.Equal(t, json.Number("3"), first.Properties["size"])

	relationships := collect(t, superappExport, RelationshipsOnly)
	require.Len(t, relationships, 1)
	assert.Equal(t, record.RelationshipWrite{
		Owner:        record.NewRef("superappcol", uuid.MustParse(uuid1)),
		RelationType: "owns",
		Target:       record.BareRef(uuid.MustParse(uuid2)),
	}, relationships[0])
}

func TestParser_EntityCount(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"collections":{"users":[`)
	ids := make([]uuid.UUID, 25)
	for i := range ids {
		ids[i] = uuid.New()
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"Metadata":{"uuid":"` + ids[i].String() + `","index":` + strconv.Itoa(i) + `}}`)
	}
	b.WriteString(`]}}`)

	events := collect(t, b.String(), EntitiesOnly)
	require.Len(t, events, len(ids))
	for i, ev := range events {
		ew := ev.(record.EntityWrite)
		assert.Equal(t, ids[i], ew.ID)
		assert.Equal(t, "user", ew.Type)
	}

	assert.Empty(t, collect(t, b.String(), RelationshipsOnly))
}

func TestParser_CollectionTypeFollowsArray(t *testing.T) {
	input := `{"collections":{
	  "activities":[{"Metadata":{"uuid":"` + uuid1 + `"}}],
	  "groups":[{"Metadata":{"uuid":"` + uuid2 + `"}}]
	}}`

	events := collect(t, input, EntitiesOnly)
	require.Len(t, events, 2)
	assert.Equal(t, "activity", events[0].(record.EntityWrite).Type)
	assert.Equal(t, "group", events[1].(record.EntityWrite).Type)
}

func TestParser_NestedArraysDoNotChangeType(t *testing.T) {
	input := `{"collections":{"users":[
	  {"Metadata":{"uuid":"` + uuid1 + `"},"extras":{"tags":["a","b"]},"other":[1,2]},
	  {"Metadata":{"uuid":"` + uuid2 + `"}}
	]}}`

	events := collect(t, input, EntitiesOnly)
	require.Len(t, events, 2)
	assert.Equal(t, "user", events[1].(record.EntityWrite).Type)
}

func TestParser_Dictionaries(t *testing.T) {
	input := `{"collections":{"devices":[{
	  "Metadata":{"uuid":"` + uuid1 + `"},
	  "dictionaries":{"settings":{"theme":"dark"},"counters":{"logins":4}}
	}]}}`

	assert.Empty(t, collect(t, input, EntitiesOnly))

	events := collect(t, input, RelationshipsOnly)
	require.Len(t, events, 2)

	owner := record.NewRef("device", uuid.MustParse(uuid1))
	assert.Equal(t, record.DictionaryWrite{
		Owner:   owner,
		Name:    "counters",
		Entries: map[string]any{"logins": json.Number("4")},
	}, events[0])
	assert.Equal(t, record.DictionaryWrite{
		Owner:   owner,
		Name:    "settings",
		Entries: map[string]any{"theme": "dark"},
	}, events[1])
	assert.Equal(t, record.KindConnection, events[0].Kind())
}

func TestParser_Deterministic(t *testing.T) {
	input := `{"collections":{"users":[{
	  "Metadata":{"uuid":"` + uuid1 + `"},
	  "connections":{"likes":["` + uuid2 + `","` + uuid3 + `"],"follows":["` + uuid3 + `"],"blocks":["` + uuid2 + `"]},
	  "dictionaries":{"b":{},"a":{}}
	}]}}`

	first := collect(t, input, RelationshipsOnly)
	require.Len(t, first, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, collect(t, input, RelationshipsOnly))
	}

	assert.Equal(t, "blocks", first[0].(record.RelationshipWrite).RelationType)
	assert.Equal(t, "follows", first[1].(record.RelationshipWrite).RelationType)
	assert.Equal(t, "likes", first[2].(record.RelationshipWrite).RelationType)
	assert.Equal(t, "a", first[4].(record.DictionaryWrite).Name)
}

func TestParser_MultipleTopLevelValues(t *testing.T) {
	input := `{"collections":{"users":[{"Metadata":{"uuid":"` + uuid1 + `"}}]}}
{"collections":{"roles":[{"Metadata":{"uuid":"` + uuid2 + `"}}]}}`

	events := collect(t, input, EntitiesOnly)
	require.Len(t, events, 2)
	assert.Equal(t, "user", events[0].(record.EntityWrite).Type)
	assert.Equal(t, "role", events[1].(record.EntityWrite).Type)
}

func TestParser_BOMPrefixed(t *testing.T) {
	events := collect(t, "\xEF\xBB\xBF"+superappExport, EntitiesOnly)
	assert.Len(t, events, 2)
}

func TestParser_NullBlocks(t *testing.T) {
	input := `{"collections":{"users":[{"Metadata":{"uuid":"` + uuid1 + `"},"connections":null,"dictionaries":null}]}}`
	assert.Empty(t, collect(t, input, RelationshipsOnly))
	assert.Len(t, collect(t, input, EntitiesOnly), 1)
}

func TestParser_StructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"truncated", `{"collections":{"users":[{"Metadata":{"uuid":"` + uuid1 + `"}}`},
		{"bad token", `{"collections":{"users":[{"Metadata":{"uuid":"` + uuid1 + `"}},]}}`},
		{"bad uuid", `{"collections":{"users":[{"Metadata":{"uuid":"nope"}}]}}`},
		{"missing uuid", `{"collections":{"users":[{"Metadata":{"name":"x"}}]}}`},
		{"bad target", `{"collections":{"users":[{"Metadata":{"uuid":"` + uuid1 + `"},"connections":{"likes":["x"]}}]}}`},
		{"connections not a list", `{"collections":{"users":[{"Metadata":{"uuid":"` + uuid1 + `"},"connections":{"likes":"x"}}]}}`},
		{"metadata not an object", `{"collections":{"users":[{"Metadata":[1,2]}]}}`},
	}

	for _, tt := range tests {
		for _, mode := range []Mode{EntitiesOnly, RelationshipsOnly} {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				p := New(strings.NewReader(tt.input), mode)
				var err error
				for err == nil {
					_, err = p.Next()
				}
				require.False(t, errors.Is(err, io.EOF), "expected structural error, got EOF")
				assert.True(t, IsStructural(err), "got %T: %v", err, err)

				// Sticky.
				_, again := p.Next()
				assert.Equal(t, err, again)
			})
		}
	}
}

func TestParser_EOFIsSticky(t *testing.T) {
	p := New(strings.NewReader(`{"collections":{}}`), EntitiesOnly)
	_, err := p.Next()
	require.ErrorIs(t, err, io.EOF)
	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestSingularize(t *testing.T) {
	tests := map[string]string{
		"users":       "user",
		"superappCol": "superappcol",
		"activities":  "activity",
		"Groups":      "group",
		"devices":     "device",
	}
	for in, want := range tests {
		if got := Singularize(in); got != want {
			t.Errorf("Singularize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestModeKind(t *testing.T) {
	assert.Equal(t, record.KindEntity, EntitiesOnly.Kind())
	assert.Equal(t, record.KindConnection, RelationshipsOnly.Kind())
}
