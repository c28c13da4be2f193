// Package schema holds the static model metadata the enforcement engine
// consumes: models, fields, and relations with their cardinality and
// back-references. A Graph is built once at startup from a compiled
// artifact and never mutated afterwards.
package schema

import (
	"fmt"
	"sort"

	"github.com/syssam/warden"
)

// FieldType enumerates the scalar field types.
type FieldType string

// Scalar field types.
const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
	TypeBytes  FieldType = "bytes"
)

// Field describes a scalar field on a model.
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
}

// Relation describes a relation field on a model.
//
// Exactly one side of a relation owns the reference: the side whose table
// carries the foreign-key column. A to-many relation never owns it; its
// back-reference (the inverse to-one relation on the target model) does.
// BackRef is the name of that inverse relation and is what the engine walks
// when it reconstructs filters up a nested-write path.
type Relation struct {
	Name    string
	Target  string
	Many    bool
	BackRef string
	FK      string // foreign-key column on this model; empty when this side is not the owner
}

// Model describes one model: its identifier field, scalar fields and
// relations.
type Model struct {
	Name      string
	IDField   string // defaults to "id"
	Fields    []Field
	Relations []Relation

	fields    map[string]*Field
	relations map[string]*Relation
}

// ID returns the name of the model's identifier field.
func (m *Model) ID() string {
	if m.IDField == "" {
		return "id"
	}
	return m.IDField
}

// Field returns the scalar field with the given name.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// Relation returns the relation field with the given name.
func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// Graph is the immutable set of models for one schema.
type Graph struct {
	models map[string]*Model
	names  []string
}

// NewGraph builds and validates a graph from the given models.
func NewGraph(models ...*Model) (*Graph, error) {
	g := &Graph{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if m.Name == "" {
			return nil, warden.NewConfigError("model with empty name")
		}
		if _, ok := g.models[m.Name]; ok {
			return nil, warden.NewConfigError("duplicate model %q", m.Name)
		}
		m.fields = make(map[string]*Field, len(m.Fields))
		for i := range m.Fields {
			f := &m.Fields[i]
			if _, ok := m.fields[f.Name]; ok {
				return nil, warden.NewConfigError("duplicate field %q on model %q", f.Name, m.Name)
			}
			m.fields[f.Name] = f
		}
		m.relations = make(map[string]*Relation, len(m.Relations))
		for i := range m.Relations {
			r := &m.Relations[i]
			if _, ok := m.relations[r.Name]; ok {
				return nil, warden.NewConfigError("duplicate relation %q on model %q", r.Name, m.Name)
			}
			if _, ok := m.fields[r.Name]; ok {
				return nil, warden.NewConfigError("relation %q on model %q collides with a field", r.Name, m.Name)
			}
			m.relations[r.Name] = r
		}
		g.models[m.Name] = m
		g.names = append(g.names, m.Name)
	}
	sort.Strings(g.names)
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Model returns the model with the given name.
func (g *Graph) Model(name string) (*Model, bool) {
	m, ok := g.models[name]
	return m, ok
}

// Names returns the sorted model names.
func (g *Graph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// validate checks relation targets, back-references and ownership.
func (g *Graph) validate() error {
	for _, name := range g.names {
		m := g.models[name]
		for i := range m.Relations {
			r := &m.Relations[i]
			target, ok := g.models[r.Target]
			if !ok {
				return warden.NewConfigError("relation %s.%s targets unknown model %q", m.Name, r.Name, r.Target)
			}
			if r.Many && r.FK != "" {
				return warden.NewConfigError("to-many relation %s.%s cannot own foreign key %q", m.Name, r.Name, r.FK)
			}
			if r.BackRef == "" {
				continue
			}
			back, ok := target.Relation(r.BackRef)
			if !ok {
				return warden.NewConfigError("relation %s.%s: back-reference %q not found on model %q", m.Name, r.Name, r.BackRef, r.Target)
			}
			if back.Target != m.Name {
				return warden.NewConfigError("relation %s.%s: back-reference %s.%s targets %q, want %q", m.Name, r.Name, r.Target, back.Name, back.Target, m.Name)
			}
			if r.Many && back.FK == "" {
				return warden.NewConfigError("to-many relation %s.%s: back-reference %s.%s must own the foreign key", m.Name, r.Name, r.Target, back.Name)
			}
			if !r.Many && r.FK == "" && back.FK == "" {
				return warden.NewConfigError("relation %s.%s: neither side owns the foreign key", m.Name, r.Name)
			}
		}
	}
	return nil
}

// Join describes how a relation is stored: which model's table carries the
// foreign-key column and which model's identifier it references.
type Join struct {
	FKModel   string // model whose table holds the foreign key
	FKColumn  string
	RefModel  string // model whose identifier is referenced
	RefColumn string
}

// Join resolves the storage join for the given relation field. It returns a
// ConfigError when the relation or its foreign-key ownership cannot be
// resolved, which signals a schema compilation defect.
func (g *Graph) Join(model, relation string) (Join, error) {
	m, ok := g.models[model]
	if !ok {
		return Join{}, warden.NewConfigError("unknown model %q", model)
	}
	r, ok := m.Relation(relation)
	if !ok {
		return Join{}, warden.NewConfigError("unknown relation %s.%s", model, relation)
	}
	target := g.models[r.Target]
	if r.FK != "" {
		return Join{FKModel: m.Name, FKColumn: r.FK, RefModel: target.Name, RefColumn: target.ID()}, nil
	}
	if r.BackRef == "" {
		return Join{}, warden.NewConfigError("relation %s.%s has no back-reference and no foreign key", model, relation)
	}
	back, _ := target.Relation(r.BackRef)
	if back == nil || back.FK == "" {
		return Join{}, warden.NewConfigError("relation %s.%s: back-reference owns no foreign key", model, relation)
	}
	return Join{FKModel: target.Name, FKColumn: back.FK, RefModel: m.Name, RefColumn: m.ID()}, nil
}

// Backlink returns the inverse relation of the given relation field, used to
// reverse-traverse a nested-write path. It returns a ConfigError when the
// relation declares no back-reference.
func (g *Graph) Backlink(model, relation string) (*Relation, error) {
	m, ok := g.models[model]
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	r, ok := m.Relation(relation)
	if !ok {
		return nil, warden.NewConfigError("unknown relation %s.%s", model, relation)
	}
	if r.BackRef == "" {
		return nil, warden.NewConfigError("relation %s.%s has no back-reference", model, relation)
	}
	target := g.models[r.Target]
	back, ok := target.Relation(r.BackRef)
	if !ok {
		return nil, warden.NewConfigError("relation %s.%s: back-reference %q not found on %q", model, relation, r.BackRef, r.Target)
	}
	return back, nil
}

func (g *Graph) String() string {
	return fmt.Sprintf("schema.Graph(%d models)", len(g.models))
}
