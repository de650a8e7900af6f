package deeb

import (
	"fmt"
	"slices"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/internal/index"
)

// Entity declares a named collection of documents.
//
// Entities are configuration: do not modify one after registering it.
type Entity struct {
	Name string `json:"name" yaml:"name" jsonschema:"minLength=1"`
	// PrimaryKey is the identity field. Defaults to "_id".
	PrimaryKey   string        `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Associations []Association `json:"associations,omitempty" yaml:"associations,omitempty"`
	Indexes      []Index       `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Association joins documents of another entity into query results.
//
// A source document is joined with every target document whose To field
// equals one of the values of the source's From field.
type Association struct {
	// Entity is the target entity name.
	Entity string `json:"entity" yaml:"entity" jsonschema:"minLength=1"`
	From   string `json:"from" yaml:"from" jsonschema:"minLength=1"`
	To     string `json:"to" yaml:"to" jsonschema:"minLength=1"`
	// Alias is the field the joined documents are attached under. Defaults to
	// Entity.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
	// Single attaches the first joined document, or null, instead of an array.
	Single bool `json:"single,omitempty" yaml:"single,omitempty"`
}

// Index declares a secondary index. See the internal index package for the
// semantics of each option.
type Index struct {
	Name            string   `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Fields          []string `json:"fields" yaml:"fields" jsonschema:"minItems=1"`
	Unique          bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	CaseInsensitive bool     `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
}

// NewEntity returns an entity keyed by "_id".
func NewEntity(name string) *Entity {
	return &Entity{Name: name, PrimaryKey: document.IDField}
}

// WithPrimaryKey sets the identity field.
func (e *Entity) WithPrimaryKey(field string) *Entity {
	e.PrimaryKey = field
	return e
}

// Associate declares a join from this entity's from field to the target
// entity's to field, attached under alias.
func (e *Entity) Associate(target, from, to, alias string) *Entity {
	e.Associations = append(e.Associations, Association{Entity: target, From: from, To: to, Alias: alias})
	return e
}

// AssociateOne is like Associate but attaches a single document.
func (e *Entity) AssociateOne(target, from, to, alias string) *Entity {
	e.Associations = append(e.Associations, Association{Entity: target, From: from, To: to, Alias: alias, Single: true})
	return e
}

// AddIndex declares an index.
func (e *Entity) AddIndex(idx Index) *Entity {
	e.Indexes = append(e.Indexes, idx)
	return e
}

func (e *Entity) pk() string {
	if e.PrimaryKey == "" {
		return document.IDField
	}
	return e.PrimaryKey
}

// Validate checks the declaration on its own. Association targets are
// resolved when queried.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: entity without a name", ErrConfiguration)
	}
	var aliases []string
	for i := range e.Associations {
		a := &e.Associations[i]
		if a.Entity == "" || a.From == "" || a.To == "" {
			return fmt.Errorf("%w: entity %q: association %d needs entity, from and to", ErrConfiguration, e.Name, i)
		}
		if slices.Contains(aliases, a.alias()) {
			return fmt.Errorf("%w: entity %q: association alias %q used twice", ErrConfiguration, e.Name, a.alias())
		}
		aliases = append(aliases, a.alias())
	}
	var names []string
	for _, idx := range e.Indexes {
		s := idx.spec()
		if s.Name == "" {
			return fmt.Errorf("%w: entity %q: index without a name", ErrConfiguration, e.Name)
		}
		if slices.Contains(names, s.Name) {
			return fmt.Errorf("%w: entity %q: index %q declared twice", ErrConfiguration, e.Name, s.Name)
		}
		names = append(names, s.Name)
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: entity %q: %w", ErrConfiguration, e.Name, err)
		}
	}
	return nil
}

// association returns the association whose alias or target entity is name.
func (e *Entity) association(name string) (*Association, bool) {
	for i := range e.Associations {
		if e.Associations[i].alias() == name {
			return &e.Associations[i], true
		}
	}
	for i := range e.Associations {
		if e.Associations[i].Entity == name {
			return &e.Associations[i], true
		}
	}
	return nil, false
}

func (e *Entity) indexSpecs() []index.Spec {
	out := make([]index.Spec, len(e.Indexes))
	for i := range e.Indexes {
		out[i] = e.Indexes[i].spec()
	}
	return out
}

func (a *Association) alias() string {
	if a.Alias == "" {
		return a.Entity
	}
	return a.Alias
}

func (i *Index) spec() index.Spec {
	return index.Spec{Name: i.Name, Fields: slices.Clone(i.Fields), Unique: i.Unique, CaseInsensitive: i.CaseInsensitive}
}
