// Provides the group of indexes declared on one entity.

package index

import (
	"fmt"
	"slices"

	"github.com/maruel/deeb/document"
)

// Set holds every index of an entity and keeps them in step.
type Set struct {
	indexes []*Index
}

// BuildSet builds every declared index over docs.
func BuildSet(specs []Spec, pkField string, docs []*document.Document) (*Set, error) {
	s := &Set{indexes: make([]*Index, 0, len(specs))}
	for _, spec := range specs {
		if slices.ContainsFunc(s.indexes, func(idx *Index) bool { return idx.spec.Name == spec.Name }) {
			return nil, fmt.Errorf("index %q declared twice", spec.Name)
		}
		idx, err := Build(spec, pkField, docs)
		if err != nil {
			return nil, err
		}
		s.indexes = append(s.indexes, idx)
	}
	return s, nil
}

// Names returns the index names in declaration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.indexes))
	for i, idx := range s.indexes {
		out[i] = idx.spec.Name
	}
	return out
}

// Insert adds d to every index. Either all indexes accept d or none change.
func (s *Set) Insert(d *document.Document) error {
	for i, idx := range s.indexes {
		if err := idx.Insert(d); err != nil {
			for _, done := range s.indexes[:i] {
				done.Remove(d)
			}
			return err
		}
	}
	return nil
}

// Remove deletes d from every index.
func (s *Set) Remove(d *document.Document) {
	for _, idx := range s.indexes {
		idx.Remove(d)
	}
}

// Update moves every index from prev to curr. Either all indexes accept curr
// or none change.
func (s *Set) Update(prev, curr *document.Document) error {
	for i, idx := range s.indexes {
		if err := idx.Update(prev, curr); err != nil {
			for _, done := range s.indexes[:i] {
				_ = done.Update(curr, prev)
			}
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	c := &Set{indexes: make([]*Index, len(s.indexes))}
	for i, idx := range s.indexes {
		c.indexes[i] = idx.Clone()
	}
	return c
}

// Equal reports whether both sets hold the same indexes with the same entries.
func (s *Set) Equal(o *Set) bool {
	return slices.EqualFunc(s.indexes, o.indexes, func(a, b *Index) bool {
		return a.spec.Name == b.spec.Name && a.Equal(b)
	})
}

// Plan picks the first index whose fields are all constrained by eqs and
// returns the lookup values in field order. eqs typically comes from
// query.Query.Equalities.
func (s *Set) Plan(eqs map[string]document.Value) (*Index, []document.Value, bool) {
	if len(eqs) == 0 {
		return nil, nil, false
	}
	for _, idx := range s.indexes {
		values := make([]document.Value, 0, len(idx.spec.Fields))
		for _, f := range idx.spec.Fields {
			v, ok := eqs[f]
			// Unique indexes have no entry for null.
			if !ok || (idx.spec.Unique && v.IsNull()) {
				break
			}
			values = append(values, v)
		}
		if len(values) == len(idx.spec.Fields) {
			return idx, values, true
		}
	}
	return nil, nil, false
}
