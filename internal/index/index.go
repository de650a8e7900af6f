// Package index maintains in-memory secondary indexes over documents.
//
// An index maps a tuple of field values to the set of primary keys of the
// documents holding those values. Array fields contribute one entry per
// element (plus one for the whole array), so an equality lookup returns the
// same documents as an equality scan would, before the scan's predicate is
// re-applied.
//
// Indexes are plain values without locking: the owner clones them before
// mutating a copy and publishes the copy atomically.
package index

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/maruel/deeb/document"
)

// ErrNotUnique is returned when a unique index would map one key to two
// documents.
var ErrNotUnique = errors.New("index key not unique")

// Spec declares an index.
type Spec struct {
	Name   string   `json:"name" yaml:"name"`
	Fields []string `json:"fields" yaml:"fields"`
	// Unique rejects two documents sharing a key tuple.
	Unique bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	// CaseInsensitive folds string key parts to lower case.
	CaseInsensitive bool `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
}

// Validate checks the declaration.
func (s *Spec) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("index %q: no fields", s.Name)
	}
	for i, f := range s.Fields {
		if f == "" {
			return fmt.Errorf("index %q: field %d is empty", s.Name, i)
		}
		if slices.Contains(s.Fields[:i], f) {
			return fmt.Errorf("index %q: field %q listed twice", s.Name, f)
		}
	}
	return nil
}

// Index is a single secondary index.
type Index struct {
	spec    Spec
	pkField string
	byKey   map[string]map[string]struct{}
}

// Build creates an index over docs. Documents are identified by the value of
// their pkField, canonicalized with [document.Value.Key].
func Build(spec Spec, pkField string, docs []*document.Document) (*Index, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	idx := &Index{
		spec:    spec,
		pkField: pkField,
		byKey:   make(map[string]map[string]struct{}, len(docs)),
	}
	for _, d := range docs {
		if err := idx.Insert(d); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Spec returns the declaration of the index.
func (idx *Index) Spec() Spec { return idx.spec }

// Len returns the number of distinct key tuples.
func (idx *Index) Len() int { return len(idx.byKey) }

// Insert adds the entries of d. On a unique violation the index is left
// unchanged.
func (idx *Index) Insert(d *document.Document) error {
	pk, ok := PrimaryKey(d, idx.pkField)
	if !ok {
		return fmt.Errorf("index %q: document lacks %q", idx.spec.Name, idx.pkField)
	}
	keys := idx.keys(d)
	if idx.spec.Unique {
		for _, k := range keys {
			for other := range idx.byKey[k] {
				if other != pk {
					return fmt.Errorf("%w: index %q on %s", ErrNotUnique, idx.spec.Name, strings.Join(idx.spec.Fields, ","))
				}
			}
		}
	}
	for _, k := range keys {
		set := idx.byKey[k]
		if set == nil {
			set = make(map[string]struct{}, 1)
			idx.byKey[k] = set
		}
		set[pk] = struct{}{}
	}
	return nil
}

// Remove deletes the entries of d.
func (idx *Index) Remove(d *document.Document) {
	pk, ok := PrimaryKey(d, idx.pkField)
	if !ok {
		return
	}
	for _, k := range idx.keys(d) {
		set := idx.byKey[k]
		delete(set, pk)
		if len(set) == 0 {
			delete(idx.byKey, k)
		}
	}
}

// Update replaces the entries of prev with those of curr. It is a remove
// followed by an insert; on a unique violation prev's entries are restored.
func (idx *Index) Update(prev, curr *document.Document) error {
	idx.Remove(prev)
	if err := idx.Insert(curr); err != nil {
		// prev was consistent with the rest of the index a moment ago.
		_ = idx.Insert(prev)
		return err
	}
	return nil
}

// Lookup returns the primary keys of the documents whose indexed fields equal
// values, one value per field in declaration order. The result is sorted.
func (idx *Index) Lookup(values ...document.Value) []string {
	if len(values) != len(idx.spec.Fields) {
		return nil
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = idx.part(v)
	}
	set := idx.byKey[tupleKey(parts)]
	out := make([]string, 0, len(set))
	for pk := range set {
		out = append(out, pk)
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy.
func (idx *Index) Clone() *Index {
	c := &Index{spec: idx.spec, pkField: idx.pkField, byKey: make(map[string]map[string]struct{}, len(idx.byKey))}
	c.spec.Fields = slices.Clone(idx.spec.Fields)
	for k, set := range idx.byKey {
		c.byKey[k] = maps.Clone(set)
	}
	return c
}

// Equal reports whether both indexes hold exactly the same entries.
func (idx *Index) Equal(o *Index) bool {
	return maps.EqualFunc(idx.byKey, o.byKey, func(a, b map[string]struct{}) bool {
		return maps.Equal(a, b)
	})
}

// keys returns the tuple keys of d: the cartesian product of the values found
// at each field. A document missing any field has no entry.
func (idx *Index) keys(d *document.Document) []string {
	tuples := [][]string{nil}
	for _, f := range idx.spec.Fields {
		parts := idx.fieldParts(d, f)
		if len(parts) == 0 {
			return nil
		}
		next := make([][]string, 0, len(tuples)*len(parts))
		for _, t := range tuples {
			for _, p := range parts {
				next = append(next, append(slices.Clip(t), p))
			}
		}
		tuples = next
	}
	out := make([]string, 0, len(tuples))
	for _, t := range tuples {
		k := tupleKey(t)
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// fieldParts returns the distinct keys of the values at field. A unique index
// skips nulls, so any number of documents may leave a unique field null.
func (idx *Index) fieldParts(d *document.Document, field string) []string {
	var out []string
	add := func(v document.Value) {
		if idx.spec.Unique && v.IsNull() {
			return
		}
		if p := idx.part(v); !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	for _, v := range d.Resolve(field) {
		add(v)
		if elems, ok := v.AsArray(); ok {
			for _, e := range elems {
				add(e)
			}
		}
	}
	return out
}

func (idx *Index) part(v document.Value) string {
	if idx.spec.CaseInsensitive {
		if s, ok := v.AsString(); ok {
			return document.String(strings.ToLower(s)).Key()
		}
	}
	return v.Key()
}

func tupleKey(parts []string) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(strconv.Itoa(len(p)))
		sb.WriteByte(':')
		sb.WriteString(p)
	}
	return sb.String()
}

// PrimaryKey returns the canonical identity of d given its primary key field.
func PrimaryKey(d *document.Document, pkField string) (string, bool) {
	v, ok := d.Get(pkField)
	if !ok || v.IsNull() {
		return "", false
	}
	return v.Key(), true
}
