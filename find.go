// Provides query resolution over tables: index planning, joins and paging.

package deeb

import (
	"fmt"
	"slices"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/query"
)

// FindOptions are applied after filtering.
type FindOptions struct {
	query.Options
	// Include lists associations (by alias or target entity) attached to each
	// returned document after paging.
	Include []string `json:"include,omitempty"`
}

// reader returns the table of an entity as seen by the current operation.
type reader func(entity string) (*table, error)

// selectDocs returns the positions in t of the documents matching q, in
// table order, and the matched documents. When q references associations the
// matched documents are clones carrying the joined data.
func selectDocs(read reader, t *table, q query.Query) ([]int, []*document.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, classify(err)
	}
	var joins []*joiner
	for _, target := range q.Targets() {
		a, ok := t.entity.association(target)
		if !ok {
			return nil, nil, fmt.Errorf("%w: entity %q has no association %q", ErrInvalidQuery, t.entity.Name, target)
		}
		j, err := newJoiner(read, a)
		if err != nil {
			return nil, nil, err
		}
		joins = append(joins, j)
	}
	var positions []int
	var docs []*document.Document
	consider := func(i int) {
		d := t.docs[i]
		if len(joins) > 0 {
			d = d.Clone()
			for _, j := range joins {
				j.attach(d)
			}
		}
		if q.Match(d) {
			positions = append(positions, i)
			docs = append(docs, d)
		}
	}
	// Joined fields are not indexed, so only plain queries use an index.
	if idx, key, ok := t.idx.Plan(q.Equalities()); ok && len(joins) == 0 {
		var candidates []int
		for _, pk := range idx.Lookup(key...) {
			if i, ok := t.pos[pk]; ok {
				candidates = append(candidates, i)
			}
		}
		slices.Sort(candidates)
		for _, i := range candidates {
			consider(i)
		}
	} else {
		for i := range t.docs {
			consider(i)
		}
	}
	return positions, docs, nil
}

// find runs a query and returns copies of the results.
func find(read reader, e *Entity, q query.Query, opts *FindOptions) ([]*document.Document, error) {
	t, err := read(e.Name)
	if err != nil {
		return nil, err
	}
	_, docs, err := selectDocs(read, t, q)
	if err != nil {
		return nil, err
	}
	var includes []*joiner
	if opts != nil {
		docs = opts.Options.Apply(docs)
		for _, name := range opts.Include {
			a, ok := e.association(name)
			if !ok {
				return nil, fmt.Errorf("%w: entity %q has no association %q", ErrInvalidQuery, e.Name, name)
			}
			j, err := newJoiner(read, a)
			if err != nil {
				return nil, err
			}
			includes = append(includes, j)
		}
	}
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		// Joined documents are already private copies.
		if len(q.Targets()) == 0 {
			d = d.Clone()
		}
		for _, j := range includes {
			j.attach(d)
		}
		out[i] = d
	}
	return out, nil
}

// joiner attaches the documents of an association's target entity.
type joiner struct {
	assoc *Association
	order map[*document.Document]int
	byKey map[string][]*document.Document
}

func newJoiner(read reader, a *Association) (*joiner, error) {
	t, err := read(a.Entity)
	if err != nil {
		return nil, fmt.Errorf("association %q: %w", a.alias(), err)
	}
	j := &joiner{assoc: a, order: make(map[*document.Document]int, len(t.docs)), byKey: map[string][]*document.Document{}}
	for i, d := range t.docs {
		j.order[d] = i
		for _, k := range valueKeys(d, a.To) {
			j.byKey[k] = append(j.byKey[k], d)
		}
	}
	return j, nil
}

// attach sets the association alias on d.
func (j *joiner) attach(d *document.Document) {
	var matches []*document.Document
	for _, k := range valueKeys(d, j.assoc.From) {
		for _, m := range j.byKey[k] {
			if !slices.Contains(matches, m) {
				matches = append(matches, m)
			}
		}
	}
	slices.SortFunc(matches, func(a, b *document.Document) int { return j.order[a] - j.order[b] })
	if j.assoc.Single {
		if len(matches) == 0 {
			d.Set(j.assoc.alias(), document.Null())
		} else {
			d.Set(j.assoc.alias(), document.Object(matches[0].Clone()))
		}
		return
	}
	vs := make([]document.Value, len(matches))
	for i, m := range matches {
		vs[i] = document.Object(m.Clone())
	}
	d.Set(j.assoc.alias(), document.Array(vs...))
}

// valueKeys returns the canonical keys of the values at path, expanding
// arrays into their elements. Null never joins.
func valueKeys(d *document.Document, path string) []string {
	var out []string
	add := func(v document.Value) {
		if v.IsNull() {
			return
		}
		if k := v.Key(); !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	for _, v := range d.Resolve(path) {
		if elems, ok := v.AsArray(); ok {
			for _, e := range elems {
				add(e)
			}
			continue
		}
		add(v)
	}
	return out
}
