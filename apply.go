// Provides the mutations staged by transactions.

package deeb

import (
	"fmt"
	"strings"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/internal/index"
	"github.com/maruel/deeb/query"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
	opAddKey
	opDropKey
)

func (k opKind) String() string {
	switch k {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	case opAddKey:
		return "add key"
	case opDropKey:
		return "drop key"
	default:
		return fmt.Sprintf("opKind(%d)", int(k))
	}
}

// op is a staged mutation.
type op struct {
	kind   opKind
	inst   *instance
	entity *Entity
	// docs are the stamped documents to insert.
	docs []*document.Document
	q    query.Query
	// patch is merged into matched documents.
	patch *document.Document
	// single requires exactly one match.
	single bool
	path   string
	value  document.Value

	// results are the affected documents of the committed replay.
	results []*document.Document
}

// change is a committed effect, published to subscribers.
type change struct {
	kind   EventKind
	entity string
	doc    *document.Document
	prev   *document.Document
}

// apply applies o to w and returns the affected documents as they are after
// the operation (before it for deletes). On error w is unchanged.
func (o *op) apply(w *working, read reader) ([]*document.Document, []change, error) {
	cur := w.table(o.entity.Name)
	if cur == nil {
		return nil, nil, fmt.Errorf("%w: entity %q is not registered", ErrConfiguration, o.entity.Name)
	}
	t := cur.clone()
	var out []*document.Document
	var changes []change
	var err error
	switch o.kind {
	case opInsert:
		out, changes, err = t.insert(o.docs)
	case opUpdate:
		out, changes, err = t.update(read, o.q, o.patch, o.single)
	case opDelete:
		out, changes, err = t.remove(read, o.q, o.single)
	case opAddKey:
		out, changes, err = t.rewrite(func(d *document.Document) bool {
			return d.SetPath(o.path, o.value.Clone()) == nil
		})
	case opDropKey:
		out, changes, err = t.rewrite(func(d *document.Document) bool {
			return d.DeletePath(o.path)
		})
	}
	if err != nil {
		return nil, nil, err
	}
	if len(changes) > 0 {
		w.tables[o.entity.Name] = t
	}
	return out, changes, nil
}

func (t *table) insert(docs []*document.Document) ([]*document.Document, []change, error) {
	out := make([]*document.Document, 0, len(docs))
	changes := make([]change, 0, len(docs))
	for _, d := range docs {
		pk, ok := index.PrimaryKey(d, t.entity.pk())
		if !ok {
			return nil, nil, fmt.Errorf("%w: lacks %q", ErrInvalidDocument, t.entity.pk())
		}
		if _, dup := t.pos[pk]; dup {
			v, _ := d.Get(t.entity.pk())
			return nil, nil, fmt.Errorf("%w: %s %s already exists in %q", ErrNotUnique, t.entity.pk(), v, t.entity.Name)
		}
		if err := t.idx.Insert(d); err != nil {
			return nil, nil, classify(err)
		}
		t.pos[pk] = len(t.docs)
		t.docs = append(t.docs, d)
		out = append(out, d)
		changes = append(changes, change{kind: Inserted, entity: t.entity.Name, doc: d})
	}
	return out, changes, nil
}

func (t *table) update(read reader, q query.Query, patch *document.Document, single bool) ([]*document.Document, []change, error) {
	positions, _, err := t.matchPositions(read, q, single)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*document.Document, 0, len(positions))
	changes := make([]change, 0, len(positions))
	for _, i := range positions {
		prev := t.docs[i]
		curr := prev.Clone()
		curr.Merge(patch)
		if err := t.replace(i, curr); err != nil {
			return nil, nil, err
		}
		out = append(out, curr)
		changes = append(changes, change{kind: Updated, entity: t.entity.Name, doc: curr, prev: prev})
	}
	return out, changes, nil
}

func (t *table) remove(read reader, q query.Query, single bool) ([]*document.Document, []change, error) {
	positions, _, err := t.matchPositions(read, q, single)
	if err != nil {
		return nil, nil, err
	}
	if len(positions) == 0 {
		return nil, nil, nil
	}
	out := make([]*document.Document, 0, len(positions))
	changes := make([]change, 0, len(positions))
	drop := make(map[int]bool, len(positions))
	for _, i := range positions {
		d := t.docs[i]
		drop[i] = true
		t.idx.Remove(d)
		out = append(out, d)
		changes = append(changes, change{kind: Deleted, entity: t.entity.Name, doc: d})
	}
	kept := t.docs[:0:0]
	for i, d := range t.docs {
		if !drop[i] {
			kept = append(kept, d)
		}
	}
	t.docs = kept
	clear(t.pos)
	for i, d := range t.docs {
		pk, _ := index.PrimaryKey(d, t.entity.pk())
		t.pos[pk] = i
	}
	return out, changes, nil
}

// rewrite applies fn to a copy of every document and keeps the copies fn
// reports as changed.
func (t *table) rewrite(fn func(d *document.Document) bool) ([]*document.Document, []change, error) {
	var out []*document.Document
	var changes []change
	for i, prev := range t.docs {
		curr := prev.Clone()
		if !fn(curr) {
			continue
		}
		if err := t.replace(i, curr); err != nil {
			return nil, nil, err
		}
		out = append(out, curr)
		changes = append(changes, change{kind: Updated, entity: t.entity.Name, doc: curr, prev: prev})
	}
	return out, changes, nil
}

// replace swaps the document at position i for curr, keeping the primary key
// map and indexes in step.
func (t *table) replace(i int, curr *document.Document) error {
	prev := t.docs[i]
	oldPK, _ := index.PrimaryKey(prev, t.entity.pk())
	newPK, ok := index.PrimaryKey(curr, t.entity.pk())
	if !ok {
		return fmt.Errorf("%w: update removes %q", ErrInvalidDocument, t.entity.pk())
	}
	if newPK != oldPK {
		if _, dup := t.pos[newPK]; dup {
			v, _ := curr.Get(t.entity.pk())
			return fmt.Errorf("%w: %s %s already exists in %q", ErrNotUnique, t.entity.pk(), v, t.entity.Name)
		}
	}
	if err := t.idx.Update(prev, curr); err != nil {
		return classify(err)
	}
	if newPK != oldPK {
		delete(t.pos, oldPK)
		t.pos[newPK] = i
	}
	t.docs[i] = curr
	return nil
}

func (t *table) matchPositions(read reader, q query.Query, single bool) ([]int, []*document.Document, error) {
	positions, docs, err := selectDocs(read, t, q)
	if err != nil {
		return nil, nil, err
	}
	if single {
		switch len(positions) {
		case 0:
			return nil, nil, fmt.Errorf("%w: no %q matches %s", ErrNotFound, t.entity.Name, q)
		case 1:
		default:
			return nil, nil, fmt.Errorf("%w: %d %q documents match %s", ErrNotUnique, len(positions), t.entity.Name, q)
		}
	}
	return positions, docs, nil
}

// checkKeyPath rejects management operations on the primary key.
func checkKeyPath(e *Entity, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty key path", ErrInvalidDocument)
	}
	if path == e.pk() || strings.HasPrefix(path, e.pk()+".") {
		return fmt.Errorf("%w: cannot modify primary key %q of %q", ErrInvalidDocument, e.pk(), e.Name)
	}
	return nil
}
