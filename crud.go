// Provides the document operations, with an implicit transaction on Deeb and
// staged on Tx.

package deeb

import (
	"context"
	"fmt"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/query"
)

// target returns the registered declaration behind an entity reference.
func (db *Deeb) target(e *Entity) (*instance, *Entity, error) {
	if e == nil {
		return nil, nil, fmt.Errorf("%w: nil entity", ErrConfiguration)
	}
	return db.resolve(e.Name)
}

// toDocs converts caller data to stamped documents. data is a single object or
// a list of objects.
func toDocs(data any, many bool) ([]*document.Document, error) {
	var docs []*document.Document
	switch t := data.(type) {
	case []*document.Document:
		if !many {
			return nil, fmt.Errorf("%w: expected one document", ErrInvalidDocument)
		}
		for _, d := range t {
			if d == nil {
				return nil, fmt.Errorf("%w: nil document", ErrInvalidDocument)
			}
			docs = append(docs, d.Clone())
		}
	default:
		if !many {
			d, err := document.From(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
			}
			docs = []*document.Document{d}
			break
		}
		v, err := document.FromAny(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		elems, ok := v.AsArray()
		if !ok {
			return nil, fmt.Errorf("%w: expected a list of documents, got %s", ErrInvalidDocument, v.Kind())
		}
		for i, e := range elems {
			d, ok := e.AsObject()
			if !ok {
				return nil, fmt.Errorf("%w: element %d is a %s", ErrInvalidDocument, i, e.Kind())
			}
			docs = append(docs, d.Clone())
		}
	}
	for _, d := range docs {
		d.Stamp()
	}
	return docs, nil
}

func (db *Deeb) insertOp(e *Entity, data any, many bool) (*op, error) {
	inst, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	docs, err := toDocs(data, many)
	if err != nil {
		return nil, err
	}
	return &op{kind: opInsert, inst: inst, entity: ent, docs: docs}, nil
}

func (db *Deeb) updateOp(e *Entity, q query.Query, patch any, single bool) (*op, error) {
	inst, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, classify(err)
	}
	p, err := document.From(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: update payload: %w", ErrInvalidDocument, err)
	}
	return &op{kind: opUpdate, inst: inst, entity: ent, q: q, patch: p, single: single}, nil
}

func (db *Deeb) deleteOp(e *Entity, q query.Query, single bool) (*op, error) {
	inst, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, classify(err)
	}
	return &op{kind: opDelete, inst: inst, entity: ent, q: q, single: single}, nil
}

func (db *Deeb) addKeyOp(e *Entity, path string, value any) (*op, error) {
	inst, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	if err := checkKeyPath(ent, path); err != nil {
		return nil, err
	}
	v, err := document.FromAny(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return &op{kind: opAddKey, inst: inst, entity: ent, path: path, value: v}, nil
}

func (db *Deeb) dropKeyOp(e *Entity, path string) (*op, error) {
	inst, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	if err := checkKeyPath(ent, path); err != nil {
		return nil, err
	}
	return &op{kind: opDropKey, inst: inst, entity: ent, path: path}, nil
}

func findOne(read reader, e *Entity, q query.Query, opts *FindOptions) (*document.Document, error) {
	docs, err := find(read, e, q, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no %q matches %s", ErrNotFound, e.Name, q)
	}
	return docs[0], nil
}

func count(read reader, e *Entity, q query.Query, opts *query.Options) (int, error) {
	t, err := read(e.Name)
	if err != nil {
		return 0, err
	}
	_, docs, err := selectDocs(read, t, q)
	if err != nil {
		return 0, err
	}
	return len(opts.Apply(docs)), nil
}

func first(docs []*document.Document) *document.Document {
	if len(docs) == 0 {
		return nil
	}
	return docs[0]
}

// InsertOne inserts a JSON object: a *document.Document, a map or a struct.
// "_id" and "_created_at" are generated when absent. It returns the stored
// document.
func (db *Deeb) InsertOne(ctx context.Context, e *Entity, doc any) (*document.Document, error) {
	o, err := db.insertOp(e, doc, false)
	if err != nil {
		return nil, err
	}
	out, err := db.run(ctx, o)
	return first(out), err
}

// InsertMany inserts a list of JSON objects atomically.
func (db *Deeb) InsertMany(ctx context.Context, e *Entity, docs any) ([]*document.Document, error) {
	o, err := db.insertOp(e, docs, true)
	if err != nil {
		return nil, err
	}
	return db.run(ctx, o)
}

// FindOne returns the first document matching q after opts are applied, or
// ErrNotFound.
func (db *Deeb) FindOne(ctx context.Context, e *Entity, q query.Query, opts *FindOptions) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	return findOne(db.committed, ent, q, opts)
}

// FindMany returns copies of the documents matching q, in insertion order
// unless opts sorts them.
func (db *Deeb) FindMany(ctx context.Context, e *Entity, q query.Query, opts *FindOptions) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, ent, err := db.target(e)
	if err != nil {
		return nil, err
	}
	return find(db.committed, ent, q, opts)
}

// Count returns the number of documents FindMany would return.
func (db *Deeb) Count(ctx context.Context, e *Entity, q query.Query, opts *query.Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, ent, err := db.target(e)
	if err != nil {
		return 0, err
	}
	return count(db.committed, ent, q, opts)
}

// UpdateOne merges patch into the only document matching q. Top level fields
// of patch replace existing ones; null fields are ignored. It fails with
// ErrNotFound or ErrNotUnique unless exactly one document matches.
func (db *Deeb) UpdateOne(ctx context.Context, e *Entity, q query.Query, patch any) (*document.Document, error) {
	o, err := db.updateOp(e, q, patch, true)
	if err != nil {
		return nil, err
	}
	out, err := db.run(ctx, o)
	return first(out), err
}

// UpdateMany merges patch into every document matching q and returns them.
func (db *Deeb) UpdateMany(ctx context.Context, e *Entity, q query.Query, patch any) ([]*document.Document, error) {
	o, err := db.updateOp(e, q, patch, false)
	if err != nil {
		return nil, err
	}
	return db.run(ctx, o)
}

// DeleteOne removes the only document matching q and returns it.
func (db *Deeb) DeleteOne(ctx context.Context, e *Entity, q query.Query) (*document.Document, error) {
	o, err := db.deleteOp(e, q, true)
	if err != nil {
		return nil, err
	}
	out, err := db.run(ctx, o)
	return first(out), err
}

// DeleteMany removes every document matching q and returns them.
func (db *Deeb) DeleteMany(ctx context.Context, e *Entity, q query.Query) ([]*document.Document, error) {
	o, err := db.deleteOp(e, q, false)
	if err != nil {
		return nil, err
	}
	return db.run(ctx, o)
}

// AddKey sets the dotted path to value in every document of e, overwriting
// existing values. It returns the number of documents changed.
func (db *Deeb) AddKey(ctx context.Context, e *Entity, path string, value any) (int, error) {
	o, err := db.addKeyOp(e, path, value)
	if err != nil {
		return 0, err
	}
	out, err := db.run(ctx, o)
	return len(out), err
}

// DropKey removes the dotted path from every document of e. It returns the
// number of documents changed.
func (db *Deeb) DropKey(ctx context.Context, e *Entity, path string) (int, error) {
	o, err := db.dropKeyOp(e, path)
	if err != nil {
		return 0, err
	}
	out, err := db.run(ctx, o)
	return len(out), err
}

// InsertOne stages an insert. See [Deeb.InsertOne].
func (tx *Tx) InsertOne(ctx context.Context, e *Entity, doc any) (*document.Document, error) {
	o, err := tx.db.insertOp(e, doc, false)
	if err != nil {
		return nil, err
	}
	out, err := tx.stage(ctx, o)
	return first(out), err
}

// InsertMany stages an insert of several documents.
func (tx *Tx) InsertMany(ctx context.Context, e *Entity, docs any) ([]*document.Document, error) {
	o, err := tx.db.insertOp(e, docs, true)
	if err != nil {
		return nil, err
	}
	return tx.stage(ctx, o)
}

// FindOne is like [Deeb.FindOne] but observes the staged operations.
func (tx *Tx) FindOne(ctx context.Context, e *Entity, q query.Query, opts *FindOptions) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, ent, err := tx.db.target(e)
	if err != nil {
		return nil, err
	}
	var out *document.Document
	err = tx.read(func(read reader) error {
		out, err = findOne(read, ent, q, opts)
		return err
	})
	return out, err
}

// FindMany is like [Deeb.FindMany] but observes the staged operations.
func (tx *Tx) FindMany(ctx context.Context, e *Entity, q query.Query, opts *FindOptions) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, ent, err := tx.db.target(e)
	if err != nil {
		return nil, err
	}
	var out []*document.Document
	err = tx.read(func(read reader) error {
		out, err = find(read, ent, q, opts)
		return err
	})
	return out, err
}

// Count is like [Deeb.Count] but observes the staged operations.
func (tx *Tx) Count(ctx context.Context, e *Entity, q query.Query, opts *query.Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, ent, err := tx.db.target(e)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.read(func(read reader) error {
		n, err = count(read, ent, q, opts)
		return err
	})
	return n, err
}

// UpdateOne stages an update of exactly one document. ErrNotFound and
// ErrNotUnique are returned immediately; the transaction stays open.
func (tx *Tx) UpdateOne(ctx context.Context, e *Entity, q query.Query, patch any) (*document.Document, error) {
	o, err := tx.db.updateOp(e, q, patch, true)
	if err != nil {
		return nil, err
	}
	out, err := tx.stage(ctx, o)
	return first(out), err
}

// UpdateMany stages an update of every matching document.
func (tx *Tx) UpdateMany(ctx context.Context, e *Entity, q query.Query, patch any) ([]*document.Document, error) {
	o, err := tx.db.updateOp(e, q, patch, false)
	if err != nil {
		return nil, err
	}
	return tx.stage(ctx, o)
}

// DeleteOne stages the removal of exactly one document.
func (tx *Tx) DeleteOne(ctx context.Context, e *Entity, q query.Query) (*document.Document, error) {
	o, err := tx.db.deleteOp(e, q, true)
	if err != nil {
		return nil, err
	}
	out, err := tx.stage(ctx, o)
	return first(out), err
}

// DeleteMany stages the removal of every matching document.
func (tx *Tx) DeleteMany(ctx context.Context, e *Entity, q query.Query) ([]*document.Document, error) {
	o, err := tx.db.deleteOp(e, q, false)
	if err != nil {
		return nil, err
	}
	return tx.stage(ctx, o)
}

// AddKey stages [Deeb.AddKey].
func (tx *Tx) AddKey(ctx context.Context, e *Entity, path string, value any) (int, error) {
	o, err := tx.db.addKeyOp(e, path, value)
	if err != nil {
		return 0, err
	}
	out, err := tx.stage(ctx, o)
	return len(out), err
}

// DropKey stages [Deeb.DropKey].
func (tx *Tx) DropKey(ctx context.Context, e *Entity, path string) (int, error) {
	o, err := tx.db.dropKeyOp(e, path)
	if err != nil {
		return 0, err
	}
	out, err := tx.stage(ctx, o)
	return len(out), err
}
