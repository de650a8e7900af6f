// Package document provides the schemaless JSON document model.
//
// A [Document] is an ordered mapping of field names to [Value]s. Field order
// is preserved from the JSON it was parsed from, so files written back to disk
// keep the layout a human gave them.
//
// Every stored document carries an identity field ([IDField]) and a creation
// timestamp ([CreatedAtField]); [Document.Stamp] assigns both when absent.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// IDField holds the generated identity of a document.
	IDField = "_id"
	// CreatedAtField holds the RFC 3339 creation timestamp of a document.
	CreatedAtField = "_created_at"
)

// Document is an ordered JSON object.
//
// The zero value is an empty document ready to use. A Document is not safe for
// concurrent mutation.
type Document struct {
	m *orderedmap.OrderedMap[string, Value]
}

// New returns an empty document.
func New() *Document {
	return &Document{m: orderedmap.New[string, Value]()}
}

// Parse decodes a JSON object.
func Parse(data []byte) (*Document, error) {
	d := New()
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

// From converts any JSON-object-shaped Go value (struct, map, *Document,
// json.RawMessage) to a new document.
func From(x any) (*Document, error) {
	if d, ok := x.(*Document); ok {
		return d.Clone(), nil
	}
	v, err := FromAny(x)
	if err != nil {
		return nil, err
	}
	d, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", v.Kind())
	}
	return d, nil
}

func (d *Document) init() {
	if d.m == nil {
		d.m = orderedmap.New[string, Value]()
	}
}

// Len returns the number of top-level fields.
func (d *Document) Len() int {
	if d == nil || d.m == nil {
		return 0
	}
	return d.m.Len()
}

// Get returns the top-level field name.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil || d.m == nil {
		return Value{}, false
	}
	return d.m.Get(name)
}

// Has reports whether the top-level field name exists.
func (d *Document) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// Set sets a top-level field. Existing fields keep their position; new fields
// are appended.
func (d *Document) Set(name string, v Value) {
	d.init()
	d.m.Set(name, v)
}

// Delete removes a top-level field and reports whether it existed.
func (d *Document) Delete(name string) bool {
	if d == nil || d.m == nil {
		return false
	}
	_, ok := d.m.Delete(name)
	return ok
}

// Keys returns the field names in order.
func (d *Document) Keys() []string {
	out := make([]string, 0, d.Len())
	for k := range d.All() {
		out = append(out, k)
	}
	return out
}

// All iterates over fields in order.
func (d *Document) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if d == nil || d.m == nil {
			return
		}
		for p := d.m.Oldest(); p != nil; p = p.Next() {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := New()
	for k, v := range d.All() {
		out.m.Set(k, v.Clone())
	}
	return out
}

// Equal reports whether d and o have the same fields with equal values,
// regardless of field order.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	for k, v := range d.All() {
		ov, ok := o.Get(k)
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Merge copies every non-null field of patch into d, replacing existing top
// level fields. Null fields in patch leave d untouched.
func (d *Document) Merge(patch *Document) {
	for k, v := range patch.All() {
		if v.IsNull() {
			continue
		}
		d.Set(k, v.Clone())
	}
}

// ID returns the identity field as a string, or "" when absent or not a string.
func (d *Document) ID() string {
	v, _ := d.Get(IDField)
	s, _ := v.AsString()
	return s
}

// CreatedAt returns the parsed creation timestamp.
func (d *Document) CreatedAt() (time.Time, bool) {
	v, _ := d.Get(CreatedAtField)
	s, ok := v.AsString()
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Stamp assigns a generated [IDField] and a [CreatedAtField] when absent.
//
// The identity is placed first so files stay readable. When the identity is
// generated, the timestamp is derived from it so both agree.
func (d *Document) Stamp() {
	d.init()
	created := time.Now()
	if !d.Has(IDField) {
		id := NewID()
		created = id.Time()
		prev := d.m
		d.m = orderedmap.New[string, Value]()
		d.m.Set(IDField, String(id.String()))
		for p := prev.Oldest(); p != nil; p = p.Next() {
			d.m.Set(p.Key, p.Value)
		}
	}
	if !d.Has(CreatedAtField) {
		d.m.Set(CreatedAtField, String(created.UTC().Format(time.RFC3339Nano)))
	}
}

// String returns the compact JSON encoding of d.
func (d *Document) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("!(%v)", err)
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.m == nil || d.m.Len() == 0 {
		return []byte("{}"), nil
	}
	return d.m.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler. Existing fields are discarded.
func (d *Document) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("expected a JSON object, got %.20q", data)
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON object")
	}
	m := orderedmap.New[string, Value]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	d.m = m
	return nil
}
