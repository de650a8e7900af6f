// Provides dotted field-path access into documents.

package document

import (
	"errors"
	"strconv"
	"strings"
)

var errEmptyPath = errors.New("empty field path")

// SplitPath splits a dotted field path into segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// arrayIndex parses seg as a non-negative array index.
func arrayIndex(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Lookup returns the value at a dotted path such as "address.city" or
// "tags.0". Numeric segments index arrays.
//
// A path that does not exist yields false, never an error.
func (d *Document) Lookup(path string) (Value, bool) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return Value{}, false
	}
	cur, ok := d.Get(segs[0])
	if !ok {
		return Value{}, false
	}
	for _, seg := range segs[1:] {
		switch cur.kind {
		case KindObject:
			if cur, ok = cur.o.Get(seg); !ok {
				return Value{}, false
			}
		case KindArray:
			i, isIdx := arrayIndex(seg)
			if !isIdx || i >= len(cur.a) {
				return Value{}, false
			}
			cur = cur.a[i]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Resolve returns every value reachable at path.
//
// Unlike [Document.Lookup], a non-numeric segment applied to an array fans out
// over the array's object elements, so "comments.author" on
// {"comments":[{"author":"a"},{"author":"b"}]} yields both authors. The
// result is empty when nothing matches.
func (d *Document) Resolve(path string) []Value {
	segs := SplitPath(path)
	if len(segs) == 0 || d == nil {
		return nil
	}
	return resolve(Object(d), segs, nil)
}

func resolve(cur Value, segs []string, out []Value) []Value {
	if len(segs) == 0 {
		return append(out, cur)
	}
	seg := segs[0]
	switch cur.kind {
	case KindObject:
		if next, ok := cur.o.Get(seg); ok {
			out = resolve(next, segs[1:], out)
		}
	case KindArray:
		if i, ok := arrayIndex(seg); ok {
			if i < len(cur.a) {
				out = resolve(cur.a[i], segs[1:], out)
			}
			return out
		}
		for _, e := range cur.a {
			if e.kind == KindObject {
				out = resolve(e, segs, out)
			}
		}
	}
	return out
}

// SetPath sets the value at a dotted path, creating intermediate objects.
//
// Missing, null or non-object intermediates are replaced by empty objects.
func (d *Document) SetPath(path string, v Value) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return errEmptyPath
	}
	cur := d
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Get(seg)
		child, isObj := next.AsObject()
		if !ok || !isObj {
			child = New()
			cur.Set(seg, Object(child))
		}
		cur = child
	}
	cur.Set(segs[len(segs)-1], v)
	return nil
}

// DeletePath removes the field at a dotted path and reports whether it
// existed. Paths crossing a non-object are left untouched.
func (d *Document) DeletePath(path string) bool {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return false
	}
	cur := d
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Get(seg)
		if !ok {
			return false
		}
		if cur, ok = next.AsObject(); !ok {
			return false
		}
	}
	return cur.Delete(segs[len(segs)-1])
}
