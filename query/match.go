// Provides evaluation of queries against documents.

package query

import (
	"strings"

	"github.com/maruel/deeb/document"
)

// Match reports whether d satisfies q.
//
// And stops at the first false child and Or at the first true child. An
// [Associated] node evaluates its sub-query against d as is; the caller is
// responsible for having joined the association into d beforehand.
func (q Query) Match(d *document.Document) bool {
	switch q.op {
	case "", OpAll:
		return true
	case OpAnd:
		for i := range q.children {
			if !q.children[i].Match(d) {
				return false
			}
		}
		return true
	case OpOr:
		for i := range q.children {
			if q.children[i].Match(d) {
				return true
			}
		}
		return false
	case OpAssociated:
		return len(q.children) == 1 && q.children[0].Match(d)
	case OpEq:
		return matchEq(d.Resolve(q.field), q.value)
	case OpNe:
		return !matchEq(d.Resolve(q.field), q.value)
	case OpLike:
		pattern, ok := q.value.AsString()
		if !ok {
			return false
		}
		return anyElement(d.Resolve(q.field), false, func(v document.Value) bool {
			s, ok := v.AsString()
			return ok && strings.Contains(s, pattern)
		})
	case OpLt, OpLte, OpGt, OpGte:
		return anyElement(d.Resolve(q.field), false, func(v document.Value) bool {
			c, ok := v.Compare(q.value)
			if !ok {
				return false
			}
			switch q.op {
			case OpLt:
				return c < 0
			case OpLte:
				return c <= 0
			case OpGt:
				return c > 0
			default:
				return c >= 0
			}
		})
	default:
		return false
	}
}

func matchEq(candidates []document.Value, want document.Value) bool {
	return anyElement(candidates, true, want.Equal)
}

// anyElement reports whether fn holds for a candidate or, for array
// candidates, for one of its elements. The array itself is tested only when
// self is set.
func anyElement(candidates []document.Value, self bool, fn func(document.Value) bool) bool {
	for _, c := range candidates {
		elems, isArray := c.AsArray()
		if !isArray || self {
			if fn(c) {
				return true
			}
		}
		for _, e := range elems {
			if fn(e) {
				return true
			}
		}
	}
	return false
}

// Filter returns the documents of docs matching q, in order.
func Filter(q Query, docs []*document.Document) []*document.Document {
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		if q.Match(d) {
			out = append(out, d)
		}
	}
	return out
}
