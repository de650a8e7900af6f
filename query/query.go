// Package query builds and evaluates filter expressions over documents.
//
// A [Query] is an immutable expression tree: leaf comparisons over a dotted
// field path (see [document.Document.Resolve]) combined with [And] and [Or].
// Queries carry no engine state, so a policy layer may wrap a caller's query
// in extra conditions before it reaches the engine:
//
//	q = query.And(callerQuery, query.Eq("owner", userID))
//
// Evaluation never fails: a missing field or a comparison between values of
// different JSON types simply does not match.
package query

import (
	"errors"
	"fmt"
	"slices"

	"github.com/maruel/deeb/document"
)

// ErrInvalid is returned by [Query.Validate] for malformed expressions.
var ErrInvalid = errors.New("invalid query")

// Op identifies the node type of a query.
type Op string

// Supported operators. The string values are the JSON tags used by
// [Query.MarshalJSON].
const (
	OpAll        Op = "All"
	OpEq         Op = "Eq"
	OpNe         Op = "Ne"
	OpLike       Op = "Like"
	OpLt         Op = "Lt"
	OpLte        Op = "Lte"
	OpGt         Op = "Gt"
	OpGte        Op = "Gte"
	OpAnd        Op = "And"
	OpOr         Op = "Or"
	OpAssociated Op = "Associated"
)

// Query is a filter expression. The zero value matches every document.
type Query struct {
	op       Op
	field    string
	value    document.Value
	children []Query
	target   string
	// err is set when the operand could not be converted to a JSON value.
	err error
}

// All matches every document.
func All() Query { return Query{op: OpAll} }

// Eq matches documents whose field equals v, or whose field is an array
// containing v.
func Eq(field string, v any) Query { return leaf(OpEq, field, v) }

// Ne matches documents that [Eq] would not match, including documents
// lacking the field.
func Ne(field string, v any) Query { return leaf(OpNe, field, v) }

// Like matches documents whose string field (or any string element of an
// array field) contains substr.
func Like(field, substr string) Query { return leaf(OpLike, field, substr) }

// Lt matches documents whose field is less than v. Values of another type
// never match.
func Lt(field string, v any) Query { return leaf(OpLt, field, v) }

// Lte matches documents whose field is less than or equal to v.
func Lte(field string, v any) Query { return leaf(OpLte, field, v) }

// Gt matches documents whose field is greater than v.
func Gt(field string, v any) Query { return leaf(OpGt, field, v) }

// Gte matches documents whose field is greater than or equal to v.
func Gte(field string, v any) Query { return leaf(OpGte, field, v) }

// And matches documents matching every sub-query. And() matches everything.
func And(qs ...Query) Query { return Query{op: OpAnd, children: slices.Clone(qs)} }

// Or matches documents matching at least one sub-query. Or() matches nothing.
func Or(qs ...Query) Query { return Query{op: OpOr, children: slices.Clone(qs)} }

// Associated evaluates q after the association named target (a target entity
// name or an alias) has been joined into each document, so q may reference
// fields such as "alias.field".
func Associated(target string, q Query) Query {
	return Query{op: OpAssociated, target: target, children: []Query{q}}
}

func leaf(op Op, field string, v any) Query {
	value, err := document.FromAny(v)
	return Query{op: op, field: field, value: value, err: err}
}

// Op returns the node type. The zero query reports [OpAll].
func (q Query) Op() Op {
	if q.op == "" {
		return OpAll
	}
	return q.op
}

// Field returns the field path of a comparison node.
func (q Query) Field() string { return q.field }

// Value returns the operand of a comparison node.
func (q Query) Value() document.Value { return q.value }

// Target returns the association target of an [Associated] node.
func (q Query) Target() string { return q.target }

// Children returns a copy of the sub-queries of And, Or and Associated nodes.
func (q Query) Children() []Query { return slices.Clone(q.children) }

// Validate checks that the expression is well formed.
func (q Query) Validate() error {
	switch q.Op() {
	case OpAll:
		return nil
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		if q.field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrInvalid, q.op)
		}
		if q.err != nil {
			return fmt.Errorf("%w: %s %q: %w", ErrInvalid, q.op, q.field, q.err)
		}
		return nil
	case OpLike:
		if q.field == "" {
			return fmt.Errorf("%w: Like requires a field", ErrInvalid)
		}
		if q.value.Kind() != document.KindString {
			return fmt.Errorf("%w: Like requires a string pattern", ErrInvalid)
		}
		return nil
	case OpAnd, OpOr:
		for i := range q.children {
			if err := q.children[i].Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpAssociated:
		if q.target == "" {
			return fmt.Errorf("%w: Associated requires a target", ErrInvalid)
		}
		if len(q.children) != 1 {
			return fmt.Errorf("%w: Associated requires exactly one sub-query", ErrInvalid)
		}
		return q.children[0].Validate()
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalid, q.op)
	}
}

// Targets returns the association targets referenced anywhere in q, in order
// of first appearance.
func (q Query) Targets() []string {
	var out []string
	q.walk(func(n Query) {
		if n.op == OpAssociated && !slices.Contains(out, n.target) {
			out = append(out, n.target)
		}
	})
	return out
}

func (q Query) walk(fn func(Query)) {
	fn(q)
	for i := range q.children {
		q.children[i].walk(fn)
	}
}

// Equalities returns the top-level equality conditions of q: the condition
// itself for an Eq node, or the Eq children of an And node. The first value
// wins when a field appears twice. It returns nil for any other shape.
//
// The result is a necessary condition for q to match, which is what makes it
// safe to use for index lookups.
func (q Query) Equalities() map[string]document.Value {
	switch q.op {
	case OpEq:
		return map[string]document.Value{q.field: q.value}
	case OpAnd:
		var out map[string]document.Value
		for _, c := range q.children {
			if c.op != OpEq {
				continue
			}
			if out == nil {
				out = map[string]document.Value{}
			}
			if _, ok := out[c.field]; !ok {
				out[c.field] = c.value
			}
		}
		return out
	default:
		return nil
	}
}

// String returns the JSON form of q.
func (q Query) String() string {
	b, err := q.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("!(%v)", err)
	}
	return string(b)
}
