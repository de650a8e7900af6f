// Provides the JSON wire form of queries.

package query

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/maruel/deeb/document"
)

// MarshalJSON encodes q in its externally tagged form:
//
//	"All"
//	{"Eq":["name","Joey"]}
//	{"And":[{"Gt":["age",18]},{"Like":["name","Jo"]}]}
//	{"Associated":["comment",{"Eq":["comment.body","hi"]}]}
func (q Query) MarshalJSON() ([]byte, error) {
	switch q.Op() {
	case OpAll:
		return []byte(`"All"`), nil
	case OpAnd, OpOr:
		children := q.children
		if children == nil {
			children = []Query{}
		}
		return json.Marshal(map[Op][]Query{q.op: children})
	case OpAssociated:
		if len(q.children) != 1 {
			return nil, fmt.Errorf("%w: Associated requires exactly one sub-query", ErrInvalid)
		}
		return json.Marshal(map[Op][2]any{q.op: {q.target, q.children[0]}})
	case OpEq, OpNe, OpLike, OpLt, OpLte, OpGt, OpGte:
		if q.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, q.err)
		}
		return json.Marshal(map[Op][2]any{q.op: {q.field, q.value}})
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalid, q.op)
	}
}

// UnmarshalJSON decodes the form produced by [Query.MarshalJSON] and validates
// the result.
func (q *Query) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if Op(s) != OpAll {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalid, s)
		}
		*q = All()
		return nil
	}
	var m map[Op]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if len(m) != 1 {
		return fmt.Errorf("%w: expected exactly one operator, got %d", ErrInvalid, len(m))
	}
	var out Query
	for op, raw := range m {
		switch op {
		case OpAnd, OpOr:
			var children []Query
			if err := json.Unmarshal(raw, &children); err != nil {
				return err
			}
			out = Query{op: op, children: children}
		case OpAssociated:
			var pair []json.RawMessage
			if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
				return fmt.Errorf("%w: Associated expects [target, query]", ErrInvalid)
			}
			var target string
			if err := json.Unmarshal(pair[0], &target); err != nil {
				return fmt.Errorf("%w: Associated target: %w", ErrInvalid, err)
			}
			var child Query
			if err := json.Unmarshal(pair[1], &child); err != nil {
				return err
			}
			out = Associated(target, child)
		case OpEq, OpNe, OpLike, OpLt, OpLte, OpGt, OpGte:
			var pair []json.RawMessage
			if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
				return fmt.Errorf("%w: %s expects [field, value]", ErrInvalid, op)
			}
			var field string
			if err := json.Unmarshal(pair[0], &field); err != nil {
				return fmt.Errorf("%w: %s field: %w", ErrInvalid, op, err)
			}
			var v document.Value
			if err := json.Unmarshal(pair[1], &v); err != nil {
				return fmt.Errorf("%w: %s value: %w", ErrInvalid, op, err)
			}
			out = Query{op: op, field: field, value: v}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalid, op)
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*q = out
	return nil
}

// Parse decodes a query from its JSON form.
func Parse(b []byte) (Query, error) {
	var q Query
	err := q.UnmarshalJSON(b)
	return q, err
}
