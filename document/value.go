// Provides the tagged-union JSON value used by documents and queries.

package document

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Kind is the JSON type of a [Value].
type Kind uint8

const (
	// KindNull is the JSON null literal. The zero Value is null.
	KindNull Kind = iota
	// KindBool is true or false.
	KindBool
	// KindNumber is a JSON number, stored as float64. Integers decoded from
	// JSON or converted from Go integers keep their exact digits.
	KindNumber
	// KindString is a JSON string.
	KindString
	// KindArray is an ordered list of values.
	KindArray
	// KindObject is a nested [Document].
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable-by-convention JSON value.
//
// Arrays and objects share their backing storage on copy; use [Value.Clone]
// before mutating a value obtained from a document owned by someone else.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	a    []Value
	o    *Document
	// lit is the exact JSON literal of a number, when known.
	lit string
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// Int returns an integer value, exact beyond the float64 mantissa.
func Int(i int64) Value {
	return Value{kind: KindNumber, n: float64(i), lit: strconv.FormatInt(i, 10)}
}

// Uint returns an unsigned integer value, exact beyond the float64 mantissa.
func Uint(u uint64) Value {
	return Value{kind: KindNumber, n: float64(u), lit: strconv.FormatUint(u, 10)}
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding vs.
func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindArray, a: vs}
}

// Object returns an object value wrapping d. A nil d is an empty object.
func Object(d *Document) Value {
	if d == nil {
		d = New()
	}
	return Value{kind: KindObject, o: d}
}

// Kind returns the JSON type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held by v, rounded to the nearest float64.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsInt64 returns the exact integer held by v. It fails for fractional
// numbers and integers out of the int64 range.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	t := v.intText()
	if t == "" {
		return 0, false
	}
	i, err := strconv.ParseInt(t, 10, 64)
	return i, err == nil
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the elements held by v. The slice must not be modified.
func (v Value) AsArray() ([]Value, bool) { return v.a, v.kind == KindArray }

// AsObject returns the document held by v. It must not be modified.
func (v Value) AsObject() (*Document, bool) { return v.o, v.kind == KindObject }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.a))
		for i := range v.a {
			out[i] = v.a[i].Clone()
		}
		return Value{kind: KindArray, a: out}
	case KindObject:
		return Value{kind: KindObject, o: v.o.Clone()}
	default:
		return v
	}
}

// Equal reports whether v and o hold the same JSON value.
//
// Values of different kinds are never equal. Objects compare as sets of fields,
// ignoring field order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.numberKey() == o.numberKey()
	case KindString:
		return v.s == o.s
	case KindArray:
		return slices.EqualFunc(v.a, o.a, Value.Equal)
	case KindObject:
		return v.o.Equal(o.o)
	default:
		return false
	}
}

// Compare orders v against o.
//
// The second result is false when the two values are not ordered with respect
// to each other: different kinds, arrays or objects. Comparing never fails.
func (v Value) Compare(o Value) (int, bool) {
	if v.kind != o.kind {
		return 0, false
	}
	switch v.kind {
	case KindNull:
		return 0, true
	case KindBool:
		switch {
		case v.b == o.b:
			return 0, true
		case !v.b:
			return -1, true
		default:
			return 1, true
		}
	case KindNumber:
		if c := cmp.Compare(v.n, o.n); c != 0 {
			return c, true
		}
		// Distinct integers may round to the same float64.
		a, b := v.intText(), o.intText()
		if a == "" || b == "" || a == b {
			return 0, true
		}
		x, _ := new(big.Int).SetString(a, 10)
		y, _ := new(big.Int).SetString(b, 10)
		return x.Cmp(y), true
	case KindString:
		return strings.Compare(v.s, o.s), true
	default:
		return 0, false
	}
}

// maxExact bounds the integers whose decimal digits are kept exactly. It
// covers the int64 and uint64 ranges.
const maxExact = 1e20

// intText returns the exact decimal digits of v when it is an integer below
// maxExact in magnitude, "" otherwise.
func (v Value) intText() string {
	if v.lit != "" && isIntLiteral(v.lit) {
		if v.lit == "-0" {
			return "0"
		}
		return v.lit
	}
	if v.n != math.Trunc(v.n) || math.Abs(v.n) >= maxExact {
		return ""
	}
	if v.n == 0 {
		return "0"
	}
	return new(big.Float).SetFloat64(v.n).Text('f', 0)
}

func (v Value) numberKey() string {
	if t := v.intText(); t != "" {
		return t
	}
	return strconv.FormatFloat(v.n, 'g', -1, 64)
}

// isIntLiteral reports whether s is a JSON integer literal below maxExact.
func isIntLiteral(s string) bool {
	d := strings.TrimPrefix(s, "-")
	if d == "" || len(d) > 20 || (len(d) > 1 && d[0] == '0') {
		return false
	}
	for i := range len(d) {
		if d[i] < '0' || d[i] > '9' {
			return false
		}
	}
	return true
}

// SortCompare is a total order over values, used for sorting results.
//
// Kinds rank null < bool < number < string < array < object. Arrays compare
// element-wise; objects compare by their JSON encoding.
func SortCompare(a, b Value) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	if c, ok := a.Compare(b); ok {
		return c
	}
	switch a.kind {
	case KindArray:
		for i := range min(len(a.a), len(b.a)) {
			if c := SortCompare(a.a[i], b.a[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.a), len(b.a))
	case KindObject:
		return strings.Compare(a.String(), b.String())
	default:
		return 0
	}
}

// Key returns a canonical encoding of v suitable as a map key.
//
// Two values have the same key if and only if they are [Value.Equal], except
// that object field order is normalized.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "z"
	case KindBool:
		if v.b {
			return "b1"
		}
		return "b0"
	case KindNumber:
		return "n" + v.numberKey()
	case KindString:
		return "s" + v.s
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('a')
		for _, e := range v.a {
			k := e.Key()
			sb.WriteString(strconv.Itoa(len(k)))
			sb.WriteByte(':')
			sb.WriteString(k)
		}
		return sb.String()
	case KindObject:
		keys := v.o.Keys()
		slices.Sort(keys)
		var sb strings.Builder
		sb.WriteByte('o')
		for _, name := range keys {
			f, _ := v.o.Get(name)
			k := f.Key()
			sb.WriteString(strconv.Itoa(len(name)))
			sb.WriteByte(':')
			sb.WriteString(name)
			sb.WriteString(strconv.Itoa(len(k)))
			sb.WriteByte(':')
			sb.WriteString(k)
		}
		return sb.String()
	default:
		return ""
	}
}

// Interface converts v to plain Go values: nil, bool, float64, string, []any
// and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.a))
		for i := range v.a {
			out[i] = v.a[i].Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, v.o.Len())
		for k, f := range v.o.All() {
			out[k] = f.Interface()
		}
		return out
	default:
		return nil
	}
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("!(%v)", err)
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindNumber:
		if v.lit != "" {
			return []byte(v.lit), nil
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i := range v.a {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := v.a[i].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		return v.o.MarshalJSON()
	default:
		return nil, fmt.Errorf("invalid value kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make([]Value, len(raw))
		for i := range raw {
			if err := out[i].UnmarshalJSON(raw[i]); err != nil {
				return err
			}
		}
		*v = Array(out...)
		return nil
	case '{':
		d := New()
		if err := d.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Object(d)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid JSON value %q: %w", data, err)
		}
		*v = Value{kind: KindNumber, n: f, lit: string(data)}
		return nil
	}
}

// FromAny converts a Go value to a Value.
//
// Plain JSON shapes (nil, bool, numbers, string, []any, map[string]any) are
// converted directly; anything else goes through encoding/json. Maps are
// converted with their keys in sorted order.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Document:
		return Object(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return number(t)
	case float32:
		return number(float64(t))
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case json.Number:
		var v Value
		if err := v.UnmarshalJSON([]byte(t)); err != nil || v.kind != KindNumber {
			return Value{}, fmt.Errorf("invalid number %q", string(t))
		}
		return v, nil
	case json.RawMessage:
		var v Value
		err := v.UnmarshalJSON(t)
		return v, err
	case []Value:
		return Array(t...), nil
	case []any:
		out := make([]Value, len(t))
		for i := range t {
			e, err := FromAny(t[i])
			if err != nil {
				return Value{}, err
			}
			out[i] = e
		}
		return Array(out...), nil
	case []string:
		out := make([]Value, len(t))
		for i := range t {
			out[i] = String(t[i])
		}
		return Array(out...), nil
	case map[string]any:
		d := New()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			e, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			d.Set(k, e)
		}
		return Object(d), nil
	}
	if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return Null(), nil
	}
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, fmt.Errorf("cannot convert %T to a JSON value: %w", x, err)
	}
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

func number(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("unsupported number %v", f)
	}
	return Number(f), nil
}
