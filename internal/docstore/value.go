// Package docstore provides the schema-flexible document model and the backends that
// persist documents in hierarchical collections.
package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Kind identifies the type held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindTime
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable tagged value stored in a Document.
// The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
	t    time.Time
	m    Document
	list []Value
}

// Document is a schema-flexible record: field name to value
type Document map[string]Value

func Null() Value               { return Value{} }
func Number(f float64) Value    { return Value{kind: KindNumber, num: f} }
func String(s string) Value     { return Value{kind: KindString, str: s} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value    { return Value{kind: KindTime, t: t.UTC()} }
func Map(d Document) Value      { return Value{kind: KindMap, m: d} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Kind returns the type held by v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds no value
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsNumber() (float64, bool)   { return v.num, v.kind == KindNumber }
func (v Value) AsString() (string, bool)    { return v.str, v.kind == KindString }
func (v Value) AsBool() (bool, bool)        { return v.b, v.kind == KindBool }
func (v Value) AsTime() (time.Time, bool)   { return v.t, v.kind == KindTime }
func (v Value) AsMap() (Document, bool)     { return v.m, v.kind == KindMap }
func (v Value) AsList() ([]Value, bool)     { return v.list, v.kind == KindList }

// Equal reports deep equality. Times compare by instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two scalar values of the same kind. ok is false when the values are
// not comparable (different kinds, maps, lists or nulls).
func (v Value) Compare(o Value) (cmp int, ok bool) {
	if v.kind != o.kind {
		return 0, false
	}
	switch v.kind {
	case KindNumber:
		return compareOrdered(v.num, o.num), true
	case KindString:
		return strings.Compare(v.str, o.str), true
	case KindTime:
		return v.t.Compare(o.t), true
	case KindBool:
		switch {
		case v.b == o.b:
			return 0, true
		case !v.b:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Native converts v to plain Go values: nil, float64, string, bool, time.Time,
// map[string]any and []any.
func (v Value) Native() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindMap:
		return v.m.Native()
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v.Native())
	}
}

// ValueOf converts a plain Go value to a Value.
// Every integer and float kind becomes a number.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Document:
		return Map(t), nil
	case []Value:
		return List(t...), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case time.Time:
		return Time(t), nil
	case *time.Time:
		if t == nil {
			return Null(), nil
		}
		return Time(*t), nil
	case map[string]any:
		d, err := FromNative(t)
		if err != nil {
			return Value{}, err
		}
		return Map(d), nil
	case map[any]any:
		d := make(Document, len(t))
		for k, item := range t {
			key, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("unsupported map key type %T", k)
			}
			val, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", key, err)
			}
			d[key] = val
		}
		return Map(d), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			val, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = val
		}
		return List(items...), nil
	}

	// Typed slices and maps such as []string or map[string]float64
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			val, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = val
		}
		return List(items...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		d := make(Document, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			val, err := ValueOf(iter.Value().Interface())
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", key, err)
			}
			d[key] = val
		}
		return Map(d), nil
	}

	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// MarshalJSON encodes times as RFC 3339 strings; non-finite numbers are rejected.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber && (math.IsNaN(v.num) || math.IsInf(v.num, 0)) {
		return nil, fmt.Errorf("cannot encode non-finite number %v", v.num)
	}
	return json.Marshal(v.Native())
}

// UnmarshalJSON decodes any JSON value
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromNative converts a plain Go map into a Document
func FromNative(m map[string]any) (Document, error) {
	d := make(Document, len(m))
	for k, item := range m {
		val, err := ValueOf(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		d[k] = val
	}
	return d, nil
}

// MustFromNative is FromNative for literals known to be valid; it panics otherwise.
func MustFromNative(m map[string]any) Document {
	d, err := FromNative(m)
	if err != nil {
		panic(err)
	}
	return d
}

// Native converts the document to a plain Go map
func (d Document) Native() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.Native()
	}
	return out
}

// Equal reports whether both documents hold the same fields with equal values
func (d Document) Equal(o Document) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy; Values are immutable so sharing them is safe.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
