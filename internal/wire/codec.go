// SPDX-License-Identifier: Apache-2.0

// Package wire implements the type-tagged codec and the message framing used
// to move values, call-state data and errors between a parent process and
// its concurrent-merge workers.
//
// JSON alone loses Go types (every number comes back as float64), so each
// value travels inside a [Value] envelope that names its type. Named types
// must be registered on both sides of the boundary with [Register]; slices,
// arrays, maps and pointers of registered types are described structurally
// and need no registration of their own.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Kind classifies a [Value] envelope.
type Kind string

const (
	KindNil    Kind = "nil"
	KindScalar Kind = "scalar"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Value is the envelope for one encoded Go value.
//
// JSON has no NaN or infinity, so a non-finite float scalar is carried as a
// string ("NaN", "+Inf" or "-Inf") with NonFinite set.
type Value struct {
	Kind      Kind            `json:"k"`
	Type      *TypeDesc       `json:"t,omitempty"`
	Data      json.RawMessage `json:"d,omitempty"`
	NonFinite bool            `json:"f,omitempty"`
	Items     []Value         `json:"i,omitempty"`
	Keys      []string        `json:"n,omitempty"`
}

// TypeDesc describes a Go type in terms of registered names. Array marks a
// fixed-length array of Len elements rather than a slice.
type TypeDesc struct {
	Pointers uint32    `json:"p,omitempty"`
	Name     string    `json:"n,omitempty"`
	Key      *TypeDesc `json:"k,omitempty"`
	Elem     *TypeDesc `json:"e,omitempty"`
	Array    bool      `json:"a,omitempty"`
	Len      int       `json:"l,omitempty"`
}

// UnsupportedTypeError is returned when a value's type cannot be described
// with registered names.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("wire: type %s is not registered", e.Type)
}

var registry = struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}{
	byName: map[string]reflect.Type{},
	byType: map[reflect.Type]string{},
}

func init() {
	MustRegister[int]("int")
	MustRegister[int8]("int8")
	MustRegister[int16]("int16")
	MustRegister[int32]("int32")
	MustRegister[int64]("int64")
	MustRegister[uint]("uint")
	MustRegister[uint8]("uint8")
	MustRegister[uint16]("uint16")
	MustRegister[uint32]("uint32")
	MustRegister[uint64]("uint64")
	MustRegister[float32]("float32")
	MustRegister[float64]("float64")
	MustRegister[bool]("bool")
	MustRegister[string]("string")
	MustRegister[time.Duration]("time.Duration")
	MustRegister[time.Time]("time.Time")
}

// Register records T under name so values of T (and of slices, maps and
// pointers built from T) can cross the process boundary.
//
// Pointer layers are stripped: registering *T registers T.
func Register[T any](name string) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if existing, ok := registry.byName[name]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("wire: name %q already registered to %s", name, existing)
	}
	if existing, ok := registry.byType[t]; ok {
		return fmt.Errorf("wire: type %s already registered as %q", t, existing)
	}
	registry.byName[name] = t
	registry.byType[t] = name
	return nil
}

// MustRegister is like [Register] but panics on error.
func MustRegister[T any](name string) {
	if err := Register[T](name); err != nil {
		panic(err)
	}
}

// Encode wraps v in a [Value] envelope.
func Encode(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{Kind: KindNil}, nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			enc, err := Encode(item)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = enc
		}
		return Value{Kind: KindList, Items: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]Value, len(keys))
		for i, k := range keys {
			enc, err := Encode(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			items[i] = enc
		}
		return Value{Kind: KindMap, Keys: keys, Items: items}, nil
	}

	desc, err := describe(reflect.TypeOf(v))
	if err != nil {
		return Value{}, err
	}
	if f, ok := nonFinite(v); ok {
		data, err := sonic.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
		if err != nil {
			return Value{}, fmt.Errorf("wire: marshal %T: %w", v, err)
		}
		return Value{Kind: KindScalar, Type: desc, Data: data, NonFinite: true}, nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("wire: marshal %T: %w", v, err)
	}
	return Value{Kind: KindScalar, Type: desc, Data: data}, nil
}

// Decode rebuilds the Go value held in an envelope.
func Decode(v Value) (any, error) {
	switch v.Kind {
	case KindNil, "":
		return nil, nil
	case KindList:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			dec, err := Decode(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = dec
		}
		return out, nil
	case KindMap:
		if len(v.Keys) != len(v.Items) {
			return nil, fmt.Errorf("wire: map envelope has %d keys and %d values", len(v.Keys), len(v.Items))
		}
		out := make(map[string]any, len(v.Keys))
		for i, k := range v.Keys {
			dec, err := Decode(v.Items[i])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = dec
		}
		return out, nil
	case KindScalar:
		t, err := restore(v.Type)
		if err != nil {
			return nil, err
		}
		if v.NonFinite {
			return decodeNonFinite(t, v.Data)
		}
		ptr := reflect.New(t)
		if err := sonic.Unmarshal(v.Data, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("wire: unmarshal %s: %w", t, err)
		}
		return ptr.Elem().Interface(), nil
	default:
		return nil, fmt.Errorf("wire: unknown envelope kind %q", v.Kind)
	}
}

// nonFinite reports whether v, through any pointers, is a NaN or infinite
// float.
func nonFinite(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Float32 && rv.Kind() != reflect.Float64 {
		return 0, false
	}
	f := rv.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, true
	}
	return 0, false
}

func decodeNonFinite(t reflect.Type, data json.RawMessage) (any, error) {
	var text string
	if err := sonic.Unmarshal(data, &text); err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s: %w", t, err)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s: %w", t, err)
	}

	var pointers []reflect.Type
	base := t
	for base.Kind() == reflect.Pointer {
		pointers = append(pointers, base)
		base = base.Elem()
	}
	if base.Kind() != reflect.Float32 && base.Kind() != reflect.Float64 {
		return nil, fmt.Errorf("wire: non-finite value for non-float type %s", t)
	}
	out := reflect.New(base).Elem()
	out.SetFloat(f)
	for i := len(pointers) - 1; i >= 0; i-- {
		ptr := reflect.New(pointers[i].Elem())
		ptr.Elem().Set(out)
		out = ptr
	}
	return out.Interface(), nil
}

func describe(t reflect.Type) (*TypeDesc, error) {
	desc := &TypeDesc{}
	orig := t
	for t.Kind() == reflect.Pointer {
		desc.Pointers++
		t = t.Elem()
	}

	registry.mu.RLock()
	name, ok := registry.byType[t]
	registry.mu.RUnlock()
	if ok {
		desc.Name = name
		return desc, nil
	}

	var err error
	switch t.Kind() {
	case reflect.Slice:
		if desc.Elem, err = describe(t.Elem()); err != nil {
			return nil, err
		}
	case reflect.Array:
		desc.Array, desc.Len = true, t.Len()
		if desc.Elem, err = describe(t.Elem()); err != nil {
			return nil, err
		}
	case reflect.Map:
		if desc.Key, err = describe(t.Key()); err != nil {
			return nil, err
		}
		if desc.Elem, err = describe(t.Elem()); err != nil {
			return nil, err
		}
	default:
		return nil, &UnsupportedTypeError{Type: orig}
	}
	return desc, nil
}

func restore(desc *TypeDesc) (reflect.Type, error) {
	if desc == nil {
		return nil, fmt.Errorf("wire: scalar envelope without type")
	}

	var t reflect.Type
	switch {
	case desc.Name != "":
		registry.mu.RLock()
		rt, ok := registry.byName[desc.Name]
		registry.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("wire: unknown type name %q", desc.Name)
		}
		t = rt
	case desc.Key != nil:
		kt, err := restore(desc.Key)
		if err != nil {
			return nil, err
		}
		et, err := restore(desc.Elem)
		if err != nil {
			return nil, err
		}
		t = reflect.MapOf(kt, et)
	case desc.Elem != nil:
		et, err := restore(desc.Elem)
		if err != nil {
			return nil, err
		}
		if desc.Array {
			t = reflect.ArrayOf(desc.Len, et)
		} else {
			t = reflect.SliceOf(et)
		}
	default:
		return nil, fmt.Errorf("wire: empty type description")
	}

	for range desc.Pointers {
		t = reflect.PointerTo(t)
	}
	return t, nil
}
